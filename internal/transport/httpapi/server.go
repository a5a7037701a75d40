// Package httpapi is the RPC-shaped façade over the scheduling service. It
// validates request shapes, translates domain failures into stable error
// codes and never reaches around the service into the store.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/domain"
	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/service/scheduling"
	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/store"
)

type schedulingService interface {
	Create(ctx context.Context, in scheduling.CreateInput) (domain.Appointment, error)
	List(ctx context.Context) ([]domain.Appointment, error)
	Calendar(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	Reschedule(ctx context.Context, id int64, startAt, endAt time.Time) (domain.Appointment, error)
	Confirm(ctx context.Context, id int64) (domain.Appointment, error)
	Complete(ctx context.Context, id int64) (domain.Appointment, error)
	Cancel(ctx context.Context, id int64) (domain.Appointment, error)
	NoShow(ctx context.Context, id int64) (domain.Appointment, error)
}

type Server struct {
	svc schedulingService
	log *slog.Logger
}

func NewServer(svc schedulingService, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		svc: svc,
		log: log.With(slog.String("component", "httpapi")),
	}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/appointments", s.createAppointment)
	mux.HandleFunc("GET /v1/appointments", s.listAppointments)
	mux.HandleFunc("GET /v1/appointments/calendar", s.calendar)
	mux.HandleFunc("POST /v1/appointments/{id}/confirm", s.statusMutator("confirm"))
	mux.HandleFunc("POST /v1/appointments/{id}/complete", s.statusMutator("complete"))
	mux.HandleFunc("POST /v1/appointments/{id}/cancel", s.statusMutator("cancel"))
	mux.HandleFunc("POST /v1/appointments/{id}/no-show", s.statusMutator("no-show"))
	mux.HandleFunc("POST /v1/appointments/{id}/reschedule", s.reschedule)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

type appointmentJSON struct {
	ID            int64  `json:"id"`
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	StaffID       string `json:"staff_id"`
	StaffName     string `json:"staff_name"`
	StartAt       string `json:"start_at"`
	EndAt         string `json:"end_at"`
	Notes         string `json:"notes,omitempty"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

type createAppointmentRequest struct {
	CustomerID     string `json:"customer_id"`
	CustomerName   string `json:"customer_name"`
	CustomerPhone  string `json:"customer_phone"`
	StaffID        string `json:"staff_id"`
	StaffName      string `json:"staff_name"`
	StartAt        string `json:"start_at"`
	EndAt          string `json:"end_at"`
	Notes          string `json:"notes"`
	IdempotencyKey string `json:"idempotency_key"`
}

type rescheduleRequest struct {
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
}

func (s *Server) createAppointment(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "createAppointment"))

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"))
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "request body must be valid JSON")
		return
	}

	startAt, endAt, ok := s.parseRange(w, log, req.StartAt, req.EndAt)
	if !ok {
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(req.IdempotencyKey)
	}

	appt, err := s.svc.Create(r.Context(), scheduling.CreateInput{
		CustomerID:     req.CustomerID,
		CustomerName:   req.CustomerName,
		CustomerPhone:  req.CustomerPhone,
		StaffID:        strings.TrimSpace(req.StaffID),
		StaffName:      req.StaffName,
		StartAt:        startAt,
		EndAt:          endAt,
		Notes:          req.Notes,
		IdempotencyKey: key,
	})
	if err != nil {
		s.writeDomainError(w, log, err)
		return
	}

	log.Info("appointment created",
		slog.Int64("appointment_id", appt.ID),
		slog.String("staff_id", appt.StaffID),
		slog.Time("start_at", appt.StartAt),
		slog.Time("end_at", appt.EndAt),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"appointment": toJSON(appt)})
}

func (s *Server) listAppointments(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "listAppointments"))

	appts, err := s.svc.List(r.Context())
	if err != nil {
		s.writeDomainError(w, log, err)
		return
	}

	log.Debug("appointments listed", slog.Int("count", len(appts)))
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toJSONList(appts)})
}

func (s *Server) calendar(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "calendar"))

	q := r.URL.Query()
	windowStart, windowEnd, ok := s.parseRange(w, log, q.Get("window_start"), q.Get("window_end"))
	if !ok {
		return
	}

	appts, err := s.svc.Calendar(r.Context(), windowStart, windowEnd)
	if err != nil {
		s.writeDomainError(w, log, err)
		return
	}

	log.Debug("calendar queried",
		slog.Int("count", len(appts)),
		slog.Time("window_start", windowStart),
		slog.Time("window_end", windowEnd),
	)
	writeJSON(w, http.StatusOK, map[string]any{"appointments": toJSONList(appts)})
}

func (s *Server) statusMutator(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.log.With(slog.String("route", action))

		id, ok := s.parseID(w, log, r)
		if !ok {
			return
		}

		var appt domain.Appointment
		var err error
		switch action {
		case "confirm":
			appt, err = s.svc.Confirm(r.Context(), id)
		case "complete":
			appt, err = s.svc.Complete(r.Context(), id)
		case "cancel":
			appt, err = s.svc.Cancel(r.Context(), id)
		case "no-show":
			appt, err = s.svc.NoShow(r.Context(), id)
		}
		if err != nil {
			s.writeDomainError(w, log, err)
			return
		}

		log.Info("appointment status updated",
			slog.Int64("appointment_id", appt.ID),
			slog.String("status", string(appt.Status)),
		)
		writeJSON(w, http.StatusOK, map[string]any{"appointment": toJSON(appt)})
	}
}

func (s *Server) reschedule(w http.ResponseWriter, r *http.Request) {
	log := s.log.With(slog.String("route", "reschedule"))

	id, ok := s.parseID(w, log, r)
	if !ok {
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_json"))
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "request body must be valid JSON")
		return
	}
	startAt, endAt, ok := s.parseRange(w, log, req.StartAt, req.EndAt)
	if !ok {
		return
	}

	appt, err := s.svc.Reschedule(r.Context(), id, startAt, endAt)
	if err != nil {
		s.writeDomainError(w, log, err)
		return
	}

	log.Info("appointment rescheduled",
		slog.Int64("appointment_id", appt.ID),
		slog.Time("start_at", appt.StartAt),
		slog.Time("end_at", appt.EndAt),
	)
	writeJSON(w, http.StatusOK, map[string]any{"appointment": toJSON(appt)})
}

func (s *Server) parseID(w http.ResponseWriter, log *slog.Logger, r *http.Request) (int64, bool) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		log.Warn("invalid request", slog.String("reason", "bad_id"), slog.String("id", raw))
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) parseRange(w http.ResponseWriter, log *slog.Logger, rawStart, rawEnd string) (time.Time, time.Time, bool) {
	if strings.TrimSpace(rawStart) == "" || strings.TrimSpace(rawEnd) == "" {
		log.Warn("invalid request", slog.String("reason", "missing_times"))
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "start_at and end_at are required")
		return time.Time{}, time.Time{}, false
	}
	startAt, err := time.Parse(time.RFC3339, rawStart)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_start_at"))
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "start_at must be an RFC 3339 timestamp")
		return time.Time{}, time.Time{}, false
	}
	endAt, err := time.Parse(time.RFC3339, rawEnd)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_end_at"))
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "end_at must be an RFC 3339 timestamp")
		return time.Time{}, time.Time{}, false
	}
	return startAt, endAt, true
}

const (
	codeInvalidArgument     = "invalid_argument"
	codeNotFound            = "not_found"
	codeConflict            = "conflict"
	codeStatusTransition    = "status_transition"
	codeIdempotencyConflict = "idempotency_conflict"
	codeInternal            = "internal"
)

// writeDomainError is the single place domain failures become caller-facing
// error codes, so retry logic can rely on them staying stable.
func (s *Server) writeDomainError(w http.ResponseWriter, log *slog.Logger, err error) {
	var vErr *scheduling.ValidationError
	var tErr *domain.StatusTransitionError
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", slog.Any("err", err))
		writeError(w, http.StatusBadRequest, codeInvalidArgument, vErr.Error())
	case errors.Is(err, store.ErrInvalidTimeRange):
		log.Warn("invalid request", slog.Any("err", err))
		writeError(w, http.StatusBadRequest, codeInvalidArgument, "end must be after start")
	case errors.Is(err, store.ErrNotFound):
		log.Info("appointment not found")
		writeError(w, http.StatusNotFound, codeNotFound, "appointment not found")
	case errors.Is(err, store.ErrConflict):
		log.Info("scheduling conflict")
		writeError(w, http.StatusConflict, codeConflict, "The staff member is already booked during that time. Pick a different slot.")
	case errors.As(err, &tErr):
		log.Info("illegal status transition", slog.Any("err", err))
		writeError(w, http.StatusUnprocessableEntity, codeStatusTransition, tErr.Error())
	case errors.Is(err, store.ErrRescheduleNotAllowed):
		log.Info("reschedule not allowed")
		writeError(w, http.StatusUnprocessableEntity, codeStatusTransition, "appointment can no longer be rescheduled")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency key conflict")
		writeError(w, http.StatusUnprocessableEntity, codeIdempotencyConflict, "This request key was already used for a different appointment.")
	default:
		log.Error("request failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func toJSON(a domain.Appointment) appointmentJSON {
	return appointmentJSON{
		ID:            a.ID,
		CustomerID:    a.CustomerID,
		CustomerName:  a.CustomerName,
		CustomerPhone: a.CustomerPhone,
		StaffID:       a.StaffID,
		StaffName:     a.StaffName,
		StartAt:       a.StartAt.UTC().Format(time.RFC3339),
		EndAt:         a.EndAt.UTC().Format(time.RFC3339),
		Notes:         a.Notes,
		Status:        string(a.Status),
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toJSONList(appts []domain.Appointment) []appointmentJSON {
	out := make([]appointmentJSON, 0, len(appts))
	for _, a := range appts {
		out = append(out, toJSON(a))
	}
	return out
}
