package scheduling

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/domain"
	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/notify"
	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// phonePattern is deliberately loose: a leading +, digits and common
// separators, 7 to 20 characters. Real phone validation belongs to the
// identity source, not the scheduler.
var phonePattern = regexp.MustCompile(`^\+?[0-9(][0-9 ().-]{5,18}[0-9]$`)

const (
	idempotencyKeyMinLen = 8
	idempotencyKeyMaxLen = 128
)

type Service struct {
	store    store.AppointmentStore
	notifier notify.Notifier
}

func NewService(st store.AppointmentStore, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	return &Service{store: st, notifier: notifier}
}

type CreateInput struct {
	CustomerID     string
	CustomerName   string
	CustomerPhone  string
	StaffID        string
	StaffName      string
	StartAt        time.Time
	EndAt          time.Time
	Notes          string
	IdempotencyKey string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Appointment, error) {
	customerName := strings.TrimSpace(in.CustomerName)
	if customerName == "" {
		return domain.Appointment{}, validationError("customer_name is required")
	}
	if in.StaffID == "" {
		return domain.Appointment{}, validationError("staff_id is required")
	}
	staffName := strings.TrimSpace(in.StaffName)
	if staffName == "" {
		return domain.Appointment{}, validationError("staff_name is required")
	}
	phone := strings.TrimSpace(in.CustomerPhone)
	if !phonePattern.MatchString(phone) {
		return domain.Appointment{}, validationError("customer_phone must be a phone number")
	}

	startAt := in.StartAt.UTC()
	endAt := in.EndAt.UTC()
	if !domain.ValidRange(startAt, endAt) {
		return domain.Appointment{}, validationError("end_at must be after start_at")
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) < idempotencyKeyMinLen || len(key) > idempotencyKeyMaxLen {
			return domain.Appointment{}, validationError("idempotency_key must be 8 to 128 characters")
		}
	}

	appt, err := s.store.Create(ctx, store.CreateAppointment{
		CustomerID:     in.CustomerID,
		CustomerName:   customerName,
		CustomerPhone:  phone,
		StaffID:        in.StaffID,
		StaffName:      staffName,
		StartAt:        startAt,
		EndAt:          endAt,
		Notes:          in.Notes,
		IdempotencyKey: key,
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.notifier.AppointmentCreated(ctx, appt)
	return appt, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Appointment, error) {
	return s.store.List(ctx)
}

func (s *Service) Calendar(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if !domain.ValidRange(start, end) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.store.Calendar(ctx, start, end)
}

func (s *Service) Reschedule(ctx context.Context, id int64, startAt, endAt time.Time) (domain.Appointment, error) {
	if id <= 0 {
		return domain.Appointment{}, validationError("id is required")
	}
	start := startAt.UTC()
	end := endAt.UTC()
	if !domain.ValidRange(start, end) {
		return domain.Appointment{}, validationError("end_at must be after start_at")
	}

	appt, err := s.store.Reschedule(ctx, id, start, end)
	if err != nil {
		return domain.Appointment{}, err
	}

	s.notifier.AppointmentUpdated(ctx, appt)
	return appt, nil
}

func (s *Service) Confirm(ctx context.Context, id int64) (domain.Appointment, error) {
	return s.updateStatus(ctx, id, domain.StatusConfirmed)
}

func (s *Service) Complete(ctx context.Context, id int64) (domain.Appointment, error) {
	return s.updateStatus(ctx, id, domain.StatusCompleted)
}

func (s *Service) Cancel(ctx context.Context, id int64) (domain.Appointment, error) {
	return s.updateStatus(ctx, id, domain.StatusCancelled)
}

func (s *Service) NoShow(ctx context.Context, id int64) (domain.Appointment, error) {
	return s.updateStatus(ctx, id, domain.StatusNoShow)
}

func (s *Service) updateStatus(ctx context.Context, id int64, target domain.Status) (domain.Appointment, error) {
	if id <= 0 {
		return domain.Appointment{}, validationError("id is required")
	}

	appt, err := s.store.UpdateStatus(ctx, id, target)
	if err != nil {
		return domain.Appointment{}, err
	}

	s.notifier.AppointmentUpdated(ctx, appt)
	return appt, nil
}
