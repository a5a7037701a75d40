// Package notify emits appointment facts after successful scheduling
// mutations. Delivery (SMS, chat, webhooks) belongs to downstream
// consumers; the engine only states what happened.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/domain"
)

const (
	EventAppointmentCreated = "scheduling.appointment.created"
	EventAppointmentUpdated = "scheduling.appointment.updated"
)

type Notifier interface {
	AppointmentCreated(ctx context.Context, appt domain.Appointment)
	AppointmentUpdated(ctx context.Context, appt domain.Appointment)
}

// LogNotifier writes each fact as a structured log record with a unique
// event id, which is what downstream log shippers key on.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log.With(slog.String("component", "notify"))}
}

func (n *LogNotifier) AppointmentCreated(ctx context.Context, appt domain.Appointment) {
	n.emit(ctx, EventAppointmentCreated, appt)
}

func (n *LogNotifier) AppointmentUpdated(ctx context.Context, appt domain.Appointment) {
	n.emit(ctx, EventAppointmentUpdated, appt)
}

func (n *LogNotifier) emit(ctx context.Context, event string, appt domain.Appointment) {
	n.log.InfoContext(ctx, "appointment event",
		slog.String("event", event),
		slog.String("event_id", uuid.NewString()),
		slog.Int64("appointment_id", appt.ID),
		slog.String("staff_id", appt.StaffID),
		slog.String("status", string(appt.Status)),
		slog.Time("start_at", appt.StartAt),
		slog.Time("end_at", appt.EndAt),
	)
}

// NopNotifier drops every fact. Tests that do not care about notifications
// use it instead of asserting on log output.
type NopNotifier struct{}

func (NopNotifier) AppointmentCreated(ctx context.Context, appt domain.Appointment) {}

func (NopNotifier) AppointmentUpdated(ctx context.Context, appt domain.Appointment) {}
