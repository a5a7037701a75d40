package store

import (
	"context"
	"time"

	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/domain"
)

// CreateAppointment is the store-level creation request. Times are expected
// in UTC; the service layer normalizes them before delegating.
type CreateAppointment struct {
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

// AppointmentStore owns the authoritative set of appointment records and
// enforces every scheduling invariant: time-range validity, per-staff
// non-overlap, legal status transitions and idempotent creation. Mutations
// are atomic with respect to each other; reads never observe a half-applied
// write.
type AppointmentStore interface {
	Create(ctx context.Context, in CreateAppointment) (domain.Appointment, error)
	Get(ctx context.Context, id int64) (domain.Appointment, error)
	List(ctx context.Context) ([]domain.Appointment, error)
	Calendar(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	UpdateStatus(ctx context.Context, id int64, target domain.Status) (domain.Appointment, error)
	Reschedule(ctx context.Context, id int64, startAt, endAt time.Time) (domain.Appointment, error)
}

// SameBooking reports whether a stored record matches the booking-relevant
// fields of a creation request. An idempotency key may only ever replay a
// request that matches its original use.
func SameBooking(existing domain.Appointment, in CreateAppointment) bool {
	return existing.CustomerID == in.CustomerID &&
		existing.CustomerName == in.CustomerName &&
		existing.CustomerPhone == in.CustomerPhone &&
		existing.StaffID == in.StaffID &&
		existing.StartAt.Equal(in.StartAt) &&
		existing.EndAt.Equal(in.EndAt)
}
