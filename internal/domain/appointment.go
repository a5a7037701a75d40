package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID            int64     `bun:"id,pk,autoincrement"`
	CustomerID    string    `bun:"customer_id"`
	CustomerName  string    `bun:"customer_name,notnull"`
	CustomerPhone string    `bun:"customer_phone,notnull"`
	StaffID       string    `bun:"staff_id,notnull"`
	StaffName     string    `bun:"staff_name,notnull"`
	StartAt       time.Time `bun:"start_at,notnull"`
	EndAt         time.Time `bun:"end_at,notnull"`
	Notes         string    `bun:"notes"`
	Status        Status    `bun:"status,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	UpdatedAt     time.Time `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// Binding reports whether the appointment still occupies its staff member's
// time slot. Cancelled appointments free the slot immediately; every other
// status keeps it booked.
func (a *Appointment) Binding() bool {
	return a.Status != StatusCancelled
}

// Overlaps reports whether the appointment's [StartAt, EndAt) interval
// intersects the given half-open range.
func (a *Appointment) Overlaps(startAt, endAt time.Time) bool {
	return Overlaps(a.StartAt, a.EndAt, startAt, endAt)
}

// ValidRange reports whether [startAt, endAt) is a legal appointment slot.
// Zero-length slots are rejected.
func ValidRange(startAt, endAt time.Time) bool {
	return startAt.Before(endAt)
}

// Overlaps is the half-open interval intersection test used for every
// conflict and calendar-window decision in the scheduler. An appointment
// ending exactly when another starts does not overlap it.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}
