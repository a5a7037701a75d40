package store

import "errors"

var (
	ErrConflict             = errors.New("conflict")
	ErrNotFound             = errors.New("not found")
	ErrIdempotencyConflict  = errors.New("idempotency key conflict")
	ErrInvalidTimeRange     = errors.New("end must be after start")
	ErrRescheduleNotAllowed = errors.New("reschedule not allowed")
)
