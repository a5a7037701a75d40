// Package postgres backs the scheduling engine with a durable store. The
// same per-staff serialization the in-memory store gets from its mutexes is
// provided here by a transaction-scoped advisory lock on the staff id, with
// an exclusion constraint over the appointment time range as backstop.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/domain"
	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/store"
)

type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// idempotencyKey maps a client-supplied key to the appointment it created.
// The row is reserved (appointment_id NULL, row locked) inside the creating
// transaction, so a crash before the insert leaves nothing behind.
type idempotencyKey struct {
	bun.BaseModel `bun:"table:appointment_idempotency_keys"`

	Key           string        `bun:"idempotency_key,pk"`
	AppointmentID sql.NullInt64 `bun:"appointment_id"`
	CreatedAt     time.Time     `bun:"created_at,notnull,default:now()"`
}

func (s *Store) Create(ctx context.Context, in store.CreateAppointment) (domain.Appointment, error) {
	in.StartAt = in.StartAt.UTC()
	in.EndAt = in.EndAt.UTC()
	if !domain.ValidRange(in.StartAt, in.EndAt) {
		return domain.Appointment{}, store.ErrInvalidTimeRange
	}

	var out domain.Appointment
	err := s.inStaffTx(ctx, in.StaffID, func(ctx context.Context, tx bun.Tx) error {
		if in.IdempotencyKey != "" {
			existing, replayed, err := s.lockIdempotencyKey(ctx, tx, in)
			if err != nil {
				return err
			}
			if replayed {
				out = existing
				return nil
			}
		}

		appt := domain.Appointment{
			CustomerID:    in.CustomerID,
			CustomerName:  in.CustomerName,
			CustomerPhone: in.CustomerPhone,
			StaffID:       in.StaffID,
			StaffName:     in.StaffName,
			StartAt:       in.StartAt,
			EndAt:         in.EndAt,
			Notes:         in.Notes,
			Status:        domain.StatusPending,
		}
		if _, err := tx.NewInsert().Model(&appt).Exec(ctx); err != nil {
			if isOverlapViolation(err) {
				return store.ErrConflict
			}
			return err
		}

		if in.IdempotencyKey != "" {
			_, err := tx.NewUpdate().
				Model((*idempotencyKey)(nil)).
				Set("appointment_id = ?", appt.ID).
				Where("idempotency_key = ?", in.IdempotencyKey).
				Exec(ctx)
			if err != nil {
				return err
			}
		}

		out = appt
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

// lockIdempotencyKey reserves the key for this transaction or resolves a
// replay. The SELECT ... FOR UPDATE blocks behind any concurrent creation
// using the same key until that transaction commits or rolls back.
func (s *Store) lockIdempotencyKey(ctx context.Context, tx bun.Tx, in store.CreateAppointment) (domain.Appointment, bool, error) {
	_, err := tx.NewInsert().
		Model(&idempotencyKey{Key: in.IdempotencyKey, CreatedAt: time.Now().UTC()}).
		On("CONFLICT (idempotency_key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, false, err
	}

	var rec idempotencyKey
	err = tx.NewSelect().
		Model(&rec).
		Where("idempotency_key = ?", in.IdempotencyKey).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, false, err
	}
	if !rec.AppointmentID.Valid {
		return domain.Appointment{}, false, nil
	}

	var existing domain.Appointment
	err = tx.NewSelect().
		Model(&existing).
		Where("id = ?", rec.AppointmentID.Int64).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, false, err
	}
	if !store.SameBooking(existing, in) {
		return domain.Appointment{}, false, store.ErrIdempotencyConflict
	}
	return existing, true, nil
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Appointment, error) {
	var appt domain.Appointment
	err := s.db.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := s.db.NewSelect().
		Model(&rows).
		OrderExpr("start_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) Calendar(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	windowStart = windowStart.UTC()
	windowEnd = windowEnd.UTC()
	if !domain.ValidRange(windowStart, windowEnd) {
		return nil, store.ErrInvalidTimeRange
	}

	var rows []domain.Appointment
	err := s.db.NewSelect().
		Model(&rows).
		Where("start_at < ?", windowEnd).
		Where("end_at > ?", windowStart).
		OrderExpr("start_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, target domain.Status) (domain.Appointment, error) {
	var out domain.Appointment
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		appt, err := selectForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if appt.Status == target {
			out = appt
			return nil
		}
		if !domain.CanTransition(appt.Status, target) {
			return &domain.StatusTransitionError{From: appt.Status, To: target}
		}

		appt.Status = target
		_, err = tx.NewUpdate().
			Model(&appt).
			Column("status", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (s *Store) Reschedule(ctx context.Context, id int64, startAt, endAt time.Time) (domain.Appointment, error) {
	startAt = startAt.UTC()
	endAt = endAt.UTC()
	if !domain.ValidRange(startAt, endAt) {
		return domain.Appointment{}, store.ErrInvalidTimeRange
	}

	// The staff id is needed before the advisory lock can be taken; the
	// record is re-read under the lock inside the transaction.
	peek, err := s.Get(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}

	var out domain.Appointment
	err = s.inStaffTx(ctx, peek.StaffID, func(ctx context.Context, tx bun.Tx) error {
		appt, err := selectForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if appt.Status != domain.StatusPending && appt.Status != domain.StatusConfirmed {
			return store.ErrRescheduleNotAllowed
		}

		appt.StartAt = startAt
		appt.EndAt = endAt
		_, err = tx.NewUpdate().
			Model(&appt).
			Column("start_at", "end_at", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			if isOverlapViolation(err) {
				return store.ErrConflict
			}
			return err
		}
		out = appt
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (s *Store) inStaffTx(ctx context.Context, staffID string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", staffID).Exec(ctx); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func selectForUpdate(ctx context.Context, tx bun.Tx, id int64) (domain.Appointment, error) {
	var appt domain.Appointment
	err := tx.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Appointment{}, err
	}
	return appt, nil
}

// isOverlapViolation matches the appointments_no_overlap exclusion
// constraint, which enforces disjoint [start_at, end_at) ranges per staff
// over non-cancelled rows.
func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap"
}
