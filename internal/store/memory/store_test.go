package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/domain"
	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/store"
)

func createInput(staffID string, startAt, endAt time.Time) store.CreateAppointment {
	return store.CreateAppointment{
		CustomerID:    "c1",
		CustomerName:  "Ada Lovelace",
		CustomerPhone: "+1 415 555 0100",
		StaffID:       staffID,
		StaffName:     "Dr. Grace",
		StartAt:       startAt,
		EndAt:         endAt,
	}
}

func mustCreate(t *testing.T, s *Store, in store.CreateAppointment) domain.Appointment {
	t.Helper()
	appt, err := s.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return appt
}

func TestCreate_AssignsMonotonicIDsAndPendingStatus(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	first := mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))
	second := mustCreate(t, s, createInput("s1", base.Add(time.Hour), base.Add(2*time.Hour)))

	if first.ID <= 0 || second.ID <= first.ID {
		t.Fatalf("ids not monotonic: %d, %d", first.ID, second.ID)
	}
	if first.Status != domain.StatusPending {
		t.Fatalf("status = %s, want %s", first.Status, domain.StatusPending)
	}
	if first.CreatedAt.IsZero() || first.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: created=%v updated=%v", first.CreatedAt, first.UpdatedAt)
	}
}

func TestCreate_RejectsInvalidRange(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	_, err := s.Create(context.Background(), createInput("s1", base, base))
	if !errors.Is(err, store.ErrInvalidTimeRange) {
		t.Fatalf("err = %v, want %v", err, store.ErrInvalidTimeRange)
	}
	_, err = s.Create(context.Background(), createInput("s1", base.Add(time.Hour), base))
	if !errors.Is(err, store.ErrInvalidTimeRange) {
		t.Fatalf("err = %v, want %v", err, store.ErrInvalidTimeRange)
	}
}

func TestCreate_RejectsOverlapSameStaff(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))

	_, err := s.Create(context.Background(), createInput("s1", base.Add(30*time.Minute), base.Add(90*time.Minute)))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("err = %v, want %v", err, store.ErrConflict)
	}
}

func TestCreate_TouchingSlotsDoNotConflict(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))
	mustCreate(t, s, createInput("s1", base.Add(time.Hour), base.Add(2*time.Hour)))
	mustCreate(t, s, createInput("s1", base.Add(-time.Hour), base))
}

func TestCreate_DifferentStaffMayOverlap(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))
	mustCreate(t, s, createInput("s2", base, base.Add(time.Hour)))
}

func TestCreate_CancelledSlotFreesResource(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	appt := mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))

	if _, err := s.UpdateStatus(context.Background(), appt.ID, domain.StatusCancelled); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
	mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))
}

func TestCreate_IdempotentReplayReturnsSameRecord(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	in := createInput("s1", base, base.Add(time.Hour))
	in.IdempotencyKey = "retry-key-0001"

	first := mustCreate(t, s, in)
	second := mustCreate(t, s, in)

	if first.ID != second.ID {
		t.Fatalf("replay id = %d, want %d", second.ID, first.ID)
	}
	all, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("record count = %d, want 1", len(all))
	}
}

func TestCreate_IdempotencyKeyReuseWithDifferentPayloadFails(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	in := createInput("s1", base, base.Add(time.Hour))
	in.IdempotencyKey = "retry-key-0002"
	mustCreate(t, s, in)

	other := createInput("s1", base.Add(2*time.Hour), base.Add(3*time.Hour))
	other.IdempotencyKey = "retry-key-0002"
	_, err := s.Create(context.Background(), other)
	if !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want %v", err, store.ErrIdempotencyConflict)
	}

	all, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("record count = %d, want 1 (failed call must not mutate)", len(all))
	}
}

func TestCreate_ReplaySkipsConflictRevalidation(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	in := createInput("s1", base, base.Add(time.Hour))
	in.IdempotencyKey = "retry-key-0003"
	first := mustCreate(t, s, in)

	// The original record itself occupies the slot; a replay must return it
	// rather than tripping over its own conflict.
	second := mustCreate(t, s, in)
	if second.ID != first.ID {
		t.Fatalf("replay id = %d, want %d", second.ID, first.ID)
	}
}

func TestUpdateStatus_StateMachine(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("pending to completed is illegal", func(t *testing.T) {
		appt := mustCreate(t, s, createInput("sm1", base, base.Add(time.Hour)))
		_, err := s.UpdateStatus(ctx, appt.ID, domain.StatusCompleted)
		var tErr *domain.StatusTransitionError
		if !errors.As(err, &tErr) {
			t.Fatalf("error type = %T, want *domain.StatusTransitionError", err)
		}
		if tErr.From != domain.StatusPending || tErr.To != domain.StatusCompleted {
			t.Fatalf("edge = %s -> %s, want pending -> completed", tErr.From, tErr.To)
		}
	})

	t.Run("pending confirmed completed succeeds", func(t *testing.T) {
		appt := mustCreate(t, s, createInput("sm2", base, base.Add(time.Hour)))
		if _, err := s.UpdateStatus(ctx, appt.ID, domain.StatusConfirmed); err != nil {
			t.Fatalf("confirm error: %v", err)
		}
		got, err := s.UpdateStatus(ctx, appt.ID, domain.StatusCompleted)
		if err != nil {
			t.Fatalf("complete error: %v", err)
		}
		if got.Status != domain.StatusCompleted {
			t.Fatalf("status = %s, want %s", got.Status, domain.StatusCompleted)
		}
	})

	t.Run("confirmed to no_show succeeds", func(t *testing.T) {
		appt := mustCreate(t, s, createInput("sm3", base, base.Add(time.Hour)))
		if _, err := s.UpdateStatus(ctx, appt.ID, domain.StatusConfirmed); err != nil {
			t.Fatalf("confirm error: %v", err)
		}
		if _, err := s.UpdateStatus(ctx, appt.ID, domain.StatusNoShow); err != nil {
			t.Fatalf("no_show error: %v", err)
		}
	})

	t.Run("terminal statuses reject transitions", func(t *testing.T) {
		appt := mustCreate(t, s, createInput("sm4", base, base.Add(time.Hour)))
		if _, err := s.UpdateStatus(ctx, appt.ID, domain.StatusCancelled); err != nil {
			t.Fatalf("cancel error: %v", err)
		}
		_, err := s.UpdateStatus(ctx, appt.ID, domain.StatusConfirmed)
		var tErr *domain.StatusTransitionError
		if !errors.As(err, &tErr) {
			t.Fatalf("error type = %T, want *domain.StatusTransitionError", err)
		}
	})

	t.Run("identity transition is a no-op", func(t *testing.T) {
		appt := mustCreate(t, s, createInput("sm5", base, base.Add(time.Hour)))
		got, err := s.UpdateStatus(ctx, appt.ID, domain.StatusPending)
		if err != nil {
			t.Fatalf("identity transition error: %v", err)
		}
		if !got.UpdatedAt.Equal(appt.UpdatedAt) {
			t.Fatalf("identity transition bumped updated_at")
		}
	})
}

func TestUpdateStatus_UnknownID(t *testing.T) {
	s := NewStore()
	_, err := s.UpdateStatus(context.Background(), 42, domain.StatusConfirmed)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestReschedule_Guards(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		s := NewStore()
		_, err := s.Reschedule(ctx, 7, base, base.Add(time.Hour))
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
		}
	})

	t.Run("invalid range", func(t *testing.T) {
		s := NewStore()
		appt := mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))
		_, err := s.Reschedule(ctx, appt.ID, base, base)
		if !errors.Is(err, store.ErrInvalidTimeRange) {
			t.Fatalf("err = %v, want %v", err, store.ErrInvalidTimeRange)
		}
	})

	t.Run("completed appointment is immutable in time", func(t *testing.T) {
		s := NewStore()
		appt := mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))
		if _, err := s.UpdateStatus(ctx, appt.ID, domain.StatusConfirmed); err != nil {
			t.Fatalf("confirm error: %v", err)
		}
		if _, err := s.UpdateStatus(ctx, appt.ID, domain.StatusCompleted); err != nil {
			t.Fatalf("complete error: %v", err)
		}
		_, err := s.Reschedule(ctx, appt.ID, base.Add(2*time.Hour), base.Add(3*time.Hour))
		if !errors.Is(err, store.ErrRescheduleNotAllowed) {
			t.Fatalf("err = %v, want %v", err, store.ErrRescheduleNotAllowed)
		}
	})

	t.Run("occupied slot fails and leaves original unchanged", func(t *testing.T) {
		s := NewStore()
		appt := mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))
		mustCreate(t, s, createInput("s1", base.Add(2*time.Hour), base.Add(3*time.Hour)))

		_, err := s.Reschedule(ctx, appt.ID, base.Add(2*time.Hour), base.Add(3*time.Hour))
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("err = %v, want %v", err, store.ErrConflict)
		}

		got, err := s.Get(ctx, appt.ID)
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if !got.StartAt.Equal(appt.StartAt) || !got.EndAt.Equal(appt.EndAt) {
			t.Fatalf("failed reschedule mutated times: %v-%v", got.StartAt, got.EndAt)
		}
	})

	t.Run("own slot is excluded from the conflict check", func(t *testing.T) {
		s := NewStore()
		appt := mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))
		got, err := s.Reschedule(ctx, appt.ID, base.Add(30*time.Minute), base.Add(90*time.Minute))
		if err != nil {
			t.Fatalf("Reschedule error: %v", err)
		}
		if !got.StartAt.Equal(base.Add(30 * time.Minute)) {
			t.Fatalf("start = %v, want %v", got.StartAt, base.Add(30*time.Minute))
		}
	})

	t.Run("success updates only times and updated_at", func(t *testing.T) {
		s := NewStore()
		appt := mustCreate(t, s, createInput("s1", base, base.Add(time.Hour)))
		newStart := base.Add(4 * time.Hour)
		newEnd := newStart.Add(time.Hour)

		got, err := s.Reschedule(ctx, appt.ID, newStart, newEnd)
		if err != nil {
			t.Fatalf("Reschedule error: %v", err)
		}
		if got.ID != appt.ID || got.Status != appt.Status {
			t.Fatalf("id/status changed: id=%d status=%s", got.ID, got.Status)
		}
		if !got.StartAt.Equal(newStart) || !got.EndAt.Equal(newEnd) {
			t.Fatalf("times = %v-%v, want %v-%v", got.StartAt, got.EndAt, newStart, newEnd)
		}
		if !got.CreatedAt.Equal(appt.CreatedAt) {
			t.Fatalf("created_at changed")
		}
	})
}

func TestList_OrderedByStart(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	mustCreate(t, s, createInput("s1", base.Add(3*time.Hour), base.Add(4*time.Hour)))
	mustCreate(t, s, createInput("s2", base, base.Add(time.Hour)))
	mustCreate(t, s, createInput("s1", base.Add(time.Hour), base.Add(2*time.Hour)))

	all, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartAt.Before(all[i-1].StartAt) {
			t.Fatalf("list not ordered by start: %v before %v", all[i].StartAt, all[i-1].StartAt)
		}
	}
}

func TestCalendar_WindowCorrectness(t *testing.T) {
	s := NewStore()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	morning := mustCreate(t, s, createInput("s1", day.Add(10*time.Hour), day.Add(11*time.Hour)))
	afternoon := mustCreate(t, s, createInput("s1", day.Add(13*time.Hour), day.Add(14*time.Hour)))

	got, err := s.Calendar(ctx, day.Add(9*time.Hour), day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("Calendar error: %v", err)
	}
	if len(got) != 1 || got[0].ID != morning.ID {
		t.Fatalf("calendar(09:00,12:00) = %d records, want just the morning slot", len(got))
	}

	got, err = s.Calendar(ctx, day.Add(10*time.Hour+30*time.Minute), day.Add(13*time.Hour+30*time.Minute))
	if err != nil {
		t.Fatalf("Calendar error: %v", err)
	}
	if len(got) != 2 || got[0].ID != morning.ID || got[1].ID != afternoon.ID {
		t.Fatalf("calendar(10:30,13:30) = %d records, want both", len(got))
	}
}

func TestCalendar_SharedBoundaryInstantExcluded(t *testing.T) {
	s := NewStore()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	mustCreate(t, s, createInput("s1", day.Add(10*time.Hour), day.Add(11*time.Hour)))

	// Appointment ends exactly at the window start: half-open convention,
	// not in the window.
	got, err := s.Calendar(ctx, day.Add(11*time.Hour), day.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("Calendar error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("appointment ending at window start included, want excluded")
	}

	// Appointment starts exactly at the window end: same convention.
	got, err = s.Calendar(ctx, day.Add(9*time.Hour), day.Add(10*time.Hour))
	if err != nil {
		t.Fatalf("Calendar error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("appointment starting at window end included, want excluded")
	}
}

func TestCalendar_RejectsInvalidWindow(t *testing.T) {
	s := NewStore()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	_, err := s.Calendar(context.Background(), day, day)
	if !errors.Is(err, store.ErrInvalidTimeRange) {
		t.Fatalf("err = %v, want %v", err, store.ErrInvalidTimeRange)
	}
}

func TestCreate_ConcurrentSameSlotExactlyOneWins(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for round := 0; round < 50; round++ {
		s := NewStore()
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.Create(context.Background(), createInput("s1", base, base.Add(time.Hour)))
			}(i)
		}
		wg.Wait()

		var successes, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if successes != 1 || conflicts != 1 {
			t.Fatalf("round %d: successes=%d conflicts=%d, want 1/1", round, successes, conflicts)
		}
	}
}

func TestCreate_ConcurrentSameKeyOneRecord(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for round := 0; round < 50; round++ {
		s := NewStore()
		in := createInput("s1", base, base.Add(time.Hour))
		in.IdempotencyKey = "retry-key-race"

		var wg sync.WaitGroup
		appts := make([]domain.Appointment, 2)
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				appts[i], errs[i] = s.Create(context.Background(), in)
			}(i)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("round %d: caller %d error: %v", round, i, err)
			}
		}
		all, err := s.List(context.Background())
		if err != nil {
			t.Fatalf("List error: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("round %d: record count = %d, want 1", round, len(all))
		}
		for i := range appts {
			if appts[i].ID != all[0].ID {
				t.Fatalf("round %d: caller %d observed id %d, want %d", round, i, appts[i].ID, all[0].ID)
			}
		}
	}
}

func TestNoDoubleBookingInvariant(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Mixed create/reschedule/cancel activity against one staff member;
	// binding intervals must stay pairwise disjoint throughout.
	var ids []int64
	for i := 0; i < 8; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		appt, err := s.Create(ctx, createInput("s1", start, start.Add(45*time.Minute)))
		if err != nil {
			t.Fatalf("create %d error: %v", i, err)
		}
		ids = append(ids, appt.ID)
	}
	if _, err := s.UpdateStatus(ctx, ids[2], domain.StatusCancelled); err != nil {
		t.Fatalf("cancel error: %v", err)
	}
	if _, err := s.Reschedule(ctx, ids[3], base.Add(2*time.Hour), base.Add(2*time.Hour+45*time.Minute)); err != nil {
		t.Fatalf("reschedule into cancelled slot error: %v", err)
	}
	if _, err := s.Reschedule(ctx, ids[4], base, base.Add(30*time.Minute)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("reschedule into occupied slot err = %v, want %v", err, store.ErrConflict)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if a.StaffID != b.StaffID || !a.Binding() || !b.Binding() {
				continue
			}
			if domain.Overlaps(a.StartAt, a.EndAt, b.StartAt, b.EndAt) {
				t.Fatalf("double booking: %d and %d overlap", a.ID, b.ID)
			}
		}
	}
}
