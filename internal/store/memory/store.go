// Package memory is the reference AppointmentStore. It keeps every record in
// process memory and serializes mutations per staff member, so operations on
// disjoint staff calendars do not contend on each other's conflict scans.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/domain"
	"github.com/CHINGBOH/medical-beauty-crm-landing-sub001/internal/store"
)

type Store struct {
	// mu guards the maps and the id counter. Calendar slices are only
	// written while holding both mu and the owning staff lock, so a
	// same-staff writer that already holds the staff lock may scan its
	// calendar under mu.RLock.
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*domain.Appointment
	byStaff map[string][]*domain.Appointment // ordered by StartAt
	idem    map[string]int64
	staff   map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		byID:    make(map[int64]*domain.Appointment),
		byStaff: make(map[string][]*domain.Appointment),
		idem:    make(map[string]int64),
		staff:   make(map[string]*sync.Mutex),
	}
}

// staffLock returns the mutex serializing mutations of one staff calendar.
// It must not be acquired while holding mu.
func (s *Store) staffLock(staffID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.staff[staffID]
	if !ok {
		lk = &sync.Mutex{}
		s.staff[staffID] = lk
	}
	return lk
}

func (s *Store) Create(ctx context.Context, in store.CreateAppointment) (domain.Appointment, error) {
	in.StartAt = in.StartAt.UTC()
	in.EndAt = in.EndAt.UTC()
	if !domain.ValidRange(in.StartAt, in.EndAt) {
		return domain.Appointment{}, store.ErrInvalidTimeRange
	}

	if in.IdempotencyKey != "" {
		if appt, seen, err := s.replay(in); seen {
			return appt, err
		}
	}

	lk := s.staffLock(in.StaffID)
	lk.Lock()
	defer lk.Unlock()

	// A retry of the same key may have landed while this caller waited for
	// the staff lock; resolve it before the conflict scan so the replay is
	// not rejected by its own record.
	if in.IdempotencyKey != "" {
		if appt, seen, err := s.replay(in); seen {
			return appt, err
		}
	}

	// The staff lock excludes every other writer of this calendar, so the
	// scan stays valid until the insert below.
	s.mu.RLock()
	conflict := overlapsCalendar(s.byStaff[in.StaffID], in.StartAt, in.EndAt, 0)
	s.mu.RUnlock()
	if conflict {
		return domain.Appointment{}, store.ErrConflict
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if in.IdempotencyKey != "" {
		// A create for another staff member may have claimed the key
		// between the replay check and here.
		if id, ok := s.idem[in.IdempotencyKey]; ok {
			existing := s.byID[id]
			if store.SameBooking(*existing, in) {
				return *existing, nil
			}
			return domain.Appointment{}, store.ErrIdempotencyConflict
		}
	}

	now := time.Now().UTC()
	s.nextID++
	appt := &domain.Appointment{
		ID:            s.nextID,
		CustomerID:    in.CustomerID,
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
		StaffID:       in.StaffID,
		StaffName:     in.StaffName,
		StartAt:       in.StartAt,
		EndAt:         in.EndAt,
		Notes:         in.Notes,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.byID[appt.ID] = appt
	s.insertSorted(appt)
	if in.IdempotencyKey != "" {
		s.idem[in.IdempotencyKey] = appt.ID
	}
	return *appt, nil
}

// replay resolves a previously used idempotency key without re-running
// conflict checks. seen is false when the key has no mapping yet.
func (s *Store) replay(in store.CreateAppointment) (domain.Appointment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idem[in.IdempotencyKey]
	if !ok {
		return domain.Appointment{}, false, nil
	}
	existing := s.byID[id]
	if store.SameBooking(*existing, in) {
		return *existing, true, nil
	}
	return domain.Appointment{}, true, store.ErrIdempotencyConflict
}

func (s *Store) Get(ctx context.Context, id int64) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.byID[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return *appt, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Appointment, 0, len(s.byID))
	for _, appt := range s.byID {
		out = append(out, *appt)
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) Calendar(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	windowStart = windowStart.UTC()
	windowEnd = windowEnd.UTC()
	if !domain.ValidRange(windowStart, windowEnd) {
		return nil, store.ErrInvalidTimeRange
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Appointment
	for _, appt := range s.byID {
		if appt.Overlaps(windowStart, windowEnd) {
			out = append(out, *appt)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, target domain.Status) (domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.byID[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	if appt.Status == target {
		return *appt, nil
	}
	if !domain.CanTransition(appt.Status, target) {
		return domain.Appointment{}, &domain.StatusTransitionError{From: appt.Status, To: target}
	}
	appt.Status = target
	appt.UpdatedAt = time.Now().UTC()
	return *appt, nil
}

func (s *Store) Reschedule(ctx context.Context, id int64, startAt, endAt time.Time) (domain.Appointment, error) {
	startAt = startAt.UTC()
	endAt = endAt.UTC()
	if !domain.ValidRange(startAt, endAt) {
		return domain.Appointment{}, store.ErrInvalidTimeRange
	}

	s.mu.RLock()
	appt, ok := s.byID[id]
	var staffID string
	if ok {
		staffID = appt.StaffID
	}
	s.mu.RUnlock()
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}

	lk := s.staffLock(staffID)
	lk.Lock()
	defer lk.Unlock()

	s.mu.RLock()
	appt = s.byID[id]
	movable := appt.Status == domain.StatusPending || appt.Status == domain.StatusConfirmed
	conflict := movable && overlapsCalendar(s.byStaff[staffID], startAt, endAt, id)
	s.mu.RUnlock()
	if !movable {
		return domain.Appointment{}, store.ErrRescheduleNotAllowed
	}
	if conflict {
		return domain.Appointment{}, store.ErrConflict
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A concurrent status change may have landed since the scan; the slot
	// picture cannot have worsened (same-staff writers are excluded by
	// the staff lock and cancellation only frees slots), but a record that
	// went terminal must stay immutable in time.
	if appt.Status != domain.StatusPending && appt.Status != domain.StatusConfirmed {
		return domain.Appointment{}, store.ErrRescheduleNotAllowed
	}

	s.removeSorted(appt)
	appt.StartAt = startAt
	appt.EndAt = endAt
	appt.UpdatedAt = time.Now().UTC()
	s.insertSorted(appt)
	return *appt, nil
}

// overlapsCalendar scans a calendar ordered by StartAt for a binding record
// intersecting [startAt, endAt), ignoring excludeID. Entries starting at or
// after endAt cannot overlap, so the scan stops there.
func overlapsCalendar(calendar []*domain.Appointment, startAt, endAt time.Time, excludeID int64) bool {
	for _, appt := range calendar {
		if !appt.StartAt.Before(endAt) {
			break
		}
		if appt.ID == excludeID || !appt.Binding() {
			continue
		}
		if appt.EndAt.After(startAt) {
			return true
		}
	}
	return false
}

func (s *Store) insertSorted(appt *domain.Appointment) {
	calendar := s.byStaff[appt.StaffID]
	i := sort.Search(len(calendar), func(i int) bool {
		return calendar[i].StartAt.After(appt.StartAt)
	})
	calendar = append(calendar, nil)
	copy(calendar[i+1:], calendar[i:])
	calendar[i] = appt
	s.byStaff[appt.StaffID] = calendar
}

func (s *Store) removeSorted(appt *domain.Appointment) {
	calendar := s.byStaff[appt.StaffID]
	for i, cur := range calendar {
		if cur.ID == appt.ID {
			s.byStaff[appt.StaffID] = append(calendar[:i], calendar[i+1:]...)
			return
		}
	}
}

func sortByStart(appts []domain.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].StartAt.Equal(appts[j].StartAt) {
			return appts[i].ID < appts[j].ID
		}
		return appts[i].StartAt.Before(appts[j].StartAt)
	})
}
