package seats

import (
	"context"
	"sort"
	"sync"
	"time"

	"seatreserve/pkg/errs"
)

// memoryRepository keeps seats in process. One mutex guards the map, which
// makes every conditional write trivially atomic.
type memoryRepository struct {
	mu    sync.Mutex
	seats map[string]*Seat
}

// NewMemoryRepository returns an in-process store for development and tests
func NewMemoryRepository() Store {
	return &memoryRepository{seats: make(map[string]*Seat)}
}

func copySeat(s *Seat) Seat {
	c := *s
	if s.HoldOwner != nil {
		owner := *s.HoldOwner
		c.HoldOwner = &owner
	}
	if s.HoldExpiresAt != nil {
		t := *s.HoldExpiresAt
		c.HoldExpiresAt = &t
	}
	if s.BookedBy != nil {
		b := *s.BookedBy
		c.BookedBy = &b
	}
	return c
}

func sortSeats(seats []Seat) {
	sort.SliceStable(seats, func(i, j int) bool {
		if seats[i].Position != seats[j].Position {
			return seats[i].Position < seats[j].Position
		}
		return seats[i].Code < seats[j].Code
	})
}

func (m *memoryRepository) CreateSeats(_ context.Context, seats []Seat) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range seats {
		if _, exists := m.seats[seats[i].ID]; exists {
			return errs.Mark(errs.Newf("seat %s already exists", seats[i].ID), errs.ErrConflict)
		}
	}
	now := time.Now().UTC()
	for i := range seats {
		s := copySeat(&seats[i])
		if s.State == "" {
			s.State = StateAvailable
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		s.UpdatedAt = now
		m.seats[s.ID] = &s
	}
	return nil
}

func (m *memoryRepository) GetByID(_ context.Context, id string) (*Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.seats[id]
	if !ok {
		return nil, errs.NotFound("seat %s not found", id)
	}
	c := copySeat(s)
	return &c, nil
}

func (m *memoryRepository) GetByIDs(_ context.Context, ids []string) ([]Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Seat, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.seats[id]; ok {
			out = append(out, copySeat(s))
		}
	}
	sortSeats(out)
	return out, nil
}

func (m *memoryRepository) GetByScenario(_ context.Context, scenarioID string) ([]Seat, error) {
	return m.filter(func(s *Seat) bool { return s.ScenarioID == scenarioID }), nil
}

func (m *memoryRepository) GetHeldBy(_ context.Context, scenarioID, owner string) ([]Seat, error) {
	return m.filter(func(s *Seat) bool {
		return s.ScenarioID == scenarioID && s.State == StateHeld && s.HoldOwner != nil && *s.HoldOwner == owner
	}), nil
}

func (m *memoryRepository) filter(keep func(*Seat) bool) []Seat {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Seat, 0)
	for _, s := range m.seats {
		if keep(s) {
			out = append(out, copySeat(s))
		}
	}
	sortSeats(out)
	return out
}

func (m *memoryRepository) TryTransition(_ context.Context, seatID string, pre Precondition, next SeatState, owner string, expiresAt, now time.Time) (bool, error) {
	if pre != Acquirable || next != StateHeld {
		return false, errs.Validation("unsupported transition to %s", next)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.seats[seatID]
	if !ok || !s.IsAcquirable(now) {
		return false, nil
	}
	s.State = StateHeld
	s.HoldOwner = &owner
	exp := expiresAt
	s.HoldExpiresAt = &exp
	s.BookedBy = nil
	s.UpdatedAt = now
	return true, nil
}

func (m *memoryRepository) Release(_ context.Context, seatID, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.seats[seatID]
	if !ok || s.State != StateHeld || s.HoldOwner == nil || *s.HoldOwner != owner {
		return false, nil
	}
	s.State = StateAvailable
	s.HoldOwner = nil
	s.HoldExpiresAt = nil
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryRepository) Commit(_ context.Context, seatID, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.seats[seatID]
	if !ok || s.State != StateHeld || s.HoldOwner == nil || *s.HoldOwner != owner {
		return false, nil
	}
	s.State = StateBooked
	s.HoldOwner = nil
	s.HoldExpiresAt = nil
	booked := owner
	s.BookedBy = &booked
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryRepository) Uncommit(_ context.Context, seatID, owner string, restoreUntil *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.seats[seatID]
	if !ok || s.State != StateBooked || s.BookedBy == nil || *s.BookedBy != owner {
		return false, nil
	}
	s.BookedBy = nil
	if restoreUntil != nil {
		s.State = StateHeld
		o := owner
		s.HoldOwner = &o
		t := *restoreUntil
		s.HoldExpiresAt = &t
	} else {
		s.State = StateAvailable
	}
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memoryRepository) ReleaseExpired(_ context.Context, now time.Time, limit int) ([]ReleasedHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := make([]*Seat, 0)
	for _, s := range m.seats {
		if s.State == StateHeld && s.HoldExpiresAt != nil && s.HoldExpiresAt.Before(now) {
			expired = append(expired, s)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].HoldExpiresAt.Before(*expired[j].HoldExpiresAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	released := make([]ReleasedHold, 0, len(expired))
	for _, s := range expired {
		released = append(released, ReleasedHold{
			SeatID:        s.ID,
			ScenarioID:    s.ScenarioID,
			EventID:       s.EventID,
			Code:          s.Code,
			Category:      s.Category,
			Price:         s.Price,
			ReservationID: *s.HoldOwner,
		})
		s.State = StateAvailable
		s.HoldOwner = nil
		s.HoldExpiresAt = nil
		s.UpdatedAt = now
	}
	return released, nil
}

func (m *memoryRepository) Delete(_ context.Context, seatID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seats[seatID]; !ok {
		return false, nil
	}
	delete(m.seats, seatID)
	return true, nil
}

func (m *memoryRepository) DeleteByEvent(_ context.Context, eventID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.seats {
		if s.EventID == eventID {
			delete(m.seats, id)
			n++
		}
	}
	return n, nil
}
