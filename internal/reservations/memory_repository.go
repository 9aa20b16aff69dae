package reservations

import (
	"context"
	"sort"
	"sync"
	"time"

	"seatreserve/pkg/errs"
)

type memoryRepository struct {
	mu           sync.Mutex
	reservations map[string]*Reservation
}

// NewMemoryRepository returns an in-process ledger for development and tests
func NewMemoryRepository() Repository {
	return &memoryRepository{reservations: make(map[string]*Reservation)}
}

func (m *memoryRepository) Create(_ context.Context, reservation *Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reservations[reservation.ID]; exists {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}
	reservation.UpdatedAt = now
	if reservation.Status == "" {
		reservation.Status = StatusPending
	}
	for i := range reservation.SeatRefs {
		reservation.SeatRefs[i].ReservationID = reservation.ID
		reservation.SeatRefs[i].Seq = i
		if reservation.SeatRefs[i].CreatedAt.IsZero() {
			reservation.SeatRefs[i].CreatedAt = now
		}
	}
	m.reservations[reservation.ID] = reservation.clone()
	return nil
}

func (m *memoryRepository) GetByID(_ context.Context, id string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, errs.NotFound("reservation %s not found", id)
	}
	return r.clone(), nil
}

func (m *memoryRepository) AddSeatRef(_ context.Context, reservationID string, ref SeatRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[reservationID]
	if !ok {
		return errs.NotFound("reservation %s not found", reservationID)
	}
	if r.Status != StatusPending {
		return ErrNotPending
	}
	if r.HasSeat(ref.SeatID) {
		return nil
	}

	now := time.Now().UTC()
	ref.ReservationID = reservationID
	ref.Seq = len(r.SeatRefs)
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = now
	}
	r.SeatRefs = append(r.SeatRefs, ref)
	r.UpdatedAt = now
	return nil
}

func (m *memoryRepository) TransitionStatus(_ context.Context, id string, from, to Status, reason string, at time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, errs.Validation("invalid status transition %s -> %s", from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.CloseReason = reason
	closed := at
	r.ClosedAt = &closed
	r.UpdatedAt = at
	return true, nil
}

func (m *memoryRepository) FindPendingBySeat(_ context.Context, seatID string) ([]Reservation, error) {
	return m.filter(func(r *Reservation) bool {
		return r.Status == StatusPending && r.HasSeat(seatID)
	}, false), nil
}

func (m *memoryRepository) FindPendingByEvent(_ context.Context, eventID string) ([]Reservation, error) {
	return m.filter(func(r *Reservation) bool {
		return r.Status == StatusPending && r.EventID == eventID
	}, false), nil
}

func (m *memoryRepository) ListByOwner(_ context.Context, ownerID string, exclude ...Status) ([]Reservation, error) {
	return m.filter(func(r *Reservation) bool {
		if r.OwnerID != ownerID {
			return false
		}
		for _, s := range exclude {
			if r.Status == s {
				return false
			}
		}
		return true
	}, true), nil
}

func (m *memoryRepository) filter(keep func(*Reservation) bool, newestFirst bool) []Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Reservation, 0)
	for _, r := range m.reservations {
		if keep(r) {
			out = append(out, *r.clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
