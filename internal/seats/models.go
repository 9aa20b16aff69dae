package seats

import (
	"time"
)

// SeatState is the availability state of a seat
type SeatState string

const (
	StateAvailable SeatState = "AVAILABLE"
	StateHeld      SeatState = "HELD"
	StateBooked    SeatState = "BOOKED"
)

// Precondition guards a conditional transition
type Precondition int

const (
	// Acquirable matches an available seat or one whose hold has lapsed
	Acquirable Precondition = iota
)

// Seat is the authoritative seat record. HoldOwner is the reservation ID
// that holds the seat; BookedBy records the reservation that committed it.
type Seat struct {
	ID            string     `gorm:"type:uuid;primaryKey" json:"id"`
	ScenarioID    string     `gorm:"type:uuid;not null;index;uniqueIndex:idx_scenario_code" json:"scenario_id"`
	EventID       string     `gorm:"type:uuid;not null;index" json:"event_id"`
	Code          string     `gorm:"type:varchar(16);not null;uniqueIndex:idx_scenario_code" json:"code"`
	Category      string     `gorm:"type:varchar(32);not null" json:"category"`
	Price         float64    `gorm:"type:decimal(10,2);not null" json:"price"`
	Position      int        `gorm:"not null;default:0" json:"position"`
	State         SeatState  `gorm:"type:varchar(16);not null;default:'AVAILABLE';index:idx_seat_hold_expiry,priority:1;check:state IN ('AVAILABLE','HELD','BOOKED')" json:"state"`
	HoldOwner     *string    `gorm:"type:varchar(64);index" json:"hold_owner,omitempty"`
	HoldExpiresAt *time.Time `gorm:"index:idx_seat_hold_expiry,priority:2" json:"hold_expires_at,omitempty"`
	BookedBy      *string    `gorm:"type:varchar(64)" json:"booked_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Seat) TableName() string {
	return "seats"
}

func (s *Seat) IsHeldBy(reservationID string, now time.Time) bool {
	return s.State == StateHeld &&
		s.HoldOwner != nil && *s.HoldOwner == reservationID &&
		s.HoldExpiresAt != nil && !s.HoldExpiresAt.Before(now)
}

// IsAcquirable mirrors the Acquirable precondition
func (s *Seat) IsAcquirable(now time.Time) bool {
	if s.State == StateAvailable {
		return true
	}
	return s.State == StateHeld && s.HoldExpiresAt != nil && s.HoldExpiresAt.Before(now)
}

// CheckInvariant reports a seat whose hold fields contradict its state
func (s *Seat) CheckInvariant() bool {
	switch s.State {
	case StateHeld:
		return s.HoldOwner != nil && s.HoldExpiresAt != nil
	case StateBooked, StateAvailable:
		return s.HoldOwner == nil && s.HoldExpiresAt == nil
	default:
		return false
	}
}

// SeatSnapshot is a point-in-time copy of the seat returned to callers
type SeatSnapshot struct {
	SeatID        string     `json:"seat_id"`
	ScenarioID    string     `json:"scenario_id"`
	EventID       string     `json:"event_id"`
	Code          string     `json:"code"`
	Category      string     `json:"category"`
	Price         float64    `json:"price"`
	State         SeatState  `json:"state"`
	HoldOwner     string     `json:"hold_owner,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

func (s *Seat) Snapshot() SeatSnapshot {
	snap := SeatSnapshot{
		SeatID:     s.ID,
		ScenarioID: s.ScenarioID,
		EventID:    s.EventID,
		Code:       s.Code,
		Category:   s.Category,
		Price:      s.Price,
		State:      s.State,
	}
	if s.HoldOwner != nil {
		snap.HoldOwner = *s.HoldOwner
	}
	if s.HoldExpiresAt != nil {
		t := *s.HoldExpiresAt
		snap.HoldExpiresAt = &t
	}
	return snap
}

// ReleasedHold describes a hold reverted by the sweeper
type ReleasedHold struct {
	SeatID        string
	ScenarioID    string
	EventID       string
	Code          string
	Category      string
	Price         float64
	ReservationID string
}

// HoldRequest asks the coordinator for a timed hold
type HoldRequest struct {
	SeatID        string
	ScenarioID    string
	ReservationID string
	TTL           time.Duration
}

// SeatSpec describes a seat to provision
type SeatSpec struct {
	Code     string
	Category string
	Price    float64
	Position int
}
