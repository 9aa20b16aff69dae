package seats

import (
	"time"

	"github.com/google/uuid"
)

type SeatResponse struct {
	ID            string     `json:"id"`
	ScenarioID    string     `json:"scenario_id"`
	EventID       string     `json:"event_id"`
	Code          string     `json:"code"`
	Category      string     `json:"category"`
	Price         float64    `json:"price"`
	Position      int        `json:"position"`
	State         SeatState  `json:"state"`
	IsHeld        bool       `json:"is_held"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

// Inventory service requests (service-to-service)

type AcquireHoldRequest struct {
	ScenarioID    string `json:"scenario_id" binding:"required"`
	ReservationID string `json:"reservation_id" binding:"required,max=64"`
	TTLSeconds    int    `json:"ttl_seconds" binding:"omitempty,min=1,max=86400"`
}

type SeatOwnerRequest struct {
	ReservationID string `json:"reservation_id" binding:"required,max=64"`
	// Only for revert: put the seat back on hold until this instant instead of freeing it
	RestoreUntil *time.Time `json:"restore_until"`
}

type LookupSeatsRequest struct {
	SeatIDs []string `json:"seat_ids" binding:"required,min=1,max=500"`
}

// TransitionResponse reports whether a conditional write matched
type TransitionResponse struct {
	SeatID  string `json:"seat_id"`
	Applied bool   `json:"applied"`
}

type ReleaseHoldsResponse struct {
	ScenarioID    string `json:"scenario_id"`
	ReservationID string `json:"reservation_id"`
	Released      int    `json:"released"`
}

func newSeatID() string {
	return uuid.NewString()
}
