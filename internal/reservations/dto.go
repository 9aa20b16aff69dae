package reservations

import (
	"time"

	"github.com/google/uuid"

	"seatreserve/internal/seats"
)

type HoldSeatRequest struct {
	// Optional on the first hold; the server generates one
	ReservationID string `json:"reservation_id" binding:"omitempty,max=64"`
	EventID       string `json:"event_id" binding:"omitempty,uuid"`
	ScenarioID    string `json:"scenario_id" binding:"required,uuid"`
	SeatID        string `json:"seat_id" binding:"required,uuid"`
	TTLSeconds    int    `json:"ttl_seconds" binding:"omitempty,min=1,max=86400"`
}

type ConfirmRequest struct {
	SeatIDs []string `json:"seat_ids" binding:"omitempty,dive,uuid"`
}

type ReservationResponse struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	EventID     string     `json:"event_id"`
	Status      Status     `json:"status"`
	CloseReason string     `json:"close_reason,omitempty"`
	Seats       []SeatRef  `json:"seats"`
	TotalPrice  float64    `json:"total_price"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

type HoldSeatResponse struct {
	Reservation ReservationResponse `json:"reservation"`
	Seat        seats.SeatSnapshot  `json:"seat"`
	Created     bool                `json:"created"`
}

type EventReservationsResponse struct {
	EventID      string                `json:"event_id"`
	Reservations []ReservationResponse `json:"reservations"`
}

func ToReservationResponse(r *Reservation) ReservationResponse {
	return ReservationResponse{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		EventID:     r.EventID,
		Status:      r.Status,
		CloseReason: r.CloseReason,
		Seats:       r.SeatRefs,
		TotalPrice:  r.TotalPrice(),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		ClosedAt:    r.ClosedAt,
	}
}

func NewReservationID() string {
	return uuid.NewString()
}
