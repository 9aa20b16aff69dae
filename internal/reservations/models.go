package reservations

import (
	"time"
)

// Reservation is the ledger aggregate. ID is supplied by the caller and doubles as the idempotency key.
type Reservation struct {
	ID          string     `gorm:"type:varchar(64);primaryKey" json:"id"`
	OwnerID     string     `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	EventID     string     `gorm:"type:uuid;not null;index" json:"event_id"`
	Status      Status     `gorm:"type:varchar(16);not null;default:'PENDING';index;check:status IN ('PENDING','CONFIRMED','CANCELLED','EXPIRED')" json:"status"`
	CloseReason string     `gorm:"type:varchar(64)" json:"close_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`

	SeatRefs []SeatRef `gorm:"foreignKey:ReservationID;constraint:OnDelete:CASCADE;" json:"seats"`
}

func (Reservation) TableName() string {
	return "reservations"
}

// SeatRef points at a seat and freezes what it looked like when it was held
type SeatRef struct {
	ReservationID string    `gorm:"type:varchar(64);primaryKey" json:"-"`
	SeatID        string    `gorm:"type:uuid;primaryKey;index" json:"seat_id"`
	ScenarioID    string    `gorm:"type:uuid;not null" json:"scenario_id"`
	Code          string    `gorm:"type:varchar(16);not null" json:"code"`
	Category      string    `gorm:"type:varchar(32);not null" json:"category"`
	Price         float64   `gorm:"type:decimal(10,2);not null" json:"price"`
	Seq           int       `gorm:"not null;default:0" json:"-"`
	CreatedAt     time.Time `json:"held_at"`
}

func (SeatRef) TableName() string {
	return "reservation_seats"
}

func (r *Reservation) SeatIDs() []string {
	ids := make([]string, 0, len(r.SeatRefs))
	for _, ref := range r.SeatRefs {
		ids = append(ids, ref.SeatID)
	}
	return ids
}

func (r *Reservation) HasSeat(seatID string) bool {
	for _, ref := range r.SeatRefs {
		if ref.SeatID == seatID {
			return true
		}
	}
	return false
}

func (r *Reservation) TotalPrice() float64 {
	var total float64
	for _, ref := range r.SeatRefs {
		total += ref.Price
	}
	return total
}

func (r *Reservation) clone() *Reservation {
	c := *r
	c.SeatRefs = append([]SeatRef(nil), r.SeatRefs...)
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}

// HoldCommand asks the ledger to hold one seat for a reservation
type HoldCommand struct {
	ReservationID string
	OwnerID       string
	EventID       string
	ScenarioID    string
	SeatID        string
	TTL           time.Duration
}

// EventReservations groups an owner's reservations by event
type EventReservations struct {
	EventID      string        `json:"event_id"`
	Reservations []Reservation `json:"reservations"`
}

// Close reasons
const (
	ReasonOwnerCancelled = "cancelled_by_owner"
	ReasonSeatRemoved    = "seat_removed"
	ReasonEventDeleted   = "event_deleted"
	ReasonHoldExpired    = "hold_expired"
	ReasonConfirmed      = "confirmed"
)
