package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a domain change propagated to subscribers and the bus
type EventType string

const (
	SeatHeld             EventType = "SeatHeld"
	SeatReleased         EventType = "SeatReleased"
	SeatRemoved          EventType = "SeatRemoved"
	ReservationCreated   EventType = "ReservationCreated"
	ReservationConfirmed EventType = "ReservationConfirmed"
	ReservationCancelled EventType = "ReservationCancelled"
	ReservationExpired   EventType = "ReservationExpired"
	EventPublished       EventType = "EventPublished"
	EventUpdated         EventType = "EventUpdated"
	EventDeleted         EventType = "EventDeleted"
)

// AllEventTypes lists every type the notifier may emit
var AllEventTypes = []EventType{
	SeatHeld, SeatReleased, SeatRemoved,
	ReservationCreated, ReservationConfirmed, ReservationCancelled, ReservationExpired,
	EventPublished, EventUpdated, EventDeleted,
}

// Event is the envelope delivered to every sink
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	EventID       string          `json:"event_id"`
	ScenarioID    string          `json:"scenario_id,omitempty"`
	SeatID        string          `json:"seat_id,omitempty"`
	ReservationID string          `json:"reservation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`

	// Broadcast delivers to every realtime subscriber regardless of group
	Broadcast bool `json:"-"`
}

// PartitionKey keeps per-seat (or per-reservation) ordering on partitioned buses
func (e *Event) PartitionKey() string {
	switch {
	case e.SeatID != "":
		return e.SeatID
	case e.ReservationID != "":
		return e.ReservationID
	default:
		return e.EventID
	}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent builds an envelope with the payload marshalled eagerly so that
// later mutation of the source value cannot leak into the delivered message.
func NewEvent(eventType EventType, eventID string, payload interface{}) Event {
	e := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		EventID:    eventID,
		OccurredAt: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			e.Payload = raw
		}
	}
	return e
}

func (e Event) WithSeat(scenarioID, seatID string) Event {
	e.ScenarioID = scenarioID
	e.SeatID = seatID
	return e
}

func (e Event) WithReservation(reservationID string) Event {
	e.ReservationID = reservationID
	return e
}

func (e Event) ToAll() Event {
	e.Broadcast = true
	return e
}

// Payloads

type SeatPayload struct {
	SeatID        string     `json:"seat_id"`
	ScenarioID    string     `json:"scenario_id"`
	Code          string     `json:"code"`
	Category      string     `json:"category"`
	Price         float64    `json:"price"`
	State         string     `json:"state"`
	ReservationID string     `json:"reservation_id,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

type ReservationPayload struct {
	ReservationID string   `json:"reservation_id"`
	EventID       string   `json:"event_id"`
	OwnerID       string   `json:"owner_id"`
	Status        string   `json:"status"`
	SeatIDs       []string `json:"seat_ids"`
	Reason        string   `json:"reason,omitempty"`
}

type CatalogEventPayload struct {
	EventID string `json:"event_id"`
	Title   string `json:"title,omitempty"`
	Status  string `json:"status,omitempty"`
}
