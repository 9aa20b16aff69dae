package events

import (
	"time"
)

// Event is an organizer's listing. Its seats live in the inventory, grouped
// by scenario.
type Event struct {
	ID          string      `json:"id" gorm:"type:uuid;primaryKey"`
	OrganizerID string      `json:"organizer_id" gorm:"type:varchar(64);not null;index"`
	Title       string      `json:"title" gorm:"not null;size:255"`
	Description string      `json:"description" gorm:"type:text"`
	Venue       string      `json:"venue" gorm:"size:255"`
	StartsAt    time.Time   `json:"starts_at" gorm:"not null;index"`
	Status      EventStatus `json:"status" gorm:"type:varchar(20);not null;default:'DRAFT'"`

	Scenarios []Scenario `json:"scenarios,omitempty" gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE;"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Event) TableName() string {
	return "events"
}

// Scenario is a seating layout of an event
type Scenario struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	EventID   string    `json:"event_id" gorm:"type:uuid;not null;index"`
	Name      string    `json:"name" gorm:"not null;size:100"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Scenario) TableName() string {
	return "scenarios"
}

// Actor is the authenticated caller of a catalog mutation
type Actor struct {
	UserID string
	Admin  bool
}

func (a Actor) CanManage(e *Event) bool {
	return a.Admin || (a.UserID != "" && e.OrganizerID == a.UserID)
}

type EventResponse struct {
	ID          string             `json:"id"`
	OrganizerID string             `json:"organizer_id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Venue       string             `json:"venue"`
	StartsAt    time.Time          `json:"starts_at"`
	Status      EventStatus        `json:"status"`
	Scenarios   []ScenarioResponse `json:"scenarios"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type ScenarioResponse struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	Name      string    `json:"name"`
	SeatCount int       `json:"seat_count"`
	CreatedAt time.Time `json:"created_at"`
}

// SeatTypeRequest asks for Quantity seats coded "<Name>-<n>"
type SeatTypeRequest struct {
	Name     string  `json:"name" binding:"required,min=1,max=10"`
	Quantity int     `json:"quantity" binding:"required,min=1,max=1000"`
	Price    float64 `json:"price" binding:"min=0"`
}

type CreateEventRequest struct {
	Title       string            `json:"title" binding:"required,min=3,max=255"`
	Description string            `json:"description" binding:"max=2000"`
	Venue       string            `json:"venue" binding:"max=255"`
	StartsAt    time.Time         `json:"starts_at" binding:"required"`
	SeatTypes   []SeatTypeRequest `json:"seat_types" binding:"omitempty,max=20,dive"`
}

type UpdateEventRequest struct {
	Title       *string    `json:"title" binding:"omitempty,min=3,max=255"`
	Description *string    `json:"description" binding:"omitempty,max=2000"`
	Venue       *string    `json:"venue" binding:"omitempty,max=255"`
	StartsAt    *time.Time `json:"starts_at"`
}

type CreateScenarioRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

type AddSeatsRequest struct {
	Count    int     `json:"count" binding:"required,min=1,max=1000"`
	Category string  `json:"category" binding:"required,min=1,max=10"`
	Price    float64 `json:"price" binding:"min=0"`
}

type RemoveSeatsRequest struct {
	Count int `json:"count" binding:"required,min=1,max=1000"`
}

type SeatChangeResponse struct {
	ScenarioID string   `json:"scenario_id"`
	SeatIDs    []string `json:"seat_ids"`
	Count      int      `json:"count"`
}

type EventListQuery struct {
	Page        int    `form:"page" binding:"omitempty,min=1"`
	Limit       int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Search      string `form:"search"`
	Status      string `form:"status" binding:"omitempty,oneof=DRAFT PUBLISHED"`
	OrganizerID string `form:"-"`
	DateFrom    string `form:"date_from"`
	DateTo      string `form:"date_to"`
}

type PaginatedEvents struct {
	Events     []EventResponse `json:"events"`
	TotalCount int64           `json:"total_count"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"total_pages"`
}

// ToResponse converts Event to EventResponse; seat counts are filled in by the service
func (e *Event) ToResponse() EventResponse {
	scenarios := make([]ScenarioResponse, 0, len(e.Scenarios))
	for _, sc := range e.Scenarios {
		scenarios = append(scenarios, ScenarioResponse{
			ID:        sc.ID,
			EventID:   sc.EventID,
			Name:      sc.Name,
			CreatedAt: sc.CreatedAt,
		})
	}

	return EventResponse{
		ID:          e.ID,
		OrganizerID: e.OrganizerID,
		Title:       e.Title,
		Description: e.Description,
		Venue:       e.Venue,
		StartsAt:    e.StartsAt,
		Status:      e.Status,
		Scenarios:   scenarios,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}
