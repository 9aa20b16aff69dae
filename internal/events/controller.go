package events

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"seatreserve/internal/shared/middleware"
	"seatreserve/internal/shared/utils/response"
)

type Controller interface {
	CreateEvent(c *gin.Context)
	GetEvent(c *gin.Context)
	GetAllEvents(c *gin.Context)
	GetMyEvents(c *gin.Context)
	UpdateEvent(c *gin.Context)
	PublishEvent(c *gin.Context)
	DeleteEvent(c *gin.Context)

	CreateScenario(c *gin.Context)
	AddSeats(c *gin.Context)
	RemoveSeats(c *gin.Context)
	DeleteSeat(c *gin.Context)
}

type controller struct {
	service Service
}

func NewController(service Service) Controller {
	return &controller{service: service}
}

func actorFrom(c *gin.Context) Actor {
	return Actor{
		UserID: middleware.CurrentUserID(c),
		Admin:  middleware.CurrentUserRole(c) == middleware.RoleAdmin,
	}
}

// uuidParam reads a path id and answers 400 when it is malformed
func uuidParam(c *gin.Context, name, label string) (string, bool) {
	raw := c.Param(name)
	if _, err := uuid.Parse(raw); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid "+label+" ID", nil, err.Error())
		return "", false
	}
	return raw, true
}

func (ctrl *controller) CreateEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}

	event, err := ctrl.service.CreateEvent(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		response.RespondError(c, "Failed to create event", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusCreated, "Event created successfully", event, nil)
}

func (ctrl *controller) GetEvent(c *gin.Context) {
	eventID, ok := uuidParam(c, "eventId", "event")
	if !ok {
		return
	}

	event, err := ctrl.service.GetEvent(c.Request.Context(), eventID)
	if err != nil {
		response.RespondError(c, "Failed to get event", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Event retrieved successfully", event, nil)
}

func (ctrl *controller) GetAllEvents(c *gin.Context) {
	var query EventListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}

	events, err := ctrl.service.GetAllEvents(c.Request.Context(), query)
	if err != nil {
		response.RespondError(c, "Failed to list events", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Events retrieved successfully", events, nil)
}

func (ctrl *controller) GetMyEvents(c *gin.Context) {
	var query EventListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.RespondJSON(c, "error", http.StatusBadRequest, "Invalid query parameters", nil, err.Error())
		return
	}
	query.OrganizerID = middleware.CurrentUserID(c)

	events, err := ctrl.service.GetAllEvents(c.Request.Context(), query)
	if err != nil {
		response.RespondError(c, "Failed to list events", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Events retrieved successfully", events, nil)
}

func (ctrl *controller) UpdateEvent(c *gin.Context) {
	eventID, ok := uuidParam(c, "eventId", "event")
	if !ok {
		return
	}

	var req UpdateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}

	event, err := ctrl.service.UpdateEvent(c.Request.Context(), eventID, actorFrom(c), req)
	if err != nil {
		response.RespondError(c, "Failed to update event", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Event updated successfully", event, nil)
}

func (ctrl *controller) PublishEvent(c *gin.Context) {
	eventID, ok := uuidParam(c, "eventId", "event")
	if !ok {
		return
	}

	event, err := ctrl.service.PublishEvent(c.Request.Context(), eventID, actorFrom(c))
	if err != nil {
		response.RespondError(c, "Failed to publish event", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Event published successfully", event, nil)
}

func (ctrl *controller) DeleteEvent(c *gin.Context) {
	eventID, ok := uuidParam(c, "eventId", "event")
	if !ok {
		return
	}

	if err := ctrl.service.DeleteEvent(c.Request.Context(), eventID, actorFrom(c)); err != nil {
		response.RespondError(c, "Failed to delete event", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Event deleted successfully", nil, nil)
}

// SCENARIOS

func (ctrl *controller) CreateScenario(c *gin.Context) {
	eventID, ok := uuidParam(c, "eventId", "event")
	if !ok {
		return
	}

	var req CreateScenarioRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}

	scenario, err := ctrl.service.CreateScenario(c.Request.Context(), eventID, actorFrom(c), req)
	if err != nil {
		response.RespondError(c, "Failed to create scenario", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusCreated, "Scenario created successfully", scenario, nil)
}

func (ctrl *controller) AddSeats(c *gin.Context) {
	scenarioID, ok := uuidParam(c, "scenarioId", "scenario")
	if !ok {
		return
	}

	var req AddSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}

	added, err := ctrl.service.AddSeats(c.Request.Context(), scenarioID, actorFrom(c), req)
	if err != nil {
		response.RespondError(c, "Failed to add seats", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusCreated, "Seats added successfully", added, nil)
}

func (ctrl *controller) RemoveSeats(c *gin.Context) {
	scenarioID, ok := uuidParam(c, "scenarioId", "scenario")
	if !ok {
		return
	}

	var req RemoveSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(c, err)
		return
	}

	removed, err := ctrl.service.RemoveSeats(c.Request.Context(), scenarioID, actorFrom(c), req.Count)
	if err != nil {
		response.RespondError(c, "Failed to remove seats", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Seats removed successfully", removed, nil)
}

func (ctrl *controller) DeleteSeat(c *gin.Context) {
	seatID, ok := uuidParam(c, "seatId", "seat")
	if !ok {
		return
	}

	if err := ctrl.service.DeleteSeat(c.Request.Context(), seatID, actorFrom(c)); err != nil {
		response.RespondError(c, "Failed to delete seat", err)
		return
	}

	response.RespondJSON(c, "success", http.StatusOK, "Seat deleted successfully", nil, nil)
}
