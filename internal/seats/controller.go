package seats

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seatreserve/internal/shared/utils/response"
)

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

// SEAT READS

func (c *Controller) GetScenarioSeats(ctx *gin.Context) {
	scenarioID := ctx.Param("scenarioId")
	if scenarioID == "" {
		response.RespondJSON(ctx, "error", http.StatusBadRequest, "Scenario ID is required", nil, "missing scenario ID")
		return
	}

	seats, err := c.service.GetScenarioSeats(ctx.Request.Context(), scenarioID)
	if err != nil {
		response.RespondError(ctx, "Failed to get seats", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Seats retrieved successfully", seats, nil)
}

func (c *Controller) GetSeat(ctx *gin.Context) {
	seat, err := c.service.GetSeat(ctx.Request.Context(), ctx.Param("seatId"))
	if err != nil {
		response.RespondError(ctx, "Failed to get seat", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Seat retrieved successfully", seat.Snapshot(), nil)
}

//  INVENTORY HOLDS

func (c *Controller) AcquireHold(ctx *gin.Context) {
	var req AcquireHoldRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(ctx, err)
		return
	}

	snap, err := c.service.AcquireHold(ctx.Request.Context(), HoldRequest{
		SeatID:        ctx.Param("seatId"),
		ScenarioID:    req.ScenarioID,
		ReservationID: req.ReservationID,
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		response.RespondError(ctx, "Seat unavailable", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Seat held successfully", snap, nil)
}

func (c *Controller) ReleaseHoldsByOwner(ctx *gin.Context) {
	scenarioID := ctx.Param("scenarioId")
	reservationID := ctx.Param("reservationId")

	released, err := c.service.ReleaseHoldsByOwner(ctx.Request.Context(), scenarioID, reservationID)
	if err != nil {
		response.RespondError(ctx, "Failed to release holds", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Holds released", ReleaseHoldsResponse{
		ScenarioID:    scenarioID,
		ReservationID: reservationID,
		Released:      released,
	}, nil)
}

func (c *Controller) ReleaseHold(ctx *gin.Context) {
	seatID := ctx.Param("seatId")
	ok, err := c.service.ReleaseHold(ctx.Request.Context(), seatID, ctx.Param("reservationId"))
	if err != nil {
		response.RespondError(ctx, "Failed to release hold", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Hold released", TransitionResponse{SeatID: seatID, Applied: ok}, nil)
}

func (c *Controller) CommitHold(ctx *gin.Context) {
	var req SeatOwnerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(ctx, err)
		return
	}

	seatID := ctx.Param("seatId")
	ok, err := c.service.CommitHold(ctx.Request.Context(), seatID, req.ReservationID)
	if err != nil {
		response.RespondError(ctx, "Failed to commit hold", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Commit processed", TransitionResponse{SeatID: seatID, Applied: ok}, nil)
}

func (c *Controller) RevertCommit(ctx *gin.Context) {
	var req SeatOwnerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(ctx, err)
		return
	}

	seatID := ctx.Param("seatId")
	ok, err := c.service.RevertCommit(ctx.Request.Context(), seatID, req.ReservationID, req.RestoreUntil)
	if err != nil {
		response.RespondError(ctx, "Failed to revert commit", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Revert processed", TransitionResponse{SeatID: seatID, Applied: ok}, nil)
}

func (c *Controller) LookupSeats(ctx *gin.Context) {
	var req LookupSeatsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(ctx, err)
		return
	}

	seats, err := c.service.GetSeats(ctx.Request.Context(), req.SeatIDs)
	if err != nil {
		response.RespondError(ctx, "Failed to get seats", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Seats retrieved successfully", seats, nil)
}
