package saga

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seatreserve/internal/reservations"
	"seatreserve/internal/shared/middleware"
	"seatreserve/internal/shared/utils/response"
)

type Controller struct {
	coordinator *Coordinator
}

func NewController(coordinator *Coordinator) *Controller {
	return &Controller{coordinator: coordinator}
}

func (c *Controller) Reserve(ctx *gin.Context) {
	var req reservations.HoldSeatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(ctx, err)
		return
	}
	if req.ReservationID == "" {
		req.ReservationID = reservations.NewReservationID()
	}

	result, err := c.coordinator.Reserve(ctx.Request.Context(), reservations.HoldCommand{
		ReservationID: req.ReservationID,
		OwnerID:       middleware.CurrentUserID(ctx),
		EventID:       req.EventID,
		ScenarioID:    req.ScenarioID,
		SeatID:        req.SeatID,
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		response.RespondError(ctx, "Failed to reserve seat", err)
		return
	}

	code := http.StatusOK
	if result.Created {
		code = http.StatusCreated
	}
	response.RespondJSON(ctx, "success", code, "Seat reserved", reservations.HoldSeatResponse{
		Reservation: reservations.ToReservationResponse(result.Reservation),
		Seat:        result.Seat,
		Created:     result.Created,
	}, nil)
}

func (c *Controller) Confirm(ctx *gin.Context) {
	var req reservations.ConfirmRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.RespondBindError(ctx, err)
			return
		}
	}

	r, err := c.coordinator.Confirm(ctx.Request.Context(), ctx.Param("reservationId"), middleware.CurrentUserID(ctx), req.SeatIDs)
	if err != nil {
		response.RespondError(ctx, "Failed to confirm reservation", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Reservation confirmed", reservations.ToReservationResponse(r), nil)
}

func (c *Controller) Cancel(ctx *gin.Context) {
	r, err := c.coordinator.Cancel(ctx.Request.Context(), ctx.Param("reservationId"), middleware.CurrentUserID(ctx))
	if err != nil {
		response.RespondError(ctx, "Failed to cancel reservation", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Reservation cancelled", reservations.ToReservationResponse(r), nil)
}
