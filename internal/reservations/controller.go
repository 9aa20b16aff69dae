package reservations

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"seatreserve/internal/shared/middleware"
	"seatreserve/internal/shared/utils/response"
)

type Controller struct {
	service Service
}

func NewController(service Service) *Controller {
	return &Controller{service: service}
}

func (c *Controller) HoldSeat(ctx *gin.Context) {
	var req HoldSeatRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		response.RespondBindError(ctx, err)
		return
	}
	if req.ReservationID == "" {
		req.ReservationID = NewReservationID()
	}

	result, err := c.service.Hold(ctx.Request.Context(), HoldCommand{
		ReservationID: req.ReservationID,
		OwnerID:       middleware.CurrentUserID(ctx),
		EventID:       req.EventID,
		ScenarioID:    req.ScenarioID,
		SeatID:        req.SeatID,
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		response.RespondError(ctx, "Failed to hold seat", err)
		return
	}

	code := http.StatusOK
	if result.Created {
		code = http.StatusCreated
	}
	response.RespondJSON(ctx, "success", code, "Seat held successfully", HoldSeatResponse{
		Reservation: ToReservationResponse(result.Reservation),
		Seat:        result.Seat,
		Created:     result.Created,
	}, nil)
}

func (c *Controller) Confirm(ctx *gin.Context) {
	var req ConfirmRequest
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			response.RespondBindError(ctx, err)
			return
		}
	}

	reservation, err := c.service.Confirm(ctx.Request.Context(), ctx.Param("reservationId"), middleware.CurrentUserID(ctx), req.SeatIDs)
	if err != nil {
		response.RespondError(ctx, "Failed to confirm reservation", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Reservation confirmed", ToReservationResponse(reservation), nil)
}

func (c *Controller) Cancel(ctx *gin.Context) {
	reservation, err := c.service.Cancel(ctx.Request.Context(), ctx.Param("reservationId"), middleware.CurrentUserID(ctx))
	if err != nil {
		response.RespondError(ctx, "Failed to cancel reservation", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Reservation cancelled", ToReservationResponse(reservation), nil)
}

func (c *Controller) GetReservation(ctx *gin.Context) {
	reservation, err := c.service.GetReservation(ctx.Request.Context(), ctx.Param("reservationId"), middleware.CurrentUserID(ctx))
	if err != nil {
		response.RespondError(ctx, "Failed to get reservation", err)
		return
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Reservation retrieved successfully", ToReservationResponse(reservation), nil)
}

func (c *Controller) GetMyReservations(ctx *gin.Context) {
	groups, err := c.service.GetReservationsByOwner(ctx.Request.Context(), middleware.CurrentUserID(ctx))
	if err != nil {
		response.RespondError(ctx, "Failed to get reservations", err)
		return
	}

	out := make([]EventReservationsResponse, 0, len(groups))
	for _, g := range groups {
		item := EventReservationsResponse{EventID: g.EventID}
		for i := range g.Reservations {
			item.Reservations = append(item.Reservations, ToReservationResponse(&g.Reservations[i]))
		}
		out = append(out, item)
	}

	response.RespondJSON(ctx, "success", http.StatusOK, "Reservations retrieved successfully", out, nil)
}
