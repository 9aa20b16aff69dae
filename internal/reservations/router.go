package reservations

import (
	"github.com/gin-gonic/gin"
)

func SetupReservationRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {
	reservations := rg.Group("/reservations")
	reservations.Use(auth)
	{
		reservations.POST("/holds", controller.HoldSeat)                 // POST /api/v1/reservations/holds
		reservations.GET("/me", controller.GetMyReservations)            // GET /api/v1/reservations/me
		reservations.GET("/:reservationId", controller.GetReservation)   // GET /api/v1/reservations/:reservationId
		reservations.POST("/:reservationId/confirm", controller.Confirm) // POST /api/v1/reservations/:reservationId/confirm
		reservations.POST("/:reservationId/cancel", controller.Cancel)   // POST /api/v1/reservations/:reservationId/cancel
	}
}
