package saga

import (
	"github.com/gin-gonic/gin"
)

func SetupSagaRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {
	saga := rg.Group("/saga/reservations")
	saga.Use(auth)
	{
		saga.POST("", controller.Reserve)                        // POST /api/v1/saga/reservations
		saga.POST("/:reservationId/confirm", controller.Confirm) // POST /api/v1/saga/reservations/:reservationId/confirm
		saga.POST("/:reservationId/cancel", controller.Cancel)   // POST /api/v1/saga/reservations/:reservationId/cancel
	}
}
