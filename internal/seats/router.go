package seats

import (
	"github.com/gin-gonic/gin"

	"seatreserve/internal/shared/middleware"
)

func SetupSeatRoutes(rg *gin.RouterGroup, controller *Controller, auth gin.HandlerFunc) {

	// PUBLIC SEAT MAP

	scenarios := rg.Group("/scenarios")
	{
		scenarios.GET("/:scenarioId/seats", controller.GetScenarioSeats) // GET /api/v1/scenarios/:scenarioId/seats
	}

	rg.GET("/seats/:seatId", controller.GetSeat) // GET /api/v1/seats/:seatId

	// INVENTORY SERVICE (called by the reservation coordinator)

	inventory := rg.Group("/inventory")
	inventory.Use(auth, middleware.RequireRoles(middleware.RoleService, middleware.RoleAdmin))
	{
		inventory.POST("/lookup", controller.LookupSeats)                                               // POST /api/v1/inventory/lookup
		inventory.POST("/seats/:seatId/holds", controller.AcquireHold)                                  // POST /api/v1/inventory/seats/:seatId/holds
		inventory.DELETE("/seats/:seatId/holds/:reservationId", controller.ReleaseHold)                 // DELETE /api/v1/inventory/seats/:seatId/holds/:reservationId
		inventory.POST("/seats/:seatId/commit", controller.CommitHold)                                  // POST /api/v1/inventory/seats/:seatId/commit
		inventory.POST("/seats/:seatId/revert", controller.RevertCommit)                                // POST /api/v1/inventory/seats/:seatId/revert
		inventory.DELETE("/scenarios/:scenarioId/holds/:reservationId", controller.ReleaseHoldsByOwner) // DELETE /api/v1/inventory/scenarios/:scenarioId/holds/:reservationId
	}
}
