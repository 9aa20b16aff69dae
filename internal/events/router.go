package events

import (
	"github.com/gin-gonic/gin"

	"seatreserve/internal/shared/middleware"
)

func SetupEventRoutes(router *gin.RouterGroup, controller Controller, auth gin.HandlerFunc) {
	// Public routes - anyone can browse events and their scenarios
	publicEvents := router.Group("/events")
	{
		publicEvents.GET("", controller.GetAllEvents)      // GET /api/v1/events - Browse events
		publicEvents.GET("/:eventId", controller.GetEvent) // GET /api/v1/events/:eventId - Event details with scenarios
	}

	// Organizer routes - only the owning organizer (or an admin) may change an event
	organizer := router.Group("/organizer")
	organizer.Use(auth, middleware.RequireOrganizer())
	{
		organizer.GET("/events", controller.GetMyEvents)                              // GET /api/v1/organizer/events - Own events
		organizer.POST("/events", controller.CreateEvent)                             // POST /api/v1/organizer/events - Create event
		organizer.PUT("/events/:eventId", controller.UpdateEvent)                     // PUT /api/v1/organizer/events/:eventId - Update event
		organizer.POST("/events/:eventId/publish", controller.PublishEvent)           // POST /api/v1/organizer/events/:eventId/publish - Publish event
		organizer.DELETE("/events/:eventId", controller.DeleteEvent)                  // DELETE /api/v1/organizer/events/:eventId - Delete event and its seats
		organizer.POST("/events/:eventId/scenarios", controller.CreateScenario)       // POST /api/v1/organizer/events/:eventId/scenarios - Provision a scenario grid
		organizer.POST("/scenarios/:scenarioId/seats", controller.AddSeats)           // POST /api/v1/organizer/scenarios/:scenarioId/seats - Append seats
		organizer.POST("/scenarios/:scenarioId/seats/remove", controller.RemoveSeats) // POST /api/v1/organizer/scenarios/:scenarioId/seats/remove - Remove trailing seats
		organizer.DELETE("/seats/:seatId", controller.DeleteSeat)                     // DELETE /api/v1/organizer/seats/:seatId - Remove one seat
	}
}
