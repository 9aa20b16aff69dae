package notifications

import (
	"github.com/gin-gonic/gin"
)

func SetupRealtimeRoutes(rg *gin.RouterGroup, controller *Controller) {
	realtime := rg.Group("/realtime")
	{
		realtime.GET("/stream", controller.Stream)              // GET /api/v1/realtime/stream?event_id=
		realtime.GET("/status", controller.Status)              // GET /api/v1/realtime/status
		realtime.POST("/:subscriberId/join", controller.Join)   // POST /api/v1/realtime/:subscriberId/join
		realtime.POST("/:subscriberId/leave", controller.Leave) // POST /api/v1/realtime/:subscriberId/leave
	}
}
