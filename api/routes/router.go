// api/routes/router.go
package routes

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"seatreserve/internal/events"
	"seatreserve/internal/notifications"
	"seatreserve/internal/reservations"
	"seatreserve/internal/saga"
	"seatreserve/internal/seats"
	"seatreserve/internal/shared/config"
	"seatreserve/internal/shared/database"
	"seatreserve/internal/shared/middleware"
	"seatreserve/pkg/logger"
	"seatreserve/pkg/ratelimit"
)

// Controllers groups the HTTP handlers mounted under the API base path.
// Saga is nil when the coordinator is disabled.
type Controllers struct {
	Events       events.Controller
	Seats        *seats.Controller
	Reservations *reservations.Controller
	Realtime     *notifications.Controller
	Saga         *saga.Controller
}

// Router holds all route dependencies
type Router struct {
	config      *config.Config
	db          *database.DB
	logger      *logger.Logger
	rateLimiter *ratelimit.RateLimiter
	controllers Controllers
}

// NewRouter creates a new router instance; rateLimiter may be nil
func NewRouter(cfg *config.Config, db *database.DB, l *logger.Logger, rateLimiter *ratelimit.RateLimiter, controllers Controllers) *Router {
	return &Router{
		config:      cfg,
		db:          db,
		logger:      l,
		rateLimiter: rateLimiter,
		controllers: controllers,
	}
}

// SetupRoutes configures middleware and all application routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Logs requests + recovers from panics
	engine.Use(RequestLoggerMiddleware(r.logger), gin.Recovery())

	engine.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-RateLimit-*"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if r.rateLimiter != nil {
		engine.Use(ratelimit.Middleware(r.rateLimiter, r.logger))
	}

	r.setupHealthRoutes(engine)

	auth := middleware.JWTAuth(r.config.JWT.Secret)

	api := engine.Group(r.config.GetAPIBasePath())
	{
		events.SetupEventRoutes(api, r.controllers.Events, auth)
		seats.SetupSeatRoutes(api, r.controllers.Seats, auth)
		reservations.SetupReservationRoutes(api, r.controllers.Reservations, auth)
		notifications.SetupRealtimeRoutes(api, r.controllers.Realtime)

		if r.controllers.Saga != nil {
			saga.SetupSagaRoutes(api, r.controllers.Saga, auth)
		}
	}
}

// setupHealthRoutes sets up health check and system status routes
func (r *Router) setupHealthRoutes(engine *gin.Engine) {
	engine.GET("/health", func(c *gin.Context) {
		if err := r.db.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     err.Error(),
				"timestamp": time.Now(),
				"service":   "seatreserve",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "seatreserve",
			"store":     r.config.Store.Driver,
		})
	})

	engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
			"version": r.config.Server.APIVersion,
		})
	})

	engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":        "operational",
			"api_version":   r.config.Server.APIVersion,
			"saga_enabled":  r.controllers.Saga != nil,
			"rate_limiting": r.rateLimiter != nil,
			"timestamp":     time.Now(),
		})
	})
}

func RequestLoggerMiddleware(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.LogHTTPRequest(c, time.Since(start))
	}
}
