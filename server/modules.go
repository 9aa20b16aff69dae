package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"seatreserve/api/routes"
	"seatreserve/internal/events"
	"seatreserve/internal/notifications"
	"seatreserve/internal/reservations"
	"seatreserve/internal/saga"
	"seatreserve/internal/seats"
	"seatreserve/internal/shared/config"
	"seatreserve/internal/shared/database"
	"seatreserve/pkg/cache"
	"seatreserve/pkg/logger"
	"seatreserve/pkg/ratelimit"
)

const (
	publishTimeout   = 5 * time.Second
	sweepCycleBudget = 30 * time.Second
	shutdownTimeout  = 10 * time.Second
)

var Module = fx.Options(
	ConfigModule,
	DBModule,
	StoreModule,
	NotificationModule,
	ServiceModule,
	SagaModule,
	HTTPModule,
)

var ConfigModule = fx.Module("config",
	fx.Provide(
		config.Load,
		NewLogger,
	),
)

func NewLogger(cfg *config.Config) *logger.Logger {
	// Handler format follows the gin mode, so set it first
	gin.SetMode(cfg.Server.GinMode)
	l := logger.New(cfg.LogLevel)
	logger.SetDefault(l)
	return l
}

// DATABASE

var DBModule = fx.Module("db",
	fx.Provide(NewDB),
)

func NewDB(lc fx.Lifecycle, cfg *config.Config, l *logger.Logger) (*database.DB, error) {
	db, err := database.InitDB(cfg, l)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

// Stores returns gorm-backed stores for the postgres driver and in-process
// stores for the memory driver.
type Stores struct {
	fx.Out

	Events       events.Repository
	Seats        seats.Store
	Reservations reservations.Repository
}

var StoreModule = fx.Module("store",
	fx.Provide(NewStores),
)

func NewStores(cfg *config.Config, db *database.DB, l *logger.Logger) Stores {
	if cfg.Store.Driver == "memory" {
		l.Info("Using in-memory stores; state is lost on restart")
		return Stores{
			Events:       events.NewMemoryRepository(),
			Seats:        seats.NewMemoryRepository(),
			Reservations: reservations.NewMemoryRepository(),
		}
	}
	return Stores{
		Events:       events.NewRepository(db.PostgreSQL),
		Seats:        seats.NewRepository(db.PostgreSQL),
		Reservations: reservations.NewRepository(db.PostgreSQL),
	}
}

// NOTIFICATIONS

var NotificationModule = fx.Module("notifications",
	fx.Provide(
		NewHub,
		NewPublisher,
		NewNotifier,
	),
)

func NewHub(cfg *config.Config) *notifications.Hub {
	return notifications.NewHub(cfg.Realtime.BufferSize)
}

// NewPublisher opens the configured bus and wraps it so Notify never waits on a broker
func NewPublisher(lc fx.Lifecycle, cfg *config.Config, l *logger.Logger) (notifications.Publisher, error) {
	var next notifications.Publisher

	switch cfg.Bus.Driver {
	case "kafka":
		kafkaConfig := notifications.DefaultKafkaProducerConfig()
		kafkaConfig.Brokers = cfg.Bus.KafkaBrokers
		kafkaConfig.ClientID = cfg.Bus.KafkaClientID
		kafkaConfig.RetryMax = cfg.Bus.KafkaRetryMax
		kafkaConfig.Timeout = cfg.Bus.KafkaTimeout

		kafka, err := notifications.NewKafkaPublisher(kafkaConfig, l)
		if err != nil {
			return nil, err
		}
		next = kafka
	case "rabbitmq":
		rabbit, err := notifications.NewRabbitPublisher(cfg.Bus.RabbitMQURL, cfg.Bus.RabbitMQExchange, l)
		if err != nil {
			return nil, err
		}
		next = rabbit
	default:
		next = notifications.NewLogPublisher(l)
	}

	publisher := notifications.NewAsyncPublisher(next, cfg.Bus.QueueSize, publishTimeout, l)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return publisher.Close()
		},
	})

	l.Info("Message bus ready", "driver", cfg.Bus.Driver, "topic", cfg.Bus.Topic)
	return publisher, nil
}

func NewNotifier(cfg *config.Config, hub *notifications.Hub, publisher notifications.Publisher, l *logger.Logger) notifications.Notifier {
	return notifications.NewNotifier(hub, publisher, cfg.Bus.Topic, l)
}

// SERVICES

var ServiceModule = fx.Module("services",
	fx.Provide(
		NewSeatService,
		NewLedger,
		NewCatalog,
	),
	fx.Invoke(
		WireReservationHooks,
		StartSweeper,
	),
)

func NewSeatService(cfg *config.Config, store seats.Store, notifier notifications.Notifier, l *logger.Logger) seats.Service {
	return seats.NewService(store, notifier, l.WithComponent("seats"),
		seats.WithHoldTTL(cfg.Holds.DefaultTTL),
		seats.WithMaxHoldTTL(cfg.Holds.MaxTTL),
		seats.WithStoreTimeout(cfg.Database.StatementTimeout),
		seats.WithSweepBatchSize(cfg.Holds.SweepBatchSize),
	)
}

func NewLedger(cfg *config.Config, repo reservations.Repository, inventory seats.Service, notifier notifications.Notifier, l *logger.Logger) reservations.Service {
	return reservations.NewService(repo, inventory, notifier, l.WithComponent("reservations"),
		reservations.WithStoreTimeout(cfg.Database.StatementTimeout),
	)
}

func NewCatalog(repo events.Repository, inventory seats.Service, ledger reservations.Service, notifier notifications.Notifier, db *database.DB, l *logger.Logger) events.Service {
	catalog := events.NewService(repo, inventory, ledger, notifier, l.WithComponent("events"))
	if db.Redis != nil {
		catalog.SetCacheService(cache.NewService(db.Redis))
	}
	return catalog
}

// WireReservationHooks lets the sweeper expire reservations and lets seat
// removal cancel the reservations that held them.
func WireReservationHooks(inventory seats.Service, ledger reservations.Service) {
	inventory.SetReservationHooks(ledger, ledger)
}

func StartSweeper(lc fx.Lifecycle, cfg *config.Config, inventory seats.Service, l *logger.Logger) {
	sweeper := seats.NewSweeper(inventory, &seats.SweeperConfig{
		Interval:     cfg.Holds.SweepInterval,
		CycleTimeout: sweepCycleBudget,
	}, l.WithComponent("sweeper"))

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sweeper.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

// SAGA

var SagaModule = fx.Module("saga",
	fx.Provide(NewSagaController),
)

func newScheduler(ctx context.Context, cfg *config.Config, db *database.DB, l *logger.Logger) (saga.Scheduler, error) {
	if cfg.Saga.SchedulerDriver != "redis" {
		return saga.NewMemoryScheduler(), nil
	}
	if db.Redis == nil {
		return nil, fmt.Errorf("saga scheduler driver is redis but Redis is disabled")
	}

	scheduler := saga.NewRedisScheduler(db.Redis)
	if err := scheduler.PreloadScripts(ctx); err != nil {
		// Scripts are loaded on first use otherwise
		l.Warn("Failed to preload saga scheduler scripts", "error", err)
	}
	return scheduler, nil
}

// NewSagaController returns nil when the coordinator is disabled
func NewSagaController(lc fx.Lifecycle, cfg *config.Config, db *database.DB, repo reservations.Repository, notifier notifications.Notifier, l *logger.Logger) (*saga.Controller, error) {
	if !cfg.Saga.Enabled {
		return nil, nil
	}

	sagaLogger := l.WithComponent("saga")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Saga.RemoteTimeout)
	defer cancel()

	scheduler, err := newScheduler(ctx, cfg, db, sagaLogger)
	if err != nil {
		return nil, err
	}

	client := saga.NewHTTPInventoryClient(cfg.Saga.InventoryBaseURL, cfg.Saga.InventoryToken, cfg.Saga.RemoteTimeout, sagaLogger)
	ledger := reservations.NewService(repo, client, notifier, sagaLogger)
	coordinator := saga.NewCoordinator(ledger, client, scheduler, sagaLogger,
		saga.WithHoldTTL(cfg.Holds.DefaultTTL),
		saga.WithRetry(saga.RetryConfig{
			Initial:     cfg.Saga.RetryInitial,
			MaxInterval: cfg.Saga.RetryMaxInterval,
			MaxElapsed:  cfg.Saga.RetryMaxElapsed,
		}),
	)

	pollerConfig := saga.DefaultPollerConfig()
	pollerConfig.Interval = cfg.Saga.PollInterval
	poller := saga.NewExpiryPoller(coordinator, scheduler, pollerConfig, sagaLogger)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			poller.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			poller.Stop()
			return nil
		},
	})

	sagaLogger.Info("Reservation coordinator enabled",
		"inventory", cfg.Saga.InventoryBaseURL,
		"scheduler", cfg.Saga.SchedulerDriver,
	)
	return saga.NewController(coordinator), nil
}

// HTTP

var HTTPModule = fx.Module("http",
	fx.Provide(
		NewRateLimiter,
		NewControllers,
		NewEngine,
	),
	fx.Invoke(StartServer),
)

// NewRateLimiter returns nil when rate limiting is off or Redis is unavailable
func NewRateLimiter(cfg *config.Config, db *database.DB, l *logger.Logger) *ratelimit.RateLimiter {
	if !cfg.RateLimit.Enabled {
		l.Info("Rate limiting disabled")
		return nil
	}
	if db.Redis == nil {
		l.Warn("Rate limiting requires Redis; continuing without it")
		return nil
	}

	l.Info("Rate limiter initialized",
		"window", cfg.RateLimit.WindowDuration.String(),
		"default_requests", cfg.RateLimit.DefaultRequests,
	)
	return ratelimit.NewRateLimiter(db.Redis, &ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		WindowDuration:    cfg.RateLimit.WindowDuration,
		DefaultRequests:   cfg.RateLimit.DefaultRequests,
		PublicRequests:    cfg.RateLimit.PublicRequests,
		HoldRequests:      cfg.RateLimit.HoldRequests,
		OrganizerRequests: cfg.RateLimit.OrganizerRequests,
		RealtimeRequests:  cfg.RateLimit.RealtimeRequests,
		HealthRequests:    cfg.RateLimit.HealthRequests,
		WhitelistedIPs:    cfg.RateLimit.WhitelistedIPs,
	})
}

func NewControllers(cfg *config.Config, catalog events.Service, inventory seats.Service, ledger reservations.Service, hub *notifications.Hub, sagaController *saga.Controller, l *logger.Logger) routes.Controllers {
	return routes.Controllers{
		Events:       events.NewController(catalog),
		Seats:        seats.NewController(inventory),
		Reservations: reservations.NewController(ledger),
		Realtime:     notifications.NewController(hub, cfg.Realtime.Heartbeat, l.WithComponent("realtime")),
		Saga:         sagaController,
	}
}

func NewEngine(cfg *config.Config, db *database.DB, l *logger.Logger, rateLimiter *ratelimit.RateLimiter, controllers routes.Controllers) *gin.Engine {
	engine := gin.New()
	routes.NewRouter(cfg, db, l, rateLimiter, controllers).SetupRoutes(engine)
	return engine
}

func StartServer(lc fx.Lifecycle, cfg *config.Config, engine *gin.Engine, l *logger.Logger) {
	srv := &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        engine,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			l.Info("🚀 Server running",
				"address", srv.Addr,
				"health_check", fmt.Sprintf("http://localhost:%s/health", cfg.Server.Port),
				"api_base", cfg.GetAPIBasePath(),
				"store", cfg.Store.Driver,
				"version", Version,
			)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					l.Error("Server failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			l.Info("Shutting down server...")
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	})
}
