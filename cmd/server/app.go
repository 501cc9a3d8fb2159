package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/phrazzld/rhqueue/internal/config"
	"github.com/phrazzld/rhqueue/internal/events"
	"github.com/phrazzld/rhqueue/internal/filesink"
	"github.com/phrazzld/rhqueue/internal/platform/cache"
	"github.com/phrazzld/rhqueue/internal/platform/filestore"
	"github.com/phrazzld/rhqueue/internal/platform/natsbus"
	"github.com/phrazzld/rhqueue/internal/platform/postgres"
	"github.com/phrazzld/rhqueue/internal/platform/telemetry"
	"github.com/phrazzld/rhqueue/internal/resilience"
	"github.com/phrazzld/rhqueue/internal/runninghub"
	"github.com/phrazzld/rhqueue/internal/service/auth"
	"github.com/phrazzld/rhqueue/internal/settings"
	"github.com/phrazzld/rhqueue/internal/store"
	"github.com/phrazzld/rhqueue/internal/task"
	"github.com/phrazzld/rhqueue/internal/ws"
)

// Remote client protection
const (
	cacheMaxCostBytes = 16 << 20
	breakerFailures   = 5
	breakerCooldown   = 30 * time.Second
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// db is nil unless the postgres storage backend is selected.
	db *sql.DB

	settings  *settings.Store
	cache     *cache.Cache
	remote    *runninghub.Client
	taskStore store.TaskStore
	scheduler *task.Scheduler

	// Observers
	emitter   *events.InMemoryEventEmitter
	hub       *ws.Hub
	publisher *natsbus.Publisher

	// jwtService is nil when authentication is disabled.
	jwtService auth.JWTService

	cleanupOnce sync.Once
}

// newApplication creates a new application instance with all dependencies
// initialized and the scheduler started. Anything already opened is released
// when a later step fails.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}
	if err := app.init(ctx); err != nil {
		app.cleanup()
		return nil, err
	}
	logger.Info("application initialized successfully")
	return app, nil
}

func (app *application) init(ctx context.Context) error {
	cfg := app.config
	var err error

	app.settings, err = settings.Open(cfg.Storage.SettingsPath,
		settings.Defaults(cfg.Storage.OutputDir, cfg.RunningHub.APIKey))
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}

	app.cache, err = cache.New(cacheMaxCostBytes)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}

	app.remote, err = runninghub.NewClient(runninghub.ClientConfig{
		BaseURL:    cfg.RunningHub.BaseURL,
		HTTPClient: newInstrumentedClient(cfg.RunningHub.RequestTimeout),
		APIKey:     app.settings.APIKey,
		Breaker: resilience.NewBreaker(breakerFailures, breakerCooldown,
			resilience.WithFailureFilter(runninghub.IsTransportFailure)),
		Cache: app.cache,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create runninghub client: %w", err)
	}

	app.taskStore, err = app.openTaskStore(ctx)
	if err != nil {
		return err
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	app.emitter = events.NewInMemoryEventEmitter(app.logger)

	app.scheduler, err = task.NewScheduler(task.Deps{
		Remote:   app.remote,
		Store:    app.taskStore,
		Settings: app.settings,
		Sink:     filesink.New(newInstrumentedClient(cfg.RunningHub.RequestTimeout), app.settings.OutputDir, app.logger),
		Emitter:  app.emitter,
		Metrics:  metrics,
	}, task.Config{
		PollInterval:     cfg.Scheduler.PollInterval,
		Watchdog:         cfg.Scheduler.Watchdog,
		SubmitTimeout:    cfg.Scheduler.SubmitTimeout,
		CancelTimeout:    cfg.Scheduler.CancelTimeout,
		BatchStagger:     cfg.Scheduler.BatchStagger,
		ReconcileOnStart: cfg.Scheduler.ReconcileOnStart,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	app.hub = ws.NewHub(app.scheduler, cfg.Server.AllowedOrigins, app.logger)
	app.emitter.RegisterHandler(app.hub)

	if cfg.NATS.URL != "" {
		app.publisher, err = natsbus.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix, app.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		app.emitter.RegisterHandler(app.publisher)
	}

	if cfg.Auth.JWTSecret != "" {
		app.jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		app.logger.Info("JWT authentication enabled",
			"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)
	} else {
		app.logger.Warn("authentication disabled, API is open to anyone who can reach it")
	}

	if err := app.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// openTaskStore opens the configured history backend. The postgres backend
// brings its schema up to date before use.
func (app *application) openTaskStore(ctx context.Context) (store.TaskStore, error) {
	switch app.config.Storage.Backend {
	case "postgres":
		db, err := setupAppDatabase(ctx, app.config, app.logger)
		if err != nil {
			return nil, err
		}
		app.db = db
		if err := postgres.RunMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		return postgres.NewPostgresTaskStore(db), nil

	default:
		s, err := filestore.Open(app.config.Storage.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open task history: %w", err)
		}
		app.logger.Info("task history opened", "path", app.config.Storage.HistoryPath)
		return s, nil
	}
}

// newInstrumentedClient returns an HTTP client whose requests carry
// OpenTelemetry spans.
func newInstrumentedClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: telemetry.Transport(nil),
	}
}

// Run serves HTTP until ctx is cancelled and then releases all resources.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. The scheduler
// stops first so its final events still reach the observers.
func (app *application) cleanup() {
	app.cleanupOnce.Do(app.release)
}

func (app *application) release() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.hub != nil {
		app.hub.Close()
	}
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Error("error closing NATS connection", "error", err)
		}
	}
	if app.cache != nil {
		app.cache.Close()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}

	app.logger.Info("application shutdown completed")
}
