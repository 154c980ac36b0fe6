// Package server initializes and runs the wallvault service: database,
// object storage, event bus, the upload intake endpoint, and the
// reconciliation scheduler, with graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/avkorolev/wallvault/internal/logging"
	"github.com/avkorolev/wallvault/internal/server/config"
	"github.com/avkorolev/wallvault/internal/server/eventbus"
	"github.com/avkorolev/wallvault/internal/server/httpapi"
	"github.com/avkorolev/wallvault/internal/server/objectstore"
	"github.com/avkorolev/wallvault/internal/server/reconcile"
	"github.com/avkorolev/wallvault/internal/server/repositories/repomanager"
	"github.com/avkorolev/wallvault/internal/server/services"
	"github.com/avkorolev/wallvault/internal/server/validation"
)

// ConsumerGroup is the durable consumer group downstream processors
// read the uploaded-event stream with.
const ConsumerGroup = "wallpaper-processors"

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	httpServer *httpapi.Server
	scheduler  *reconcile.Scheduler
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := pingWithBackoff(ctx, db); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations: %w", err)
	}

	store, err := objectstore.NewS3Store(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object store init: %w", err)
	}

	bus := eventbus.NewRedisBus(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}))
	if err := bus.EnsureGroup(ctx, cfg.EventSubject, ConsumerGroup); err != nil {
		return nil, fmt.Errorf("event bus init: %w", err)
	}

	uploadService := services.NewUploadService(db, repos, store, bus,
		validation.NewStaticLimitResolver(cfg), validation.NewImageProcessor(), cfg, logger)

	engine := reconcile.NewEngine(db, repos, []reconcile.RowPolicy{
		reconcile.NewStuckUploads(store, cfg, logger),
		reconcile.NewMissingEvents(bus, cfg, logger),
		reconcile.NewOrphanedIntents(cfg, logger),
	}, logger)
	sweeper := reconcile.NewObjectSweeper(db, repos, store, cfg, logger)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		httpServer: httpapi.NewServer(cfg.EndpointAddrHTTP, uploadService, logger),
		scheduler:  reconcile.NewScheduler(engine, sweeper, cfg, logger),
	}, nil
}

// pingWithBackoff waits for the database to come up, which matters when
// the service and the database start together under an orchestrator.
func pingWithBackoff(ctx context.Context, db *sql.DB) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(time.Second))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the scheduler and the HTTP server and blocks until the
// context is cancelled or the listener fails, then shuts both down.
// The scheduler stop waits for any in-flight reconciliation cycle so a
// repair transaction is never abandoned mid-flight.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	app.scheduler.Start(ctx)

	go func() {
		if err := app.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "http server failed", "error", err)
			cancelFunc()
		}
	}()

	<-ctx.Done()

	app.logger.Info(ctx, "shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "http shutdown error", "error", err)
	}

	app.scheduler.StopAndWait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(shutdownCtx, "db close error", "error", err)
	}

	app.logger.Info(shutdownCtx, "shutdown complete")
}
