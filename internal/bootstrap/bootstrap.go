// Package bootstrap wires the shared runtime of the api, worker and jobsctl
// binaries from environment configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/dispatch"
	"github.com/joshu-sajeev/profilejobs/internal/metrics"
	"github.com/joshu-sajeev/profilejobs/internal/storage/blob"
	"github.com/joshu-sajeev/profilejobs/internal/storage/postgres"
	"github.com/joshu-sajeev/profilejobs/internal/storage/redisq"
	"github.com/joshu-sajeev/profilejobs/internal/telemetry"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"github.com/joshu-sajeev/profilejobs/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"
)

// Broker is an execution facility usable from both sides: the dispatcher
// enqueues on it and workers pull from it.
type Broker interface {
	dispatch.Broker
	worker.Source
	PingContext(ctx context.Context) error
}

var (
	_ Broker = (*postgres.QueueRepository)(nil)
	_ Broker = (*redisq.Queue)(nil)
)

const telemetryShutdownTimeout = 5 * time.Second

type App struct {
	Config     *config.App
	Logger     *slog.Logger
	Tracing    *telemetry.Provider
	DB         *gorm.DB
	Broker     Broker
	Blobs      *blob.S3Store
	Recorder   *tracking.Recorder
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry

	closers []func() error
}

// LoadConfig reads the app config and builds the process logger. The
// logger is also installed as the slog default.
func LoadConfig(ctx context.Context) (*config.App, *slog.Logger, error) {
	cfg, err := config.LoadAppFromEnv(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// OpenDB connects to Postgres and applies migrations when RUN_MIGRATIONS is set.
func OpenDB(ctx context.Context, cfg *config.App) (*gorm.DB, error) {
	db, err := postgres.ConnectDB(ctx, nil)
	if err != nil {
		return nil, err
	}

	if cfg.RunMigrations {
		if err := postgres.RunMigrations(db); err != nil {
			closeDB(db)
			return nil, err
		}
	}
	return db, nil
}

// OpenBroker returns the broker selected by QUEUE_BACKEND and a close
// function for any connection it owns.
func OpenBroker(ctx context.Context, cfg *config.App, db *gorm.DB) (Broker, func() error, error) {
	switch cfg.QueueBackend {
	case config.QueueBackendRedis:
		client, err := redisq.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return redisq.NewQueue(client, cfg.Redis.Prefix), client.Close, nil
	case config.QueueBackendPostgres:
		return postgres.NewQueueRepository(db), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

// New builds the full runtime. Callers must Close the returned App.
func New(ctx context.Context) (*App, error) {
	cfg, logger, err := LoadConfig(ctx)
	if err != nil {
		return nil, err
	}

	tracing, err := telemetry.Setup(ctx, cfg.Telemetry, os.Stderr)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger, Tracing: tracing}
	app.closers = append(app.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		return tracing.Shutdown(ctx)
	})

	db, err := OpenDB(ctx, cfg)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.DB = db
	app.closers = append(app.closers, func() error { closeDB(db); return nil })

	if err := postgres.EnableTracing(db, tracing); err != nil {
		_ = app.Close()
		return nil, err
	}

	broker, closeBroker, err := OpenBroker(ctx, cfg, db)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Broker = broker
	app.closers = append(app.closers, closeBroker)

	blobs, err := blob.NewS3Store(cfg.S3)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Blobs = blobs

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.Metrics = metrics.NewCollector(app.Registry)

	app.Recorder = tracking.NewRecorder(
		postgres.NewJobRecordRepository(db),
		tracking.WithTerminalPolicy(cfg.TerminalPolicy),
		tracking.WithLogger(logger),
		tracking.WithObserver(app.Metrics),
	)
	app.Dispatcher = dispatch.NewDispatcher(
		broker,
		app.Recorder,
		dispatch.WithLogger(logger),
		dispatch.WithObserver(app.Metrics),
		dispatch.WithTracerProvider(tracing),
	)

	logger.Info("runtime ready",
		"queue_backend", cfg.QueueBackend,
		"bucket", cfg.S3.Bucket,
		"tracing", !cfg.Telemetry.Disabled)
	return app, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// PingContext checks the database and the broker. It backs /healthz.
func (a *App) PingContext(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := a.Broker.PingContext(ctx); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	return nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
