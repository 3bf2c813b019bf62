package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshu-sajeev/profilejobs/internal/bootstrap"
	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/pool"
	"github.com/joshu-sajeev/profilejobs/internal/server"
	"github.com/joshu-sajeev/profilejobs/internal/storage/postgres"
	"github.com/joshu-sajeev/profilejobs/internal/thumbnail"
	"github.com/joshu-sajeev/profilejobs/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	app, err := bootstrap.New(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	generator := thumbnail.NewGenerator(
		postgres.NewProfileRepository(app.DB),
		app.Blobs,
		app.Config.ThumbnailSize,
		app.Logger,
	)
	handlers := worker.Registry{
		config.JobKindThumbnail: generator.Handle,
	}

	workerPool := pool.NewWorkerPool(app.Broker, app.Recorder, handlers, pool.Config{
		Workers: app.Config.MaxWorkers,
		Queues:  config.AllowedQueues,
		Worker: worker.Options{
			LockDuration: app.Config.LockDuration,
			PollInterval: app.Config.PollInterval,
			RetryBase:    app.Config.RetryBase,
			Logger:       app.Logger,
			Observer:     app.Metrics,

			TracerProvider: app.Tracing,
		},
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workerPool.Run(ctx)
	})
	g.Go(func() error {
		return server.Serve(ctx, app.Config.MetricsAddr, app.Metrics.Handler(), app.Logger)
	})

	app.Logger.Info("worker running", "workers", workerPool.Size(), "kinds", handlers.Kinds())
	return g.Wait()
}
