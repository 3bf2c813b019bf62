package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/profilejobs/internal/bootstrap"
	"github.com/joshu-sajeev/profilejobs/internal/job"
	"github.com/joshu-sajeev/profilejobs/internal/profile"
	"github.com/joshu-sajeev/profilejobs/internal/server"
	"github.com/joshu-sajeev/profilejobs/internal/storage/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	app, err := bootstrap.New(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Blobs.EnsureBucket(ctx); err != nil {
		app.Logger.Warn("avatar bucket not ready", "error", err)
	}

	profiles := profile.NewProfileService(
		postgres.NewProfileRepository(app.DB),
		app.Dispatcher,
		app.Blobs,
		app.Config.S3.PresignTTL,
		app.Logger,
	)
	jobs := job.NewJobService(app.Recorder, app.Dispatcher)

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(server.RouterConfig{
		Logger:         app.Logger,
		RequestTimeout: app.Config.RequestTimeout,
		Health:         app,
		Metrics:        app.Metrics.Handler(),
		ServiceName:    app.Config.Telemetry.ServiceName,
		TracerProvider: app.Tracing,
		Handlers: []server.Registrar{
			profile.NewProfileHandler(profiles),
			job.NewJobHandler(jobs),
		},
	})

	return server.Serve(ctx, app.Config.HTTPAddr, router, app.Logger)
}
