// Package server assembles the HTTP surface and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/profilejobs/internal/telemetry"
	"github.com/joshu-sajeev/profilejobs/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 15 * time.Second

// Registrar is implemented by the resource handlers.
type Registrar interface {
	Register(r gin.IRoutes)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type RouterConfig struct {
	Logger         *slog.Logger
	RequestTimeout time.Duration
	Health         Pinger
	Metrics        http.Handler
	Handlers       []Registrar

	// ServiceName turns on request tracing. TracerProvider defaults to the
	// global provider.
	ServiceName    string
	TracerProvider trace.TracerProvider
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	if cfg.ServiceName != "" {
		opts := []otelgin.Option{otelgin.WithPropagators(telemetry.Propagator())}
		if cfg.TracerProvider != nil {
			opts = append(opts, otelgin.WithTracerProvider(cfg.TracerProvider))
		}
		r.Use(otelgin.Middleware(cfg.ServiceName, opts...))
	}
	r.Use(middleware.Recover(logger), middleware.RequestLogger(logger))

	r.GET("/healthz", healthz(cfg.Health))
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	api := r.Group("")
	if cfg.RequestTimeout > 0 {
		api.Use(middleware.TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.Use(middleware.ErrorHandler())
	for _, h := range cfg.Handlers {
		h.Register(api)
	}

	return r
}

func healthz(p Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if p != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := p.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Serve runs handler on addr until ctx is done, then drains in-flight
// requests.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen %s: %w", addr, err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("http server shutting down", "addr", addr)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", addr, err)
	}
	return nil
}
