package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

// EnableTracing records a client span for every statement db runs. Bound
// query values are left out of the spans.
func EnableTracing(db *gorm.DB, tp trace.TracerProvider) error {
	opts := []tracing.Option{tracing.WithoutMetrics(), tracing.WithoutQueryVariables()}
	if tp != nil {
		opts = append(opts, tracing.WithTracerProvider(tp))
	}
	if err := db.Use(tracing.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("enable query tracing: %w", err)
	}
	return nil
}
