// Package telemetry configures tracing and carries trace context on queued
// messages, so a dispatch and the execution it causes share one trace.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/joshu-sajeev/profilejobs/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"gorm.io/datatypes"
)

const instrumentationName = "github.com/joshu-sajeev/profilejobs"

var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Provider is the process tracer provider plus its shutdown hook.
type Provider struct {
	trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes buffered spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}

// Setup builds the tracer provider described by cfg and installs it as the
// otel global together with the W3C trace-context and baggage propagators.
// Without an OTLP endpoint spans are written to w.
func Setup(ctx context.Context, cfg config.TelemetryConfig, w io.Writer) (*Provider, error) {
	if cfg.Disabled {
		return &Provider{
			TracerProvider: noop.NewTracerProvider(),
			shutdown:       func(context.Context) error { return nil },
		}, nil
	}

	exp, err := newExporter(ctx, cfg, w)
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(NewResource(cfg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagator)

	return &Provider{TracerProvider: tp, shutdown: tp.Shutdown}, nil
}

// NewResource names the service and its deployment environment.
func NewResource(cfg config.TelemetryConfig) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironmentName(cfg.Environment),
	)
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	if cfg.OTLPEndpoint == "" {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, err
		}
		return exp, nil
	}

	// A bare host:port means a plaintext collector next to the service.
	var opts []otlptracegrpc.Option
	if strings.Contains(cfg.OTLPEndpoint, "://") {
		opts = append(opts, otlptracegrpc.WithEndpointURL(cfg.OTLPEndpoint))
	} else {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	}

	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return exp, nil
}

// Propagator returns the W3C trace-context and baggage propagator used on
// message headers and incoming requests.
func Propagator() propagation.TextMapPropagator {
	return propagator
}

// Tracer returns the service tracer from tp, or from the global provider
// when tp is nil.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

// Inject returns the trace context of ctx as message headers. It returns
// nil when ctx carries nothing to propagate.
func Inject(ctx context.Context) datatypes.JSONMap {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}

	headers := make(datatypes.JSONMap, len(carrier))
	for k, v := range carrier {
		headers[k] = v
	}
	return headers
}

// Extract returns ctx with the remote trace context stored in headers.
// Non-string header values are ignored.
func Extract(ctx context.Context, headers datatypes.JSONMap) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	carrier := make(propagation.MapCarrier, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	return propagator.Extract(ctx, carrier)
}
