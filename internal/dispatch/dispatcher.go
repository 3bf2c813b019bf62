// Package dispatch hands units of work to the execution facility and
// returns their job id without waiting for them to run.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/telemetry"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrDispatchUnavailable means the broker did not accept the job.
	ErrDispatchUnavailable = errors.New("dispatch unavailable")
	// ErrUnknownJobKind means no route is registered for the kind.
	ErrUnknownJobKind = errors.New("unknown job kind")
)

// Broker accepts messages for the execution facility.
type Broker interface {
	Enqueue(ctx context.Context, job *models.QueuedJob) error
}

// QueueRecorder is the part of the lifecycle recorder the dispatcher uses.
type QueueRecorder interface {
	OnQueued(ctx context.Context, jobID, kind string, payload dto.Payload) (*tracking.Outcome, error)
}

// Observer receives dispatch outcomes, normally the metrics collector.
type Observer interface {
	ObserveDispatch(kind string, err error)
}

// Route says where a job kind is queued and how often it may be attempted.
type Route struct {
	Queue       string
	MaxAttempts int
}

// DefaultRoutes covers every kind in config.AllowedJobKinds.
func DefaultRoutes() map[string]Route {
	return map[string]Route{
		config.JobKindThumbnail: {Queue: config.QueueThumbnails, MaxAttempts: 3},
	}
}

type Dispatcher struct {
	broker   Broker
	recorder QueueRecorder
	routes   map[string]Route
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

type Option func(*Dispatcher)

func WithRoutes(routes map[string]Route) Option {
	return func(d *Dispatcher) { d.routes = routes }
}

func WithIDGenerator(fn func() string) Option {
	return func(d *Dispatcher) { d.newID = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithTracerProvider sets where dispatch spans are recorded. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = telemetry.Tracer(tp) }
}

func NewDispatcher(broker Broker, recorder QueueRecorder, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		broker:   broker,
		recorder: recorder,
		routes:   DefaultRoutes(),
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
		tracer:   telemetry.Tracer(nil),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch enqueues exactly one job and returns its id. It never waits for
// the job to run. A broker failure is returned as ErrDispatchUnavailable.
// A failure to record the queued event is only logged; OnStarted creates
// the record later. The message carries the dispatch span's trace context.
func (d *Dispatcher) Dispatch(ctx context.Context, kind string, args []any, kwargs map[string]any) (string, error) {
	route, ok := d.routes[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownJobKind, kind)
	}

	ctx, span := d.tracer.Start(ctx, "dispatch "+kind,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingOperationTypeSend,
			semconv.MessagingDestinationName(route.Queue),
			attribute.String("job.kind", kind),
		))
	defer span.End()

	payload := dto.Payload{Args: args, Kwargs: kwargs}
	argsJSON, kwargsJSON, err := payload.Encode()
	if err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		return "", err
	}

	jobID := d.newID()
	span.SetAttributes(semconv.MessagingMessageID(jobID))
	job := &models.QueuedJob{
		ID:          jobID,
		Queue:       route.Queue,
		Kind:        kind,
		Args:        argsJSON,
		Kwargs:      kwargsJSON,
		Status:      config.QueueStatusQueued,
		MaxAttempts: max(route.MaxAttempts, 1),
		AvailableAt: d.now(),
		Headers:     telemetry.Inject(ctx),
	}

	if err := d.broker.Enqueue(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		d.observe(kind, err)
		return "", fmt.Errorf("%w: %w", ErrDispatchUnavailable, err)
	}
	d.observe(kind, nil)

	if _, err := d.recorder.OnQueued(ctx, jobID, kind, payload); err != nil {
		d.logger.Warn("queued event not recorded", "job_id", jobID, "kind", kind, "error", err)
	}

	d.logger.Info("job dispatched", "job_id", jobID, "kind", kind, "queue", route.Queue)
	return jobID, nil
}

func (d *Dispatcher) observe(kind string, err error) {
	if d.observer != nil {
		d.observer.ObserveDispatch(kind, err)
	}
}
