package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/telemetry"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

// Source is the worker side of the execution facility.
type Source interface {
	AcquireNext(ctx context.Context, queue string, workerID string, lockDuration time.Duration) (*models.QueuedJob, error)
	Complete(ctx context.Context, job *models.QueuedJob) error
	RetryLater(ctx context.Context, job *models.QueuedJob, availableAt time.Time, errMsg string) error
}

// LifecycleReporter receives the events a worker emits around each attempt.
type LifecycleReporter interface {
	OnStarted(ctx context.Context, jobID, kind string, payload dto.Payload) (*tracking.Outcome, error)
	OnSucceeded(ctx context.Context, jobID string, result any) (*tracking.Outcome, error)
	OnFailed(ctx context.Context, jobID, errMsg, trace string) (*tracking.Outcome, error)
}

// Observer receives execution outcomes, normally the metrics collector.
type Observer interface {
	ObserveExecution(kind, outcome string, elapsed time.Duration)
}

const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

type Options struct {
	LockDuration time.Duration
	PollInterval time.Duration
	MaxPoll      time.Duration
	RetryBase    time.Duration
	Logger       *slog.Logger
	Observer     Observer
	// TracerProvider records execution spans. The global provider is used
	// when nil.
	TracerProvider trace.TracerProvider
}

type Worker struct {
	ID           int
	name         string
	source       Source
	reporter     LifecycleReporter
	handlers     Registry
	queues       []string
	lockDuration time.Duration
	pollInterval time.Duration
	maxPoll      time.Duration
	retryBase    time.Duration
	logger       *slog.Logger
	observer     Observer
	tracer       trace.Tracer
	now          func() time.Time
}

func NewWorker(id int, source Source, reporter LifecycleReporter, handlers Registry, queues []string, opts Options) *Worker {
	w := &Worker{
		ID:           id,
		name:         fmt.Sprintf("worker-%d", id),
		source:       source,
		reporter:     reporter,
		handlers:     handlers,
		queues:       queues,
		lockDuration: opts.LockDuration,
		pollInterval: opts.PollInterval,
		maxPoll:      opts.MaxPoll,
		retryBase:    opts.RetryBase,
		logger:       opts.Logger,
		observer:     opts.Observer,
		tracer:       telemetry.Tracer(opts.TracerProvider),
		now:          time.Now,
	}
	if w.lockDuration <= 0 {
		w.lockDuration = time.Minute
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.maxPoll < w.pollInterval {
		w.maxPoll = 60 * w.pollInterval
	}
	if w.retryBase <= 0 {
		w.retryBase = 2 * time.Second
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("worker", w.name)
	return w
}

// Run polls the queues until ctx is done. Idle polls back off
// exponentially up to the max poll interval.
func (w *Worker) Run(ctx context.Context) {
	currentDelay := w.pollInterval

	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.Error("poll failed", "error", err)
		}

		if processed {
			currentDelay = w.pollInterval
		} else {
			currentDelay = min(currentDelay*2, w.maxPoll)
		}

		select {
		case <-time.After(currentDelay):
		case <-ctx.Done():
			return
		}
	}
}

// ProcessNext acquires at most one job and runs it to completion. It
// reports whether a job was found.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.pullJob(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.process(ctx, job)
	return true, nil
}

func (w *Worker) pullJob(ctx context.Context) (*models.QueuedJob, error) {
	var errs []error
	for _, q := range w.queues {
		job, err := w.source.AcquireNext(ctx, q, w.name, w.lockDuration)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if job != nil {
			return job, nil
		}
	}
	return nil, errors.Join(errs...)
}

// process runs one attempt under a consumer span that continues the trace
// the dispatcher stored on the message.
func (w *Worker) process(ctx context.Context, job *models.QueuedJob) {
	ctx, span := w.tracer.Start(telemetry.Extract(ctx, job.Headers), "process "+job.Kind,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingOperationTypeProcess,
			semconv.MessagingDestinationName(job.Queue),
			semconv.MessagingMessageID(job.ID),
			attribute.String("job.kind", job.Kind),
			attribute.Int("job.attempt", job.Attempts),
		))
	defer span.End()

	start := w.now()
	log := w.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)

	payload, err := dto.DecodePayload(job.Args, job.Kwargs)
	if err != nil {
		w.fail(ctx, job, &ExecutionFailure{
			Message:   fmt.Sprintf("invalid payload: %v", err),
			Trace:     traceFor(job.ID, job.Kind, job.Attempts, job.MaxAttempts, err),
			Permanent: true,
			cause:     err,
		}, start)
		return
	}

	if _, err := w.reporter.OnStarted(ctx, job.ID, job.Kind, payload); err != nil {
		log.Error("started event not recorded", "error", err)
	}

	res, failure := w.execute(ctx, job, payload)
	if failure == nil {
		if _, err := w.reporter.OnSucceeded(ctx, job.ID, res); err != nil {
			log.Error("succeeded event not recorded", "error", err)
		}
		if err := w.source.Complete(ctx, job); err != nil {
			log.Error("complete job", "error", err)
		}
		w.observe(job.Kind, OutcomeSucceeded, start)
		log.Info("job succeeded", "elapsed", w.now().Sub(start))
		return
	}

	if !failure.Permanent && job.Attempts < job.MaxAttempts {
		next := w.now().Add(w.backoff(job.Attempts))
		if err := w.source.RetryLater(ctx, job, next, failure.Message); err != nil {
			log.Error("schedule retry", "error", err)
		}
		span.SetStatus(codes.Error, failure.Message)
		w.observe(job.Kind, OutcomeRetried, start)
		log.Warn("job attempt failed, retrying", "error", failure.Message, "next_run", next)
		return
	}

	w.fail(ctx, job, failure, start)
}

func (w *Worker) fail(ctx context.Context, job *models.QueuedJob, failure *ExecutionFailure, start time.Time) {
	log := w.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)

	trace.SpanFromContext(ctx).SetStatus(codes.Error, failure.Message)
	if _, err := w.reporter.OnFailed(ctx, job.ID, failure.Message, failure.Trace); err != nil {
		log.Error("failed event not recorded", "error", err)
	}
	if err := w.source.Complete(ctx, job); err != nil {
		log.Error("complete job", "error", err)
	}
	w.observe(job.Kind, OutcomeFailed, start)
	log.Error("job failed", "error", failure.Message)
}

// execute runs the handler and converts both returned errors and panics
// into an ExecutionFailure.
func (w *Worker) execute(ctx context.Context, job *models.QueuedJob, payload dto.Payload) (res any, failure *ExecutionFailure) {
	h, ok := w.handlers[job.Kind]
	if !ok {
		return nil, &ExecutionFailure{
			Message:   fmt.Sprintf("no handler registered for %q", job.Kind),
			Trace:     traceFor(job.ID, job.Kind, job.Attempts, job.MaxAttempts, errors.New("unregistered kind")),
			Permanent: true,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			res = nil
			failure = &ExecutionFailure{
				Message: fmt.Sprintf("panic: %v", r),
				Trace:   string(debug.Stack()),
			}
		}
	}()

	out, err := h(ctx, payload)
	if err != nil {
		return nil, &ExecutionFailure{
			Message:   err.Error(),
			Trace:     traceFor(job.ID, job.Kind, job.Attempts, job.MaxAttempts, err),
			Permanent: IsPermanent(err),
			cause:     err,
		}
	}
	return out, nil
}

// backoff doubles the delay for every attempt already made.
func (w *Worker) backoff(attempts int) time.Duration {
	exp := math.Pow(2, float64(max(attempts-1, 0)))
	return time.Duration(exp) * w.retryBase
}

func (w *Worker) observe(kind, outcome string, start time.Time) {
	if w.observer != nil {
		w.observer.ObserveExecution(kind, outcome, w.now().Sub(start))
	}
}
