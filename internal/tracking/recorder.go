package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"gorm.io/datatypes"
)

const (
	EventQueued    = "queued"
	EventStarted   = "started"
	EventSucceeded = "succeeded"
	EventFailed    = "failed"

	defaultMaxConflictRetries = 5
	defaultConflictBackoff    = 10 * time.Millisecond
)

// Recorder is the single source of truth for job lifecycle state.
type Recorder struct {
	store           RecordStore
	policy          config.TerminalPolicy
	defensiveCreate bool
	maxRetries      int
	backoff         time.Duration
	now             func() time.Time
	logger          *slog.Logger
	observer        Observer
}

type Option func(*Recorder)

// WithTerminalPolicy selects how a second, different terminal event is handled.
func WithTerminalPolicy(p config.TerminalPolicy) Option {
	return func(r *Recorder) { r.policy = p }
}

// WithDefensiveCreate toggles creating records for events whose earlier
// events were lost. Enabled by default.
func WithDefensiveCreate(enabled bool) Option {
	return func(r *Recorder) { r.defensiveCreate = enabled }
}

// WithConflictRetries bounds how often a conflicting write is retried.
// Negative counts are treated as zero so the store is always tried once.
func WithConflictRetries(retries int, backoff time.Duration) Option {
	return func(r *Recorder) {
		r.maxRetries = max(retries, 0)
		r.backoff = backoff
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

func WithObserver(o Observer) Option {
	return func(r *Recorder) { r.observer = o }
}

func NewRecorder(store RecordStore, opts ...Option) *Recorder {
	r := &Recorder{
		store:           store,
		policy:          config.FirstTerminalWins,
		defensiveCreate: true,
		maxRetries:      defaultMaxConflictRetries,
		backoff:         defaultConflictBackoff,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          slog.Default(),
		observer:        nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnQueued creates a PENDING record if none exists. An existing record,
// whatever its state, is left alone.
func (r *Recorder) OnQueued(ctx context.Context, jobID, kind string, payload dto.Payload) (*Outcome, error) {
	args, kwargs, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	return r.apply(ctx, EventQueued, jobID, func(rec *models.JobRecord, exists bool) (bool, error) {
		if exists {
			return false, nil
		}
		rec.JobKind = kind
		rec.Status = config.JobStatusPending
		rec.Args = args
		rec.Kwargs = kwargs
		rec.CreatedAt = r.now()
		return true, nil
	})
}

// OnStarted moves a record to STARTED, creating it when the queued event
// was never seen. A record that already reached a terminal state keeps it;
// only a missing kind or payload is filled in.
func (r *Recorder) OnStarted(ctx context.Context, jobID, kind string, payload dto.Payload) (*Outcome, error) {
	args, kwargs, err := payload.Encode()
	if err != nil {
		return nil, err
	}

	return r.apply(ctx, EventStarted, jobID, func(rec *models.JobRecord, exists bool) (bool, error) {
		now := r.now()
		if !exists {
			if !r.defensiveCreate {
				return false, ErrJobNotFound
			}
			rec.CreatedAt = now
		}

		if rec.Status.Terminal() {
			return fillMissing(rec, kind, args, kwargs), nil
		}

		rec.Status = config.JobStatusStarted
		if kind != "" {
			rec.JobKind = kind
		}
		if len(args) > 0 {
			rec.Args = args
		}
		if len(kwargs) > 0 {
			rec.Kwargs = kwargs
		}
		started := notBefore(now, rec.CreatedAt)
		rec.StartedAt = &started
		return true, nil
	})
}

// OnSucceeded marks the record SUCCESS with the given result.
func (r *Recorder) OnSucceeded(ctx context.Context, jobID string, result any) (*Outcome, error) {
	encoded, err := encodeResult(result)
	if err != nil {
		return nil, err
	}

	return r.apply(ctx, EventSucceeded, jobID, func(rec *models.JobRecord, exists bool) (bool, error) {
		if !r.admitTerminal(rec, exists, config.JobStatusSuccess) {
			return false, nil
		}
		if !exists && !r.defensiveCreate {
			return false, ErrJobNotFound
		}
		r.complete(rec, exists, config.JobStatusSuccess)
		rec.Result = encoded
		rec.ErrorDetail = ""
		rec.Traceback = ""
		return true, nil
	})
}

// OnFailed marks the record FAILURE with the error message and trace.
func (r *Recorder) OnFailed(ctx context.Context, jobID, errMsg, trace string) (*Outcome, error) {
	return r.apply(ctx, EventFailed, jobID, func(rec *models.JobRecord, exists bool) (bool, error) {
		if !r.admitTerminal(rec, exists, config.JobStatusFailure) {
			return false, nil
		}
		if !exists && !r.defensiveCreate {
			return false, ErrJobNotFound
		}
		r.complete(rec, exists, config.JobStatusFailure)
		rec.Result = nil
		rec.ErrorDetail = errMsg
		rec.Traceback = trace
		return true, nil
	})
}

// Get returns the record for jobID or ErrJobNotFound.
func (r *Recorder) Get(ctx context.Context, jobID string) (*models.JobRecord, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrInvalidJobID
	}
	return r.store.FindByKey(ctx, jobID)
}

func (r *Recorder) List(ctx context.Context, filter Filter) ([]models.JobRecord, error) {
	return r.store.List(ctx, filter)
}

// admitTerminal decides whether a terminal event may touch rec. A repeat of
// the state the record already holds is always a no-op.
func (r *Recorder) admitTerminal(rec *models.JobRecord, exists bool, next config.JobStatus) bool {
	if !exists || !rec.Status.Terminal() {
		return true
	}
	if rec.Status == next {
		return false
	}
	return r.policy == config.LastTerminalWins
}

func (r *Recorder) complete(rec *models.JobRecord, exists bool, status config.JobStatus) {
	now := r.now()
	if !exists {
		rec.CreatedAt = now
	}
	done := notBefore(now, rec.CreatedAt)
	if rec.StartedAt != nil {
		done = notBefore(done, *rec.StartedAt)
	}
	rec.Status = status
	rec.CompletedAt = &done
}

func (r *Recorder) apply(ctx context.Context, event, jobID string, mutate Mutator) (*Outcome, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, ErrInvalidJobID
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * r.backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%s %s: %w", event, jobID, ctx.Err())
			}
		}

		rec, applied, err := r.store.UpsertByKey(ctx, jobID, mutate)
		if err == nil {
			r.observer.ObserveEvent(event, applied)
			r.logger.Debug("lifecycle event recorded",
				"event", event, "job_id", jobID, "applied", applied)
			return &Outcome{Record: rec, Applied: applied}, nil
		}

		if !errors.Is(err, ErrRecordStoreConflict) {
			return nil, fmt.Errorf("%s %s: %w", event, jobID, err)
		}

		r.observer.ObserveConflict()
		lastErr = err
	}

	r.logger.Warn("lifecycle event gave up after conflicts",
		"event", event, "job_id", jobID, "attempts", r.maxRetries+1)
	return nil, fmt.Errorf("%s %s: retries exhausted: %w", event, jobID, lastErr)
}

func fillMissing(rec *models.JobRecord, kind string, args, kwargs datatypes.JSON) bool {
	changed := false
	if rec.JobKind == "" && kind != "" {
		rec.JobKind = kind
		changed = true
	}
	if len(rec.Args) == 0 && len(args) > 0 {
		rec.Args = args
		changed = true
	}
	if len(rec.Kwargs) == 0 && len(kwargs) > 0 {
		rec.Kwargs = kwargs
		changed = true
	}
	return changed
}

func encodeResult(result any) (datatypes.JSON, error) {
	if result == nil {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return datatypes.JSON(b), nil
}

func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
