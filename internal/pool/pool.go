package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"github.com/joshu-sajeev/profilejobs/internal/worker"
	"golang.org/x/sync/errgroup"
)

// StuckRecoverer is implemented by brokers that can hand expired leases back
// to the queue. Messages that used up their attempts are retired instead
// and returned as exhausted.
type StuckRecoverer interface {
	RecoverStuck(ctx context.Context, queues []string) (released int, exhausted []models.QueuedJob, err error)
}

// FailureReporter records the failure of a message the janitor retired.
type FailureReporter interface {
	OnFailed(ctx context.Context, jobID, errMsg, trace string) (*tracking.Outcome, error)
}

// Recovery is the result of one recovery pass.
type Recovery struct {
	Released int
	Failed   int
}

type Config struct {
	Workers         int
	Queues          []string
	JanitorInterval time.Duration
	Worker          worker.Options
}

type WorkerPool struct {
	workers         []*worker.Worker
	recoverer       StuckRecoverer
	reporter        FailureReporter
	queues          []string
	janitorInterval time.Duration
	logger          *slog.Logger
}

// NewWorkerPool builds cfg.Workers workers over source. When source also
// implements StuckRecoverer, a janitor releases expired leases.
func NewWorkerPool(source worker.Source, reporter worker.LifecycleReporter, handlers worker.Registry, cfg Config) *WorkerPool {
	logger := cfg.Worker.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &WorkerPool{
		reporter:        reporter,
		queues:          cfg.Queues,
		janitorInterval: cfg.JanitorInterval,
		logger:          logger,
	}
	if p.janitorInterval <= 0 {
		p.janitorInterval = 30 * time.Second
	}
	if r, ok := source.(StuckRecoverer); ok {
		p.recoverer = r
	}

	for i := 1; i <= max(cfg.Workers, 1); i++ {
		p.workers = append(p.workers, worker.NewWorker(i, source, reporter, handlers, cfg.Queues, cfg.Worker))
	}
	return p
}

func (p *WorkerPool) Size() int { return len(p.workers) }

// Run starts every worker and the janitor and blocks until ctx is done and
// all of them have returned.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, w := range p.workers {
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}

	if p.recoverer != nil {
		g.Go(func() error {
			p.janitor(ctx)
			return nil
		})
	}

	p.logger.Info("worker pool started", "workers", len(p.workers), "queues", p.queues)
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *WorkerPool) janitor(ctx context.Context) {
	ticker := time.NewTicker(p.janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.RecoverOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RecoverOnce runs one janitor pass.
func (p *WorkerPool) RecoverOnce(ctx context.Context) Recovery {
	if p.recoverer == nil {
		return Recovery{}
	}
	res, err := Recover(ctx, p.recoverer, p.reporter, p.queues, p.logger)
	if err != nil {
		p.logger.Error("recover stuck jobs", "error", err)
	}
	if res.Released > 0 || res.Failed > 0 {
		p.logger.Warn("recovered stuck jobs", "released", res.Released, "failed", res.Failed)
	}
	return res
}

// Recover releases expired leases on queues and records a failure for
// every message whose lease expired on its final attempt. A failure the
// reporter rejects is logged and left out of Recovery.Failed.
func Recover(ctx context.Context, r StuckRecoverer, reporter FailureReporter, queues []string, logger *slog.Logger) (Recovery, error) {
	if logger == nil {
		logger = slog.Default()
	}

	released, exhausted, err := r.RecoverStuck(ctx, queues)
	res := Recovery{Released: released}

	for _, j := range exhausted {
		if reporter == nil {
			logger.Error("expired job retired without a failure record", "job_id", j.ID)
			continue
		}
		msg := fmt.Sprintf("%s after %d attempts", j.LastError, j.Attempts)
		trace := fmt.Sprintf("job %s (%s) on queue %s: lease held by %q expired on attempt %d of %d",
			j.ID, j.Kind, j.Queue, j.LockedBy, j.Attempts, j.MaxAttempts)

		if _, ferr := reporter.OnFailed(ctx, j.ID, msg, trace); ferr != nil {
			logger.Error("record expired job failure", "job_id", j.ID, "error", ferr)
			continue
		}
		res.Failed++
	}
	return res, err
}
