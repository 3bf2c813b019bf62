// Package tracking records the lifecycle of background jobs. Every handler
// is idempotent and tolerates events arriving out of order or twice.
package tracking

import (
	"context"
	"errors"

	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/models"
)

var (
	// ErrJobNotFound is returned when an event references an unknown job id
	// and defensive creation is disabled, or when a read finds no record.
	ErrJobNotFound = errors.New("job record not found")
	// ErrRecordStoreConflict signals a lost race on the per-key upsert.
	// The Recorder retries it before surfacing.
	ErrRecordStoreConflict = errors.New("job record store conflict")
	// ErrInvalidJobID is returned for an empty job id.
	ErrInvalidJobID = errors.New("job id is required")
)

// Mutator edits rec in place. exists is false when rec is a fresh zero
// record carrying only its JobID. Returning false means nothing changed and
// the store must not write.
type Mutator func(rec *models.JobRecord, exists bool) (bool, error)

// RecordStore persists job records. UpsertByKey must apply find-or-create
// plus mutate as one atomic unit per job id, returning
// ErrRecordStoreConflict when a concurrent writer won.
type RecordStore interface {
	UpsertByKey(ctx context.Context, jobID string, mutate Mutator) (*models.JobRecord, bool, error)
	FindByKey(ctx context.Context, jobID string) (*models.JobRecord, error)
	List(ctx context.Context, filter Filter) ([]models.JobRecord, error)
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status config.JobStatus
	Kind   string
	Limit  int
}

// Outcome is what a lifecycle handler did. Applied is false for no-ops
// such as a duplicate event.
type Outcome struct {
	Record  *models.JobRecord
	Applied bool
}

// Observer receives recorder activity, normally the metrics collector.
type Observer interface {
	ObserveEvent(event string, applied bool)
	ObserveConflict()
}

type nopObserver struct{}

func (nopObserver) ObserveEvent(string, bool) {}
func (nopObserver) ObserveConflict()          {}
