package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"gorm.io/gorm"
)

// QueueRepository is the Postgres-backed execution facility: dispatch
// inserts rows, workers claim them with a lease.
type QueueRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue inserts a new message. It uses the provided context for
// cancellation and timeout propagation.
func (r *QueueRepository) Enqueue(ctx context.Context, job *models.QueuedJob) error {
	if job.Status == "" {
		job.Status = config.QueueStatusQueued
	}
	if job.AvailableAt.IsZero() {
		job.AvailableAt = r.now()
	}
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Get retrieves a single message by its ID.
// PingContext checks the connection the queue table lives on.
func (r *QueueRepository) PingContext(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *QueueRepository) Get(ctx context.Context, id string) (*models.QueuedJob, error) {
	var job models.QueuedJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("queued job not found: %w", err)
		}
		return nil, fmt.Errorf("get queued job: %w", err)
	}
	return &job, nil
}

// AcquireNext claims the oldest available message on queue for workerID.
// The claim is a conditional update on the message's status, so two workers
// racing for the same row cannot both win; the loser gets (nil, nil) and
// polls again. The attempts counter is incremented atomically with the claim.
func (r *QueueRepository) AcquireNext(
	ctx context.Context,
	queue string,
	workerID string,
	lockDuration time.Duration,
) (*models.QueuedJob, error) {
	now := r.now()

	var candidate models.QueuedJob
	err := r.db.WithContext(ctx).
		Where("queue = ? AND status = ? AND available_at <= ?", queue, config.QueueStatusQueued, now).
		Order("available_at ASC, created_at ASC").
		Take(&candidate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("acquire next: %w", err)
	}

	lockedUntil := now.Add(lockDuration)
	res := r.db.WithContext(ctx).Model(&models.QueuedJob{}).
		Where("id = ? AND status = ?", candidate.ID, config.QueueStatusQueued).
		Updates(map[string]any{
			"status":       config.QueueStatusRunning,
			"locked_by":    workerID,
			"locked_until": lockedUntil,
			"attempts":     gorm.Expr("attempts + ?", 1),
			"updated_at":   now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("acquire next: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	candidate.Status = config.QueueStatusRunning
	candidate.LockedBy = workerID
	candidate.LockedUntil = &lockedUntil
	candidate.Attempts++
	return &candidate, nil
}

// Complete marks the message done and releases its lease.
func (r *QueueRepository) Complete(ctx context.Context, job *models.QueuedJob) error {
	if err := r.db.WithContext(ctx).Model(&models.QueuedJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":       config.QueueStatusDone,
			"locked_by":    "",
			"locked_until": nil,
			"updated_at":   r.now(),
		}).Error; err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// RetryLater puts the message back on its queue, invisible until availableAt.
func (r *QueueRepository) RetryLater(ctx context.Context, job *models.QueuedJob, availableAt time.Time, errMsg string) error {
	if err := r.db.WithContext(ctx).Model(&models.QueuedJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]any{
			"status":       config.QueueStatusQueued,
			"available_at": availableAt,
			"last_error":   errMsg,
			"locked_by":    "",
			"locked_until": nil,
			"updated_at":   r.now(),
		}).Error; err != nil {
		return fmt.Errorf("retry later: %w", err)
	}
	return nil
}

// Release returns a running message to the queue without touching attempts.
// It reports false when the message was no longer running.
func (r *QueueRepository) Release(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.QueuedJob{}).
		Where("id = ? AND status = ?", id, config.QueueStatusRunning).
		Updates(map[string]any{
			"status":       config.QueueStatusQueued,
			"locked_by":    "",
			"locked_until": nil,
			"updated_at":   r.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("release job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// expire retires a running message that used up its attempts.
func (r *QueueRepository) expire(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.QueuedJob{}).
		Where("id = ? AND status = ?", id, config.QueueStatusRunning).
		Updates(map[string]any{
			"status":       config.QueueStatusDone,
			"last_error":   config.LeaseExpiredError,
			"locked_by":    "",
			"locked_until": nil,
			"updated_at":   r.now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("expire job: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListStuckJobs returns running messages whose lease expired.
func (r *QueueRepository) ListStuckJobs(ctx context.Context, queues []string) ([]models.QueuedJob, error) {
	var jobs []models.QueuedJob
	if err := r.db.WithContext(ctx).
		Where("queue IN ? AND status = ? AND locked_until < ?", queues, config.QueueStatusRunning, r.now()).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list stuck jobs: %w", err)
	}
	return jobs, nil
}

// RecoverStuck handles every message whose lease expired. Messages with
// attempts left go back on the queue; the others are retired and returned
// so the caller can record the failure.
func (r *QueueRepository) RecoverStuck(ctx context.Context, queues []string) (int, []models.QueuedJob, error) {
	stuck, err := r.ListStuckJobs(ctx, queues)
	if err != nil {
		return 0, nil, err
	}

	released := 0
	var exhausted []models.QueuedJob
	for _, j := range stuck {
		if j.Attempts >= j.MaxAttempts {
			ok, err := r.expire(ctx, j.ID)
			if err != nil {
				return released, exhausted, err
			}
			if ok {
				j.Status = config.QueueStatusDone
				j.LastError = config.LeaseExpiredError
				exhausted = append(exhausted, j)
			}
			continue
		}

		ok, err := r.Release(ctx, j.ID)
		if err != nil {
			return released, exhausted, err
		}
		if ok {
			released++
		}
	}
	return released, exhausted, nil
}
