package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultListLimit = 100

type JobRecordRepository struct {
	db *gorm.DB
}

func NewJobRecordRepository(db *gorm.DB) *JobRecordRepository {
	return &JobRecordRepository{db: db}
}

var _ tracking.RecordStore = (*JobRecordRepository)(nil)

// UpsertByKey loads the record for jobID (or a fresh one), lets mutate edit
// it and writes it back. Inserts use ON CONFLICT DO NOTHING and updates are
// guarded by the version column, so a concurrent writer on the same job id
// surfaces as tracking.ErrRecordStoreConflict instead of a lost update.
func (r *JobRecordRepository) UpsertByKey(
	ctx context.Context,
	jobID string,
	mutate tracking.Mutator,
) (*models.JobRecord, bool, error) {
	var rec models.JobRecord
	exists := true

	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Take(&rec).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		exists = false
		rec = models.JobRecord{JobID: jobID}
	case err != nil:
		return nil, false, fmt.Errorf("find job record: %w", err)
	}

	changed, err := mutate(&rec, exists)
	if err != nil {
		return nil, false, err
	}

	if !changed {
		if !exists {
			return nil, false, nil
		}
		return &rec, false, nil
	}

	rec.JobID = jobID
	if !exists {
		return r.insert(ctx, &rec)
	}
	return r.update(ctx, &rec)
}

func (r *JobRecordRepository) insert(ctx context.Context, rec *models.JobRecord) (*models.JobRecord, bool, error) {
	rec.Version = 1

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "job_id"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		if isConflict(res.Error) {
			return nil, false, tracking.ErrRecordStoreConflict
		}
		return nil, false, fmt.Errorf("create job record: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return nil, false, tracking.ErrRecordStoreConflict
	}

	return rec, true, nil
}

func (r *JobRecordRepository) update(ctx context.Context, rec *models.JobRecord) (*models.JobRecord, bool, error) {
	prev := rec.Version
	rec.Version = prev + 1
	rec.UpdatedAt = time.Now().UTC()

	res := r.db.WithContext(ctx).Model(&models.JobRecord{}).
		Where("job_id = ? AND version = ?", rec.JobID, prev).
		Updates(map[string]any{
			"job_kind":     rec.JobKind,
			"status":       rec.Status,
			"args":         rec.Args,
			"kwargs":       rec.Kwargs,
			"result":       rec.Result,
			"error_detail": rec.ErrorDetail,
			"traceback":    rec.Traceback,
			"started_at":   rec.StartedAt,
			"completed_at": rec.CompletedAt,
			"version":      rec.Version,
			"updated_at":   rec.UpdatedAt,
		})
	if res.Error != nil {
		if isConflict(res.Error) {
			return nil, false, tracking.ErrRecordStoreConflict
		}
		return nil, false, fmt.Errorf("update job record: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return nil, false, tracking.ErrRecordStoreConflict
	}

	return rec, true, nil
}

// FindByKey returns tracking.ErrJobNotFound when no record exists.
func (r *JobRecordRepository) FindByKey(ctx context.Context, jobID string) (*models.JobRecord, error) {
	var rec models.JobRecord
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, tracking.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job record: %w", err)
	}
	return &rec, nil
}

// List returns records newest first.
func (r *JobRecordRepository) List(ctx context.Context, filter tracking.Filter) ([]models.JobRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := r.db.WithContext(ctx).Model(&models.JobRecord{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Kind != "" {
		q = q.Where("job_kind = ?", filter.Kind)
	}

	var records []models.JobRecord
	if err := q.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list job records: %w", err)
	}
	return records, nil
}
