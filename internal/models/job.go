package models

import (
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/config"
	"gorm.io/datatypes"
)

// JobRecord tracks one dispatched job through PENDING, STARTED and a
// terminal state. There is exactly one row per JobID.
type JobRecord struct {
	JobID       string           `gorm:"primaryKey;type:varchar(255)"`
	JobKind     string           `gorm:"type:varchar(255);not null;default:'';index"`
	Status      config.JobStatus `gorm:"type:varchar(50);not null;default:'PENDING';index"`
	Args        datatypes.JSON   `gorm:"type:jsonb"`
	Kwargs      datatypes.JSON   `gorm:"type:jsonb"`
	Result      datatypes.JSON   `gorm:"type:jsonb"`
	ErrorDetail string           `gorm:"type:text"`
	Traceback   string           `gorm:"type:text"`
	Version     int              `gorm:"not null;default:1"`
	CreatedAt   time.Time        `gorm:"not null;index"`
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (JobRecord) TableName() string { return "job_records" }

// QueuedJob is a message on the Postgres broker. Its ID is the job id the
// dispatcher handed back to the caller.
type QueuedJob struct {
	ID          string             `gorm:"primaryKey;type:varchar(255)" json:"id"`
	Queue       string             `gorm:"type:varchar(255);not null;index:idx_queued_jobs_pick,priority:1" json:"queue"`
	Kind        string             `gorm:"type:varchar(255);not null" json:"kind"`
	Args        datatypes.JSON     `gorm:"type:jsonb" json:"args,omitempty"`
	Kwargs      datatypes.JSON     `gorm:"type:jsonb" json:"kwargs,omitempty"`
	Status      config.QueueStatus `gorm:"type:varchar(50);not null;default:'queued';index:idx_queued_jobs_pick,priority:2" json:"status"`
	Attempts    int                `gorm:"default:0;not null" json:"attempts"`
	MaxAttempts int                `gorm:"default:3;not null" json:"max_attempts"`
	AvailableAt time.Time          `gorm:"not null;index:idx_queued_jobs_pick,priority:3" json:"available_at"`
	LockedBy    string             `gorm:"type:varchar(255)" json:"locked_by,omitempty"`
	LockedUntil *time.Time         `json:"locked_until,omitempty"`
	LastError   string             `gorm:"type:text" json:"last_error,omitempty"`
	Headers     datatypes.JSONMap  `gorm:"type:jsonb" json:"headers,omitempty"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (QueuedJob) TableName() string { return "queued_jobs" }
