package config

import "slices"

// JobStatus is the lifecycle state of a tracked job record.
type JobStatus string

// QueueStatus is the delivery state of a message on the Postgres broker.
type QueueStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusStarted JobStatus = "STARTED"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailure JobStatus = "FAILURE"

	QueueStatusQueued  QueueStatus = "queued"
	QueueStatusRunning QueueStatus = "running"
	QueueStatusDone    QueueStatus = "done"

	// LeaseExpiredError is stored on a message retired because its last
	// lease expired with no attempts left.
	LeaseExpiredError = "lease expired"

	JobKindThumbnail = "thumbnail-generate"
	QueueThumbnails  = "thumbnails"
)

var (
	AllowedJobKinds = []string{JobKindThumbnail}
	AllowedQueues   = []string{QueueThumbnails}
	AllJobStatuses  = []JobStatus{JobStatusPending, JobStatusStarted, JobStatusSuccess, JobStatusFailure}
)

// Valid reports whether s is one of the four lifecycle states.
func (s JobStatus) Valid() bool {
	return slices.Contains(AllJobStatuses, s)
}

// Terminal reports whether s is SUCCESS or FAILURE.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure
}
