package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/config"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newQueued(id string, availableAt time.Time) *models.QueuedJob {
	return &models.QueuedJob{
		ID:          id,
		Queue:       config.QueueThumbnails,
		Kind:        config.JobKindThumbnail,
		Kwargs:      datatypes.JSON(`{"profile_id":1}`),
		MaxAttempts: 3,
		AvailableAt: availableAt,
	}
}

func TestQueueRepository_EnqueueAndAcquire(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(SetupTestDB(t))
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Enqueue(ctx, newQueued("later", now.Add(time.Minute))))
	require.NoError(t, repo.Enqueue(ctx, newQueued("second", now.Add(-time.Second))))
	require.NoError(t, repo.Enqueue(ctx, newQueued("first", now.Add(-time.Minute))))

	job, err := repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "first", job.ID)
	assert.Equal(t, config.QueueStatusRunning, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "worker-1", job.LockedBy)
	require.NotNil(t, job.LockedUntil)
	assert.True(t, job.LockedUntil.Equal(now.Add(time.Minute)))

	job, err = repo.AcquireNext(ctx, config.QueueThumbnails, "worker-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "second", job.ID)

	job, err = repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job, "future message must stay invisible")

	job, err = repo.AcquireNext(ctx, "other-queue", "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueueRepository_Enqueue_Defaults(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(SetupTestDB(t))

	job := newQueued("a", time.Time{})
	require.NoError(t, repo.Enqueue(ctx, job))

	stored, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, config.QueueStatusQueued, stored.Status)
	assert.False(t, stored.AvailableAt.IsZero())

	assert.Error(t, repo.Enqueue(ctx, newQueued("a", time.Time{})), "duplicate id")

	_, err = repo.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestQueueRepository_CompleteAndRetry(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(SetupTestDB(t))
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Enqueue(ctx, newQueued("a", now)))
	job, err := repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)

	require.NoError(t, repo.RetryLater(ctx, job, now.Add(4*time.Second), "boom"))

	stored, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, config.QueueStatusQueued, stored.Status)
	assert.Equal(t, "boom", stored.LastError)
	assert.Empty(t, stored.LockedBy)
	assert.Nil(t, stored.LockedUntil)

	none, err := repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)

	now = now.Add(5 * time.Second)
	job, err = repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)

	require.NoError(t, repo.Complete(ctx, job))
	stored, err = repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, config.QueueStatusDone, stored.Status)

	none, err = repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestQueueRepository_RecoverStuck(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(SetupTestDB(t))
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	queues := []string{config.QueueThumbnails}

	require.NoError(t, repo.Enqueue(ctx, newQueued("a", now.Add(-time.Second))))
	require.NoError(t, repo.Enqueue(ctx, newQueued("b", now)))
	_, err := repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Second)
	require.NoError(t, err)
	_, err = repo.AcquireNext(ctx, config.QueueThumbnails, "worker-2", time.Hour)
	require.NoError(t, err)

	n, exhausted, err := repo.RecoverStuck(ctx, queues)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, exhausted)

	now = now.Add(time.Minute)
	stuck, err := repo.ListStuckJobs(ctx, queues)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "a", stuck[0].ID)

	n, exhausted, err = repo.RecoverStuck(ctx, queues)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, exhausted)

	job, err := repo.AcquireNext(ctx, config.QueueThumbnails, "worker-3", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "a", job.ID)
	assert.Equal(t, 2, job.Attempts)
}

func TestQueueRepository_RecoverStuck_ExhaustedAttempts(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(SetupTestDB(t))
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	queues := []string{config.QueueThumbnails}

	poison := newQueued("poison", now)
	poison.MaxAttempts = 2
	require.NoError(t, repo.Enqueue(ctx, poison))

	// Every lease expires as if the worker died mid-job.
	for attempt := 1; attempt <= 2; attempt++ {
		job, err := repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Second)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		assert.Equal(t, attempt, job.Attempts)

		now = now.Add(time.Minute)
		released, exhausted, err := repo.RecoverStuck(ctx, queues)
		require.NoError(t, err)

		if attempt < 2 {
			assert.Equal(t, 1, released)
			assert.Empty(t, exhausted)
			continue
		}
		assert.Equal(t, 0, released)
		require.Len(t, exhausted, 1)
		assert.Equal(t, "poison", exhausted[0].ID)
		assert.Equal(t, 2, exhausted[0].Attempts)
		assert.Equal(t, "worker-1", exhausted[0].LockedBy)
		assert.Equal(t, config.LeaseExpiredError, exhausted[0].LastError)
	}

	stored, err := repo.Get(ctx, "poison")
	require.NoError(t, err)
	assert.Equal(t, config.QueueStatusDone, stored.Status)
	assert.Equal(t, config.LeaseExpiredError, stored.LastError)

	next, err := repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Second)
	require.NoError(t, err)
	assert.Nil(t, next)

	released, exhausted, err := repo.RecoverStuck(ctx, queues)
	require.NoError(t, err)
	assert.Zero(t, released)
	assert.Empty(t, exhausted)
}

func TestQueueRepository_KeepsTraceHeaders(t *testing.T) {
	ctx := context.Background()
	repo := NewQueueRepository(SetupTestDB(t))
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	traceparent := "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

	job := newQueued("traced", now.Add(-time.Second))
	job.Headers = datatypes.JSONMap{"traceparent": traceparent}
	require.NoError(t, repo.Enqueue(ctx, job))

	got, err := repo.AcquireNext(ctx, config.QueueThumbnails, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, traceparent, got.Headers["traceparent"])
}

func TestQueueRepository_PingContext(t *testing.T) {
	db := SetupTestDB(t)
	repo := NewQueueRepository(db)
	assert.NoError(t, repo.PingContext(context.Background()))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	assert.Error(t, repo.PingContext(context.Background()))
}
