package mocks

import (
	"context"
	"time"

	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/stretchr/testify/mock"
)

// QueueMock stands in for either broker: it satisfies dispatch.Broker and
// worker.Source.
type QueueMock struct {
	mock.Mock
}

func (m *QueueMock) Enqueue(ctx context.Context, job *models.QueuedJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *QueueMock) AcquireNext(ctx context.Context, queue string, workerID string, lockDuration time.Duration) (*models.QueuedJob, error) {
	args := m.Called(ctx, queue, workerID, lockDuration)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueuedJob), args.Error(1)
}

func (m *QueueMock) Complete(ctx context.Context, job *models.QueuedJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *QueueMock) RetryLater(ctx context.Context, job *models.QueuedJob, availableAt time.Time, errMsg string) error {
	args := m.Called(ctx, job, availableAt, errMsg)
	return args.Error(0)
}

func (m *QueueMock) RecoverStuck(ctx context.Context, queues []string) (int, []models.QueuedJob, error) {
	args := m.Called(ctx, queues)
	var exhausted []models.QueuedJob
	if v := args.Get(1); v != nil {
		exhausted = v.([]models.QueuedJob)
	}
	return args.Int(0), exhausted, args.Error(2)
}
