package mocks

import (
	"context"

	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"github.com/stretchr/testify/mock"
)

type RecordStoreMock struct {
	mock.Mock
}

func (m *RecordStoreMock) UpsertByKey(ctx context.Context, jobID string, mutate tracking.Mutator) (*models.JobRecord, bool, error) {
	args := m.Called(ctx, jobID, mutate)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.JobRecord), args.Bool(1), args.Error(2)
}

func (m *RecordStoreMock) FindByKey(ctx context.Context, jobID string) (*models.JobRecord, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JobRecord), args.Error(1)
}

func (m *RecordStoreMock) List(ctx context.Context, filter tracking.Filter) ([]models.JobRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.JobRecord), args.Error(1)
}
