package mocks

import (
	"context"

	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/models"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"github.com/stretchr/testify/mock"
)

type JobServiceMock struct {
	mock.Mock
}

func (m *JobServiceMock) DispatchJob(ctx context.Context, req *dto.DispatchDTO) (*dto.DispatchResponseDTO, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.DispatchResponseDTO), args.Error(1)
}

func (m *JobServiceMock) GetJob(ctx context.Context, jobID string) (*dto.JobRecordResponseDTO, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.JobRecordResponseDTO), args.Error(1)
}

func (m *JobServiceMock) ListJobs(ctx context.Context, query dto.JobListQuery) ([]dto.JobRecordResponseDTO, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]dto.JobRecordResponseDTO), args.Error(1)
}

// RecordReaderMock is the read side of the lifecycle recorder.
type RecordReaderMock struct {
	mock.Mock
}

func (m *RecordReaderMock) Get(ctx context.Context, jobID string) (*models.JobRecord, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JobRecord), args.Error(1)
}

func (m *RecordReaderMock) List(ctx context.Context, filter tracking.Filter) ([]models.JobRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.JobRecord), args.Error(1)
}
