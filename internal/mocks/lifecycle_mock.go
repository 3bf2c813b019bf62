package mocks

import (
	"context"

	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/tracking"
	"github.com/stretchr/testify/mock"
)

// LifecycleMock records the lifecycle events sent to the recorder.
type LifecycleMock struct {
	mock.Mock
}

func (m *LifecycleMock) OnQueued(ctx context.Context, jobID, kind string, payload dto.Payload) (*tracking.Outcome, error) {
	args := m.Called(ctx, jobID, kind, payload)
	return outcome(args.Get(0)), args.Error(1)
}

func (m *LifecycleMock) OnStarted(ctx context.Context, jobID, kind string, payload dto.Payload) (*tracking.Outcome, error) {
	args := m.Called(ctx, jobID, kind, payload)
	return outcome(args.Get(0)), args.Error(1)
}

func (m *LifecycleMock) OnSucceeded(ctx context.Context, jobID string, result any) (*tracking.Outcome, error) {
	args := m.Called(ctx, jobID, result)
	return outcome(args.Get(0)), args.Error(1)
}

func (m *LifecycleMock) OnFailed(ctx context.Context, jobID, errMsg, trace string) (*tracking.Outcome, error) {
	args := m.Called(ctx, jobID, errMsg, trace)
	return outcome(args.Get(0)), args.Error(1)
}

func outcome(v any) *tracking.Outcome {
	if v == nil {
		return nil
	}
	return v.(*tracking.Outcome)
}
