package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type DispatcherMock struct {
	mock.Mock
}

func (m *DispatcherMock) Dispatch(ctx context.Context, kind string, args []any, kwargs map[string]any) (string, error) {
	a := m.Called(ctx, kind, args, kwargs)
	return a.String(0), a.Error(1)
}
