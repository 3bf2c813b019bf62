package mocks

import (
	"context"

	"github.com/joshu-sajeev/profilejobs/internal/dto"
	"github.com/joshu-sajeev/profilejobs/internal/profile"
	"github.com/stretchr/testify/mock"
)

type ProfileServiceMock struct {
	mock.Mock
}

func (m *ProfileServiceMock) Create(ctx context.Context, req *dto.ProfileCreateDTO) (*profile.UpdateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*profile.UpdateResult), args.Error(1)
}

func (m *ProfileServiceMock) Update(ctx context.Context, id uint, req *dto.ProfileUpdateDTO) (*profile.UpdateResult, error) {
	args := m.Called(ctx, id, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*profile.UpdateResult), args.Error(1)
}

func (m *ProfileServiceMock) UploadAvatar(ctx context.Context, id uint, filename, contentType string, data []byte) (*profile.UpdateResult, error) {
	args := m.Called(ctx, id, filename, contentType, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*profile.UpdateResult), args.Error(1)
}

func (m *ProfileServiceMock) Get(ctx context.Context, id uint) (*dto.ProfileResponseDTO, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.ProfileResponseDTO), args.Error(1)
}
