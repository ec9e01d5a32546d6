// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// MockVideoProvider implements VideoProvider for testing
type MockVideoProvider struct {
	mock.Mock
}

func (m *MockVideoProvider) CreateRoom(ctx context.Context, spec models.RoomSpec) (*models.CreatedRoom, error) {
	args := m.Called(ctx, spec)
	result := args.Get(0)
	if result == nil {
		return nil, args.Error(1)
	}
	return result.(*models.CreatedRoom), args.Error(1)
}

func (m *MockVideoProvider) EndRoom(ctx context.Context, roomRef string) error {
	args := m.Called(ctx, roomRef)
	return args.Error(0)
}

func (m *MockVideoProvider) GetRoomStatus(ctx context.Context, roomRef string) (models.RoomState, error) {
	args := m.Called(ctx, roomRef)
	return args.Get(0).(models.RoomState), args.Error(1)
}

// MockVideoProviderRegistry implements VideoProviderRegistry for testing
type MockVideoProviderRegistry struct {
	mock.Mock
}

func (m *MockVideoProviderRegistry) GetProvider(name string) (domain.VideoProvider, error) {
	args := m.Called(name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(domain.VideoProvider), args.Error(1)
}

func (m *MockVideoProviderRegistry) RegisterProvider(name string, provider domain.VideoProvider) {
	m.Called(name, provider)
}
