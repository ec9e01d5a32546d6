// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// MockEventPublisher implements EventPublisher for testing
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) PublishSessionStatusChanged(ctx context.Context, msg models.SessionStatusChangedMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockEventPublisher) PublishMeetingRoomChanged(ctx context.Context, msg models.MeetingRoomChangedMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// MockNotifier implements Notifier for testing
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, notification models.Notification) error {
	args := m.Called(ctx, notification)
	return args.Error(0)
}

// MockTenantDirectory implements TenantDirectory for testing
type MockTenantDirectory struct {
	mock.Mock
}

func (m *MockTenantDirectory) GetSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantSettings), args.Error(1)
}
