// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/messaging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/service"
)

var scheduledAt = time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)

func setupTelemetryHandlerForTesting() (*TelemetryHandler, *mocks.MemoryStore) {
	store := mocks.NewMemoryStore()
	store.AddSession(&models.Session{
		ID:              1,
		TenantID:        "noor",
		Kind:            models.SessionKindQuran,
		Format:          models.SessionFormatIndividual,
		Status:          models.SessionStatusReady,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 45,
	})
	store.AddSession(&models.Session{
		ID:              2,
		TenantID:        "noor",
		Kind:            models.SessionKindAcademic,
		Format:          models.SessionFormatGroup,
		Status:          models.SessionStatusScheduled,
		ScheduledAt:     scheduledAt,
		DurationMinutes: 60,
	})

	tenants := &mocks.MockTenantDirectory{}
	tenants.On("GetSettings", mock.Anything, mock.Anything).Return(&models.TenantSettings{TenantID: "noor"}, nil).Maybe()

	config := service.DefaultServiceConfig()
	attendance := service.NewAttendanceService(store, store, store, tenants, config)
	lifecycle := service.NewSessionLifecycleService(store, store, tenants, nil, nil, config)
	return NewTelemetryHandler(attendance, lifecycle), store
}

func eventJSON(t *testing.T, sessionID int64, eventType models.AttendanceEventType, ts time.Time, providerEventID string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"session_id":        sessionID,
		"participant_id":    "student-1",
		"event_type":        eventType,
		"timestamp":         ts,
		"provider_event_id": providerEventID,
	})
	require.NoError(t, err)
	return data
}

func decodeResponse(t *testing.T, data []byte) models.AttendanceIngestResponse {
	t.Helper()
	var resp models.AttendanceIngestResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestTelemetryHandler_HandlerReady(t *testing.T) {
	handler, _ := setupTelemetryHandlerForTesting()
	assert.True(t, handler.HandlerReady())
	assert.ElementsMatch(t, []string{models.AttendanceEventSubject, models.AttendanceEventBatchSubject}, handler.Subjects())

	empty := NewTelemetryHandler(&service.AttendanceService{}, &service.SessionLifecycleService{})
	assert.False(t, empty.HandlerReady())
}

func TestTelemetryHandler_HandleAttendanceEvent(t *testing.T) {
	joinAt := scheduledAt.Add(2 * time.Minute)

	tests := []struct {
		name       string
		data       func(t *testing.T) []byte
		want       models.AttendanceIngestResponse
		wantErr    bool
		wantStatus models.SessionStatus
	}{
		{
			name:       "join starts the session",
			data:       func(t *testing.T) []byte { return eventJSON(t, 1, models.AttendanceEventJoin, joinAt, "evt-1") },
			want:       models.AttendanceIngestResponse{Accepted: 1},
			wantStatus: models.SessionStatusOngoing,
		},
		{
			name:       "leave is logged without starting",
			data:       func(t *testing.T) []byte { return eventJSON(t, 1, models.AttendanceEventLeave, joinAt, "evt-2") },
			want:       models.AttendanceIngestResponse{Accepted: 1},
			wantStatus: models.SessionStatusReady,
		},
		{
			name:       "invalid JSON",
			data:       func(t *testing.T) []byte { return []byte("{") },
			want:       models.AttendanceIngestResponse{Rejected: 1},
			wantErr:    true,
			wantStatus: models.SessionStatusReady,
		},
		{
			name:       "unknown event type",
			data:       func(t *testing.T) []byte { return eventJSON(t, 1, "mute", joinAt, "") },
			want:       models.AttendanceIngestResponse{Rejected: 1},
			wantErr:    true,
			wantStatus: models.SessionStatusReady,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, store := setupTelemetryHandlerForTesting()
			msg := mocks.NewFireAndForgetMessage(tt.data(t), models.AttendanceEventSubject)

			resp, err := handler.HandleAttendanceEvent(context.Background(), msg)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, resp)
			assert.Equal(t, tt.wantStatus, store.Session(1).Status)
		})
	}
}

func TestTelemetryHandler_StartedAtStampedOnce(t *testing.T) {
	handler, store := setupTelemetryHandlerForTesting()
	ctx := context.Background()

	// the later join arrives first
	late := eventJSON(t, 1, models.AttendanceEventJoin, scheduledAt.Add(4*time.Minute), "evt-b")
	_, err := handler.HandleAttendanceEvent(ctx, mocks.NewFireAndForgetMessage(late, models.AttendanceEventSubject))
	require.NoError(t, err)

	early := eventJSON(t, 1, models.AttendanceEventJoin, scheduledAt.Add(1*time.Minute), "evt-a")
	_, err = handler.HandleAttendanceEvent(ctx, mocks.NewFireAndForgetMessage(early, models.AttendanceEventSubject))
	require.NoError(t, err)

	session := store.Session(1)
	assert.Equal(t, models.SessionStatusOngoing, session.Status)
	require.NotNil(t, session.StartedAt)
	// started_at is stamped once; the guard keeps the first transition
	assert.WithinDuration(t, scheduledAt.Add(4*time.Minute), *session.StartedAt, 0)
}

func TestTelemetryHandler_HandleMessage_Reply(t *testing.T) {
	handler, _ := setupTelemetryHandlerForTesting()
	data := eventJSON(t, 1, models.AttendanceEventJoin, scheduledAt, "evt-1")

	first := mocks.NewMockMessage(data, models.AttendanceEventSubject)
	first.On("HasReply").Return(true)
	first.On("Respond", mock.MatchedBy(func(b []byte) bool {
		return decodeResponse(t, b).Accepted == 1
	})).Return(nil).Once()
	handler.HandleMessage(context.Background(), first)
	first.AssertExpectations(t)

	duplicate := mocks.NewMockMessage(data, models.AttendanceEventSubject)
	duplicate.On("HasReply").Return(true)
	duplicate.On("Respond", mock.MatchedBy(func(b []byte) bool {
		return decodeResponse(t, b).Duplicates == 1
	})).Return(nil).Once()
	handler.HandleMessage(context.Background(), duplicate)
	duplicate.AssertExpectations(t)
}

func TestTelemetryHandler_HandleMessage_RejectedReply(t *testing.T) {
	handler, _ := setupTelemetryHandlerForTesting()

	msg := mocks.NewMockMessage([]byte("not json"), models.AttendanceEventSubject)
	msg.On("HasReply").Return(true)
	msg.On("Respond", mock.MatchedBy(func(b []byte) bool {
		resp := decodeResponse(t, b)
		return resp.Rejected == 1 && len(resp.Errors) == 1
	})).Return(errors.New("no responders")).Once()

	handler.HandleMessage(context.Background(), msg)

	msg.AssertExpectations(t)
}

func TestTelemetryHandler_HandleMessage_UnknownSubject(t *testing.T) {
	handler, _ := setupTelemetryHandlerForTesting()

	msg := mocks.NewMockMessage([]byte("{}"), "lfx.tutoring.unknown")
	msg.On("HasReply").Return(true)
	msg.On("Respond", []byte(nil)).Return(nil).Once()

	handler.HandleMessage(context.Background(), msg)

	msg.AssertExpectations(t)

	fireAndForget := mocks.NewFireAndForgetMessage([]byte("{}"), "lfx.tutoring.unknown")
	handler.HandleMessage(context.Background(), fireAndForget)
	fireAndForget.AssertNotCalled(t, "Respond", mock.Anything)
}

func TestTelemetryHandler_HandleAttendanceBatch(t *testing.T) {
	handler, store := setupTelemetryHandlerForTesting()

	events := []*models.AttendanceEvent{
		{SessionID: 1, ParticipantRef: "student-1", EventType: models.AttendanceEventJoin, Timestamp: scheduledAt.Add(time.Minute), ProviderEventID: "b-1"},
		{SessionID: 1, ParticipantRef: "student-1", EventType: models.AttendanceEventLeave, Timestamp: scheduledAt.Add(20 * time.Minute), ProviderEventID: "b-2"},
		{SessionID: 1, ParticipantRef: "student-1", EventType: models.AttendanceEventLeave, Timestamp: scheduledAt.Add(20 * time.Minute), ProviderEventID: "b-2"},
		{SessionID: 2, ParticipantRef: "student-9", EventType: models.AttendanceEventReconnect, Timestamp: scheduledAt.Add(3 * time.Minute)},
		{SessionID: 2, EventType: models.AttendanceEventJoin, Timestamp: scheduledAt},
		{SessionID: 404, ParticipantRef: "student-1", EventType: models.AttendanceEventJoin, Timestamp: scheduledAt},
	}
	data, err := messaging.EncodeAttendanceBatch(events)
	require.NoError(t, err)

	resp, err := handler.HandleAttendanceBatch(context.Background(), mocks.NewFireAndForgetMessage(data, models.AttendanceEventBatchSubject))

	require.NoError(t, err)
	assert.Equal(t, 4, resp.Accepted)
	assert.Equal(t, 1, resp.Duplicates)
	assert.Equal(t, 1, resp.Rejected)
	assert.Len(t, resp.Errors, 1)

	assert.Equal(t, models.SessionStatusOngoing, store.Session(1).Status)
	assert.Equal(t, models.SessionStatusOngoing, store.Session(2).Status)
	require.NotNil(t, store.Session(2).StartedAt)
	assert.WithinDuration(t, scheduledAt.Add(3*time.Minute), *store.Session(2).StartedAt, 0)
}

func TestTelemetryHandler_HandleAttendanceBatch_Invalid(t *testing.T) {
	handler, _ := setupTelemetryHandlerForTesting()

	resp, err := handler.HandleAttendanceBatch(context.Background(), mocks.NewFireAndForgetMessage([]byte{0xc3}, models.AttendanceEventBatchSubject))

	assert.Error(t, err)
	assert.Equal(t, 1, resp.Rejected)
}
