// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

func setupRetentionServiceForTesting() (*RetentionService, *mocks.MemoryStore, *testClock) {
	store := mocks.NewMemoryStore()
	clock := newTestClock(at(12, 0))
	service := NewRetentionService(store, testConfig())
	service.Now = clock.Now
	return service, store, clock
}

func TestRetentionService_DeleteSession(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		id          int64
		opts        models.BatchOptions
		wantApplied int
		wantSkipped int
		wantExit    models.ExitStatus
		wantDeleted bool
	}{
		{
			name:        "deletes a session",
			id:          1,
			wantApplied: 1,
			wantExit:    models.ExitSuccess,
			wantDeleted: true,
		},
		{
			name:        "missing session is a no-op",
			id:          42,
			wantSkipped: 1,
			wantExit:    models.ExitSuccess,
		},
		{
			name:     "other tenant is refused",
			id:       1,
			opts:     models.BatchOptions{TenantID: "other"},
			wantExit: models.ExitPartial,
		},
		{
			name:        "dry run",
			id:          1,
			opts:        models.BatchOptions{DryRun: true},
			wantApplied: 1,
			wantExit:    models.ExitSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, store, _ := setupRetentionServiceForTesting()
			store.AddSession(individualSession(1, at(10, 0), models.SessionStatusCompleted))

			summary := service.DeleteSession(ctx, tt.id, tt.opts)
			assert.Equal(t, tt.wantExit, summary.ExitStatus())
			assert.Equal(t, tt.wantApplied, summary.TransitionedByKind[EffectSessionDeleted])
			assert.Equal(t, tt.wantSkipped, summary.Skipped)

			stored := store.Session(1)
			require.NotNil(t, stored)
			assert.Equal(t, tt.wantDeleted, stored.DeletedAt != nil)
			assert.Equal(t, models.SessionStatusCompleted, stored.Status)
		})
	}
}

func TestRetentionService_DeletedSessionIsInvisible(t *testing.T) {
	ctx := context.Background()
	service, store, _ := setupRetentionServiceForTesting()
	store.AddSession(individualSession(1, at(10, 0), models.SessionStatusScheduled))

	summary := service.DeleteSession(ctx, 1, models.BatchOptions{})
	require.Equal(t, 1, summary.Applied())

	sessions, err := store.ListSessions(ctx, models.SessionQuery{})
	require.NoError(t, err)
	assert.Empty(t, sessions)

	again := service.DeleteSession(ctx, 1, models.BatchOptions{})
	assert.Equal(t, 1, again.Skipped)
	assert.Equal(t, models.ExitSuccess, again.ExitStatus())
}

func TestRetentionService_PurgeSweep(t *testing.T) {
	ctx := context.Background()
	service, store, clock := setupRetentionServiceForTesting()

	old := individualSession(1, at(10, 0).AddDate(0, -3, 0), models.SessionStatusCompleted)
	old.DeletedAt = new(time.Time)
	*old.DeletedAt = at(12, 0).AddDate(0, 0, -45)
	store.AddSession(old)

	recent := individualSession(2, at(10, 0).AddDate(0, -1, 0), models.SessionStatusCompleted)
	recent.DeletedAt = new(time.Time)
	*recent.DeletedAt = at(12, 0).AddDate(0, 0, -3)
	store.AddSession(recent)

	store.AddSession(individualSession(3, at(10, 0), models.SessionStatusCompleted))

	dry := service.PurgeSweep(ctx, models.BatchOptions{DryRun: true})
	assert.Equal(t, 1, dry.TransitionedByKind[EffectSessionPurged])
	assert.NotNil(t, store.Session(1))

	summary := service.PurgeSweep(ctx, models.BatchOptions{})
	assert.Equal(t, models.ExitSuccess, summary.ExitStatus())
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.TransitionedByKind[EffectSessionPurged])
	assert.Nil(t, store.Session(1))
	assert.NotNil(t, store.Session(2))
	assert.NotNil(t, store.Session(3))

	clock.Set(at(12, 0).AddDate(0, 0, 28))
	later := service.PurgeSweep(ctx, models.BatchOptions{})
	assert.Equal(t, 1, later.Applied())
	assert.Nil(t, store.Session(2))
	assert.NotNil(t, store.Session(3))
}
