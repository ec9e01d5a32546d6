// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/utils"
)

var lifecycleBase = time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2026, 4, 6, hour, minute, 0, 0, time.UTC)
}

type lifecycleFixture struct {
	service   *SessionLifecycleService
	store     *mocks.MemoryStore
	publisher *mocks.MockEventPublisher
	notifier  *mocks.MockNotifier
	clock     *testClock
}

func setupLifecycleServiceForTesting(settings *models.TenantSettings) *lifecycleFixture {
	store := mocks.NewMemoryStore()
	publisher := &mocks.MockEventPublisher{}
	publisher.On("PublishSessionStatusChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	tenants := tenantsWith(settings)
	clock := newTestClock(lifecycleBase)

	config := testConfig()
	service := NewSessionLifecycleService(store, store, tenants, publisher, notifier, config)
	service.Now = clock.Now

	attendance := NewAttendanceService(store, store, store, tenants, config)
	attendance.Now = clock.Now
	ledger := NewLedgerService(store, store, store, notifier, config)
	ledger.Now = clock.Now
	service.Attendance = attendance
	service.Ledger = ledger

	return &lifecycleFixture{
		service:   service,
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		clock:     clock,
	}
}

func TestSessionLifecycleService_ServiceReady(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*SessionLifecycleService)
		expectedReady bool
	}{
		{name: "service ready with all dependencies", mutate: func(*SessionLifecycleService) {}, expectedReady: true},
		{name: "service not ready - missing session repository", mutate: func(s *SessionLifecycleService) { s.Sessions = nil }},
		{name: "service not ready - missing event repository", mutate: func(s *SessionLifecycleService) { s.Events = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupLifecycleServiceForTesting(nil)
			tt.mutate(f.service)
			assert.Equal(t, tt.expectedReady, f.service.ServiceReady())
		})
	}
}

func TestNextTransition(t *testing.T) {
	settings := DefaultServiceConfig().TenantDefaults
	settings.ReadinessWindow = 10 * time.Minute
	settings.StartGrace = 5 * time.Minute
	settings.OvertimeAllowance = 5 * time.Minute
	join := at(10, 2)

	tests := []struct {
		name      string
		session   *models.Session
		firstJoin *time.Time
		now       time.Time
		wantKind  string
		wantTo    models.SessionStatus
	}{
		{
			name:    "scheduled before readiness window stays",
			session: individualSession(1, lifecycleBase, models.SessionStatusScheduled),
			now:     at(9, 49),
		},
		{
			name:     "scheduled at window start becomes ready",
			session:  individualSession(1, lifecycleBase, models.SessionStatusScheduled),
			now:      at(9, 50),
			wantKind: TransitionReadied,
			wantTo:   models.SessionStatusReady,
		},
		{
			name:      "join starts scheduled session",
			session:   individualSession(1, lifecycleBase, models.SessionStatusScheduled),
			firstJoin: &join,
			now:       at(9, 45),
			wantKind:  TransitionStarted,
			wantTo:    models.SessionStatusOngoing,
		},
		{
			name:      "join starts ready session",
			session:   individualSession(1, lifecycleBase, models.SessionStatusReady),
			firstJoin: &join,
			now:       at(10, 3),
			wantKind:  TransitionStarted,
			wantTo:    models.SessionStatusOngoing,
		},
		{
			name:    "ready individual within start grace stays",
			session: individualSession(1, lifecycleBase, models.SessionStatusReady),
			now:     at(10, 4),
		},
		{
			name:     "ready individual past start grace is absent",
			session:  individualSession(1, lifecycleBase, models.SessionStatusReady),
			now:      at(10, 5),
			wantKind: TransitionMarkedAbsent,
			wantTo:   models.SessionStatusAbsent,
		},
		{
			name:     "scheduled individual that missed readiness is absent",
			session:  individualSession(1, lifecycleBase, models.SessionStatusScheduled),
			now:      at(10, 30),
			wantKind: TransitionMarkedAbsent,
			wantTo:   models.SessionStatusAbsent,
		},
		{
			name:     "stale scheduled individual is not readied but marked absent",
			session:  individualSession(1, lifecycleBase.Add(-72*time.Hour), models.SessionStatusScheduled),
			now:      lifecycleBase,
			wantKind: TransitionMarkedAbsent,
			wantTo:   models.SessionStatusAbsent,
		},
		{
			name:    "ready group without joins waits for effective end",
			session: groupSession(2, lifecycleBase, models.SessionStatusReady),
			now:     at(10, 30),
		},
		{
			name:     "ready group without joins completes after effective end",
			session:  groupSession(2, lifecycleBase, models.SessionStatusReady),
			now:      at(11, 5),
			wantKind: TransitionAutoCompleted,
			wantTo:   models.SessionStatusCompleted,
		},
		{
			name: "ongoing before effective end stays",
			session: func() *models.Session {
				s := individualSession(1, lifecycleBase, models.SessionStatusOngoing)
				s.StartedAt = &join
				return s
			}(),
			now: at(10, 51),
		},
		{
			name: "ongoing at effective end completes",
			session: func() *models.Session {
				s := individualSession(1, lifecycleBase, models.SessionStatusOngoing)
				s.StartedAt = &join
				return s
			}(),
			now:      at(10, 52),
			wantKind: TransitionCompleted,
			wantTo:   models.SessionStatusCompleted,
		},
		{
			name:    "terminal session never moves",
			session: individualSession(1, lifecycleBase, models.SessionStatusAbsent),
			now:     at(12, 0),
		},
		{
			name:      "cancelled session never moves",
			session:   individualSession(1, lifecycleBase, models.SessionStatusCancelled),
			firstJoin: &join,
			now:       at(12, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := nextTransition(tt.session, settings, tt.firstJoin, tt.now, 24*time.Hour)
			if tt.wantKind == "" {
				assert.Nil(t, plan)
				return
			}
			require.NotNil(t, plan)
			assert.Equal(t, tt.wantKind, plan.kind)
			assert.Equal(t, tt.wantTo, plan.transition.To)
			assert.Contains(t, plan.transition.From, tt.session.Status)
		})
	}
}

func TestSessionLifecycleService_EndToEndIndividualNoShow(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(&models.TenantSettings{
		ReadinessWindow: 10 * time.Minute,
		StartGrace:      5 * time.Minute,
	})

	subID := int64(7)
	session := individualSession(1, lifecycleBase, models.SessionStatusScheduled)
	session.SubscriptionID = &subID
	f.store.AddSession(session)
	f.store.AddSubscription(&models.Subscription{
		ID:                subID,
		TenantID:          testTenant,
		StudentRef:        "student-1",
		TotalSessions:     8,
		SessionsRemaining: 8,
		Status:            models.SubscriptionStatusActive,
	})

	f.clock.Set(at(9, 50))
	summary := f.service.SweepStatuses(ctx, models.BatchOptions{})
	assert.Equal(t, models.ExitSuccess, summary.ExitStatus())
	assert.Equal(t, 1, summary.TransitionedByKind[TransitionReadied])
	assert.Equal(t, models.SessionStatusReady, f.store.Session(1).Status)

	f.clock.Set(at(10, 5))
	summary = f.service.SweepStatuses(ctx, models.BatchOptions{})
	assert.Equal(t, 1, summary.TransitionedByKind[TransitionMarkedAbsent])

	stored := f.store.Session(1)
	assert.Equal(t, models.SessionStatusAbsent, stored.Status)
	assert.True(t, stored.SubscriptionCounted)

	sub := f.store.Subscription(subID)
	assert.Equal(t, 1, sub.SessionsUsed)
	assert.Equal(t, 7, sub.SessionsRemaining)

	records := f.store.Records(1)
	require.Len(t, records, 1)
	assert.Equal(t, models.AttendanceStatusAbsent, records[0].Status)

	// a second apply is a skip and leaves the counters alone
	_, err := f.service.Ledger.Apply(ctx, stored, false)
	require.Error(t, err)
	assert.True(t, domain.IsSkip(err))
	assert.Equal(t, 1, f.store.Subscription(subID).SessionsUsed)

	again := f.service.Ledger.ApplySweep(ctx, models.BatchOptions{})
	assert.Equal(t, 0, again.Processed)
	assert.Equal(t, 1, f.store.Subscription(subID).SessionsUsed)

	f.notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Type == models.NotificationSessionAbsent && n.Recipient == "student-1"
	}))
	f.publisher.AssertNumberOfCalls(t, "PublishSessionStatusChanged", 2)
}

func TestSessionLifecycleService_JoinStartsThenCompletes(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(nil)
	f.service.Config.ChainTerminalEffects = false

	f.store.AddSession(individualSession(1, lifecycleBase, models.SessionStatusReady))
	_, err := f.store.Append(ctx, &models.AttendanceEvent{
		SessionID:      1,
		ParticipantRef: "student-1",
		EventType:      models.AttendanceEventJoin,
		Timestamp:      at(10, 2),
	})
	require.NoError(t, err)

	f.clock.Set(at(11, 30))
	summary := f.service.SweepStatuses(ctx, models.BatchOptions{})
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.TransitionedByKind[TransitionStarted])
	assert.Equal(t, 1, summary.TransitionedByKind[TransitionCompleted])

	stored := f.store.Session(1)
	assert.Equal(t, models.SessionStatusCompleted, stored.Status)
	require.NotNil(t, stored.StartedAt)
	assert.Equal(t, at(10, 2), *stored.StartedAt)
	require.NotNil(t, stored.EndedAt)
	// started 10:02 + 45m; overtime is not part of the recorded end
	assert.Equal(t, at(10, 47), *stored.EndedAt)
}

func TestSessionLifecycleService_AutoCompleteExcludesOvertimeFromAttendance(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(nil)

	session := individualSession(1, lifecycleBase, models.SessionStatusOngoing)
	session.StartedAt = utils.Ptr(at(10, 0))
	f.store.AddSession(session)
	// joins and never leaves
	_, err := f.store.Append(ctx, &models.AttendanceEvent{
		SessionID:      1,
		ParticipantRef: "student-1",
		EventType:      models.AttendanceEventJoin,
		Timestamp:      at(10, 0),
	})
	require.NoError(t, err)

	f.clock.Set(at(11, 0))
	summary := f.service.SweepStatuses(ctx, models.BatchOptions{})
	assert.Equal(t, 1, summary.TransitionedByKind[TransitionCompleted])
	assert.Equal(t, at(10, 45), *f.store.Session(1).EndedAt)

	records := f.store.Records(1)
	require.Len(t, records, 1)
	require.Len(t, records[0].Cycles, 1)
	assert.True(t, records[0].Cycles[0].AutoClosed)
	assert.Equal(t, at(10, 45), records[0].Cycles[0].End)
	assert.Equal(t, 45, records[0].TotalDurationMinutes)
}

func TestSessionLifecycleService_GroupAutoCompletes(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(nil)
	f.service.Config.ChainTerminalEffects = false
	f.store.AddSession(groupSession(2, lifecycleBase, models.SessionStatusReady))

	f.clock.Set(at(11, 10))
	summary := f.service.SweepStatuses(ctx, models.BatchOptions{})
	assert.Equal(t, 1, summary.TransitionedByKind[TransitionAutoCompleted])

	stored := f.store.Session(2)
	assert.Equal(t, models.SessionStatusCompleted, stored.Status)
	assert.Equal(t, at(11, 0), *stored.EndedAt)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestSessionLifecycleService_SweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(nil)
	for id := int64(1); id <= 5; id++ {
		f.store.AddSession(individualSession(id, at(9, 0), models.SessionStatusReady))
	}
	f.clock.Set(at(10, 0))

	first := f.service.SweepStatuses(ctx, models.BatchOptions{})
	assert.Equal(t, 5, first.Applied())

	second := f.service.SweepStatuses(ctx, models.BatchOptions{})
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 0, second.Applied())
	assert.Equal(t, models.ExitSuccess, second.ExitStatus())
}

func TestSessionLifecycleService_OverlappingSweepsApplyOnce(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(nil)
	f.service.Config.ChainTerminalEffects = false
	const sessions = 40
	for id := int64(1); id <= sessions; id++ {
		f.store.AddSession(individualSession(id, at(9, 0), models.SessionStatusReady))
	}
	f.clock.Set(at(10, 0))

	var wg sync.WaitGroup
	results := make([]*models.BatchSummary, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.service.SweepStatuses(ctx, models.BatchOptions{})
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		assert.Equal(t, 0, r.ErrorCount)
		applied += r.TransitionedByKind[TransitionMarkedAbsent]
	}
	assert.Equal(t, sessions, applied)
	for id := int64(1); id <= sessions; id++ {
		assert.Equal(t, models.SessionStatusAbsent, f.store.Session(id).Status)
	}
	f.publisher.AssertNumberOfCalls(t, "PublishSessionStatusChanged", sessions)
}

func TestSessionLifecycleService_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(nil)
	f.store.AddSession(individualSession(1, at(9, 0), models.SessionStatusScheduled))
	f.clock.Set(at(10, 0))

	summary := f.service.SweepStatuses(ctx, models.BatchOptions{DryRun: true})
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.TransitionedByKind[TransitionMarkedAbsent])
	assert.Equal(t, models.SessionStatusScheduled, f.store.Session(1).Status)
	f.publisher.AssertNotCalled(t, "PublishSessionStatusChanged", mock.Anything, mock.Anything)
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestSessionLifecycleService_ItemErrorsDoNotAbort(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(nil)
	f.service.Config.ChainTerminalEffects = false
	for id := int64(1); id <= 3; id++ {
		f.store.AddSession(individualSession(id, at(9, 0), models.SessionStatusReady))
	}
	f.store.TransitionErr[2] = errors.New("deadlock detected")
	f.clock.Set(at(10, 0))

	summary := f.service.SweepStatuses(ctx, models.BatchOptions{})
	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Applied())
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, models.ExitPartial, summary.ExitStatus())
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "2", summary.Errors[0].ID)
	assert.Equal(t, models.SessionStatusReady, f.store.Session(2).Status)
}

func TestSessionLifecycleService_TenantFilter(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(nil)
	f.service.Config.ChainTerminalEffects = false
	f.store.AddSession(individualSession(1, at(9, 0), models.SessionStatusReady))
	other := individualSession(2, at(9, 0), models.SessionStatusReady)
	other.TenantID = "huda"
	f.store.AddSession(other)
	f.clock.Set(at(10, 0))

	summary := f.service.SweepStatuses(ctx, models.BatchOptions{TenantID: "huda"})
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, models.SessionStatusReady, f.store.Session(1).Status)
	assert.Equal(t, models.SessionStatusAbsent, f.store.Session(2).Status)
}

func TestSessionLifecycleService_TerminalStatesAreMonotonic(t *testing.T) {
	ctx := context.Background()
	f := setupLifecycleServiceForTesting(nil)
	terminal := []models.SessionStatus{
		models.SessionStatusCompleted,
		models.SessionStatusAbsent,
		models.SessionStatusCancelled,
	}
	for i, status := range terminal {
		f.store.AddSession(individualSession(int64(i+1), at(9, 0), status))
	}

	for _, now := range []time.Time{at(8, 0), at(9, 55), at(12, 0), at(23, 59)} {
		f.clock.Set(now)
		f.service.SweepStatuses(ctx, models.BatchOptions{Force: true})
		for i, status := range terminal {
			assert.Equal(t, status, f.store.Session(int64(i+1)).Status)
		}
		cancel := f.service.CancelSession(ctx, 1, "", models.BatchOptions{})
		assert.Equal(t, 0, cancel.Applied())
	}
}

func TestSessionLifecycleService_MarkStarted(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		status      models.SessionStatus
		withJoin    bool
		wantStarted bool
	}{
		{name: "ready session with a join starts", status: models.SessionStatusReady, withJoin: true, wantStarted: true},
		{name: "scheduled session with a join starts", status: models.SessionStatusScheduled, withJoin: true, wantStarted: true},
		{name: "no join leaves the session alone", status: models.SessionStatusReady},
		{name: "ongoing session is left alone", status: models.SessionStatusOngoing, withJoin: true},
		{name: "cancelled session is left alone", status: models.SessionStatusCancelled, withJoin: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupLifecycleServiceForTesting(nil)
			f.store.AddSession(individualSession(1, lifecycleBase, tt.status))
			if tt.withJoin {
				_, err := f.store.Append(ctx, &models.AttendanceEvent{
					SessionID:      1,
					ParticipantRef: "student-1",
					EventType:      models.AttendanceEventJoin,
					Timestamp:      at(9, 58),
				})
				require.NoError(t, err)
			}

			started, err := f.service.MarkStarted(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStarted, started)
			if tt.wantStarted {
				stored := f.store.Session(1)
				assert.Equal(t, models.SessionStatusOngoing, stored.Status)
				assert.Equal(t, at(9, 58), *stored.StartedAt)
			} else {
				assert.Equal(t, tt.status, f.store.Session(1).Status)
			}
		})
	}

	t.Run("unknown session", func(t *testing.T) {
		f := setupLifecycleServiceForTesting(nil)
		_, err := f.service.MarkStarted(ctx, 99)
		require.Error(t, err)
		assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
	})
}

func TestSessionLifecycleService_CompleteSession(t *testing.T) {
	ctx := context.Background()

	t.Run("ongoing session completes now and chains the ledger", func(t *testing.T) {
		f := setupLifecycleServiceForTesting(nil)
		session := individualSession(1, lifecycleBase, models.SessionStatusOngoing)
		session.StartedAt = utils.Ptr(at(10, 1))
		session.SubscriptionID = utils.Ptr(int64(3))
		f.store.AddSession(session)
		f.store.AddSubscription(&models.Subscription{
			ID: 3, TenantID: testTenant, StudentRef: "student-1",
			TotalSessions: 1, SessionsRemaining: 1, Status: models.SubscriptionStatusActive,
		})
		f.clock.Set(at(10, 20))

		summary := f.service.CompleteSession(ctx, 1, models.BatchOptions{})
		assert.Equal(t, 1, summary.TransitionedByKind[TransitionManualEnd])

		stored := f.store.Session(1)
		assert.Equal(t, models.SessionStatusCompleted, stored.Status)
		assert.Equal(t, at(10, 20), *stored.EndedAt)
		assert.True(t, stored.SubscriptionCounted)
		assert.Equal(t, 0, f.store.Subscription(3).SessionsRemaining)
		f.notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
			return n.Type == models.NotificationSubscriptionExhausted && n.Important
		}))
	})

	t.Run("session that has not started is skipped", func(t *testing.T) {
		f := setupLifecycleServiceForTesting(nil)
		f.store.AddSession(individualSession(1, lifecycleBase, models.SessionStatusReady))

		summary := f.service.CompleteSession(ctx, 1, models.BatchOptions{})
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, models.SessionStatusReady, f.store.Session(1).Status)
	})

	t.Run("unknown session is an item error", func(t *testing.T) {
		f := setupLifecycleServiceForTesting(nil)
		summary := f.service.CompleteSession(ctx, 42, models.BatchOptions{})
		assert.Equal(t, models.ExitPartial, summary.ExitStatus())
	})
}

func TestSessionLifecycleService_CancelSession(t *testing.T) {
	ctx := context.Background()

	for _, status := range models.NonTerminalStatuses() {
		t.Run("cancels "+string(status), func(t *testing.T) {
			f := setupLifecycleServiceForTesting(nil)
			f.store.AddSession(individualSession(1, lifecycleBase, status))

			summary := f.service.CancelSession(ctx, 1, "teacher unavailable", models.BatchOptions{})
			assert.Equal(t, 1, summary.TransitionedByKind[TransitionCancelled])
			assert.Equal(t, models.SessionStatusCancelled, f.store.Session(1).Status)
			f.publisher.AssertCalled(t, "PublishSessionStatusChanged", mock.Anything, mock.MatchedBy(func(m models.SessionStatusChangedMessage) bool {
				return m.From == status && m.To == models.SessionStatusCancelled && m.Reason == "teacher unavailable"
			}))
		})
	}

	t.Run("cancelled session is not billed", func(t *testing.T) {
		f := setupLifecycleServiceForTesting(nil)
		session := individualSession(1, lifecycleBase, models.SessionStatusReady)
		session.SubscriptionID = utils.Ptr(int64(3))
		f.store.AddSession(session)
		f.store.AddSubscription(&models.Subscription{ID: 3, TenantID: testTenant, TotalSessions: 4, SessionsRemaining: 4, Status: models.SubscriptionStatusActive})

		f.service.CancelSession(ctx, 1, "", models.BatchOptions{})
		assert.False(t, f.store.Session(1).SubscriptionCounted)
		assert.Equal(t, 0, f.store.Subscription(3).SessionsUsed)
	})

	t.Run("other tenant is refused", func(t *testing.T) {
		f := setupLifecycleServiceForTesting(nil)
		f.store.AddSession(individualSession(1, lifecycleBase, models.SessionStatusReady))

		summary := f.service.CancelSession(ctx, 1, "", models.BatchOptions{TenantID: "huda"})
		assert.Equal(t, 1, summary.ErrorCount)
		assert.Equal(t, models.SessionStatusReady, f.store.Session(1).Status)
	})
}

func TestSessionLifecycleService_NotReady(t *testing.T) {
	f := setupLifecycleServiceForTesting(nil)
	f.service.Sessions = nil
	summary := f.service.SweepStatuses(context.Background(), models.BatchOptions{})
	assert.Equal(t, models.ExitFatal, summary.ExitStatus())
}
