// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"math/rand"
	"slices"
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

func setupGracePeriodServiceForTesting(settings *models.TenantSettings) (*GracePeriodService, *mocks.MemoryStore, *mocks.MockNotifier, *testClock) {
	store := mocks.NewMemoryStore()
	notifier := &mocks.MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()
	clock := newTestClock(at(12, 0))
	service := NewGracePeriodService(store, tenantsWith(settings), notifier, testConfig())
	service.Now = clock.Now
	return service, store, notifier, clock
}

func TestGracePeriodService_Extend(t *testing.T) {
	ctx := context.Background()
	service, store, _, _ := setupGracePeriodServiceForTesting(nil)
	sub := activeSubscription(1, 8, 8)
	store.AddSubscription(sub)

	t1 := sub.EndsAt.Add(14 * 24 * time.Hour)
	t0 := sub.EndsAt.Add(7 * 24 * time.Hour)

	entry, err := service.Extend(ctx, ExtendRequest{SubscriptionID: 1, Until: t1, Reason: "renewal pending", Actor: "admin-1"}, false)
	require.NoError(t, err)
	assert.Equal(t, t1, entry.Applied)
	assert.Nil(t, entry.Previous)
	assert.NotEmpty(t, entry.ID)

	entry, err = service.Extend(ctx, ExtendRequest{SubscriptionID: 1, Until: t0, Actor: "admin-2"}, false)
	require.NoError(t, err)
	assert.Equal(t, t1, entry.Applied)
	require.NotNil(t, entry.Previous)
	assert.Equal(t, t1, *entry.Previous)

	stored := store.Subscription(1)
	require.NotNil(t, stored.Metadata.GracePeriodEndsAt)
	assert.Equal(t, t1, *stored.Metadata.GracePeriodEndsAt)
	assert.Len(t, stored.Metadata.GraceExtensions, 2)
	assert.Equal(t, sub.EndsAt, stored.EndsAt)
	assert.Equal(t, t1, stored.AccessEndsAt())
}

func TestGracePeriodService_ExtendIsMonotonic(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for iteration := 0; iteration < 50; iteration++ {
		service, store, _, _ := setupGracePeriodServiceForTesting(nil)
		sub := activeSubscription(1, 4, 0)
		store.AddSubscription(sub)

		var highest time.Time
		for step := 0; step < 8; step++ {
			until := sub.EndsAt.Add(time.Duration(1+rng.Intn(60*24)) * time.Minute * 30)
			_, err := service.Extend(ctx, ExtendRequest{SubscriptionID: 1, Until: until}, false)
			require.NoError(t, err)
			highest = utils.MaxTime(highest, until)

			boundary := store.Subscription(1).Metadata.GracePeriodEndsAt
			require.NotNil(t, boundary)
			assert.Equal(t, highest, *boundary)
		}
		assert.Len(t, store.Subscription(1).Metadata.GraceExtensions, 8)
	}
}

func TestGracePeriodService_ExtendRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("boundary before the nominal end", func(t *testing.T) {
		service, store, _, _ := setupGracePeriodServiceForTesting(nil)
		sub := activeSubscription(1, 4, 0)
		store.AddSubscription(sub)
		_, err := service.Extend(ctx, ExtendRequest{SubscriptionID: 1, Until: sub.EndsAt.Add(-time.Hour)}, false)
		require.Error(t, err)
		assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
	})

	t.Run("cancelled subscription", func(t *testing.T) {
		service, store, _, _ := setupGracePeriodServiceForTesting(nil)
		sub := activeSubscription(1, 4, 0)
		sub.Status = models.SubscriptionStatusCancelled
		store.AddSubscription(sub)
		_, err := service.Extend(ctx, ExtendRequest{SubscriptionID: 1, Until: sub.EndsAt.Add(time.Hour)}, false)
		require.Error(t, err)
		assert.True(t, domain.IsSkip(err))
	})

	t.Run("unknown subscription is an item error", func(t *testing.T) {
		service, _, _, _ := setupGracePeriodServiceForTesting(nil)
		summary := service.ExtendGrace(ctx, ExtendRequest{SubscriptionID: 5, Until: at(12, 0)}, models.BatchOptions{})
		assert.Equal(t, models.ExitPartial, summary.ExitStatus())
	})

	t.Run("dry run leaves metadata alone", func(t *testing.T) {
		service, store, _, _ := setupGracePeriodServiceForTesting(nil)
		sub := activeSubscription(1, 4, 0)
		store.AddSubscription(sub)
		summary := service.ExtendGrace(ctx, ExtendRequest{SubscriptionID: 1, Until: sub.EndsAt.Add(time.Hour)}, models.BatchOptions{DryRun: true})
		assert.Equal(t, 1, summary.TransitionedByKind[EffectGraceExtended])
		assert.Nil(t, store.Subscription(1).Metadata.GracePeriodEndsAt)
	})
}

func TestDecideGraceReminder(t *testing.T) {
	now := time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)
	earlierToday := time.Date(2026, 4, 6, 8, 0, 0, 0, time.UTC)
	yesterday := time.Date(2026, 4, 5, 22, 0, 0, 0, time.UTC)

	marker := func(sentAt *time.Time, days *int) models.SubscriptionMetadata {
		return models.SubscriptionMetadata{GraceNotificationLastSentAt: sentAt, GraceNotificationLastDays: days}
	}

	tests := []struct {
		name     string
		metadata models.SubscriptionMetadata
		now      time.Time
		graceEnd time.Time
		loc      *time.Location
		wantSend bool
		wantDays int
	}{
		{
			name:     "first reminder is always sent",
			graceEnd: now.Add(10 * 24 * time.Hour),
			wantSend: true,
			wantDays: 10,
		},
		{
			name:     "days are floored",
			graceEnd: now.Add(3*24*time.Hour + 23*time.Hour),
			wantSend: true,
			wantDays: 3,
		},
		{
			name:     "past boundary clamps to zero",
			metadata: marker(&yesterday, utils.Ptr(1)),
			graceEnd: now.Add(-time.Hour),
			wantSend: true,
			wantDays: 0,
		},
		{
			name:     "new day sends again",
			metadata: marker(&yesterday, utils.Ptr(6)),
			graceEnd: now.Add(5 * 24 * time.Hour),
			wantSend: true,
			wantDays: 5,
		},
		{
			name:     "same day without threshold is suppressed",
			metadata: marker(&earlierToday, utils.Ptr(6)),
			graceEnd: now.Add(5 * 24 * time.Hour),
			wantDays: 5,
		},
		{
			name:     "same day newly crossing three days repeats",
			metadata: marker(&earlierToday, utils.Ptr(4)),
			graceEnd: now.Add(3*24*time.Hour + time.Hour),
			wantSend: true,
			wantDays: 3,
		},
		{
			name:     "same day already at three days is suppressed",
			metadata: marker(&earlierToday, utils.Ptr(3)),
			graceEnd: now.Add(3*24*time.Hour + time.Hour),
			wantDays: 3,
		},
		{
			name:     "same day crossing to zero repeats",
			metadata: marker(&earlierToday, utils.Ptr(1)),
			graceEnd: now.Add(2 * time.Hour),
			wantSend: true,
			wantDays: 0,
		},
		{
			name:     "same day crossing to two is suppressed",
			metadata: marker(&earlierToday, utils.Ptr(3)),
			graceEnd: now.Add(2*24*time.Hour + time.Hour),
			wantDays: 2,
		},
		{
			name:     "same day with no recorded days is suppressed",
			metadata: marker(&earlierToday, nil),
			graceEnd: now.Add(24 * time.Hour),
			wantDays: 1,
		},
		{
			name:     "tenant-local midnight starts a new day",
			metadata: marker(utils.Ptr(time.Date(2026, 4, 6, 20, 30, 0, 0, time.UTC)), utils.Ptr(5)),
			// 21:30 UTC is 00:30 the next day at UTC+3
			now:      time.Date(2026, 4, 6, 21, 30, 0, 0, time.UTC),
			graceEnd: time.Date(2026, 4, 11, 0, 0, 0, 0, time.UTC),
			loc:      time.FixedZone("UTC+3", 3*60*60),
			wantSend: true,
			wantDays: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := now
			if !tt.now.IsZero() {
				current = tt.now
			}
			send, days := DecideGraceReminder(tt.metadata, tt.graceEnd, current, tt.loc)
			assert.Equal(t, tt.wantSend, send)
			assert.Equal(t, tt.wantDays, days)
		})
	}
}

// TestDecideGraceReminder_Properties simulates hourly sweeps through a grace
// period and checks the policy over every tenant-local day.
func TestDecideGraceReminder_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	zones := []*time.Location{
		time.UTC,
		time.FixedZone("UTC+3", 3*60*60),
		time.FixedZone("UTC-5", -5*60*60),
		time.FixedZone("UTC+5:30", 5*60*60+30*60),
	}

	for iteration := 0; iteration < 200; iteration++ {
		loc := zones[rng.Intn(len(zones))]
		start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(rng.Intn(24*60)) * time.Minute)
		graceEnd := start.Add(time.Duration(1+rng.Intn(10*24)) * time.Hour)

		var metadata models.SubscriptionMetadata
		sendsPerDay := map[string][]int{}
		step := time.Duration(15+rng.Intn(120)) * time.Minute

		for now := start; !now.After(graceEnd); now = now.Add(step) {
			send, days := DecideGraceReminder(metadata, graceEnd, now, loc)
			require.GreaterOrEqual(t, days, 0)
			if !send {
				continue
			}
			sentAt := now
			d := days
			metadata.GraceNotificationLastSentAt = &sentAt
			metadata.GraceNotificationLastDays = &d

			key := now.In(loc).Format("2006-01-02")
			sendsPerDay[key] = append(sendsPerDay[key], days)
		}

		require.NotEmpty(t, sendsPerDay, "at least one reminder is sent during a grace period")
		for day, sends := range sendsPerDay {
			// days remaining strictly decrease within one local day
			for i := 1; i < len(sends); i++ {
				assert.Less(t, sends[i], sends[i-1], "day %s sends %v", day, sends)
				assert.True(t, slices.Contains([]int{3, 1, 0}, sends[i]),
					"repeat on %s must be at a threshold, got %v", day, sends)
			}
			assert.LessOrEqual(t, len(sends), 4, "day %s sends %v", day, sends)
		}
	}
}

func TestGracePeriodService_GraceReminderSweep(t *testing.T) {
	ctx := context.Background()
	service, store, notifier, clock := setupGracePeriodServiceForTesting(&models.TenantSettings{Timezone: "Asia/Riyadh"})

	inGrace := activeSubscription(1, 8, 8)
	inGrace.Metadata.GracePeriodEndsAt = utils.Ptr(at(12, 0).Add(3*24*time.Hour + 2*time.Hour))
	store.AddSubscription(inGrace)

	noGrace := activeSubscription(2, 8, 8)
	store.AddSubscription(noGrace)

	passed := activeSubscription(3, 8, 8)
	passed.Metadata.GracePeriodEndsAt = utils.Ptr(at(11, 0))
	store.AddSubscription(passed)

	summary := service.GraceReminderSweep(ctx, models.BatchOptions{})
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.TransitionedByKind[EffectGraceReminderSent])

	stored := store.Subscription(1)
	require.NotNil(t, stored.Metadata.GraceNotificationLastSentAt)
	assert.Equal(t, at(12, 0), *stored.Metadata.GraceNotificationLastSentAt)
	assert.Equal(t, 3, *stored.Metadata.GraceNotificationLastDays)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
	notifier.AssertCalled(t, "Notify", mock.Anything, mock.MatchedBy(func(n models.Notification) bool {
		return n.Type == models.NotificationGraceReminder && n.Payload["days_remaining"] == 3
	}))

	// the next hourly run the same day sends nothing
	clock.Set(at(13, 0))
	again := service.GraceReminderSweep(ctx, models.BatchOptions{})
	assert.Equal(t, 0, again.Applied())
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestGracePeriodService_ReminderClaimBeforeSend(t *testing.T) {
	ctx := context.Background()
	service, store, notifier, _ := setupGracePeriodServiceForTesting(nil)
	sub := activeSubscription(1, 8, 8)
	sub.Metadata.GracePeriodEndsAt = utils.Ptr(at(12, 0).Add(48 * time.Hour))
	store.AddSubscription(sub)

	// a concurrent run claimed the marker after our snapshot was read
	stale := store.Subscription(1)
	_, err := store.UpdateMetadata(ctx, 1, stale.Metadata, stale.Version)
	require.NoError(t, err)

	tenants := newTenantResolver(service.Tenants, service.Config.TenantDefaults)
	sent, err := service.remind(ctx, stale, tenants, at(12, 0), false)
	assert.False(t, sent)
	require.Error(t, err)
	assert.Equal(t, domain.ErrorTypeConcurrencyMiss, domain.GetErrorType(err))
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestGracePeriodService_ExpireGraceSweep(t *testing.T) {
	ctx := context.Background()
	service, store, notifier, _ := setupGracePeriodServiceForTesting(nil)

	ended := activeSubscription(1, 8, 3)
	ended.EndsAt = at(11, 0)
	store.AddSubscription(ended)

	graceRunning := activeSubscription(2, 8, 3)
	graceRunning.EndsAt = at(11, 0)
	graceRunning.Metadata.GracePeriodEndsAt = utils.Ptr(at(18, 0))
	store.AddSubscription(graceRunning)

	graceOver := activeSubscription(3, 8, 3)
	graceOver.EndsAt = at(0, 0).AddDate(0, 0, -5)
	graceOver.Metadata.GracePeriodEndsAt = utils.Ptr(at(11, 59))
	store.AddSubscription(graceOver)

	stillPaid := activeSubscription(4, 8, 3)
	store.AddSubscription(stillPaid)

	dry := service.ExpireGraceSweep(ctx, models.BatchOptions{DryRun: true})
	assert.Equal(t, 2, dry.Applied())
	assert.Equal(t, models.SubscriptionStatusActive, store.Subscription(1).Status)

	summary := service.ExpireGraceSweep(ctx, models.BatchOptions{})
	assert.Equal(t, 2, summary.TransitionedByKind[EffectSubscriptionExpired])
	assert.Equal(t, models.SubscriptionStatusExpired, store.Subscription(1).Status)
	assert.Equal(t, models.SubscriptionStatusActive, store.Subscription(2).Status)
	assert.Equal(t, models.SubscriptionStatusExpired, store.Subscription(3).Status)
	assert.Equal(t, models.SubscriptionStatusActive, store.Subscription(4).Status)
	notifier.AssertNumberOfCalls(t, "Notify", 2)

	rerun := service.ExpireGraceSweep(ctx, models.BatchOptions{})
	assert.Equal(t, 0, rerun.Processed)
}
