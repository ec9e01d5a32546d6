// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/constants"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/utils"
)

// Effect kinds reported by the grace period sweeps.
const (
	EffectGraceExtended       = "grace_extended"
	EffectGraceReminderSent   = "grace_reminder_sent"
	EffectSubscriptionExpired = "subscription_expired"
)

// GracePeriodService manages the grace boundary of subscriptions, the
// reminders sent while it runs out and expiry once it has passed.
type GracePeriodService struct {
	Subscriptions domain.SubscriptionRepository
	Tenants       domain.TenantDirectory
	Notifier      domain.Notifier
	Metrics       *Metrics
	Config        ServiceConfig
	Now           func() time.Time
}

// NewGracePeriodService creates a new GracePeriodService.
func NewGracePeriodService(
	subscriptions domain.SubscriptionRepository,
	tenants domain.TenantDirectory,
	notifier domain.Notifier,
	config ServiceConfig,
) *GracePeriodService {
	return &GracePeriodService{
		Subscriptions: subscriptions,
		Tenants:       tenants,
		Notifier:      notifier,
		Config:        config,
		Now:           time.Now,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *GracePeriodService) ServiceReady() bool {
	return s.Subscriptions != nil
}

// ExtendRequest asks for the grace boundary to be moved to Until.
type ExtendRequest struct {
	SubscriptionID int64
	Until          time.Time
	Reason         string
	Actor          string
}

// Extend moves the grace boundary to max(current, Until) and appends an entry
// to the extension log. The nominal end date is never touched. A request for
// an earlier boundary still logs an entry but leaves the boundary alone.
func (s *GracePeriodService) Extend(ctx context.Context, req ExtendRequest, dryRun bool) (*models.GraceExtension, error) {
	if !s.ServiceReady() {
		return nil, domain.ErrServiceUnavailable
	}
	if req.Until.IsZero() {
		return nil, domain.NewValidationError("grace boundary is required")
	}

	for attempt := 1; attempt <= constants.GraceUpdateMaxAttempts; attempt++ {
		sub, err := s.Subscriptions.GetSubscription(ctx, req.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub.Status != models.SubscriptionStatusActive {
			return nil, domain.NewPreconditionSkip(fmt.Sprintf("subscription %d is %s", sub.ID, sub.Status))
		}
		if !req.Until.After(sub.EndsAt) {
			return nil, domain.NewValidationError(fmt.Sprintf("grace boundary %s is not after the subscription end %s",
				req.Until.Format(time.RFC3339), sub.EndsAt.Format(time.RFC3339)))
		}

		prev := sub.Metadata.GracePeriodEndsAt
		applied := req.Until
		if prev != nil {
			applied = utils.MaxTime(*prev, req.Until)
		}

		entry := models.GraceExtension{
			ID:        uuid.New().String(),
			At:        s.Now(),
			Requested: req.Until,
			Previous:  prev,
			Applied:   applied,
			Reason:    req.Reason,
			Actor:     req.Actor,
		}
		if dryRun {
			return &entry, nil
		}

		metadata := sub.Metadata
		metadata.GracePeriodEndsAt = &applied
		metadata.GraceExtensions = append(slices.Clone(sub.Metadata.GraceExtensions), entry)

		ok, err := s.Subscriptions.UpdateMetadata(ctx, sub.ID, metadata, sub.Version)
		if err != nil {
			return nil, err
		}
		if ok {
			slog.InfoContext(ctx, "grace period extended",
				"subscription_id", sub.ID,
				"grace_period_ends_at", applied,
				"requested", req.Until,
				"actor", req.Actor,
			)
			return &entry, nil
		}
		slog.DebugContext(ctx, "subscription version changed, retrying extension",
			"subscription_id", sub.ID, "attempt", attempt)
	}

	return nil, domain.NewConcurrencyMiss(fmt.Sprintf("subscription %d kept changing during extension", req.SubscriptionID))
}

// ExtendGrace runs Extend as a single-item batch.
func (s *GracePeriodService) ExtendGrace(ctx context.Context, req ExtendRequest, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "extend-grace")
	summary := models.NewBatchSummary("extend-grace", opts, s.Now())
	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}

	summary.RecordProcessed()
	id := strconv.FormatInt(req.SubscriptionID, 10)
	_, err := s.Extend(ctx, req, opts.DryRun)
	switch {
	case err == nil:
		summary.RecordApplied(EffectGraceExtended)
	case domain.IsSkip(err):
		summary.RecordSkipped()
	case domain.GetErrorType(err) == domain.ErrorTypeUnavailable:
		return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
	default:
		summary.RecordError(id, "grace", err)
	}
	return finishBatch(ctx, summary, s.Metrics, s.Now(), nil)
}

// DecideGraceReminder applies the reminder policy: at most one reminder per
// tenant-local calendar day, except that reaching 3, 1 or 0 days remaining
// allows another one on the same day when the previous send was made with
// more days remaining. days is the whole number of days left, never negative.
func DecideGraceReminder(metadata models.SubscriptionMetadata, graceEnd, now time.Time, loc *time.Location) (send bool, days int) {
	days = max(0, int(graceEnd.Sub(now)/(24*time.Hour)))

	last := metadata.GraceNotificationLastSentAt
	if last == nil {
		return true, days
	}
	if loc == nil {
		loc = time.UTC
	}
	if !sameLocalDay(*last, now, loc) {
		return true, days
	}

	lastDays := metadata.GraceNotificationLastDays
	if lastDays == nil || !slices.Contains(constants.GraceReminderThresholds, days) {
		return false, days
	}
	return *lastDays > days, days
}

func sameLocalDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// GraceReminderSweep sends due reminders for subscriptions in grace. The
// marker is claimed with a versioned write before the notification goes out,
// so two overlapping runs never both send.
func (s *GracePeriodService) GraceReminderSweep(ctx context.Context, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "grace-reminders")
	now := s.Now()
	summary := models.NewBatchSummary("grace-reminders", opts, now)
	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}

	tenants := newTenantResolver(s.Tenants, s.Config.TenantDefaults)
	pool := s.Config.pool()
	query := models.SubscriptionQuery{
		TenantID: opts.TenantID,
		Statuses: []models.SubscriptionStatus{models.SubscriptionStatusActive},
		InGrace:  true,
	}

	err := forEachSubscriptionChunk(ctx, s.Subscriptions, query, s.Config.chunkSize(), func(ctx context.Context, chunk []*models.Subscription) {
		processItems(ctx, pool, summary, chunk, subscriptionKey, "grace_reminder",
			func(ctx context.Context, sub *models.Subscription) (bool, error) {
				sent, err := s.remind(ctx, sub, tenants, now, opts.DryRun)
				if sent {
					summary.RecordApplied(EffectGraceReminderSent)
				}
				return sent, err
			})
	})
	return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
}

func (s *GracePeriodService) remind(
	ctx context.Context,
	sub *models.Subscription,
	tenants *tenantResolver,
	now time.Time,
	dryRun bool,
) (bool, error) {
	graceEnd := sub.Metadata.GracePeriodEndsAt
	if graceEnd == nil || now.After(*graceEnd) {
		return false, nil
	}

	settings, err := tenants.Resolve(ctx, sub.TenantID)
	if err != nil {
		return false, err
	}
	send, days := DecideGraceReminder(sub.Metadata, *graceEnd, now, settings.Location())
	if !send {
		return false, nil
	}
	if dryRun {
		slog.DebugContext(ctx, "dry run: would send grace reminder", "subscription_id", sub.ID, "days_remaining", days)
		return true, nil
	}

	metadata := sub.Metadata
	sentAt := now
	metadata.GraceNotificationLastSentAt = &sentAt
	metadata.GraceNotificationLastDays = &days
	ok, err := s.Subscriptions.UpdateMetadata(ctx, sub.ID, metadata, sub.Version)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, domain.NewConcurrencyMiss(fmt.Sprintf("subscription %d changed before its reminder was claimed", sub.ID))
	}

	if s.Notifier != nil {
		notification := models.Notification{
			Recipient: sub.StudentRef,
			Type:      models.NotificationGraceReminder,
			Payload: map[string]any{
				"subscription_id":      sub.ID,
				"days_remaining":       days,
				"grace_period_ends_at": graceEnd.UTC(),
			},
			Link:      s.Config.links().SubscriptionURL(sub.TenantID, sub.ID),
			Metadata:  map[string]any{"tenant_id": sub.TenantID},
			Important: days <= 1,
			CreatedAt: now,
		}
		if err := s.Notifier.Notify(ctx, notification); err != nil {
			// the marker is already written; this reminder is lost rather than duplicated
			return false, domain.NewInternalError(fmt.Sprintf("grace reminder for subscription %d not delivered", sub.ID), err)
		}
	}
	return true, nil
}

// ExpireGraceSweep expires active subscriptions whose access has ended.
func (s *GracePeriodService) ExpireGraceSweep(ctx context.Context, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "expire-grace")
	now := s.Now()
	summary := models.NewBatchSummary("expire-grace", opts, now)
	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}

	pool := s.Config.pool()
	query := models.SubscriptionQuery{
		TenantID:          opts.TenantID,
		Statuses:          []models.SubscriptionStatus{models.SubscriptionStatusActive},
		AccessEndedBefore: &now,
	}

	err := forEachSubscriptionChunk(ctx, s.Subscriptions, query, s.Config.chunkSize(), func(ctx context.Context, chunk []*models.Subscription) {
		processItems(ctx, pool, summary, chunk, subscriptionKey, "expire",
			func(ctx context.Context, sub *models.Subscription) (bool, error) {
				if sub.IsUsable(now) {
					return false, nil
				}
				if opts.DryRun {
					summary.RecordApplied(EffectSubscriptionExpired)
					return true, nil
				}
				ok, err := s.Subscriptions.Expire(ctx, sub.ID, now)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, domain.NewConcurrencyMiss(fmt.Sprintf("subscription %d is no longer active", sub.ID))
				}
				summary.RecordApplied(EffectSubscriptionExpired)
				s.notifyExpired(ctx, sub, now)
				return true, nil
			})
	})
	return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
}

func (s *GracePeriodService) notifyExpired(ctx context.Context, sub *models.Subscription, now time.Time) {
	if s.Notifier == nil {
		return
	}
	notification := models.Notification{
		Recipient: sub.StudentRef,
		Type:      models.NotificationSubscriptionExpired,
		Payload: map[string]any{
			"subscription_id":    sub.ID,
			"access_ended_at":    sub.AccessEndsAt().UTC(),
			"sessions_remaining": sub.SessionsRemaining,
		},
		Link:      s.Config.links().SubscriptionURL(sub.TenantID, sub.ID),
		Metadata:  map[string]any{"tenant_id": sub.TenantID},
		Important: true,
		CreatedAt: now,
	}
	if err := s.Notifier.Notify(ctx, notification); err != nil {
		slog.WarnContext(ctx, "error sending expiry notice", "subscription_id", sub.ID, logging.ErrKey, err)
	}
}
