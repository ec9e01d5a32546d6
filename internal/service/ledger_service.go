// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
)

// EffectUsageApplied is the effect kind of one ledger deduction.
const EffectUsageApplied = "usage_applied"

// LedgerService converts terminal session outcomes into subscription usage.
type LedgerService struct {
	Sessions      domain.SessionRepository
	Ledger        domain.LedgerRepository
	Subscriptions domain.SubscriptionRepository
	Notifier      domain.Notifier
	Metrics       *Metrics
	Config        ServiceConfig
	Now           func() time.Time
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	sessions domain.SessionRepository,
	ledger domain.LedgerRepository,
	subscriptions domain.SubscriptionRepository,
	notifier domain.Notifier,
	config ServiceConfig,
) *LedgerService {
	return &LedgerService{
		Sessions:      sessions,
		Ledger:        ledger,
		Subscriptions: subscriptions,
		Notifier:      notifier,
		Config:        config,
		Now:           time.Now,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *LedgerService) ServiceReady() bool {
	return s.Sessions != nil && s.Ledger != nil
}

// Apply deducts one session from the session's subscription. The
// counted-flag check and the increment happen in one transaction, so a
// session is never counted twice.
func (s *LedgerService) Apply(ctx context.Context, session *models.Session, dryRun bool) (*models.UsageApplication, error) {
	if !s.ServiceReady() {
		return nil, domain.ErrServiceUnavailable
	}

	switch {
	case !isBillable(session.Status, s.Config.AbsentBillable):
		return nil, domain.NewPreconditionSkip(fmt.Sprintf("session %d status %s is not billable", session.ID, session.Status))
	case session.SubscriptionID == nil:
		return nil, domain.NewPreconditionSkip(fmt.Sprintf("session %d has no subscription", session.ID))
	case session.SubscriptionCounted:
		return nil, domain.NewPreconditionSkip(fmt.Sprintf("session %d already counted", session.ID))
	}

	if dryRun {
		slog.DebugContext(ctx, "dry run: would apply usage",
			"session_id", session.ID, "subscription_id", *session.SubscriptionID)
		return &models.UsageApplication{SessionID: session.ID, SubscriptionID: *session.SubscriptionID}, nil
	}

	usage, err := s.Ledger.ApplyUsage(ctx, session, billableStatuses(s.Config.AbsentBillable))
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return nil, domain.NewConcurrencyMiss(fmt.Sprintf("session %d was counted by another run", session.ID))
	}

	slog.DebugContext(ctx, "usage applied",
		"session_id", usage.SessionID,
		"subscription_id", usage.SubscriptionID,
		"sessions_used", usage.SessionsUsed,
		"sessions_remaining", usage.SessionsRemaining,
	)

	if usage.SessionsRemaining == 0 {
		s.notifyExhausted(ctx, session, usage)
	}
	return usage, nil
}

func (s *LedgerService) notifyExhausted(ctx context.Context, session *models.Session, usage *models.UsageApplication) {
	if s.Notifier == nil || s.Subscriptions == nil {
		return
	}
	sub, err := s.Subscriptions.GetSubscription(ctx, usage.SubscriptionID)
	if err != nil {
		slog.WarnContext(ctx, "error loading subscription for exhaustion notice",
			"subscription_id", usage.SubscriptionID, logging.ErrKey, err)
		return
	}

	notification := models.Notification{
		Recipient: sub.StudentRef,
		Type:      models.NotificationSubscriptionExhausted,
		Payload: map[string]any{
			"subscription_id": sub.ID,
			"total_sessions":  sub.TotalSessions,
			"sessions_used":   usage.SessionsUsed,
		},
		Link:      s.Config.links().SubscriptionURL(sub.TenantID, sub.ID),
		Metadata:  map[string]any{"tenant_id": sub.TenantID, "session_id": session.ID},
		Important: true,
		CreatedAt: s.Now(),
	}
	if err := s.Notifier.Notify(ctx, notification); err != nil {
		slog.WarnContext(ctx, "error sending exhaustion notice",
			"subscription_id", sub.ID, logging.ErrKey, err)
	}
}

// ApplySweep applies usage for every billable session not yet counted.
func (s *LedgerService) ApplySweep(ctx context.Context, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "apply-ledger")
	summary := models.NewBatchSummary("apply-ledger", opts, s.Now())
	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}

	hasSubscription, counted := true, false
	query := models.SessionQuery{
		TenantID:            opts.TenantID,
		Statuses:            billableStatuses(s.Config.AbsentBillable),
		HasSubscription:     &hasSubscription,
		SubscriptionCounted: &counted,
	}
	pool := s.Config.pool()

	err := forEachSessionChunk(ctx, s.Sessions, query, s.Config.chunkSize(), func(ctx context.Context, chunk []*models.Session) {
		processItems(ctx, pool, summary, chunk, sessionKey, "ledger",
			func(ctx context.Context, session *models.Session) (bool, error) {
				if _, err := s.Apply(ctx, session, opts.DryRun); err != nil {
					return false, err
				}
				summary.RecordApplied(EffectUsageApplied)
				return true, nil
			})
	})
	return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
}
