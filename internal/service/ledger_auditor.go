// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
)

// EffectCountersFixed is the effect kind of one repaired subscription.
const EffectCountersFixed = "counters_fixed"

// Audit finding kinds.
const (
	FindingUsedMismatch         = "used_mismatch"
	FindingCountersInconsistent = "counters_inconsistent"
	FindingOrphanedSession      = "orphaned_session"
)

// AuditFinding is one inconsistency found by the ledger auditor.
type AuditFinding struct {
	Kind           string `json:"kind"`
	SubscriptionID int64  `json:"subscription_id"`
	SessionID      int64  `json:"session_id,omitempty"`
	SessionsUsed   int    `json:"sessions_used"`
	Remaining      int    `json:"sessions_remaining"`
	Total          int    `json:"total_sessions"`
	Counted        int    `json:"counted_sessions"`
	Fixed          bool   `json:"fixed"`
}

// AuditReport is the auditor's batch summary plus every finding.
type AuditReport struct {
	*models.BatchSummary
	Findings []AuditFinding `json:"findings"`
}

// LedgerAuditor checks that subscription counters agree with the sessions
// counted against them. Sessions are the source of truth.
type LedgerAuditor struct {
	Ledger  domain.LedgerRepository
	Metrics *Metrics
	Config  ServiceConfig
	Now     func() time.Time
}

// NewLedgerAuditor creates a new LedgerAuditor.
func NewLedgerAuditor(ledger domain.LedgerRepository, config ServiceConfig) *LedgerAuditor {
	return &LedgerAuditor{Ledger: ledger, Config: config, Now: time.Now}
}

// ServiceReady checks if the service is ready for use.
func (a *LedgerAuditor) ServiceReady() bool {
	return a.Ledger != nil
}

// Audit checks every active subscription. In report mode it only records
// findings; with fix it recomputes the counters of mismatched subscriptions.
// Orphaned session references are reported and never fixed.
func (a *LedgerAuditor) Audit(ctx context.Context, opts models.BatchOptions, fix bool) *AuditReport {
	ctx = logging.WithOperation(ctx, "audit-ledger")
	report := &AuditReport{
		BatchSummary: models.NewBatchSummary("audit-ledger", opts, a.Now()),
		Findings:     []AuditFinding{},
	}
	if !a.ServiceReady() {
		finishBatch(ctx, report.BatchSummary, a.Metrics, a.Now(), domain.ErrServiceUnavailable)
		return report
	}
	summary := report.BatchSummary

	query := models.SubscriptionQuery{
		TenantID: opts.TenantID,
		Statuses: []models.SubscriptionStatus{models.SubscriptionStatusActive},
		Limit:    a.Config.chunkSize(),
	}
	for {
		if err := ctx.Err(); err != nil {
			finishBatch(ctx, summary, a.Metrics, a.Now(), err)
			return report
		}
		chunk, err := a.Ledger.ListSubscriptionUsage(ctx, query)
		if err != nil {
			finishBatch(ctx, summary, a.Metrics, a.Now(), err)
			return report
		}
		for _, usage := range chunk {
			if finding := a.check(ctx, usage, fix && !opts.DryRun, summary); finding != nil {
				report.Findings = append(report.Findings, *finding)
			}
		}
		if len(chunk) < query.Limit {
			break
		}
		query.AfterID = chunk[len(chunk)-1].Subscription.ID
	}

	orphans, err := a.Ledger.ListOrphanedSessions(ctx, opts.TenantID)
	if err != nil {
		finishBatch(ctx, summary, a.Metrics, a.Now(), err)
		return report
	}
	for _, session := range orphans {
		summary.RecordProcessed()
		finding := AuditFinding{Kind: FindingOrphanedSession, SessionID: session.ID}
		if session.SubscriptionID != nil {
			finding.SubscriptionID = *session.SubscriptionID
		}
		report.Findings = append(report.Findings, finding)
		summary.RecordError(strconv.FormatInt(session.ID, 10), FindingOrphanedSession,
			domain.NewDataIntegrityError(fmt.Sprintf("session %d is counted against missing subscription %d",
				session.ID, finding.SubscriptionID)))
	}

	finishBatch(ctx, summary, a.Metrics, a.Now(), nil)
	return report
}

// check compares one subscription against its counted sessions.
func (a *LedgerAuditor) check(ctx context.Context, usage *models.SubscriptionUsage, fix bool, summary *models.BatchSummary) *AuditFinding {
	sub := usage.Subscription
	summary.RecordProcessed()

	finding := &AuditFinding{
		SubscriptionID: sub.ID,
		SessionsUsed:   sub.SessionsUsed,
		Remaining:      sub.SessionsRemaining,
		Total:          sub.TotalSessions,
		Counted:        usage.CountedSessions,
	}
	switch {
	case sub.SessionsUsed != usage.CountedSessions:
		finding.Kind = FindingUsedMismatch
	case !sub.CountersConsistent():
		finding.Kind = FindingCountersInconsistent
	default:
		summary.RecordSkipped()
		return nil
	}

	id := strconv.FormatInt(sub.ID, 10)
	if !fix {
		summary.RecordError(id, finding.Kind, domain.NewDataIntegrityError(fmt.Sprintf(
			"subscription %d: used=%d remaining=%d total=%d counted=%d",
			sub.ID, sub.SessionsUsed, sub.SessionsRemaining, sub.TotalSessions, usage.CountedSessions)))
		return finding
	}

	ok, err := a.Ledger.RecomputeUsage(ctx, sub.ID, sub.SessionsUsed, usage.CountedSessions)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "error fixing subscription counters", "subscription_id", sub.ID, logging.ErrKey, err)
		summary.RecordError(id, finding.Kind, err)
	case !ok:
		slog.DebugContext(ctx, "subscription changed during audit, left for the next run", "subscription_id", sub.ID)
		summary.RecordSkipped()
	default:
		slog.InfoContext(ctx, "subscription counters fixed",
			"subscription_id", sub.ID, "sessions_used", usage.CountedSessions)
		finding.Fixed = true
		summary.RecordApplied(EffectCountersFixed)
	}
	return finding
}
