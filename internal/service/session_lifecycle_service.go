// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
)

// Transition kinds reported in batch summaries.
const (
	TransitionReadied       = "scheduled_to_ready"
	TransitionStarted       = "to_ongoing"
	TransitionMarkedAbsent  = "to_absent"
	TransitionCompleted     = "ongoing_to_completed"
	TransitionAutoCompleted = "group_auto_completed"
	TransitionManualEnd     = "manual_completed"
	TransitionCancelled     = "cancelled"
)

// maxStepsPerSession bounds how many transitions one evaluation may chain,
// e.g. SCHEDULED -> ONGOING -> COMPLETED for a session swept late.
const maxStepsPerSession = 4

// SessionLifecycleService advances sessions through their status state
// machine. Every write is a guarded conditional update, so overlapping runs
// apply each transition exactly once.
type SessionLifecycleService struct {
	Sessions   domain.SessionRepository
	Events     domain.AttendanceEventRepository
	Tenants    domain.TenantDirectory
	Publisher  domain.EventPublisher
	Notifier   domain.Notifier
	Attendance *AttendanceService
	Ledger     *LedgerService
	Metrics    *Metrics
	Config     ServiceConfig
	Now        func() time.Time
}

// NewSessionLifecycleService creates a new SessionLifecycleService.
func NewSessionLifecycleService(
	sessions domain.SessionRepository,
	events domain.AttendanceEventRepository,
	tenants domain.TenantDirectory,
	publisher domain.EventPublisher,
	notifier domain.Notifier,
	config ServiceConfig,
) *SessionLifecycleService {
	return &SessionLifecycleService{
		Sessions:  sessions,
		Events:    events,
		Tenants:   tenants,
		Publisher: publisher,
		Notifier:  notifier,
		Config:    config,
		Now:       time.Now,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *SessionLifecycleService) ServiceReady() bool {
	return s.Sessions != nil && s.Events != nil
}

// plannedTransition is one step computed by nextTransition.
type plannedTransition struct {
	transition models.StatusTransition
	kind       string
}

// nextTransition decides the single next step for a session, or nil when it
// should stay where it is. Rules are evaluated in a fixed order.
func nextTransition(
	session *models.Session,
	settings models.TenantSettings,
	firstJoin *time.Time,
	now time.Time,
	staleAfter time.Duration,
) *plannedTransition {
	readyFrom := session.ScheduledAt.Add(-settings.ReadinessWindow)
	startDeadline := session.ScheduledAt.Add(settings.StartGrace)
	effectiveEnd := session.EffectiveEnd(settings.OvertimeAllowance)

	switch session.Status {
	case models.SessionStatusScheduled, models.SessionStatusReady:
		if firstJoin != nil {
			started := *firstJoin
			return &plannedTransition{
				kind: TransitionStarted,
				transition: models.StatusTransition{
					From:      []models.SessionStatus{models.SessionStatusScheduled, models.SessionStatusReady},
					To:        models.SessionStatusOngoing,
					StartedAt: &started,
					Reason:    "first participant joined",
				},
			}
		}

		if session.Status == models.SessionStatusScheduled {
			stale := staleAfter > 0 && now.After(effectiveEnd.Add(staleAfter))
			if !stale && !now.Before(readyFrom) && now.Before(startDeadline) {
				return &plannedTransition{
					kind: TransitionReadied,
					transition: models.StatusTransition{
						From:   []models.SessionStatus{models.SessionStatusScheduled},
						To:     models.SessionStatusReady,
						Reason: "readiness window opened",
					},
				}
			}
			if now.Before(startDeadline) {
				return nil
			}
			// a scheduled session whose whole window elapsed follows the READY rules
		}

		if session.IsIndividual() {
			if now.Before(startDeadline) {
				return nil
			}
			return &plannedTransition{
				kind: TransitionMarkedAbsent,
				transition: models.StatusTransition{
					From:   []models.SessionStatus{models.SessionStatusScheduled, models.SessionStatusReady},
					To:     models.SessionStatusAbsent,
					Reason: "no join before start grace elapsed",
				},
			}
		}

		if now.Before(effectiveEnd) {
			return nil
		}
		ended := session.ScheduledEnd()
		return &plannedTransition{
			kind: TransitionAutoCompleted,
			transition: models.StatusTransition{
				From:    []models.SessionStatus{models.SessionStatusScheduled, models.SessionStatusReady},
				To:      models.SessionStatusCompleted,
				EndedAt: &ended,
				Reason:  "group session ended without joins",
			},
		}

	case models.SessionStatusOngoing:
		if now.Before(effectiveEnd) {
			return nil
		}
		// Overtime only delays the sweep. The recorded end stays the booked
		// end, so cycles left open are not credited with the allowance.
		ended := session.BookedEnd()
		return &plannedTransition{
			kind: TransitionCompleted,
			transition: models.StatusTransition{
				From:    []models.SessionStatus{models.SessionStatusOngoing},
				To:      models.SessionStatusCompleted,
				EndedAt: &ended,
				Reason:  "effective end reached",
			},
		}
	}

	return nil
}

// SweepStatuses evaluates every non-terminal session once.
func (s *SessionLifecycleService) SweepStatuses(ctx context.Context, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "sweep-statuses")
	now := s.Now()
	summary := models.NewBatchSummary("sweep-statuses", opts, now)

	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}

	tenants := newTenantResolver(s.Tenants, s.Config.TenantDefaults)
	pool := s.Config.pool()

	query := models.SessionQuery{
		TenantID: opts.TenantID,
		Statuses: models.NonTerminalStatuses(),
	}
	err := forEachSessionChunk(ctx, s.Sessions, query, s.Config.chunkSize(), func(ctx context.Context, chunk []*models.Session) {
		processItems(ctx, pool, summary, chunk, sessionKey, "transition",
			func(ctx context.Context, session *models.Session) (bool, error) {
				return s.evaluate(ctx, session, tenants, now, opts, summary)
			})
	})

	return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
}

// evaluate applies as many transitions as the session is due for.
func (s *SessionLifecycleService) evaluate(
	ctx context.Context,
	session *models.Session,
	tenants *tenantResolver,
	now time.Time,
	opts models.BatchOptions,
	summary *models.BatchSummary,
) (bool, error) {
	settings, err := tenants.Resolve(ctx, session.TenantID)
	if err != nil {
		return false, err
	}

	applied := false
	current := *session
	for step := 0; step < maxStepsPerSession; step++ {
		var firstJoin *time.Time
		if current.Status == models.SessionStatusScheduled || current.Status == models.SessionStatusReady {
			firstJoin, err = s.Events.FirstJoin(ctx, current.ID)
			if err != nil {
				return applied, err
			}
		}

		plan := nextTransition(&current, settings, firstJoin, now, s.Config.StaleAfter)
		if plan == nil {
			return applied, nil
		}

		next, err := s.apply(ctx, &current, plan, opts)
		if err != nil {
			if applied && domain.IsSkip(err) {
				// a concurrent run took over after our earlier step
				return true, nil
			}
			return applied, err
		}
		summary.RecordApplied(plan.kind)
		applied = true
		current = *next
	}
	return applied, nil
}

// apply writes one planned transition and runs its side effects. A lost
// guard is reported as a ConcurrencyMiss.
func (s *SessionLifecycleService) apply(
	ctx context.Context,
	session *models.Session,
	plan *plannedTransition,
	opts models.BatchOptions,
) (*models.Session, error) {
	t := plan.transition
	t.SessionID = session.ID
	t.Kind = session.Kind

	next := *session
	next.Status = t.To
	if t.StartedAt != nil {
		next.StartedAt = t.StartedAt
	}
	if t.EndedAt != nil {
		next.EndedAt = t.EndedAt
	}

	if opts.DryRun {
		slog.DebugContext(ctx, "dry run: would transition session",
			"session_id", session.ID, "from", session.Status, "to", t.To)
		return &next, nil
	}

	ok, err := s.Sessions.TransitionStatus(ctx, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewConcurrencyMiss(fmt.Sprintf("session %d is no longer %v", session.ID, t.From))
	}

	slog.DebugContext(ctx, "session transitioned",
		"session_id", session.ID, "from", session.Status, "to", t.To, "reason", t.Reason)

	s.afterTransition(ctx, session, &next, t.Reason)
	return &next, nil
}

// afterTransition publishes the change and, for terminal outcomes, notifies
// and chains attendance and ledger processing. Failures here are logged; the
// standalone sweeps pick up anything left undone.
func (s *SessionLifecycleService) afterTransition(ctx context.Context, before, after *models.Session, reason string) {
	if s.Publisher != nil {
		msg := models.SessionStatusChangedMessage{
			SessionID:  after.ID,
			TenantID:   after.TenantID,
			Kind:       after.Kind,
			From:       before.Status,
			To:         after.Status,
			Reason:     reason,
			OccurredAt: s.Now(),
		}
		if err := s.Publisher.PublishSessionStatusChanged(ctx, msg); err != nil {
			slog.WarnContext(ctx, "error publishing status change", "session_id", after.ID, logging.ErrKey, err)
		}
	}

	if after.Status == models.SessionStatusAbsent && s.Notifier != nil && after.StudentRef != nil {
		notification := models.Notification{
			Recipient: *after.StudentRef,
			Type:      models.NotificationSessionAbsent,
			Payload: map[string]any{
				"session_id":   after.ID,
				"title":        after.Title,
				"scheduled_at": after.ScheduledAt,
			},
			Link:      s.Config.links().SessionURL(after.TenantID, after.ID),
			Metadata:  map[string]any{"tenant_id": after.TenantID, "kind": after.Kind},
			CreatedAt: s.Now(),
		}
		if err := s.Notifier.Notify(ctx, notification); err != nil {
			slog.WarnContext(ctx, "error sending absence notification", "session_id", after.ID, logging.ErrKey, err)
		}
	}

	if !s.Config.ChainTerminalEffects || !after.Status.IsTerminal() || after.Status == models.SessionStatusCancelled {
		return
	}
	if s.Attendance != nil {
		if _, err := s.Attendance.ReconcileSession(ctx, after, false, false); err != nil && !domain.IsSkip(err) {
			slog.WarnContext(ctx, "error reconciling attendance after transition", "session_id", after.ID, logging.ErrKey, err)
		}
	}
	if s.Ledger != nil {
		if _, err := s.Ledger.Apply(ctx, after, false); err != nil && !domain.IsSkip(err) {
			slog.WarnContext(ctx, "error applying ledger after transition", "session_id", after.ID, logging.ErrKey, err)
		}
	}
}

// MarkStarted moves a session to ONGOING as soon as a join is ingested. The
// started_at stamp is the earliest join known at that point.
func (s *SessionLifecycleService) MarkStarted(ctx context.Context, sessionID int64) (bool, error) {
	if !s.ServiceReady() {
		return false, domain.ErrServiceUnavailable
	}

	session, err := s.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.Status != models.SessionStatusScheduled && session.Status != models.SessionStatusReady {
		return false, nil
	}

	firstJoin, err := s.Events.FirstJoin(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if firstJoin == nil {
		return false, nil
	}

	plan := &plannedTransition{
		kind: TransitionStarted,
		transition: models.StatusTransition{
			From:      []models.SessionStatus{models.SessionStatusScheduled, models.SessionStatusReady},
			To:        models.SessionStatusOngoing,
			StartedAt: firstJoin,
			Reason:    "first participant joined",
		},
	}
	if _, err := s.apply(ctx, session, plan, models.BatchOptions{}); err != nil {
		if domain.IsSkip(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CompleteSession ends an ongoing session on request.
func (s *SessionLifecycleService) CompleteSession(ctx context.Context, id int64, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "complete-session")
	summary := models.NewBatchSummary("complete-session", opts, s.Now())
	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}

	err := s.manual(ctx, id, summary, func(session *models.Session) (*plannedTransition, error) {
		if session.Status != models.SessionStatusOngoing || session.StartedAt == nil {
			return nil, domain.NewPreconditionSkip(fmt.Sprintf("session %d is %s, only ongoing sessions can be completed", id, session.Status))
		}
		ended := s.Now()
		return &plannedTransition{
			kind: TransitionManualEnd,
			transition: models.StatusTransition{
				From:    []models.SessionStatus{models.SessionStatusOngoing},
				To:      models.SessionStatusCompleted,
				EndedAt: &ended,
				Reason:  "completed manually",
			},
		}, nil
	}, opts)

	return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
}

// CancelSession cancels a session that has not reached a terminal status.
func (s *SessionLifecycleService) CancelSession(ctx context.Context, id int64, reason string, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "cancel-session")
	summary := models.NewBatchSummary("cancel-session", opts, s.Now())
	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}
	if reason == "" {
		reason = "cancelled manually"
	}

	err := s.manual(ctx, id, summary, func(session *models.Session) (*plannedTransition, error) {
		if session.Status.IsTerminal() {
			return nil, domain.NewPreconditionSkip(fmt.Sprintf("session %d is already %s", id, session.Status))
		}
		return &plannedTransition{
			kind: TransitionCancelled,
			transition: models.StatusTransition{
				From:   models.NonTerminalStatuses(),
				To:     models.SessionStatusCancelled,
				Reason: reason,
			},
		}, nil
	}, opts)

	return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
}

// manual runs a single-session transition and records its outcome. Only a
// failed read of the session is fatal.
func (s *SessionLifecycleService) manual(
	ctx context.Context,
	id int64,
	summary *models.BatchSummary,
	plan func(*models.Session) (*plannedTransition, error),
	opts models.BatchOptions,
) error {
	session, err := s.Sessions.GetSession(ctx, id)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			summary.RecordProcessed()
			summary.RecordError(fmt.Sprint(id), "lookup", err)
			return nil
		}
		return err
	}
	if opts.TenantID != "" && session.TenantID != opts.TenantID {
		summary.RecordProcessed()
		summary.RecordError(fmt.Sprint(id), "lookup", domain.NewValidationError("session belongs to another tenant"))
		return nil
	}

	processItems(ctx, s.Config.pool(), summary, []*models.Session{session}, sessionKey, "transition",
		func(ctx context.Context, session *models.Session) (bool, error) {
			p, err := plan(session)
			if err != nil {
				return false, err
			}
			if _, err := s.apply(ctx, session, p, opts); err != nil {
				return false, err
			}
			summary.RecordApplied(p.kind)
			return true, nil
		})
	return nil
}

// isBillable reports whether status consumes a subscription session.
func isBillable(status models.SessionStatus, absentBillable bool) bool {
	return slices.Contains(billableStatuses(absentBillable), status)
}

func billableStatuses(absentBillable bool) []models.SessionStatus {
	if absentBillable {
		return []models.SessionStatus{models.SessionStatusCompleted, models.SessionStatusAbsent}
	}
	return []models.SessionStatus{models.SessionStatusCompleted}
}
