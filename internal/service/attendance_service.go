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

// Effect kinds reported by the attendance sweep.
const (
	EffectAttendanceCalculated   = "attendance_calculated"
	EffectAttendanceRecalculated = "attendance_recalculated"
)

// AttendanceService ingests telemetry and reconciles it into records.
type AttendanceService struct {
	Sessions domain.SessionRepository
	Events   domain.AttendanceEventRepository
	Records  domain.AttendanceRecordRepository
	Tenants  domain.TenantDirectory
	Metrics  *Metrics
	Config   ServiceConfig
	Now      func() time.Time
}

// NewAttendanceService creates a new AttendanceService.
func NewAttendanceService(
	sessions domain.SessionRepository,
	events domain.AttendanceEventRepository,
	records domain.AttendanceRecordRepository,
	tenants domain.TenantDirectory,
	config ServiceConfig,
) *AttendanceService {
	return &AttendanceService{
		Sessions: sessions,
		Events:   events,
		Records:  records,
		Tenants:  tenants,
		Config:   config,
		Now:      time.Now,
	}
}

// ServiceReady checks if the service is ready for use.
func (s *AttendanceService) ServiceReady() bool {
	return s.Sessions != nil && s.Events != nil && s.Records != nil
}

func validateEvent(event *models.AttendanceEvent) error {
	switch {
	case event == nil:
		return domain.NewValidationError("event is required")
	case event.SessionID <= 0:
		return domain.NewValidationError("session_id is required")
	case event.ParticipantRef == "":
		return domain.NewValidationError("participant_id is required")
	case !event.EventType.IsValid():
		return domain.NewValidationError(fmt.Sprintf("unknown event_type %q", event.EventType))
	case event.Timestamp.IsZero():
		return domain.NewValidationError("timestamp is required")
	}
	return nil
}

// Ingest appends one event. It reports false for a duplicate provider event id.
func (s *AttendanceService) Ingest(ctx context.Context, event *models.AttendanceEvent) (bool, error) {
	if !s.ServiceReady() {
		return false, domain.ErrServiceUnavailable
	}
	if err := validateEvent(event); err != nil {
		return false, err
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.Now()
	}

	added, err := s.Events.Append(ctx, event)
	if err != nil {
		return false, err
	}
	if !added {
		slog.DebugContext(ctx, "duplicate attendance event ignored",
			"session_id", event.SessionID,
			"provider_event_id", event.ProviderEventID,
		)
	}
	return added, nil
}

// IngestBatch appends every event and tallies the outcome. Invalid events
// are rejected individually; a store failure stops the batch.
func (s *AttendanceService) IngestBatch(ctx context.Context, events []*models.AttendanceEvent) (models.AttendanceIngestResponse, error) {
	var resp models.AttendanceIngestResponse
	for i, event := range events {
		added, err := s.Ingest(ctx, event)
		switch {
		case err == nil && added:
			resp.Accepted++
		case err == nil:
			resp.Duplicates++
		case domain.GetErrorType(err) == domain.ErrorTypeValidation:
			resp.Rejected++
			resp.Errors = append(resp.Errors, fmt.Sprintf("event %d: %s", i, err.Error()))
		default:
			s.Metrics.ObserveIngest(resp)
			return resp, err
		}
	}
	s.Metrics.ObserveIngest(resp)
	return resp, nil
}

// ReconcileSession computes and stores the attendance of one session. With
// force, existing calculated records are replaced; without it a session that
// already has them is left alone.
func (s *AttendanceService) ReconcileSession(ctx context.Context, session *models.Session, force, dryRun bool) (bool, error) {
	return s.reconcile(ctx, session, newTenantResolver(s.Tenants, s.Config.TenantDefaults), force, dryRun)
}

func (s *AttendanceService) reconcile(
	ctx context.Context,
	session *models.Session,
	tenants *tenantResolver,
	force, dryRun bool,
) (bool, error) {
	if !s.ServiceReady() {
		return false, domain.ErrServiceUnavailable
	}
	if session.Status != models.SessionStatusCompleted && session.Status != models.SessionStatusAbsent && !force {
		return false, domain.NewPreconditionSkip(fmt.Sprintf("session %d is %s", session.ID, session.Status))
	}

	settings, err := tenants.Resolve(ctx, session.TenantID)
	if err != nil {
		return false, err
	}
	events, err := s.Events.ListEvents(ctx, session.ID)
	if err != nil {
		return false, err
	}

	records := ReconcileAttendance(session, events, settings, s.Now())
	if len(records) == 0 {
		// group session nobody joined; it stays pending until the lookback passes
		return false, domain.NewPreconditionSkip(fmt.Sprintf("session %d has no participants to reconcile", session.ID))
	}
	if dryRun {
		slog.DebugContext(ctx, "dry run: would write attendance records",
			"session_id", session.ID, "records", len(records))
		return true, nil
	}

	written, err := s.Records.ReplaceForSession(ctx, session.ID, records, force)
	if err != nil {
		return false, err
	}
	if !written {
		return false, domain.NewConcurrencyMiss(fmt.Sprintf("attendance for session %d already calculated", session.ID))
	}
	slog.DebugContext(ctx, "attendance reconciled", "session_id", session.ID, "records", len(records))
	return true, nil
}

// ReconcileSweep reconciles terminal sessions still missing attendance. When
// sessionID is set only that session is processed and force recalculates it.
func (s *AttendanceService) ReconcileSweep(ctx context.Context, opts models.BatchOptions, sessionID int64) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "reconcile-attendance")
	now := s.Now()
	summary := models.NewBatchSummary("reconcile-attendance", opts, now)
	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}

	tenants := newTenantResolver(s.Tenants, s.Config.TenantDefaults)
	pool := s.Config.pool()
	process := func(ctx context.Context, session *models.Session) (bool, error) {
		ok, err := s.reconcile(ctx, session, tenants, opts.Force, opts.DryRun)
		if ok {
			if opts.Force {
				summary.RecordApplied(EffectAttendanceRecalculated)
			} else {
				summary.RecordApplied(EffectAttendanceCalculated)
			}
		}
		return ok, err
	}

	if sessionID > 0 {
		session, err := s.Sessions.GetSession(ctx, sessionID)
		if err != nil {
			if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
				summary.RecordProcessed()
				summary.RecordError(fmt.Sprint(sessionID), "lookup", err)
				return finishBatch(ctx, summary, s.Metrics, s.Now(), nil)
			}
			return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
		}
		processItems(ctx, pool, summary, []*models.Session{session}, sessionKey, "attendance", process)
		return finishBatch(ctx, summary, s.Metrics, s.Now(), nil)
	}

	query := models.SessionQuery{
		TenantID:          opts.TenantID,
		Statuses:          []models.SessionStatus{models.SessionStatusCompleted, models.SessionStatusAbsent},
		AttendancePending: !opts.Force,
	}
	if s.Config.AttendanceLookback > 0 {
		from := now.Add(-s.Config.AttendanceLookback)
		query.ScheduledFrom = &from
	}

	err := forEachSessionChunk(ctx, s.Sessions, query, s.Config.chunkSize(), func(ctx context.Context, chunk []*models.Session) {
		processItems(ctx, pool, summary, chunk, sessionKey, "attendance", process)
	})
	return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
}
