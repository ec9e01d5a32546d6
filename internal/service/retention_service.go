// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/constants"
)

// Effect kinds reported by the retention sweeps.
const (
	EffectSessionDeleted = "session_deleted"
	EffectSessionPurged  = "session_purged"
)

// RetentionService tombstones sessions and later purges the tombstones.
// Neither operation touches the session status.
type RetentionService struct {
	Sessions domain.SessionRepository
	Metrics  *Metrics
	Config   ServiceConfig
	Now      func() time.Time
}

// NewRetentionService creates a new RetentionService.
func NewRetentionService(sessions domain.SessionRepository, config ServiceConfig) *RetentionService {
	return &RetentionService{Sessions: sessions, Config: config, Now: time.Now}
}

// ServiceReady checks if the service is ready for use.
func (s *RetentionService) ServiceReady() bool {
	return s.Sessions != nil
}

// DeleteSession soft-deletes one session.
func (s *RetentionService) DeleteSession(ctx context.Context, id int64, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "delete-session")
	now := s.Now()
	summary := models.NewBatchSummary("delete-session", opts, now)
	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}

	session, err := s.Sessions.GetSession(ctx, id)
	if err != nil {
		if domain.GetErrorType(err) != domain.ErrorTypeNotFound {
			return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
		}
		// already deleted or never existed
		summary.RecordProcessed()
		summary.RecordSkipped()
		return finishBatch(ctx, summary, s.Metrics, s.Now(), nil)
	}
	if opts.TenantID != "" && session.TenantID != opts.TenantID {
		summary.RecordProcessed()
		summary.RecordError(fmt.Sprint(id), "lookup", domain.NewValidationError("session belongs to another tenant"))
		return finishBatch(ctx, summary, s.Metrics, s.Now(), nil)
	}

	processItems(ctx, s.Config.pool(), summary, []*models.Session{session}, sessionKey, "delete",
		func(ctx context.Context, session *models.Session) (bool, error) {
			if !opts.DryRun {
				ok, err := s.Sessions.SoftDelete(ctx, session, now)
				if err != nil || !ok {
					return false, err
				}
			}
			summary.RecordApplied(EffectSessionDeleted)
			return true, nil
		})
	return finishBatch(ctx, summary, s.Metrics, s.Now(), nil)
}

// PurgeSweep hard-deletes sessions tombstoned longer than the retention period.
func (s *RetentionService) PurgeSweep(ctx context.Context, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "purge-sessions")
	now := s.Now()
	summary := models.NewBatchSummary("purge-sessions", opts, now)
	if !s.ServiceReady() {
		return finishBatch(ctx, summary, s.Metrics, s.Now(), domain.ErrServiceUnavailable)
	}

	purgeAfter := s.Config.PurgeAfter
	if purgeAfter <= 0 {
		purgeAfter = constants.DefaultPurgeAfter
	}
	cutoff := now.Add(-purgeAfter)
	query := models.SessionQuery{
		TenantID:      opts.TenantID,
		OnlyDeleted:   true,
		DeletedBefore: &cutoff,
	}
	pool := s.Config.pool()

	err := forEachSessionChunk(ctx, s.Sessions, query, s.Config.chunkSize(), func(ctx context.Context, chunk []*models.Session) {
		processItems(ctx, pool, summary, chunk, sessionKey, "purge",
			func(ctx context.Context, session *models.Session) (bool, error) {
				if !opts.DryRun {
					ok, err := s.Sessions.PurgeDeleted(ctx, session, cutoff)
					if err != nil || !ok {
						return false, err
					}
				}
				summary.RecordApplied(EffectSessionPurged)
				return true, nil
			})
	})
	return finishBatch(ctx, summary, s.Metrics, s.Now(), err)
}
