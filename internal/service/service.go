// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/concurrent"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/constants"
)

type Service interface {
	ServiceReady() bool
}

// ServiceConfig is the configuration shared by the batch services.
type ServiceConfig struct {
	// LFXEnvironment is the environment name for app link generation.
	LFXEnvironment string
	// AppOrigin overrides the environment domain in links, for local development.
	AppOrigin string

	ChunkSize       int
	Concurrency     int
	ProviderTimeout time.Duration

	// ChainTerminalEffects runs attendance reconciliation and the ledger apply
	// right after a session reaches a terminal status.
	ChainTerminalEffects bool
	// AbsentBillable makes ABSENT sessions consume a subscription session.
	AbsentBillable bool

	StaleAfter             time.Duration
	MeetingCreateLookahead time.Duration
	MeetingEndLookback     time.Duration
	AttendanceLookback     time.Duration
	PurgeAfter             time.Duration

	// TenantDefaults fill settings a tenant does not override.
	TenantDefaults models.TenantSettings
}

// DefaultServiceConfig returns the configuration used when nothing is overridden.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		LFXEnvironment:         "prod",
		ChunkSize:              constants.DefaultChunkSize,
		Concurrency:            constants.DefaultConcurrency,
		ProviderTimeout:        constants.DefaultProviderTimeout,
		ChainTerminalEffects:   true,
		AbsentBillable:         true,
		StaleAfter:             constants.DefaultStaleAfter,
		MeetingCreateLookahead: constants.DefaultMeetingCreateLookahead,
		MeetingEndLookback:     constants.DefaultMeetingEndLookback,
		AttendanceLookback:     constants.DefaultAttendanceLookback,
		PurgeAfter:             constants.DefaultPurgeAfter,
		TenantDefaults: models.TenantSettings{
			Timezone:            "UTC",
			VideoProvider:       models.ProviderLiveKit,
			ReadinessWindow:     constants.DefaultReadinessWindow,
			StartGrace:          constants.DefaultStartGrace,
			OvertimeAllowance:   constants.DefaultOvertimeAllowance,
			QuietWindowStart:    "00:00",
			QuietWindowEnd:      "05:00",
			LateThreshold:       constants.DefaultLateThreshold,
			EarlyLeaveThreshold: constants.DefaultEarlyLeaveThreshold,
			PartialThreshold:    constants.DefaultPartialThreshold,
			MaxParticipants:     constants.DefaultMaxParticipants,
		},
	}
}

func (c ServiceConfig) chunkSize() int {
	if c.ChunkSize <= 0 {
		return constants.DefaultChunkSize
	}
	return c.ChunkSize
}

func (c ServiceConfig) pool() *concurrent.WorkerPool {
	return concurrent.NewWorkerPool(c.Concurrency)
}

func (c ServiceConfig) links() *constants.LinkGenerator {
	return constants.NewLinkGenerator(c.LFXEnvironment, c.AppOrigin)
}

// tenantResolver memoizes tenant settings for the duration of one run.
type tenantResolver struct {
	directory domain.TenantDirectory
	defaults  models.TenantSettings

	mu    sync.Mutex
	cache map[string]models.TenantSettings
}

func newTenantResolver(directory domain.TenantDirectory, defaults models.TenantSettings) *tenantResolver {
	return &tenantResolver{
		directory: directory,
		defaults:  defaults,
		cache:     make(map[string]models.TenantSettings),
	}
}

// Resolve returns the tenant's settings merged with the defaults. Tenants
// that are not configured at all get the defaults.
func (r *tenantResolver) Resolve(ctx context.Context, tenantID string) (models.TenantSettings, error) {
	r.mu.Lock()
	if settings, ok := r.cache[tenantID]; ok {
		r.mu.Unlock()
		return settings, nil
	}
	r.mu.Unlock()

	stored := &models.TenantSettings{TenantID: tenantID}
	if r.directory != nil {
		found, err := r.directory.GetSettings(ctx, tenantID)
		switch {
		case err == nil && found != nil:
			stored = found
		case err != nil && domain.GetErrorType(err) != domain.ErrorTypeNotFound:
			return models.TenantSettings{}, err
		}
	}

	settings := stored.WithDefaults(r.defaults)
	settings.TenantID = tenantID

	r.mu.Lock()
	r.cache[tenantID] = settings
	r.mu.Unlock()
	return settings, nil
}

// itemFunc processes one item. It returns true when it applied at least one
// effect; effects are recorded on the summary by the function itself.
type itemFunc[T any] func(ctx context.Context, item T) (bool, error)

// processItems fans the items of one chunk out over the worker pool and
// folds every outcome into the summary. Item failures never stop the chunk.
func processItems[T any](
	ctx context.Context,
	pool *concurrent.WorkerPool,
	summary *models.BatchSummary,
	items []T,
	itemID func(T) string,
	errorKind string,
	fn itemFunc[T],
) {
	concurrent.ForEach(ctx, pool, items, func(ctx context.Context, item T) error {
		id := itemID(item)
		ctx = logging.AppendCtx(ctx, slog.String("item_id", id))

		summary.RecordProcessed()
		applied, err := fn(ctx, item)
		switch {
		case err == nil && applied:
		case err == nil, domain.IsSkip(err):
			if err != nil {
				slog.DebugContext(ctx, "item skipped", "reason", err.Error())
			}
			summary.RecordSkipped()
		default:
			slog.WarnContext(ctx, "item failed", "kind", errorKind, logging.ErrKey, err)
			summary.RecordError(id, errorKind, err)
		}
		return nil
	})
}

// forEachSessionChunk pages through sessions matching query by id and hands
// every chunk to fn. A failed read aborts the run.
func forEachSessionChunk(
	ctx context.Context,
	repo domain.SessionRepository,
	query models.SessionQuery,
	chunkSize int,
	fn func(ctx context.Context, chunk []*models.Session),
) error {
	query.Limit = chunkSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := repo.ListSessions(ctx, query)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		fn(ctx, chunk)
		if len(chunk) < chunkSize {
			return nil
		}
		query.AfterID = chunk[len(chunk)-1].ID
	}
}

// forEachSubscriptionChunk pages through subscriptions matching query by id.
func forEachSubscriptionChunk(
	ctx context.Context,
	repo domain.SubscriptionRepository,
	query models.SubscriptionQuery,
	chunkSize int,
	fn func(ctx context.Context, chunk []*models.Subscription),
) error {
	query.Limit = chunkSize
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := repo.ListSubscriptions(ctx, query)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			return nil
		}
		fn(ctx, chunk)
		if len(chunk) < chunkSize {
			return nil
		}
		query.AfterID = chunk[len(chunk)-1].ID
	}
}

func sessionKey(s *models.Session) string {
	return strconv.FormatInt(s.ID, 10)
}

func subscriptionKey(s *models.Subscription) string {
	return strconv.FormatInt(s.ID, 10)
}

// finishBatch stamps the summary, logs it and records it in metrics.
func finishBatch(ctx context.Context, summary *models.BatchSummary, metrics *Metrics, now time.Time, err error) *models.BatchSummary {
	summary.Finish(now, err)
	if err != nil {
		slog.ErrorContext(ctx, "batch aborted", logging.ErrKey, err, logging.PriorityCritical())
	}
	slog.InfoContext(ctx, "batch finished",
		"processed", summary.Processed,
		"applied", summary.Applied(),
		"skipped", summary.Skipped,
		"errors", summary.ErrorCount,
		"dry_run", summary.DryRun,
	)
	metrics.ObserveSummary(summary)
	return summary
}
