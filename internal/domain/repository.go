// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// SessionRepository defines the storage operations on sessions of every kind.
// Reads return normalized sessions; writes are routed by Session.Kind.
type SessionRepository interface {
	// ListSessions returns one chunk of sessions ordered by id, excluding
	// soft-deleted rows unless the query asks for them.
	ListSessions(ctx context.Context, query models.SessionQuery) ([]*models.Session, error)
	GetSession(ctx context.Context, sessionID int64) (*models.Session, error)

	// TransitionStatus applies a guarded status change. It returns false when
	// the stored status was no longer one of the expected source statuses.
	TransitionStatus(ctx context.Context, transition models.StatusTransition) (bool, error)

	// SetMeetingRoomRef stores the room reference only while none is set.
	SetMeetingRoomRef(ctx context.Context, session *models.Session, roomRef string) (bool, error)

	// SoftDelete tombstones a session. PurgeDeleted hard-deletes the session
	// only while it is still tombstoned since before deletedBefore.
	SoftDelete(ctx context.Context, session *models.Session, at time.Time) (bool, error)
	PurgeDeleted(ctx context.Context, session *models.Session, deletedBefore time.Time) (bool, error)

	Ping(ctx context.Context) error
}

// AttendanceEventRepository stores the append-only telemetry stream.
type AttendanceEventRepository interface {
	// Append inserts the event and reports whether it was new. Duplicates by
	// provider event id are silently ignored.
	Append(ctx context.Context, event *models.AttendanceEvent) (bool, error)
	// FirstJoin returns the earliest join or reconnect timestamp, or nil.
	FirstJoin(ctx context.Context, sessionID int64) (*time.Time, error)
	// ListEvents returns the events of a session ordered by timestamp, then id.
	ListEvents(ctx context.Context, sessionID int64) ([]*models.AttendanceEvent, error)
}

// AttendanceRecordRepository stores reconciled attendance.
type AttendanceRecordRepository interface {
	// ReplaceForSession writes the records for a session in one transaction.
	// Without replace it writes nothing and returns false when calculated
	// records already exist.
	ReplaceForSession(ctx context.Context, sessionID int64, records []*models.AttendanceRecord, replace bool) (bool, error)
	ListRecords(ctx context.Context, sessionID int64) ([]*models.AttendanceRecord, error)
}

// LedgerRepository applies and audits subscription consumption.
type LedgerRepository interface {
	// ApplyUsage marks the session counted and increments its subscription in
	// one transaction. It returns nil without error when the session was
	// already counted, is not billable or has no subscription.
	ApplyUsage(ctx context.Context, session *models.Session, billable []models.SessionStatus) (*models.UsageApplication, error)

	// ListSubscriptionUsage returns one chunk of subscriptions along with the
	// number of sessions counted against each.
	ListSubscriptionUsage(ctx context.Context, query models.SubscriptionQuery) ([]*models.SubscriptionUsage, error)

	// ListOrphanedSessions returns counted sessions whose subscription no longer exists.
	ListOrphanedSessions(ctx context.Context, tenantID string) ([]*models.Session, error)

	// RecomputeUsage rewrites the counters from the counted sessions, guarded
	// by the sessions_used value the auditor observed.
	RecomputeUsage(ctx context.Context, subscriptionID int64, observedUsed, counted int) (bool, error)
}

// SubscriptionRepository covers the subscription fields the grace period
// manager owns.
type SubscriptionRepository interface {
	GetSubscription(ctx context.Context, subscriptionID int64) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, query models.SubscriptionQuery) ([]*models.Subscription, error)

	// UpdateMetadata writes the metadata document when the stored version still
	// equals version, and bumps the version.
	UpdateMetadata(ctx context.Context, subscriptionID int64, metadata models.SubscriptionMetadata, version int64) (bool, error)

	// Expire moves an active subscription to expired.
	Expire(ctx context.Context, subscriptionID int64, at time.Time) (bool, error)
}

// MeetingRoomRepository keeps the per-session room claim used to make room
// creation idempotent across concurrent runs.
type MeetingRoomRepository interface {
	// Claim records intent to create a room. It returns a Conflict error when
	// a claim already exists.
	Claim(ctx context.Context, room *models.MeetingRoom) (uint64, error)
	GetRoom(ctx context.Context, sessionID int64) (*models.MeetingRoom, uint64, error)
	UpdateRoom(ctx context.Context, room *models.MeetingRoom, revision uint64) (uint64, error)
	ReleaseClaim(ctx context.Context, sessionID int64, revision uint64) error
}
