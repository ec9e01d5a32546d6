// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// SubscriptionRepository implements the subscription and ledger
// repositories. Counter changes and the session's counted flag are written in
// one transaction.
type SubscriptionRepository struct {
	db DB
}

var (
	_ domain.SubscriptionRepository = (*SubscriptionRepository)(nil)
	_ domain.LedgerRepository       = (*SubscriptionRepository)(nil)
)

// NewSubscriptionRepository creates a subscription repository.
func NewSubscriptionRepository(db DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// subscriptionDest returns the scan targets for subscriptionColumns.
func subscriptionDest(sub *models.Subscription, status *string, metadata *[]byte) []any {
	return []any{
		&sub.ID,
		&sub.TenantID,
		&sub.StudentRef,
		&sub.TotalSessions,
		&sub.SessionsUsed,
		&sub.SessionsRemaining,
		status,
		&sub.StartsAt,
		&sub.EndsAt,
		metadata,
		&sub.Version,
		&sub.UpdatedAt,
	}
}

func decodeSubscription(sub *models.Subscription, status string, metadata []byte) error {
	sub.Status = models.SubscriptionStatus(status)
	if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
		return domain.NewDataIntegrityError(fmt.Sprintf("invalid metadata on subscription %d", sub.ID), err)
	}
	return nil
}

func scanSubscription(row pgx.Row, extra ...any) (*models.Subscription, error) {
	var (
		sub      models.Subscription
		status   string
		metadata []byte
	)
	if err := row.Scan(append(subscriptionDest(&sub, &status, &metadata), extra...)...); err != nil {
		return nil, err
	}
	if err := decodeSubscription(&sub, status, metadata); err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetSubscription implements domain.SubscriptionRepository.
func (r *SubscriptionRepository) GetSubscription(ctx context.Context, subscriptionID int64) (_ *models.Subscription, err error) {
	ctx, span := startSpan(ctx, "select", "subscriptions", attribute.Int64("subscription_id", subscriptionID))
	defer func() { endSpan(span, err) }()

	sql := "SELECT " + subscriptionColumns + " FROM subscriptions WHERE id = $1"
	sub, err := scanSubscription(r.db.QueryRow(ctx, sql, subscriptionID))
	if err != nil {
		return nil, translateError(ctx, err, fmt.Sprintf("subscription %d not found", subscriptionID))
	}
	return sub, nil
}

// ListSubscriptions implements domain.SubscriptionRepository.
func (r *SubscriptionRepository) ListSubscriptions(ctx context.Context, query models.SubscriptionQuery) (_ []*models.Subscription, err error) {
	ctx, span := startSpan(ctx, "select", "subscriptions", attribute.Int64("db.after_id", query.AfterID))
	defer func() { endSpan(span, err) }()

	sql, args := buildSubscriptionQuery(query, false)
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateError(ctx, err, "failed to list subscriptions")
	}
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, translateError(ctx, err, "failed to read subscription")
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(ctx, err, "failed to read subscriptions")
	}
	return out, nil
}

// UpdateMetadata implements domain.SubscriptionRepository.
func (r *SubscriptionRepository) UpdateMetadata(ctx context.Context, subscriptionID int64, metadata models.SubscriptionMetadata, version int64) (_ bool, err error) {
	ctx, span := startSpan(ctx, "update", "subscriptions",
		attribute.Int64("subscription_id", subscriptionID),
		attribute.Int64("subscription.version", version),
	)
	defer func() { endSpan(span, err) }()

	doc, err := json.Marshal(metadata)
	if err != nil {
		return false, domain.NewInternalError("failed to encode subscription metadata", err)
	}
	const sql = `UPDATE subscriptions
		SET metadata = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3`
	tag, err := r.db.Exec(ctx, sql, doc, subscriptionID, version)
	if err != nil {
		return false, translateError(ctx, err, fmt.Sprintf("failed to update metadata of subscription %d", subscriptionID))
	}
	return tag.RowsAffected() == 1, nil
}

// Expire implements domain.SubscriptionRepository.
func (r *SubscriptionRepository) Expire(ctx context.Context, subscriptionID int64, at time.Time) (_ bool, err error) {
	ctx, span := startSpan(ctx, "update", "subscriptions", attribute.Int64("subscription_id", subscriptionID))
	defer func() { endSpan(span, err) }()

	const sql = `UPDATE subscriptions
		SET status = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND status = $4`
	tag, err := r.db.Exec(ctx, sql,
		string(models.SubscriptionStatusExpired), at, subscriptionID, string(models.SubscriptionStatusActive))
	if err != nil {
		return false, translateError(ctx, err, fmt.Sprintf("failed to expire subscription %d", subscriptionID))
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyUsage implements domain.LedgerRepository. The session row is locked
// first so two concurrent applies of the same session serialize and the
// second one sees it already counted.
func (r *SubscriptionRepository) ApplyUsage(ctx context.Context, session *models.Session, billable []models.SessionStatus) (_ *models.UsageApplication, err error) {
	table, err := tableForKind(session.Kind)
	if err != nil {
		return nil, err
	}
	ctx, span := startSpan(ctx, "apply_usage", table, attribute.Int64("session_id", session.ID))
	defer func() { endSpan(span, err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, translateError(ctx, err, "failed to begin ledger apply")
	}
	defer rollback(ctx, tx)

	var (
		status         string
		subscriptionID *int64
		counted        bool
	)
	err = tx.QueryRow(ctx,
		`SELECT status, subscription_id, subscription_counted FROM `+table+`
		 WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		session.ID).Scan(&status, &subscriptionID, &counted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateError(ctx, err, fmt.Sprintf("failed to lock session %d", session.ID))
	}
	if counted || subscriptionID == nil || !slices.Contains(billable, models.SessionStatus(status)) {
		return nil, nil
	}

	applied := &models.UsageApplication{SessionID: session.ID, SubscriptionID: *subscriptionID}
	err = tx.QueryRow(ctx,
		`UPDATE subscriptions
		 SET sessions_used = sessions_used + 1,
		     sessions_remaining = GREATEST(0, total_sessions - (sessions_used + 1)),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING sessions_used, sessions_remaining`,
		*subscriptionID).Scan(&applied.SessionsUsed, &applied.SessionsRemaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NewDataIntegrityError(fmt.Sprintf("session %d references missing subscription %d", session.ID, *subscriptionID))
	}
	if err != nil {
		return nil, translateError(ctx, err, fmt.Sprintf("failed to increment subscription %d", *subscriptionID))
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+table+` SET subscription_counted = true, updated_at = now() WHERE id = $1`,
		session.ID); err != nil {
		return nil, translateError(ctx, err, fmt.Sprintf("failed to mark session %d counted", session.ID))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateError(ctx, err, "failed to commit ledger apply")
	}
	return applied, nil
}

// ListSubscriptionUsage implements domain.LedgerRepository.
func (r *SubscriptionRepository) ListSubscriptionUsage(ctx context.Context, query models.SubscriptionQuery) (_ []*models.SubscriptionUsage, err error) {
	ctx, span := startSpan(ctx, "select", "subscriptions", attribute.Int64("db.after_id", query.AfterID))
	defer func() { endSpan(span, err) }()

	sql, args := buildSubscriptionQuery(query, true)
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateError(ctx, err, "failed to list subscription usage")
	}
	defer rows.Close()

	var out []*models.SubscriptionUsage
	for rows.Next() {
		var counted int
		sub, err := scanSubscription(rows, &counted)
		if err != nil {
			return nil, translateError(ctx, err, "failed to read subscription usage")
		}
		out = append(out, &models.SubscriptionUsage{Subscription: sub, CountedSessions: counted})
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(ctx, err, "failed to read subscription usage")
	}
	return out, nil
}

// ListOrphanedSessions implements domain.LedgerRepository.
func (r *SubscriptionRepository) ListOrphanedSessions(ctx context.Context, tenantID string) (_ []*models.Session, err error) {
	ctx, span := startSpan(ctx, "select", sessionsView)
	defer func() { endSpan(span, err) }()

	w := &whereBuilder{}
	w.add("s.subscription_counted")
	w.add("s.subscription_id IS NOT NULL")
	w.add("NOT EXISTS (SELECT 1 FROM subscriptions sub WHERE sub.id = s.subscription_id)")
	if tenantID != "" {
		w.add("s.tenant_id = " + w.arg(tenantID))
	}
	sql := "SELECT " + sessionColumns + " FROM " + sessionsView + " s" + w.String() + " ORDER BY s.id"

	rows, err := r.db.Query(ctx, sql, w.args...)
	if err != nil {
		return nil, translateError(ctx, err, "failed to list orphaned sessions")
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, translateError(ctx, err, "failed to read orphaned sessions")
	}
	return sessions, nil
}

// RecomputeUsage implements domain.LedgerRepository.
func (r *SubscriptionRepository) RecomputeUsage(ctx context.Context, subscriptionID int64, observedUsed, counted int) (_ bool, err error) {
	ctx, span := startSpan(ctx, "update", "subscriptions", attribute.Int64("subscription_id", subscriptionID))
	defer func() { endSpan(span, err) }()

	const sql = `UPDATE subscriptions
		SET sessions_used = $1,
		    sessions_remaining = GREATEST(0, total_sessions - $1),
		    updated_at = now()
		WHERE id = $2 AND sessions_used = $3`
	tag, err := r.db.Exec(ctx, sql, counted, subscriptionID, observedUsed)
	if err != nil {
		return false, translateError(ctx, err, fmt.Sprintf("failed to recompute subscription %d", subscriptionID))
	}
	return tag.RowsAffected() == 1, nil
}
