// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// SessionRepository stores sessions in one table per kind and reads them
// through the sessions_all view.
type SessionRepository struct {
	db DB
}

var _ domain.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a session repository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		s     models.Session
		kind  string
		form  string
		state string
	)
	err := row.Scan(
		&kind,
		&s.ID,
		&s.TenantID,
		&form,
		&state,
		&s.Title,
		&s.ScheduledAt,
		&s.StartedAt,
		&s.EndedAt,
		&s.DurationMinutes,
		&s.MeetingRoomRef,
		&s.SubscriptionID,
		&s.SubscriptionCounted,
		&s.GeneratedFromScheduleRef,
		&s.TeacherRef,
		&s.StudentRef,
		&s.DeletedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Kind = models.SessionKind(kind)
	s.Format = models.SessionFormat(form)
	s.Status = models.SessionStatus(state)
	return &s, nil
}

func collectSessions(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListSessions implements domain.SessionRepository.
func (r *SessionRepository) ListSessions(ctx context.Context, query models.SessionQuery) (_ []*models.Session, err error) {
	ctx, span := startSpan(ctx, "select", sessionsView, attribute.Int64("db.after_id", query.AfterID))
	defer func() { endSpan(span, err) }()

	sql, args := buildSessionQuery(query)
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateError(ctx, err, "failed to list sessions")
	}
	sessions, err := collectSessions(rows)
	if err != nil {
		return nil, translateError(ctx, err, "failed to read sessions")
	}
	return sessions, nil
}

// GetSession implements domain.SessionRepository. Tombstoned sessions are
// reported as not found.
func (r *SessionRepository) GetSession(ctx context.Context, sessionID int64) (_ *models.Session, err error) {
	ctx, span := startSpan(ctx, "select", sessionsView, attribute.Int64("session_id", sessionID))
	defer func() { endSpan(span, err) }()

	sql := "SELECT " + sessionColumns + " FROM " + sessionsView + " WHERE id = $1 AND deleted_at IS NULL"
	session, err := scanSession(r.db.QueryRow(ctx, sql, sessionID))
	if err != nil {
		return nil, translateError(ctx, err, fmt.Sprintf("session %d not found", sessionID))
	}
	return session, nil
}

// TransitionStatus implements domain.SessionRepository.
func (r *SessionRepository) TransitionStatus(ctx context.Context, t models.StatusTransition) (_ bool, err error) {
	table, err := tableForKind(t.Kind)
	if err != nil {
		return false, err
	}
	ctx, span := startSpan(ctx, "update", table,
		attribute.Int64("session_id", t.SessionID),
		attribute.String("session.status.to", string(t.To)),
	)
	defer func() { endSpan(span, err) }()

	sql := `UPDATE ` + table + `
		SET status = $1,
		    started_at = COALESCE($2, started_at),
		    ended_at = COALESCE($3, ended_at),
		    updated_at = now()
		WHERE id = $4 AND deleted_at IS NULL AND status = ANY($5)`
	tag, err := r.db.Exec(ctx, sql, string(t.To), t.StartedAt, t.EndedAt, t.SessionID, statusStrings(t.From))
	if err != nil {
		return false, translateError(ctx, err, fmt.Sprintf("failed to transition session %d", t.SessionID))
	}
	return tag.RowsAffected() == 1, nil
}

// SetMeetingRoomRef implements domain.SessionRepository.
func (r *SessionRepository) SetMeetingRoomRef(ctx context.Context, session *models.Session, roomRef string) (_ bool, err error) {
	table, err := tableForKind(session.Kind)
	if err != nil {
		return false, err
	}
	ctx, span := startSpan(ctx, "update", table, attribute.Int64("session_id", session.ID))
	defer func() { endSpan(span, err) }()

	sql := `UPDATE ` + table + `
		SET meeting_room_ref = $1, updated_at = now()
		WHERE id = $2 AND COALESCE(meeting_room_ref, '') = ''`
	tag, err := r.db.Exec(ctx, sql, roomRef, session.ID)
	if err != nil {
		return false, translateError(ctx, err, fmt.Sprintf("failed to store room for session %d", session.ID))
	}
	return tag.RowsAffected() == 1, nil
}

// SoftDelete implements domain.SessionRepository.
func (r *SessionRepository) SoftDelete(ctx context.Context, session *models.Session, at time.Time) (_ bool, err error) {
	table, err := tableForKind(session.Kind)
	if err != nil {
		return false, err
	}
	ctx, span := startSpan(ctx, "update", table, attribute.Int64("session_id", session.ID))
	defer func() { endSpan(span, err) }()

	sql := `UPDATE ` + table + ` SET deleted_at = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, sql, at, session.ID)
	if err != nil {
		return false, translateError(ctx, err, fmt.Sprintf("failed to delete session %d", session.ID))
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeDeleted implements domain.SessionRepository. The session's attendance
// is removed in the same transaction.
func (r *SessionRepository) PurgeDeleted(ctx context.Context, session *models.Session, deletedBefore time.Time) (_ bool, err error) {
	table, err := tableForKind(session.Kind)
	if err != nil {
		return false, err
	}
	ctx, span := startSpan(ctx, "delete", table, attribute.Int64("session_id", session.ID))
	defer func() { endSpan(span, err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, translateError(ctx, err, "failed to begin purge")
	}
	defer rollback(ctx, tx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM `+table+` WHERE id = $1 AND deleted_at IS NOT NULL AND deleted_at < $2`,
		session.ID, deletedBefore)
	if err != nil {
		return false, translateError(ctx, err, fmt.Sprintf("failed to purge session %d", session.ID))
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	for _, sql := range []string{
		`DELETE FROM attendance_records WHERE session_id = $1`,
		`DELETE FROM attendance_events WHERE session_id = $1`,
	} {
		if _, err := tx.Exec(ctx, sql, session.ID); err != nil {
			return false, translateError(ctx, err, fmt.Sprintf("failed to purge attendance of session %d", session.ID))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, translateError(ctx, err, "failed to commit purge")
	}
	return true, nil
}

// Ping implements domain.SessionRepository.
func (r *SessionRepository) Ping(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return domain.NewUnavailableError("postgres is not reachable", err)
	}
	return nil
}
