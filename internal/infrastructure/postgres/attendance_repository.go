// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// AttendanceRepository stores the telemetry event log and the reconciled
// records derived from it.
type AttendanceRepository struct {
	db DB
}

var (
	_ domain.AttendanceEventRepository  = (*AttendanceRepository)(nil)
	_ domain.AttendanceRecordRepository = (*AttendanceRepository)(nil)
)

// NewAttendanceRepository creates an attendance repository.
func NewAttendanceRepository(db DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// nullIfEmpty stores empty strings as NULL so unique constraints ignore them.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Append implements domain.AttendanceEventRepository.
func (r *AttendanceRepository) Append(ctx context.Context, event *models.AttendanceEvent) (_ bool, err error) {
	ctx, span := startSpan(ctx, "insert", "attendance_events", attribute.Int64("session_id", event.SessionID))
	defer func() { endSpan(span, err) }()

	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	const sql = `INSERT INTO attendance_events
		(session_id, participant_ref, event_type, event_timestamp, external_participant_sid, provider_event_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_event_id) DO NOTHING
		RETURNING id`
	var id int64
	err = r.db.QueryRow(ctx, sql,
		event.SessionID,
		event.ParticipantRef,
		string(event.EventType),
		event.Timestamp,
		nullIfEmpty(event.ExternalParticipantSID),
		nullIfEmpty(event.ProviderEventID),
		receivedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, translateError(ctx, err, "failed to append attendance event")
	}
	event.ID = id
	event.ReceivedAt = receivedAt
	return true, nil
}

// FirstJoin implements domain.AttendanceEventRepository.
func (r *AttendanceRepository) FirstJoin(ctx context.Context, sessionID int64) (_ *time.Time, err error) {
	ctx, span := startSpan(ctx, "select", "attendance_events", attribute.Int64("session_id", sessionID))
	defer func() { endSpan(span, err) }()

	const sql = `SELECT min(event_timestamp) FROM attendance_events
		WHERE session_id = $1 AND event_type = ANY($2)`
	var first *time.Time
	opening := []string{string(models.AttendanceEventJoin), string(models.AttendanceEventReconnect)}
	if err := r.db.QueryRow(ctx, sql, sessionID, opening).Scan(&first); err != nil {
		return nil, translateError(ctx, err, fmt.Sprintf("failed to read first join of session %d", sessionID))
	}
	return first, nil
}

// ListEvents implements domain.AttendanceEventRepository.
func (r *AttendanceRepository) ListEvents(ctx context.Context, sessionID int64) (_ []*models.AttendanceEvent, err error) {
	ctx, span := startSpan(ctx, "select", "attendance_events", attribute.Int64("session_id", sessionID))
	defer func() { endSpan(span, err) }()

	const sql = `SELECT id, session_id, participant_ref, event_type, event_timestamp,
		COALESCE(external_participant_sid, ''), COALESCE(provider_event_id, ''), received_at
		FROM attendance_events WHERE session_id = $1 ORDER BY event_timestamp, id`
	rows, err := r.db.Query(ctx, sql, sessionID)
	if err != nil {
		return nil, translateError(ctx, err, fmt.Sprintf("failed to list events of session %d", sessionID))
	}
	defer rows.Close()

	var out []*models.AttendanceEvent
	for rows.Next() {
		var (
			e         models.AttendanceEvent
			eventType string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.ParticipantRef, &eventType, &e.Timestamp,
			&e.ExternalParticipantSID, &e.ProviderEventID, &e.ReceivedAt); err != nil {
			return nil, translateError(ctx, err, "failed to read attendance event")
		}
		e.EventType = models.AttendanceEventType(eventType)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(ctx, err, "failed to read attendance events")
	}
	return out, nil
}

// ReplaceForSession implements domain.AttendanceRecordRepository. Writers of
// the same session are serialized with a transaction-scoped advisory lock.
func (r *AttendanceRepository) ReplaceForSession(ctx context.Context, sessionID int64, records []*models.AttendanceRecord, replace bool) (_ bool, err error) {
	ctx, span := startSpan(ctx, "replace", "attendance_records",
		attribute.Int64("session_id", sessionID),
		attribute.Int("records", len(records)),
	)
	defer func() { endSpan(span, err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, translateError(ctx, err, "failed to begin attendance write")
	}
	defer rollback(ctx, tx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, sessionID); err != nil {
		return false, translateError(ctx, err, "failed to lock session attendance")
	}

	if !replace {
		var calculated bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM attendance_records WHERE session_id = $1 AND is_calculated)`,
			sessionID).Scan(&calculated)
		if err != nil {
			return false, translateError(ctx, err, "failed to check existing attendance")
		}
		if calculated {
			return false, nil
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM attendance_records WHERE session_id = $1`, sessionID); err != nil {
		return false, translateError(ctx, err, "failed to clear attendance records")
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		cycles, err := json.Marshal(rec.Cycles)
		if err != nil {
			return false, domain.NewInternalError("failed to encode attendance cycles", err)
		}
		batch.Queue(`INSERT INTO attendance_records
			(session_id, participant_ref, first_join_time, last_leave_time, join_leave_cycles,
			 total_duration_minutes, is_calculated, attendance_status, attendance_percentage, calculated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			sessionID, rec.ParticipantRef, rec.FirstJoinTime, rec.LastLeaveTime, cycles,
			rec.TotalDurationMinutes, rec.IsCalculated, string(rec.Status), rec.Percentage, rec.CalculatedAt,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return false, translateError(ctx, err, "failed to insert attendance records")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, translateError(ctx, err, "failed to commit attendance records")
	}
	return true, nil
}

// ListRecords implements domain.AttendanceRecordRepository.
func (r *AttendanceRepository) ListRecords(ctx context.Context, sessionID int64) (_ []*models.AttendanceRecord, err error) {
	ctx, span := startSpan(ctx, "select", "attendance_records", attribute.Int64("session_id", sessionID))
	defer func() { endSpan(span, err) }()

	const sql = `SELECT session_id, participant_ref, first_join_time, last_leave_time, join_leave_cycles,
		total_duration_minutes, is_calculated, attendance_status, attendance_percentage, calculated_at
		FROM attendance_records WHERE session_id = $1 ORDER BY participant_ref`
	rows, err := r.db.Query(ctx, sql, sessionID)
	if err != nil {
		return nil, translateError(ctx, err, fmt.Sprintf("failed to list attendance of session %d", sessionID))
	}
	defer rows.Close()

	var out []*models.AttendanceRecord
	for rows.Next() {
		var (
			rec    models.AttendanceRecord
			cycles []byte
			status string
		)
		if err := rows.Scan(&rec.SessionID, &rec.ParticipantRef, &rec.FirstJoinTime, &rec.LastLeaveTime, &cycles,
			&rec.TotalDurationMinutes, &rec.IsCalculated, &status, &rec.Percentage, &rec.CalculatedAt); err != nil {
			return nil, translateError(ctx, err, "failed to read attendance record")
		}
		if err := json.Unmarshal(cycles, &rec.Cycles); err != nil {
			return nil, domain.NewDataIntegrityError(fmt.Sprintf("invalid cycles for %s in session %d", rec.ParticipantRef, sessionID), err)
		}
		rec.Status = models.AttendanceStatus(status)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, translateError(ctx, err, "failed to read attendance records")
	}
	return out, nil
}
