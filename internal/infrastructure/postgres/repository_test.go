// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// fakeDB records statements and answers Exec with a fixed row count. Queries
// that need rows fail with rowErr.
type fakeDB struct {
	affected int64
	execErr  error
	rowErr   error
	pingErr  error

	statements []string
	args       [][]any
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.statements = append(f.statements, sql)
	f.args = append(f.args, args)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", f.affected)), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.statements = append(f.statements, sql)
	return nil, f.rowErr
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.statements = append(f.statements, sql)
	f.args = append(f.args, args)
	return fakeRow{err: f.rowErr}
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("transactions are not supported by fakeDB")
}

func (f *fakeDB) Ping(ctx context.Context) error {
	return f.pingErr
}

type fakeRow struct{ err error }

func (r fakeRow) Scan(dest ...any) error { return r.err }

func TestSessionRepository_TransitionStatus(t *testing.T) {
	startedAt := time.Date(2026, 4, 6, 10, 2, 0, 0, time.UTC)
	transition := models.StatusTransition{
		SessionID: 12,
		Kind:      models.SessionKindAcademic,
		From:      []models.SessionStatus{models.SessionStatusReady},
		To:        models.SessionStatusOngoing,
		StartedAt: &startedAt,
	}

	tests := []struct {
		name        string
		transition  models.StatusTransition
		db          *fakeDB
		want        bool
		wantErrType *domain.ErrorType
	}{
		{
			name:       "applied",
			transition: transition,
			db:         &fakeDB{affected: 1},
			want:       true,
		},
		{
			name:       "guard miss",
			transition: transition,
			db:         &fakeDB{affected: 0},
			want:       false,
		},
		{
			name: "unknown kind",
			transition: func() models.StatusTransition {
				bad := transition
				bad.Kind = "circle"
				return bad
			}(),
			db:          &fakeDB{},
			wantErrType: errType(domain.ErrorTypeValidation),
		},
		{
			name:        "driver error",
			transition:  transition,
			db:          &fakeDB{execErr: errors.New("unexpected EOF")},
			wantErrType: errType(domain.ErrorTypeInternal),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewSessionRepository(tt.db)
			got, err := repo.TransitionStatus(context.Background(), tt.transition)
			if tt.wantErrType != nil {
				require.Error(t, err)
				assert.Equal(t, *tt.wantErrType, domain.GetErrorType(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			require.Len(t, tt.db.statements, 1)
			assert.Contains(t, tt.db.statements[0], "UPDATE academic_sessions")
			assert.Contains(t, tt.db.statements[0], "status = ANY($5)")
			assert.Equal(t, []any{"ongoing", &startedAt, (*time.Time)(nil), int64(12), []string{"ready"}}, tt.db.args[0])
		})
	}
}

func TestSessionRepository_GuardedWrites(t *testing.T) {
	ctx := context.Background()
	session := &models.Session{ID: 7, Kind: models.SessionKindQuran}
	at := time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)

	db := &fakeDB{affected: 1}
	repo := NewSessionRepository(db)

	ok, err := repo.SetMeetingRoomRef(ctx, session, "RM_7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, db.statements[0], "UPDATE quran_sessions")
	assert.Contains(t, db.statements[0], "COALESCE(meeting_room_ref, '') = ''")

	ok, err = repo.SoftDelete(ctx, session, at)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, db.statements[1], "deleted_at IS NULL")

	db.affected = 0
	ok, err = repo.SetMeetingRoomRef(ctx, session, "RM_other")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionRepository_SetMeetingRoomRefDuplicate(t *testing.T) {
	db := &fakeDB{execErr: &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "quran_sessions_meeting_room_ref_key"}}
	repo := NewSessionRepository(db)

	ok, err := repo.SetMeetingRoomRef(context.Background(), &models.Session{ID: 8, Kind: models.SessionKindQuran}, "RM_7")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.ErrorTypeConflict, domain.GetErrorType(err))
}

func TestSessionRepository_GetSessionNotFound(t *testing.T) {
	repo := NewSessionRepository(&fakeDB{rowErr: pgx.ErrNoRows})

	_, err := repo.GetSession(context.Background(), 404)

	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestSessionRepository_Ping(t *testing.T) {
	assert.NoError(t, NewSessionRepository(&fakeDB{}).Ping(context.Background()))

	err := NewSessionRepository(&fakeDB{pingErr: errors.New("refused")}).Ping(context.Background())
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(err))
}

func TestSubscriptionRepository_GuardedWrites(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{affected: 1}
	repo := NewSubscriptionRepository(db)

	days := 3
	ok, err := repo.UpdateMetadata(ctx, 9, models.SubscriptionMetadata{GraceNotificationLastDays: &days}, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, db.statements[0], "version = version + 1")
	assert.Contains(t, db.statements[0], "WHERE id = $2 AND version = $3")
	assert.JSONEq(t, `{"grace_notification_last_days_remaining":3}`, string(db.args[0][0].([]byte)))

	ok, err = repo.RecomputeUsage(ctx, 9, 5, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []any{4, int64(9), 5}, db.args[1])

	db.affected = 0
	ok, err = repo.Expire(ctx, 9, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTenantRepository_NotFound(t *testing.T) {
	repo := NewTenantRepository(&fakeDB{rowErr: pgx.ErrNoRows})

	_, err := repo.GetSettings(context.Background(), "missing")

	assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
}

func TestTranslateError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		err  error
		want domain.ErrorType
	}{
		{"no rows", pgx.ErrNoRows, domain.ErrorTypeNotFound},
		{"unique violation", &pgconn.PgError{Code: pgUniqueViolation}, domain.ErrorTypeConflict},
		{"serialization failure", &pgconn.PgError{Code: pgSerializationFailure}, domain.ErrorTypeConcurrencyMiss},
		{"deadlock", &pgconn.PgError{Code: pgDeadlockDetected}, domain.ErrorTypeConcurrencyMiss},
		{"server shutting down", &pgconn.PgError{Code: pgAdminShutdown}, domain.ErrorTypeUnavailable},
		{"other server error", &pgconn.PgError{Code: "42P01"}, domain.ErrorTypeInternal},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), domain.ErrorTypeUnavailable},
		{"already translated", domain.NewDataIntegrityError("bad"), domain.ErrorTypeDataIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(ctx, tt.err, "operation failed")
			assert.Equal(t, tt.want, domain.GetErrorType(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.NoError(t, translateError(ctx, nil, "unused"))
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	require.NotNil(t, nullIfEmpty("evt-1"))
	assert.Equal(t, "evt-1", *nullIfEmpty("evt-1"))
}

func errType(t domain.ErrorType) *domain.ErrorType {
	return &t
}
