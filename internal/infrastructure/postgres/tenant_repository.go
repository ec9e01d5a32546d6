// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package postgres

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/utils"
)

// TenantRepository reads academy settings from the tenants table. Columns
// left NULL come back as zero values and are filled by defaults upstream.
type TenantRepository struct {
	db DB
}

var _ domain.TenantDirectory = (*TenantRepository)(nil)

// NewTenantRepository creates a tenant repository.
func NewTenantRepository(db DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func seconds(v *int64) time.Duration {
	if v == nil {
		return 0
	}
	return time.Duration(*v) * time.Second
}

// GetSettings implements domain.TenantDirectory.
func (r *TenantRepository) GetSettings(ctx context.Context, tenantID string) (_ *models.TenantSettings, err error) {
	ctx, span := startSpan(ctx, "select", "tenants", attribute.String("tenant_id", tenantID))
	defer func() { endSpan(span, err) }()

	const sql = `SELECT timezone, auto_create_meetings, video_provider,
		readiness_window_seconds, start_grace_seconds, overtime_allowance_seconds,
		quiet_window_start, quiet_window_end,
		late_threshold_seconds, early_leave_threshold_seconds,
		partial_threshold, max_participants
		FROM tenants WHERE tenant_id = $1`

	var (
		timezone, provider, quietStart, quietEnd *string
		readiness, startGrace, overtime          *int64
		late, earlyLeave                         *int64
		partial                                  *float64
		maxParticipants                          *int64
		autoCreate                               bool
	)
	err = r.db.QueryRow(ctx, sql, tenantID).Scan(
		&timezone, &autoCreate, &provider,
		&readiness, &startGrace, &overtime,
		&quietStart, &quietEnd,
		&late, &earlyLeave,
		&partial, &maxParticipants,
	)
	if err != nil {
		return nil, translateError(ctx, err, "tenant "+tenantID+" not found")
	}

	return &models.TenantSettings{
		TenantID:            tenantID,
		Timezone:            utils.Value(timezone),
		AutoCreateMeetings:  autoCreate,
		VideoProvider:       utils.Value(provider),
		ReadinessWindow:     seconds(readiness),
		StartGrace:          seconds(startGrace),
		OvertimeAllowance:   seconds(overtime),
		QuietWindowStart:    utils.Value(quietStart),
		QuietWindowEnd:      utils.Value(quietEnd),
		LateThreshold:       seconds(late),
		EarlyLeaveThreshold: seconds(earlyLeave),
		PartialThreshold:    utils.Value(partial),
		MaxParticipants:     int(utils.Value(maxParticipants)),
	}, nil
}
