// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package postgres

import (
	"fmt"
	"strings"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// sessionTables routes writes to the table holding each session kind.
var sessionTables = map[models.SessionKind]string{
	models.SessionKindQuran:       "quran_sessions",
	models.SessionKindAcademic:    "academic_sessions",
	models.SessionKindInteractive: "interactive_sessions",
}

// sessionsView is the union of every kind's table, with a kind column.
const sessionsView = "sessions_all"

func tableForKind(kind models.SessionKind) (string, error) {
	table, ok := sessionTables[kind]
	if !ok {
		return "", domain.NewValidationError(fmt.Sprintf("unknown session kind %q", kind))
	}
	return table, nil
}

// whereBuilder accumulates conditions with positional arguments.
type whereBuilder struct {
	conds []string
	args  []any
}

// arg registers v and returns its placeholder.
func (w *whereBuilder) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) add(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *whereBuilder) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

const sessionColumns = `kind, id, tenant_id, format, status, title, scheduled_at, started_at, ended_at,
	duration_minutes, meeting_room_ref, subscription_id, subscription_counted,
	generated_from_schedule_ref, teacher_ref, student_ref, deleted_at, updated_at`

// buildSessionQuery renders a chunk read over all session kinds.
func buildSessionQuery(q models.SessionQuery) (string, []any) {
	w := &whereBuilder{}
	w.add("s.id > " + w.arg(q.AfterID))

	if q.OnlyDeleted {
		w.add("s.deleted_at IS NOT NULL")
		if q.DeletedBefore != nil {
			w.add("s.deleted_at < " + w.arg(*q.DeletedBefore))
		}
	} else {
		w.add("s.deleted_at IS NULL")
	}
	if q.TenantID != "" {
		w.add("s.tenant_id = " + w.arg(q.TenantID))
	}
	if len(q.Statuses) > 0 {
		w.add("s.status = ANY(" + w.arg(statusStrings(q.Statuses)) + ")")
	}
	if q.ScheduledFrom != nil {
		w.add("s.scheduled_at >= " + w.arg(*q.ScheduledFrom))
	}
	if q.ScheduledTo != nil {
		w.add("s.scheduled_at < " + w.arg(*q.ScheduledTo))
	}
	if q.HasMeetingRoom != nil {
		w.add("(COALESCE(s.meeting_room_ref, '') <> '') = " + w.arg(*q.HasMeetingRoom))
	}
	if q.HasSubscription != nil {
		w.add("(s.subscription_id IS NOT NULL) = " + w.arg(*q.HasSubscription))
	}
	if q.SubscriptionCounted != nil {
		w.add("s.subscription_counted = " + w.arg(*q.SubscriptionCounted))
	}
	if q.AttendancePending {
		w.add("NOT EXISTS (SELECT 1 FROM attendance_records r WHERE r.session_id = s.id AND r.is_calculated)")
	}

	sql := "SELECT " + sessionColumns + " FROM " + sessionsView + " s" + w.String() + " ORDER BY s.id"
	if q.Limit > 0 {
		sql += " LIMIT " + w.arg(q.Limit)
	}
	return sql, w.args
}

const subscriptionColumns = `id, tenant_id, student_ref, total_sessions, sessions_used, sessions_remaining,
	status, starts_at, ends_at, metadata, version, updated_at`

// accessEndsAt mirrors Subscription.AccessEndsAt in SQL.
const accessEndsAt = "COALESCE((sub.metadata->>'" + models.MetadataKeyGracePeriodEndsAt + "')::timestamptz, sub.ends_at)"

// buildSubscriptionQuery renders a chunk read of subscriptions. With
// withUsage, every row also carries the number of sessions counted against it.
func buildSubscriptionQuery(q models.SubscriptionQuery, withUsage bool) (string, []any) {
	w := &whereBuilder{}
	w.add("sub.id > " + w.arg(q.AfterID))

	if q.TenantID != "" {
		w.add("sub.tenant_id = " + w.arg(q.TenantID))
	}
	if len(q.Statuses) > 0 {
		w.add("sub.status = ANY(" + w.arg(statusStrings(q.Statuses)) + ")")
	}
	if q.InGrace {
		w.add("sub.metadata->>'" + models.MetadataKeyGracePeriodEndsAt + "' IS NOT NULL")
	}
	if q.AccessEndedBefore != nil {
		w.add(accessEndsAt + " < " + w.arg(*q.AccessEndedBefore))
	}

	columns := prefixColumns("sub", subscriptionColumns)
	if withUsage {
		columns += `,
	(SELECT count(*) FROM ` + sessionsView + ` s WHERE s.subscription_id = sub.id AND s.subscription_counted)`
	}

	sql := "SELECT " + columns + " FROM subscriptions sub" + w.String() + " ORDER BY sub.id"
	if q.Limit > 0 {
		sql += " LIMIT " + w.arg(q.Limit)
	}
	return sql, w.args
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
