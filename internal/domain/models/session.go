// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/utils"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

// Session statuses
const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusReady     SessionStatus = "ready"
	SessionStatusOngoing   SessionStatus = "ongoing"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbsent    SessionStatus = "absent"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave the status.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusAbsent, SessionStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusReady, SessionStatusOngoing,
		SessionStatusCompleted, SessionStatusAbsent, SessionStatusCancelled:
		return true
	}
	return false
}

// NonTerminalStatuses lists every status a sweep still has to evaluate.
func NonTerminalStatuses() []SessionStatus {
	return []SessionStatus{SessionStatusScheduled, SessionStatusReady, SessionStatusOngoing}
}

// SessionKind identifies the subject area a session belongs to. Each kind is
// stored separately; everything above the storage layer treats them alike.
type SessionKind string

// Session kinds
const (
	SessionKindQuran       SessionKind = "quran"
	SessionKindAcademic    SessionKind = "academic"
	SessionKindInteractive SessionKind = "interactive"
)

// SessionKinds returns all supported kinds.
func SessionKinds() []SessionKind {
	return []SessionKind{SessionKindQuran, SessionKindAcademic, SessionKindInteractive}
}

// SessionFormat distinguishes one-to-one sessions from group sessions.
type SessionFormat string

// Session formats
const (
	SessionFormatIndividual SessionFormat = "individual"
	SessionFormatGroup      SessionFormat = "group"
)

// Session is a scheduled teaching unit.
type Session struct {
	ID                       int64         `json:"id"`
	TenantID                 string        `json:"tenant_id"`
	Kind                     SessionKind   `json:"kind"`
	Format                   SessionFormat `json:"format"`
	Status                   SessionStatus `json:"status"`
	Title                    string        `json:"title,omitempty"`
	ScheduledAt              time.Time     `json:"scheduled_at"`
	StartedAt                *time.Time    `json:"started_at,omitempty"`
	EndedAt                  *time.Time    `json:"ended_at,omitempty"`
	DurationMinutes          int           `json:"duration_minutes"`
	MeetingRoomRef           *string       `json:"meeting_room_ref,omitempty"`
	SubscriptionID           *int64        `json:"subscription_id,omitempty"`
	SubscriptionCounted      bool          `json:"subscription_counted"`
	GeneratedFromScheduleRef *string       `json:"generated_from_schedule_ref,omitempty"`
	TeacherRef               *string       `json:"teacher_ref,omitempty"`
	StudentRef               *string       `json:"student_ref,omitempty"`
	DeletedAt                *time.Time    `json:"deleted_at,omitempty"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

// IsIndividual reports whether the session has exactly one expected student.
func (s *Session) IsIndividual() bool {
	return s.Format == SessionFormatIndividual
}

// Duration returns the booked length of the session.
func (s *Session) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// ScheduledEnd is scheduled_at plus the booked duration.
func (s *Session) ScheduledEnd() time.Time {
	return s.ScheduledAt.Add(s.Duration())
}

// BookedEnd is the booked duration measured from the actual start when the
// session started and from the schedule otherwise.
func (s *Session) BookedEnd() time.Time {
	start := s.ScheduledAt
	if s.StartedAt != nil {
		start = *s.StartedAt
	}
	return start.Add(s.Duration())
}

// EffectiveEnd is the point after which the session and its room are over:
// the booked end plus overtime.
func (s *Session) EffectiveEnd(overtime time.Duration) time.Time {
	return s.BookedEnd().Add(overtime)
}

// ActualEnd is when the session really ended, falling back to the scheduled
// end when no end was recorded.
func (s *Session) ActualEnd() time.Time {
	return utils.CoalesceTime(s.ScheduledEnd(), s.EndedAt)
}

// HasMeetingRoom reports whether a room reference was stored.
func (s *Session) HasMeetingRoom() bool {
	return s.MeetingRoomRef != nil && *s.MeetingRoomRef != ""
}

// StatusTransition describes a guarded status change: it applies only while
// the stored status is one of From.
type StatusTransition struct {
	SessionID int64
	Kind      SessionKind
	From      []SessionStatus
	To        SessionStatus
	StartedAt *time.Time
	EndedAt   *time.Time
	Reason    string
}

// SessionQuery selects sessions for a sweep chunk. Results are always ordered
// by id ascending and only include rows with id > AfterID.
type SessionQuery struct {
	TenantID string
	Statuses []SessionStatus
	AfterID  int64
	Limit    int

	// ScheduledFrom / ScheduledTo bound scheduled_at (inclusive / exclusive).
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time

	HasMeetingRoom      *bool
	HasSubscription     *bool
	SubscriptionCounted *bool

	// AttendancePending selects sessions without any calculated attendance record.
	AttendancePending bool

	// OnlyDeleted selects tombstoned sessions deleted before DeletedBefore.
	OnlyDeleted   bool
	DeletedBefore *time.Time
}
