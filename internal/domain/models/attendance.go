// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"time"
)

// AttendanceEventType is the kind of telemetry signal.
type AttendanceEventType string

// Attendance event types
const (
	AttendanceEventJoin      AttendanceEventType = "join"
	AttendanceEventLeave     AttendanceEventType = "leave"
	AttendanceEventReconnect AttendanceEventType = "reconnect"
)

// IsValid reports whether t is a known event type.
func (t AttendanceEventType) IsValid() bool {
	switch t {
	case AttendanceEventJoin, AttendanceEventLeave, AttendanceEventReconnect:
		return true
	}
	return false
}

// OpensCycle reports whether the event starts a presence interval.
func (t AttendanceEventType) OpensCycle() bool {
	return t == AttendanceEventJoin || t == AttendanceEventReconnect
}

// AttendanceEvent is one immutable telemetry record.
type AttendanceEvent struct {
	ID                     int64               `json:"id,omitempty" msgpack:"id,omitempty"`
	SessionID              int64               `json:"session_id" msgpack:"session_id"`
	ParticipantRef         string              `json:"participant_id" msgpack:"participant_id"`
	EventType              AttendanceEventType `json:"event_type" msgpack:"event_type"`
	Timestamp              time.Time           `json:"timestamp" msgpack:"timestamp"`
	ExternalParticipantSID string              `json:"external_participant_sid,omitempty" msgpack:"external_participant_sid,omitempty"`
	ProviderEventID        string              `json:"provider_event_id,omitempty" msgpack:"provider_event_id,omitempty"`
	ReceivedAt             time.Time           `json:"received_at,omitempty" msgpack:"received_at,omitempty"`
}

// AttendanceStatus is the classification of one participant's presence.
type AttendanceStatus string

// Attendance statuses
const (
	AttendanceStatusAbsent    AttendanceStatus = "absent"
	AttendanceStatusLate      AttendanceStatus = "late"
	AttendanceStatusLeftEarly AttendanceStatus = "left_early"
	AttendanceStatusPartial   AttendanceStatus = "partial"
	AttendanceStatusPresent   AttendanceStatus = "present"
)

// Cycle is one continuous presence interval.
type Cycle struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// AutoClosed marks a cycle closed by reconciliation rather than a leave event.
	AutoClosed bool `json:"auto_closed,omitempty"`
}

// Duration returns End - Start, never negative.
func (c Cycle) Duration() time.Duration {
	if c.End.Before(c.Start) {
		return 0
	}
	return c.End.Sub(c.Start)
}

// AttendanceRecord is the reconciled attendance of one participant.
type AttendanceRecord struct {
	SessionID            int64            `json:"session_id"`
	ParticipantRef       string           `json:"participant_ref"`
	FirstJoinTime        *time.Time       `json:"first_join_time,omitempty"`
	LastLeaveTime        *time.Time       `json:"last_leave_time,omitempty"`
	Cycles               []Cycle          `json:"join_leave_cycles"`
	TotalDurationMinutes int              `json:"total_duration_minutes"`
	IsCalculated         bool             `json:"is_calculated"`
	Status               AttendanceStatus `json:"attendance_status"`
	Percentage           float64          `json:"attendance_percentage"`
	CalculatedAt         *time.Time       `json:"calculated_at,omitempty"`
}
