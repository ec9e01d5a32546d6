// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import "time"

// NATS subjects that the session lifecycle service consumes or publishes.
const (
	// AttendanceEventSubject carries a single JSON encoded attendance event.
	// The subject is of the form: lfx.tutoring.attendance.event
	AttendanceEventSubject = "lfx.tutoring.attendance.event"

	// AttendanceEventBatchSubject carries a msgpack encoded list of attendance events.
	// The subject is of the form: lfx.tutoring.attendance.event_batch
	AttendanceEventBatchSubject = "lfx.tutoring.attendance.event_batch"

	// SessionStatusChangedSubject is published after every applied status transition.
	// The subject is of the form: lfx.tutoring.session.status_changed
	SessionStatusChangedSubject = "lfx.tutoring.session.status_changed"

	// MeetingRoomChangedSubject is published when a room is created or ended.
	// The subject is of the form: lfx.tutoring.meeting_room.changed
	MeetingRoomChangedSubject = "lfx.tutoring.meeting_room.changed"

	// NotificationSubject hands a notification to the delivery service.
	// The subject is of the form: lfx.tutoring.notification.send
	NotificationSubject = "lfx.tutoring.notification.send"
)

// AttendanceQueueGroup load-balances ingestion across daemon replicas.
const AttendanceQueueGroup = "lfx.tutoring.session-lifecycle.queue"

// SessionStatusChangedMessage is the payload of SessionStatusChangedSubject.
type SessionStatusChangedMessage struct {
	SessionID  int64         `json:"session_id"`
	TenantID   string        `json:"tenant_id"`
	Kind       SessionKind   `json:"kind"`
	From       SessionStatus `json:"from"`
	To         SessionStatus `json:"to"`
	Reason     string        `json:"reason,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// MeetingRoomChangedMessage is the payload of MeetingRoomChangedSubject.
type MeetingRoomChangedMessage struct {
	SessionID  int64     `json:"session_id"`
	TenantID   string    `json:"tenant_id"`
	Provider   string    `json:"provider"`
	RoomRef    string    `json:"room_ref"`
	State      RoomState `json:"state"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AttendanceIngestResponse is sent back when the publisher asked for a reply.
type AttendanceIngestResponse struct {
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
	Errors     []string `json:"errors,omitempty"`
}
