// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import "time"

// NotificationType names a template known to the delivery service.
type NotificationType string

// Notification types emitted by the engine
const (
	NotificationMeetingRoomReady      NotificationType = "meeting_room_ready"
	NotificationSessionAbsent         NotificationType = "attendance_marked_absent"
	NotificationSubscriptionExhausted NotificationType = "subscription_sessions_exhausted"
	NotificationGraceReminder         NotificationType = "subscription_grace_reminder"
	NotificationSubscriptionExpired   NotificationType = "subscription_expired"
)

// Notification is the abstract notify(recipient, type, payload, link,
// metadata, important) call.
type Notification struct {
	Recipient string           `json:"recipient"`
	Type      NotificationType `json:"type"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Link      string           `json:"link,omitempty"`
	Metadata  map[string]any   `json:"metadata,omitempty"`
	Important bool             `json:"important"`
	CreatedAt time.Time        `json:"created_at"`
}
