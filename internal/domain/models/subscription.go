// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"encoding/json"
	"time"
)

// SubscriptionStatus is the commercial state of a subscription.
type SubscriptionStatus string

// Subscription statuses
const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// Metadata keys owned by the grace period manager.
const (
	MetadataKeyGracePeriodEndsAt       = "grace_period_ends_at"
	MetadataKeyGraceExtensions         = "grace_extensions"
	MetadataKeyGraceNotificationSentAt = "grace_notification_last_sent_at"
	MetadataKeyGraceNotificationDays   = "grace_notification_last_days_remaining"
)

// Subscription is a prepaid allotment of sessions.
type Subscription struct {
	ID                int64                `json:"id"`
	TenantID          string               `json:"tenant_id"`
	StudentRef        string               `json:"student_ref"`
	TotalSessions     int                  `json:"total_sessions"`
	SessionsUsed      int                  `json:"sessions_used"`
	SessionsRemaining int                  `json:"sessions_remaining"`
	Status            SubscriptionStatus   `json:"status"`
	StartsAt          time.Time            `json:"starts_at"`
	EndsAt            time.Time            `json:"ends_at"`
	Metadata          SubscriptionMetadata `json:"metadata"`
	Version           int64                `json:"version"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// AccessEndsAt is the grace boundary when one is set, else the paid-for end.
func (s *Subscription) AccessEndsAt() time.Time {
	if s.Metadata.GracePeriodEndsAt != nil {
		return *s.Metadata.GracePeriodEndsAt
	}
	return s.EndsAt
}

// IsUsable reports whether the subscription still grants access at now.
func (s *Subscription) IsUsable(now time.Time) bool {
	return !now.After(s.AccessEndsAt())
}

// CountersConsistent reports whether remaining is what the total leaves after
// used. Remaining never goes below zero, so an over-consumed subscription
// (used > total) is consistent with remaining = 0.
func (s *Subscription) CountersConsistent() bool {
	return s.SessionsRemaining == max(0, s.TotalSessions-s.SessionsUsed)
}

// GraceExtension is one entry of the append-only extension log.
type GraceExtension struct {
	ID        string     `json:"id"`
	At        time.Time  `json:"at"`
	Requested time.Time  `json:"requested"`
	Previous  *time.Time `json:"previous,omitempty"`
	Applied   time.Time  `json:"applied"`
	Reason    string     `json:"reason,omitempty"`
	Actor     string     `json:"actor,omitempty"`
}

// SubscriptionMetadata is the typed view of the subscription's metadata
// document. Keys it does not know about are kept untouched in Extra.
type SubscriptionMetadata struct {
	GracePeriodEndsAt           *time.Time
	GraceExtensions             []GraceExtension
	GraceNotificationLastSentAt *time.Time
	GraceNotificationLastDays   *int
	Extra                       map[string]json.RawMessage
}

// MarshalJSON flattens the known fields back into one JSON object.
func (m SubscriptionMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.GracePeriodEndsAt != nil {
		out[MetadataKeyGracePeriodEndsAt] = m.GracePeriodEndsAt.UTC()
	}
	if len(m.GraceExtensions) > 0 {
		out[MetadataKeyGraceExtensions] = m.GraceExtensions
	}
	if m.GraceNotificationLastSentAt != nil {
		out[MetadataKeyGraceNotificationSentAt] = m.GraceNotificationLastSentAt.UTC()
	}
	if m.GraceNotificationLastDays != nil {
		out[MetadataKeyGraceNotificationDays] = *m.GraceNotificationLastDays
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the document into known fields and Extra.
func (m *SubscriptionMetadata) UnmarshalJSON(data []byte) error {
	*m = SubscriptionMetadata{}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw[MetadataKeyGracePeriodEndsAt]; ok {
		var t time.Time
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		m.GracePeriodEndsAt = &t
		delete(raw, MetadataKeyGracePeriodEndsAt)
	}
	if v, ok := raw[MetadataKeyGraceExtensions]; ok {
		if err := json.Unmarshal(v, &m.GraceExtensions); err != nil {
			return err
		}
		delete(raw, MetadataKeyGraceExtensions)
	}
	if v, ok := raw[MetadataKeyGraceNotificationSentAt]; ok {
		var t time.Time
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		m.GraceNotificationLastSentAt = &t
		delete(raw, MetadataKeyGraceNotificationSentAt)
	}
	if v, ok := raw[MetadataKeyGraceNotificationDays]; ok {
		var d int
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		m.GraceNotificationLastDays = &d
		delete(raw, MetadataKeyGraceNotificationDays)
	}

	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// SubscriptionQuery selects subscriptions for a sweep chunk, ordered by id.
type SubscriptionQuery struct {
	TenantID string
	Statuses []SubscriptionStatus
	AfterID  int64
	Limit    int

	// InGrace selects subscriptions whose metadata carries a grace boundary.
	InGrace bool
	// AccessEndedBefore selects subscriptions whose coalesced access end is before the time.
	AccessEndedBefore *time.Time
}

// UsageApplication is the result of one ledger apply.
type UsageApplication struct {
	SessionID         int64 `json:"session_id"`
	SubscriptionID    int64 `json:"subscription_id"`
	SessionsUsed      int   `json:"sessions_used"`
	SessionsRemaining int   `json:"sessions_remaining"`
}

// SubscriptionUsage pairs a subscription with the number of sessions counted
// against it, as read by the auditor.
type SubscriptionUsage struct {
	Subscription    *Subscription `json:"subscription"`
	CountedSessions int           `json:"counted_sessions"`
}
