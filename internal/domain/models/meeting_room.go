// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package models

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/akamensky/base58"
)

// RoomState is the lifecycle of the external video room.
type RoomState string

// Room states
const (
	RoomStateNone    RoomState = "none"
	RoomStateCreated RoomState = "created"
	RoomStateActive  RoomState = "active"
	RoomStateEnded   RoomState = "ended"
	RoomStateUnknown RoomState = "unknown"
)

// IsOpen reports whether the room may still have participants.
func (s RoomState) IsOpen() bool {
	return s == RoomStateCreated || s == RoomStateActive
}

// Supported video providers.
const (
	ProviderLiveKit = "livekit"
	ProviderZoom    = "zoom"
)

// MeetingRoom is the claim record for the room owned by a session. A record
// in state none is a claim taken before the provider call completed.
type MeetingRoom struct {
	SessionID int64      `json:"session_id"`
	TenantID  string     `json:"tenant_id"`
	Provider  string     `json:"provider"`
	RoomName  string     `json:"room_name"`
	RoomRef   string     `json:"room_ref,omitempty"`
	JoinURL   string     `json:"join_url,omitempty"`
	State     RoomState  `json:"state"`
	ClaimedAt time.Time  `json:"claimed_at"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RoomName derives the deterministic provider room name for a session.
func RoomName(tenantID string, kind SessionKind, sessionID int64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(sessionID))
	return fmt.Sprintf("%s-%s-%s", tenantID, kind, base58.Encode(buf))
}

// RoomSpec is what a provider needs to open a room for a session.
type RoomSpec struct {
	SessionID       int64
	TenantID        string
	Name            string
	Title           string
	StartsAt        time.Time
	DurationMinutes int
	MaxParticipants int
	// EmptyTimeout lets the provider close a room nobody joined.
	EmptyTimeout time.Duration
}

// CreatedRoom is returned by a provider after a successful create.
type CreatedRoom struct {
	RoomRef string
	JoinURL string
}
