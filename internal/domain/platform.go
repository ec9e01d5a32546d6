// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// VideoProvider defines the interface for external video room integrations
type VideoProvider interface {
	// CreateRoom opens a room for the session and returns its reference and join URL
	CreateRoom(ctx context.Context, spec models.RoomSpec) (*models.CreatedRoom, error)

	// EndRoom closes the room and disconnects any participants
	EndRoom(ctx context.Context, roomRef string) error

	// GetRoomStatus reports the provider's view of the room
	GetRoomStatus(ctx context.Context, roomRef string) (models.RoomState, error)
}

// VideoProviderRegistry manages video providers
type VideoProviderRegistry interface {
	// GetProvider returns the video provider registered under name
	GetProvider(name string) (VideoProvider, error)

	// RegisterProvider registers a video provider
	RegisterProvider(name string, provider VideoProvider)
}
