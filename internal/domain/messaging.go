// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// Message represents a domain message interface
type Message interface {
	Subject() string
	Data() []byte
	Respond(data []byte) error
	HasReply() bool
}

// MessageHandler defines how the service handles incoming messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message)
	HandlerReady() bool
}

// EventPublisher publishes lifecycle events for downstream consumers.
type EventPublisher interface {
	PublishSessionStatusChanged(ctx context.Context, msg models.SessionStatusChangedMessage) error
	PublishMeetingRoomChanged(ctx context.Context, msg models.MeetingRoomChangedMessage) error
}

// Notifier hands a notification to the delivery service. Delivery itself is
// asynchronous and not observed by the caller.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}
