// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package messaging

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
)

// INatsConn is a NATS connection interface needed for the [MessageBuilder].
type INatsConn interface {
	IsConnected() bool
	Publish(subj string, data []byte) error
}

// MessageBuilder is the builder for the message and sends it to the NATS server.
// It implements both domain.EventPublisher and domain.Notifier.
type MessageBuilder struct {
	NatsConn INatsConn
}

var (
	_ domain.EventPublisher = (*MessageBuilder)(nil)
	_ domain.Notifier       = (*MessageBuilder)(nil)
)

// NewMessageBuilder creates a new MessageBuilder.
func NewMessageBuilder(natsConn INatsConn) *MessageBuilder {
	return &MessageBuilder{
		NatsConn: natsConn,
	}
}

// sendMessage sends the message to the NATS server.
func (m *MessageBuilder) sendMessage(ctx context.Context, subject string, data []byte) error {
	if m.NatsConn == nil || !m.NatsConn.IsConnected() {
		slog.WarnContext(ctx, "NATS connection is not available, message dropped", "subject", subject)
		return domain.NewUnavailableError("NATS connection is not available")
	}
	err := m.NatsConn.Publish(subject, data)
	if err != nil {
		slog.ErrorContext(ctx, "error sending message to NATS", logging.ErrKey, err, "subject", subject)
		return err
	}
	slog.DebugContext(ctx, "sent message to NATS", "subject", subject)
	return nil
}

func (m *MessageBuilder) sendJSON(ctx context.Context, subject string, v any) error {
	dataBytes, err := json.Marshal(v)
	if err != nil {
		slog.ErrorContext(ctx, "error marshalling data into JSON", logging.ErrKey, err, "subject", subject)
		return err
	}
	return m.sendMessage(ctx, subject, dataBytes)
}

// PublishSessionStatusChanged announces an applied status transition.
func (m *MessageBuilder) PublishSessionStatusChanged(ctx context.Context, msg models.SessionStatusChangedMessage) error {
	return m.sendJSON(ctx, models.SessionStatusChangedSubject, msg)
}

// PublishMeetingRoomChanged announces a room that was created or ended.
func (m *MessageBuilder) PublishMeetingRoomChanged(ctx context.Context, msg models.MeetingRoomChangedMessage) error {
	return m.sendJSON(ctx, models.MeetingRoomChangedSubject, msg)
}

// Notify hands the notification to the delivery service.
func (m *MessageBuilder) Notify(ctx context.Context, notification models.Notification) error {
	slog.DebugContext(ctx, "publishing notification",
		"type", notification.Type,
		"important", notification.Important,
	)
	return m.sendJSON(ctx, models.NotificationSubject, notification)
}
