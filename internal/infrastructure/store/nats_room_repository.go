// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package store

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// NatsRoomRepository stores one meeting room record per session. The record
// doubles as the creation claim: Create only succeeds for the first writer.
type NatsRoomRepository struct {
	*NatsBaseRepository[models.MeetingRoom]
	keys *KeyBuilder
}

// NewNatsRoomRepository creates a new NATS KV meeting room repository.
func NewNatsRoomRepository(kvStore INatsKeyValue, keyPrefix string) *NatsRoomRepository {
	return &NatsRoomRepository{
		NatsBaseRepository: NewNatsBaseRepository[models.MeetingRoom](kvStore, "meeting room"),
		keys:               NewKeyBuilder(keyPrefix),
	}
}

func (r *NatsRoomRepository) key(sessionID int64) string {
	return r.keys.EntityKey(KeyPrefixRoom, sessionID)
}

// Claim implements domain.MeetingRoomRepository.
func (r *NatsRoomRepository) Claim(ctx context.Context, room *models.MeetingRoom) (uint64, error) {
	return r.Create(ctx, r.key(room.SessionID), room)
}

// GetRoom implements domain.MeetingRoomRepository.
func (r *NatsRoomRepository) GetRoom(ctx context.Context, sessionID int64) (*models.MeetingRoom, uint64, error) {
	return r.GetWithRevision(ctx, r.key(sessionID))
}

// UpdateRoom implements domain.MeetingRoomRepository.
func (r *NatsRoomRepository) UpdateRoom(ctx context.Context, room *models.MeetingRoom, revision uint64) (uint64, error) {
	return r.Update(ctx, r.key(room.SessionID), room, revision)
}

// ReleaseClaim removes a claim whose room was never created. A claim that is
// already gone is not an error.
func (r *NatsRoomRepository) ReleaseClaim(ctx context.Context, sessionID int64, revision uint64) error {
	err := r.Delete(ctx, r.key(sessionID), revision)
	if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
		return nil
	}
	return err
}
