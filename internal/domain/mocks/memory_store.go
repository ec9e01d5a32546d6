// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package mocks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// MemoryStore is an in-memory implementation of the session, attendance,
// ledger and subscription repositories. Guarded writes behave like their SQL
// counterparts so concurrent sweeps can be exercised in tests.
type MemoryStore struct {
	mu            sync.Mutex
	sessions      map[int64]*models.Session
	events        []*models.AttendanceEvent
	nextEventID   int64
	records       map[int64][]*models.AttendanceRecord
	subscriptions map[int64]*models.Subscription

	// TransitionErr, when set, is returned for transitions of the given session.
	TransitionErr map[int64]error
	// ApplyErr, when set, is returned when applying usage for the given session.
	ApplyErr map[int64]error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[int64]*models.Session),
		records:       make(map[int64][]*models.AttendanceRecord),
		subscriptions: make(map[int64]*models.Subscription),
		TransitionErr: make(map[int64]error),
		ApplyErr:      make(map[int64]error),
	}
}

// AddSession stores a copy of the session.
func (s *MemoryStore) AddSession(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *session
	s.sessions[session.ID] = &c
}

// AddSubscription stores a copy of the subscription.
func (s *MemoryStore) AddSubscription(sub *models.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *sub
	s.subscriptions[sub.ID] = &c
}

// DeleteSubscription removes a subscription, leaving its sessions orphaned.
func (s *MemoryStore) DeleteSubscription(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, id)
}

// Session returns a copy of the stored session, or nil.
func (s *MemoryStore) Session(id int64) *models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil
	}
	c := *session
	return &c
}

// Subscription returns a copy of the stored subscription, or nil.
func (s *MemoryStore) Subscription(id int64) *models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil
	}
	c := *sub
	return &c
}

// Records returns the stored attendance records of a session.
func (s *MemoryStore) Records(sessionID int64) []*models.AttendanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records[sessionID])
}

// ListSessions implements SessionRepository.
func (s *MemoryStore) ListSessions(ctx context.Context, query models.SessionQuery) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Session
	for _, session := range s.sessions {
		if s.matchSession(session, query) {
			c := *session
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

func (s *MemoryStore) matchSession(session *models.Session, q models.SessionQuery) bool {
	if session.ID <= q.AfterID {
		return false
	}
	if q.OnlyDeleted {
		if session.DeletedAt == nil {
			return false
		}
		if q.DeletedBefore != nil && !session.DeletedAt.Before(*q.DeletedBefore) {
			return false
		}
	} else if session.DeletedAt != nil {
		return false
	}
	if q.TenantID != "" && session.TenantID != q.TenantID {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, session.Status) {
		return false
	}
	if q.ScheduledFrom != nil && session.ScheduledAt.Before(*q.ScheduledFrom) {
		return false
	}
	if q.ScheduledTo != nil && !session.ScheduledAt.Before(*q.ScheduledTo) {
		return false
	}
	if q.HasMeetingRoom != nil && session.HasMeetingRoom() != *q.HasMeetingRoom {
		return false
	}
	if q.HasSubscription != nil && (session.SubscriptionID != nil) != *q.HasSubscription {
		return false
	}
	if q.SubscriptionCounted != nil && session.SubscriptionCounted != *q.SubscriptionCounted {
		return false
	}
	if q.AttendancePending {
		for _, r := range s.records[session.ID] {
			if r.IsCalculated {
				return false
			}
		}
	}
	return true
}

// GetSession implements SessionRepository.
func (s *MemoryStore) GetSession(ctx context.Context, sessionID int64) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.DeletedAt != nil {
		return nil, domain.NewNotFoundError(fmt.Sprintf("session %d not found", sessionID))
	}
	c := *session
	return &c, nil
}

// TransitionStatus implements SessionRepository.
func (s *MemoryStore) TransitionStatus(ctx context.Context, t models.StatusTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.TransitionErr[t.SessionID]; err != nil {
		return false, err
	}
	session, ok := s.sessions[t.SessionID]
	if !ok || session.DeletedAt != nil || session.Kind != t.Kind {
		return false, nil
	}
	if !slices.Contains(t.From, session.Status) {
		return false, nil
	}
	session.Status = t.To
	if t.StartedAt != nil {
		started := *t.StartedAt
		session.StartedAt = &started
	}
	if t.EndedAt != nil {
		ended := *t.EndedAt
		session.EndedAt = &ended
	}
	session.UpdatedAt = time.Now()
	return true, nil
}

// SetMeetingRoomRef implements SessionRepository.
func (s *MemoryStore) SetMeetingRoomRef(ctx context.Context, session *models.Session, roomRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok || stored.HasMeetingRoom() {
		return false, nil
	}
	for id, other := range s.sessions {
		if id != session.ID && other.MeetingRoomRef != nil && *other.MeetingRoomRef == roomRef {
			return false, domain.NewConflictError(fmt.Sprintf("room %s is already stored on session %d", roomRef, id))
		}
	}
	ref := roomRef
	stored.MeetingRoomRef = &ref
	return true, nil
}

// SoftDelete implements SessionRepository.
func (s *MemoryStore) SoftDelete(ctx context.Context, session *models.Session, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok || stored.DeletedAt != nil {
		return false, nil
	}
	deleted := at
	stored.DeletedAt = &deleted
	return true, nil
}

// PurgeDeleted implements SessionRepository.
func (s *MemoryStore) PurgeDeleted(ctx context.Context, session *models.Session, deletedBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok || stored.DeletedAt == nil || !stored.DeletedAt.Before(deletedBefore) {
		return false, nil
	}
	delete(s.sessions, session.ID)
	delete(s.records, session.ID)
	return true, nil
}

// Ping implements SessionRepository.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Append implements AttendanceEventRepository.
func (s *MemoryStore) Append(ctx context.Context, event *models.AttendanceEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ProviderEventID != "" {
		for _, existing := range s.events {
			if existing.ProviderEventID == event.ProviderEventID {
				return false, nil
			}
		}
	}
	s.nextEventID++
	c := *event
	c.ID = s.nextEventID
	if c.ReceivedAt.IsZero() {
		c.ReceivedAt = time.Now()
	}
	s.events = append(s.events, &c)
	event.ID = c.ID
	return true, nil
}

// FirstJoin implements AttendanceEventRepository.
func (s *MemoryStore) FirstJoin(ctx context.Context, sessionID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first *time.Time
	for _, e := range s.events {
		if e.SessionID != sessionID || !e.EventType.OpensCycle() {
			continue
		}
		if first == nil || e.Timestamp.Before(*first) {
			ts := e.Timestamp
			first = &ts
		}
	}
	return first, nil
}

// ListEvents implements AttendanceEventRepository.
func (s *MemoryStore) ListEvents(ctx context.Context, sessionID int64) ([]*models.AttendanceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AttendanceEvent
	for _, e := range s.events {
		if e.SessionID == sessionID {
			c := *e
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// ReplaceForSession implements AttendanceRecordRepository.
func (s *MemoryStore) ReplaceForSession(ctx context.Context, sessionID int64, records []*models.AttendanceRecord, replace bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !replace {
		for _, r := range s.records[sessionID] {
			if r.IsCalculated {
				return false, nil
			}
		}
	}
	s.records[sessionID] = slices.Clone(records)
	return true, nil
}

// ListRecords implements AttendanceRecordRepository.
func (s *MemoryStore) ListRecords(ctx context.Context, sessionID int64) ([]*models.AttendanceRecord, error) {
	return s.Records(sessionID), nil
}

// ApplyUsage implements LedgerRepository.
func (s *MemoryStore) ApplyUsage(ctx context.Context, session *models.Session, billable []models.SessionStatus) (*models.UsageApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ApplyErr[session.ID]; err != nil {
		return nil, err
	}
	stored, ok := s.sessions[session.ID]
	if !ok || stored.SubscriptionCounted || stored.SubscriptionID == nil || !slices.Contains(billable, stored.Status) {
		return nil, nil
	}
	sub, ok := s.subscriptions[*stored.SubscriptionID]
	if !ok {
		return nil, domain.NewDataIntegrityError(fmt.Sprintf("session %d references missing subscription %d", stored.ID, *stored.SubscriptionID))
	}
	stored.SubscriptionCounted = true
	sub.SessionsUsed++
	sub.SessionsRemaining = max(0, sub.TotalSessions-sub.SessionsUsed)
	return &models.UsageApplication{
		SessionID:         stored.ID,
		SubscriptionID:    sub.ID,
		SessionsUsed:      sub.SessionsUsed,
		SessionsRemaining: sub.SessionsRemaining,
	}, nil
}

// ListSubscriptionUsage implements LedgerRepository.
func (s *MemoryStore) ListSubscriptionUsage(ctx context.Context, query models.SubscriptionQuery) ([]*models.SubscriptionUsage, error) {
	subs, err := s.ListSubscriptions(ctx, query)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SubscriptionUsage, 0, len(subs))
	for _, sub := range subs {
		counted := 0
		for _, session := range s.sessions {
			if session.SubscriptionCounted && session.SubscriptionID != nil && *session.SubscriptionID == sub.ID {
				counted++
			}
		}
		out = append(out, &models.SubscriptionUsage{Subscription: sub, CountedSessions: counted})
	}
	return out, nil
}

// ListOrphanedSessions implements LedgerRepository.
func (s *MemoryStore) ListOrphanedSessions(ctx context.Context, tenantID string) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if tenantID != "" && session.TenantID != tenantID {
			continue
		}
		if session.SubscriptionID == nil || !session.SubscriptionCounted {
			continue
		}
		if _, ok := s.subscriptions[*session.SubscriptionID]; !ok {
			c := *session
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// RecomputeUsage implements LedgerRepository.
func (s *MemoryStore) RecomputeUsage(ctx context.Context, subscriptionID int64, observedUsed, counted int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok || sub.SessionsUsed != observedUsed {
		return false, nil
	}
	sub.SessionsUsed = counted
	sub.SessionsRemaining = max(0, sub.TotalSessions-counted)
	return true, nil
}

// GetSubscription implements SubscriptionRepository.
func (s *MemoryStore) GetSubscription(ctx context.Context, subscriptionID int64) (*models.Subscription, error) {
	sub := s.Subscription(subscriptionID)
	if sub == nil {
		return nil, domain.NewNotFoundError(fmt.Sprintf("subscription %d not found", subscriptionID))
	}
	return sub, nil
}

// ListSubscriptions implements SubscriptionRepository.
func (s *MemoryStore) ListSubscriptions(ctx context.Context, q models.SubscriptionQuery) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Subscription
	for _, sub := range s.subscriptions {
		if sub.ID <= q.AfterID {
			continue
		}
		if q.TenantID != "" && sub.TenantID != q.TenantID {
			continue
		}
		if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, sub.Status) {
			continue
		}
		if q.InGrace && sub.Metadata.GracePeriodEndsAt == nil {
			continue
		}
		if q.AccessEndedBefore != nil && !sub.AccessEndsAt().Before(*q.AccessEndedBefore) {
			continue
		}
		c := *sub
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// UpdateMetadata implements SubscriptionRepository.
func (s *MemoryStore) UpdateMetadata(ctx context.Context, subscriptionID int64, metadata models.SubscriptionMetadata, version int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok || sub.Version != version {
		return false, nil
	}
	sub.Metadata = metadata
	sub.Version++
	return true, nil
}

// Expire implements SubscriptionRepository.
func (s *MemoryStore) Expire(ctx context.Context, subscriptionID int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok || sub.Status != models.SubscriptionStatusActive {
		return false, nil
	}
	sub.Status = models.SubscriptionStatusExpired
	sub.UpdatedAt = at
	return true, nil
}

// MemoryRoomStore is an in-memory MeetingRoomRepository with revision checks.
type MemoryRoomStore struct {
	mu        sync.Mutex
	rooms     map[int64]models.MeetingRoom
	revisions map[int64]uint64
}

// NewMemoryRoomStore creates an empty room store.
func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms:     make(map[int64]models.MeetingRoom),
		revisions: make(map[int64]uint64),
	}
}

// Claim implements MeetingRoomRepository.
func (r *MemoryRoomStore) Claim(ctx context.Context, room *models.MeetingRoom) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[room.SessionID]; exists {
		return 0, domain.NewConflictError(fmt.Sprintf("room for session %d already claimed", room.SessionID))
	}
	r.rooms[room.SessionID] = *room
	r.revisions[room.SessionID] = 1
	return 1, nil
}

// GetRoom implements MeetingRoomRepository.
func (r *MemoryRoomStore) GetRoom(ctx context.Context, sessionID int64) (*models.MeetingRoom, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[sessionID]
	if !ok {
		return nil, 0, domain.NewNotFoundError(fmt.Sprintf("room for session %d not found", sessionID))
	}
	return &room, r.revisions[sessionID], nil
}

// UpdateRoom implements MeetingRoomRepository.
func (r *MemoryRoomStore) UpdateRoom(ctx context.Context, room *models.MeetingRoom, revision uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.revisions[room.SessionID]
	if !ok {
		return 0, domain.NewNotFoundError(fmt.Sprintf("room for session %d not found", room.SessionID))
	}
	if current != revision {
		return 0, domain.NewConflictError("revision mismatch")
	}
	r.rooms[room.SessionID] = *room
	r.revisions[room.SessionID] = current + 1
	return current + 1, nil
}

// ReleaseClaim implements MeetingRoomRepository.
func (r *MemoryRoomStore) ReleaseClaim(ctx context.Context, sessionID int64, revision uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.revisions[sessionID]
	if !ok {
		return nil
	}
	if current != revision {
		return domain.NewConflictError("revision mismatch")
	}
	delete(r.rooms, sessionID)
	delete(r.revisions, sessionID)
	return nil
}
