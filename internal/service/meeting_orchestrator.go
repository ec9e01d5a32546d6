// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/constants"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/utils"
)

// Effect kinds reported by the meeting sweep.
const (
	EffectRoomCreated  = "room_created"
	EffectRoomRepaired = "room_ref_repaired"
	EffectRoomEnded    = "room_ended"
	EffectRoomSynced   = "room_state_synced"
)

// MeetingOrchestrator creates and ends the video room of each session. It
// runs independently of the state machine.
type MeetingOrchestrator struct {
	Sessions  domain.SessionRepository
	Rooms     domain.MeetingRoomRepository
	Providers domain.VideoProviderRegistry
	Tenants   domain.TenantDirectory
	Publisher domain.EventPublisher
	Notifier  domain.Notifier
	Metrics   *Metrics
	Config    ServiceConfig
	Now       func() time.Time
}

// NewMeetingOrchestrator creates a new MeetingOrchestrator.
func NewMeetingOrchestrator(
	sessions domain.SessionRepository,
	rooms domain.MeetingRoomRepository,
	providers domain.VideoProviderRegistry,
	tenants domain.TenantDirectory,
	publisher domain.EventPublisher,
	notifier domain.Notifier,
	config ServiceConfig,
) *MeetingOrchestrator {
	return &MeetingOrchestrator{
		Sessions:  sessions,
		Rooms:     rooms,
		Providers: providers,
		Tenants:   tenants,
		Publisher: publisher,
		Notifier:  notifier,
		Config:    config,
		Now:       time.Now,
	}
}

// ServiceReady checks if the service is ready for use.
func (o *MeetingOrchestrator) ServiceReady() bool {
	return o.Sessions != nil && o.Rooms != nil && o.Providers != nil
}

func (o *MeetingOrchestrator) providerTimeout() time.Duration {
	if o.Config.ProviderTimeout <= 0 {
		return constants.DefaultProviderTimeout
	}
	return o.Config.ProviderTimeout
}

// SweepMeetings runs the create pass, then the end pass. Only a failed read
// of the session store aborts the run.
func (o *MeetingOrchestrator) SweepMeetings(ctx context.Context, opts models.BatchOptions) *models.BatchSummary {
	ctx = logging.WithOperation(ctx, "sweep-meetings")
	now := o.Now()
	summary := models.NewBatchSummary("sweep-meetings", opts, now)
	if !o.ServiceReady() {
		return finishBatch(ctx, summary, o.Metrics, o.Now(), domain.ErrServiceUnavailable)
	}

	tenants := newTenantResolver(o.Tenants, o.Config.TenantDefaults)
	pool := o.Config.pool()

	noRoom := false
	createFrom := now.Add(-o.staleAfter())
	createTo := now.Add(o.Config.MeetingCreateLookahead)
	createQuery := models.SessionQuery{
		TenantID:       opts.TenantID,
		Statuses:       []models.SessionStatus{models.SessionStatusScheduled, models.SessionStatusReady},
		HasMeetingRoom: &noRoom,
		ScheduledFrom:  &createFrom,
		ScheduledTo:    &createTo,
	}
	err := forEachSessionChunk(ctx, o.Sessions, createQuery, o.Config.chunkSize(), func(ctx context.Context, chunk []*models.Session) {
		processItems(ctx, pool, summary, chunk, sessionKey, "room_create",
			func(ctx context.Context, session *models.Session) (bool, error) {
				kind, err := o.createRoom(ctx, session, tenants, now, opts)
				if err != nil {
					return false, err
				}
				summary.RecordApplied(kind)
				return true, nil
			})
	})
	if err != nil {
		return finishBatch(ctx, summary, o.Metrics, o.Now(), err)
	}

	hasRoom := true
	endFrom := now.Add(-o.Config.MeetingEndLookback)
	endQuery := models.SessionQuery{
		TenantID:       opts.TenantID,
		HasMeetingRoom: &hasRoom,
		ScheduledFrom:  &endFrom,
		ScheduledTo:    &createTo,
	}
	err = forEachSessionChunk(ctx, o.Sessions, endQuery, o.Config.chunkSize(), func(ctx context.Context, chunk []*models.Session) {
		processItems(ctx, pool, summary, chunk, sessionKey, "room_end",
			func(ctx context.Context, session *models.Session) (bool, error) {
				kind, err := o.endRoom(ctx, session, tenants, now, opts)
				if err != nil || kind == "" {
					return false, err
				}
				summary.RecordApplied(kind)
				return true, nil
			})
	})
	return finishBatch(ctx, summary, o.Metrics, o.Now(), err)
}

func (o *MeetingOrchestrator) staleAfter() time.Duration {
	if o.Config.StaleAfter <= 0 {
		return constants.DefaultStaleAfter
	}
	return o.Config.StaleAfter
}

// createRoom opens the room of one session. The KV claim makes concurrent
// calls for the same session collapse into one provider call.
func (o *MeetingOrchestrator) createRoom(
	ctx context.Context,
	session *models.Session,
	tenants *tenantResolver,
	now time.Time,
	opts models.BatchOptions,
) (string, error) {
	if session.HasMeetingRoom() {
		return "", domain.NewPreconditionSkip(fmt.Sprintf("session %d already has a room", session.ID))
	}
	if session.Status != models.SessionStatusScheduled && session.Status != models.SessionStatusReady {
		return "", domain.NewPreconditionSkip(fmt.Sprintf("session %d is %s", session.ID, session.Status))
	}

	settings, err := tenants.Resolve(ctx, session.TenantID)
	if err != nil {
		return "", err
	}
	if !settings.AutoCreateMeetings {
		return "", domain.NewPreconditionSkip(fmt.Sprintf("tenant %s does not auto-create meetings", session.TenantID))
	}
	if !now.Before(session.EffectiveEnd(settings.OvertimeAllowance)) {
		return "", domain.NewPreconditionSkip(fmt.Sprintf("session %d is already over", session.ID))
	}
	quiet, err := settings.InQuietWindow(now)
	if err != nil {
		return "", domain.NewValidationError(fmt.Sprintf("tenant %s quiet window", session.TenantID), err)
	}
	if quiet && !opts.Force {
		return "", domain.NewPreconditionSkip(fmt.Sprintf("tenant %s is in its quiet window", session.TenantID))
	}

	provider, err := o.Providers.GetProvider(settings.VideoProvider)
	if err != nil {
		return "", err
	}

	room := &models.MeetingRoom{
		SessionID: session.ID,
		TenantID:  session.TenantID,
		Provider:  settings.VideoProvider,
		RoomName:  models.RoomName(session.TenantID, session.Kind, session.ID),
		State:     models.RoomStateNone,
		ClaimedAt: now,
		UpdatedAt: now,
	}
	if opts.DryRun {
		slog.DebugContext(ctx, "dry run: would create room", "session_id", session.ID, "room_name", room.RoomName)
		return EffectRoomCreated, nil
	}

	revision, err := o.Rooms.Claim(ctx, room)
	if err != nil {
		if domain.GetErrorType(err) != domain.ErrorTypeConflict {
			return "", err
		}
		var kind string
		kind, revision, err = o.resolveClaim(ctx, session, room, now)
		if err != nil || kind != "" {
			return kind, err
		}
	}

	spec := models.RoomSpec{
		SessionID:       session.ID,
		TenantID:        session.TenantID,
		Name:            room.RoomName,
		Title:           session.Title,
		StartsAt:        session.ScheduledAt,
		DurationMinutes: session.DurationMinutes,
		MaxParticipants: settings.MaxParticipants,
		EmptyTimeout:    settings.StartGrace,
	}
	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout())
	created, err := provider.CreateRoom(callCtx, spec)
	cancel()
	if err == nil && (created == nil || created.RoomRef == "") {
		err = fmt.Errorf("provider %s returned no room reference", room.Provider)
	}
	o.Metrics.ObserveProviderCall(room.Provider, "create_room", err)
	if err != nil {
		if releaseErr := o.Rooms.ReleaseClaim(ctx, session.ID, revision); releaseErr != nil {
			slog.WarnContext(ctx, "error releasing room claim", "session_id", session.ID, logging.ErrKey, releaseErr)
		}
		return "", domain.NewProviderError(fmt.Sprintf("creating room for session %d", session.ID), err)
	}

	createdAt := o.Now()
	room.State = models.RoomStateCreated
	room.RoomRef = created.RoomRef
	room.JoinURL = created.JoinURL
	room.CreatedAt = &createdAt
	room.UpdatedAt = createdAt
	if _, err := o.Rooms.UpdateRoom(ctx, room, revision); err != nil {
		o.abandonRoom(ctx, provider, room)
		return "", err
	}

	ok, err := o.Sessions.SetMeetingRoomRef(ctx, session, created.RoomRef)
	if err != nil {
		// The provider handed out a reference another session already holds.
		// That room belongs to the other session and stays open.
		if domain.GetErrorType(err) == domain.ErrorTypeConflict {
			return "", domain.NewDataIntegrityError(
				fmt.Sprintf("room %s is already recorded on another session", created.RoomRef), err)
		}
		return "", err
	}
	if !ok {
		// a concurrent repair may already have recorded this very room
		if stored, err := o.Sessions.GetSession(ctx, session.ID); err != nil || utils.StringValue(stored.MeetingRoomRef) != created.RoomRef {
			o.abandonRoom(ctx, provider, room)
		}
		return "", domain.NewConcurrencyMiss(fmt.Sprintf("session %d got a room reference from another writer", session.ID))
	}

	slog.InfoContext(ctx, "meeting room created",
		"session_id", session.ID,
		"provider", room.Provider,
		"room_ref", room.RoomRef,
	)
	o.publishRoom(ctx, room)
	o.notifyRoomReady(ctx, session, room)
	return EffectRoomCreated, nil
}

// resolveClaim handles a claim that already exists. A created room whose
// reference never reached the session is repaired; a claim abandoned by a
// crashed run is taken over; anything else belongs to another run.
func (o *MeetingOrchestrator) resolveClaim(
	ctx context.Context,
	session *models.Session,
	room *models.MeetingRoom,
	now time.Time,
) (string, uint64, error) {
	existing, revision, err := o.Rooms.GetRoom(ctx, session.ID)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			return "", 0, domain.NewConcurrencyMiss(fmt.Sprintf("room claim for session %d changed", session.ID))
		}
		return "", 0, err
	}

	switch {
	case existing.State.IsOpen() && existing.RoomRef != "":
		ok, err := o.Sessions.SetMeetingRoomRef(ctx, session, existing.RoomRef)
		if err != nil {
			return "", 0, err
		}
		if !ok {
			return "", 0, domain.NewConcurrencyMiss(fmt.Sprintf("session %d already has a room", session.ID))
		}
		slog.InfoContext(ctx, "room reference repaired", "session_id", session.ID, "room_ref", existing.RoomRef)
		return EffectRoomRepaired, 0, nil

	case existing.State == models.RoomStateNone && now.Sub(existing.ClaimedAt) > 2*o.providerTimeout():
		slog.WarnContext(ctx, "taking over abandoned room claim",
			"session_id", session.ID, "claimed_at", existing.ClaimedAt)
		revision, err = o.Rooms.UpdateRoom(ctx, room, revision)
		if err != nil {
			if domain.GetErrorType(err) == domain.ErrorTypeConflict {
				return "", 0, domain.NewConcurrencyMiss(fmt.Sprintf("room claim for session %d taken over by another run", session.ID))
			}
			return "", 0, err
		}
		return "", revision, nil
	}

	return "", 0, domain.NewConcurrencyMiss(fmt.Sprintf("room for session %d is being handled by another run", session.ID))
}

// abandonRoom ends a room that could not be recorded against its session.
func (o *MeetingOrchestrator) abandonRoom(ctx context.Context, provider domain.VideoProvider, room *models.MeetingRoom) {
	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout())
	defer cancel()
	err := provider.EndRoom(callCtx, room.RoomRef)
	o.Metrics.ObserveProviderCall(room.Provider, "end_room", err)
	if err != nil {
		slog.ErrorContext(ctx, "error ending unrecorded room",
			"session_id", room.SessionID, "room_ref", room.RoomRef, logging.ErrKey, err)
	}
}

// endRoom closes the room of a session that is terminal or past its effective
// end. It returns an empty kind when there was nothing to do.
func (o *MeetingOrchestrator) endRoom(
	ctx context.Context,
	session *models.Session,
	tenants *tenantResolver,
	now time.Time,
	opts models.BatchOptions,
) (string, error) {
	settings, err := tenants.Resolve(ctx, session.TenantID)
	if err != nil {
		return "", err
	}
	due := session.Status.IsTerminal() || !now.Before(session.EffectiveEnd(settings.OvertimeAllowance))
	if !due || !session.HasMeetingRoom() {
		return "", nil
	}
	roomRef := *session.MeetingRoomRef

	room, revision, err := o.Rooms.GetRoom(ctx, session.ID)
	switch {
	case err == nil:
		if room.State == models.RoomStateEnded {
			return "", nil
		}
	case domain.GetErrorType(err) == domain.ErrorTypeNotFound:
		room = nil
	default:
		return "", err
	}

	providerName := settings.VideoProvider
	if room != nil && room.Provider != "" {
		providerName = room.Provider
	}
	provider, err := o.Providers.GetProvider(providerName)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout())
	state, err := provider.GetRoomStatus(callCtx, roomRef)
	cancel()
	o.Metrics.ObserveProviderCall(providerName, "get_room_status", err)
	if err != nil {
		slog.WarnContext(ctx, "error reading room status, ending anyway",
			"session_id", session.ID, "room_ref", roomRef, logging.ErrKey, err)
		state = models.RoomStateUnknown
	}

	kind := EffectRoomSynced
	if state.IsOpen() || state == models.RoomStateUnknown {
		kind = EffectRoomEnded
	}
	if opts.DryRun {
		slog.DebugContext(ctx, "dry run: would end room", "session_id", session.ID, "room_ref", roomRef, "state", state)
		return kind, nil
	}

	if kind == EffectRoomEnded {
		callCtx, cancel := context.WithTimeout(ctx, o.providerTimeout())
		err := provider.EndRoom(callCtx, roomRef)
		cancel()
		o.Metrics.ObserveProviderCall(providerName, "end_room", err)
		if err != nil {
			return "", domain.NewProviderError(fmt.Sprintf("ending room %s for session %d", roomRef, session.ID), err)
		}
	}

	endedAt := o.Now()
	if room == nil {
		room = &models.MeetingRoom{
			SessionID: session.ID,
			TenantID:  session.TenantID,
			Provider:  providerName,
			RoomName:  models.RoomName(session.TenantID, session.Kind, session.ID),
			RoomRef:   roomRef,
			ClaimedAt: endedAt,
		}
	}
	room.State = models.RoomStateEnded
	room.EndedAt = &endedAt
	room.UpdatedAt = endedAt

	if revision == 0 {
		_, err = o.Rooms.Claim(ctx, room)
	} else {
		_, err = o.Rooms.UpdateRoom(ctx, room, revision)
	}
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeConflict {
			return "", domain.NewConcurrencyMiss(fmt.Sprintf("room for session %d was updated by another run", session.ID))
		}
		return "", err
	}

	slog.InfoContext(ctx, "meeting room ended", "session_id", session.ID, "room_ref", roomRef, "provider_state", state)
	o.publishRoom(ctx, room)
	return kind, nil
}

func (o *MeetingOrchestrator) publishRoom(ctx context.Context, room *models.MeetingRoom) {
	if o.Publisher == nil {
		return
	}
	msg := models.MeetingRoomChangedMessage{
		SessionID:  room.SessionID,
		TenantID:   room.TenantID,
		Provider:   room.Provider,
		RoomRef:    room.RoomRef,
		State:      room.State,
		OccurredAt: o.Now(),
	}
	if err := o.Publisher.PublishMeetingRoomChanged(ctx, msg); err != nil {
		slog.WarnContext(ctx, "error publishing room change", "session_id", room.SessionID, logging.ErrKey, err)
	}
}

func (o *MeetingOrchestrator) notifyRoomReady(ctx context.Context, session *models.Session, room *models.MeetingRoom) {
	if o.Notifier == nil || session.TeacherRef == nil || *session.TeacherRef == "" {
		return
	}
	notification := models.Notification{
		Recipient: *session.TeacherRef,
		Type:      models.NotificationMeetingRoomReady,
		Payload: map[string]any{
			"session_id":   session.ID,
			"title":        session.Title,
			"scheduled_at": session.ScheduledAt,
			"join_url":     room.JoinURL,
		},
		Link:      o.Config.links().SessionURL(session.TenantID, session.ID),
		Metadata:  map[string]any{"tenant_id": session.TenantID, "kind": session.Kind, "provider": room.Provider},
		CreatedAt: o.Now(),
	}
	if err := o.Notifier.Notify(ctx, notification); err != nil {
		slog.WarnContext(ctx, "error sending room ready notification", "session_id", session.ID, logging.ErrKey, err)
	}
}
