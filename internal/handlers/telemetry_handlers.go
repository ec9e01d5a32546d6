// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/messaging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/service"
)

// TelemetryHandler handles attendance telemetry published by the video
// providers' webhook relays.
type TelemetryHandler struct {
	attendanceService *service.AttendanceService
	lifecycleService  *service.SessionLifecycleService
}

// NewTelemetryHandler creates a TelemetryHandler.
func NewTelemetryHandler(
	attendanceService *service.AttendanceService,
	lifecycleService *service.SessionLifecycleService,
) *TelemetryHandler {
	return &TelemetryHandler{
		attendanceService: attendanceService,
		lifecycleService:  lifecycleService,
	}
}

// HandlerReady implements domain.MessageHandler.
func (h *TelemetryHandler) HandlerReady() bool {
	return h.attendanceService.ServiceReady() && h.lifecycleService.ServiceReady()
}

// Subjects lists the subjects the handler consumes.
func (h *TelemetryHandler) Subjects() []string {
	return []string{models.AttendanceEventSubject, models.AttendanceEventBatchSubject}
}

// HandleMessage implements domain.MessageHandler interface
func (h *TelemetryHandler) HandleMessage(ctx context.Context, msg domain.Message) {
	subject := msg.Subject()
	ctx = logging.AppendCtx(ctx, slog.String("subject", subject))
	slog.DebugContext(ctx, "handling NATS message")

	handlers := map[string]func(ctx context.Context, msg domain.Message) (models.AttendanceIngestResponse, error){
		models.AttendanceEventSubject:      h.HandleAttendanceEvent,
		models.AttendanceEventBatchSubject: h.HandleAttendanceBatch,
	}

	handler, ok := handlers[subject]
	if !ok {
		slog.WarnContext(ctx, "unknown subject")
		h.respond(ctx, msg, nil)
		return
	}

	resp, err := handler(ctx, msg)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeValidation {
			slog.WarnContext(ctx, "rejected attendance message", logging.ErrKey, err)
		} else {
			slog.ErrorContext(ctx, "error handling message", logging.ErrKey, err)
		}
		resp.Errors = append(resp.Errors, err.Error())
	}

	if !msg.HasReply() {
		slog.DebugContext(ctx, "handled NATS message (no reply expected)")
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "error marshaling ingest response", logging.ErrKey, err)
		h.respond(ctx, msg, nil)
		return
	}
	h.respond(ctx, msg, data)
}

func (h *TelemetryHandler) respond(ctx context.Context, msg domain.Message, data []byte) {
	if !msg.HasReply() {
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.ErrorContext(ctx, "error responding to NATS message", logging.ErrKey, err)
	}
}

// HandleAttendanceEvent ingests a single JSON encoded event.
func (h *TelemetryHandler) HandleAttendanceEvent(ctx context.Context, msg domain.Message) (models.AttendanceIngestResponse, error) {
	var resp models.AttendanceIngestResponse

	event, err := messaging.DecodeAttendanceEvent(msg.Data())
	if err != nil {
		resp.Rejected++
		return resp, err
	}
	ctx = logging.AppendCtx(ctx, slog.Int64("session_id", event.SessionID))

	added, err := h.attendanceService.Ingest(ctx, event)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeValidation {
			resp.Rejected++
		}
		return resp, err
	}
	if !added {
		resp.Duplicates++
		return resp, nil
	}
	resp.Accepted++

	if event.EventType.OpensCycle() {
		h.markStarted(ctx, event.SessionID)
	}
	return resp, nil
}

// HandleAttendanceBatch ingests a msgpack encoded list of events.
func (h *TelemetryHandler) HandleAttendanceBatch(ctx context.Context, msg domain.Message) (models.AttendanceIngestResponse, error) {
	events, err := messaging.DecodeAttendanceBatch(msg.Data())
	if err != nil {
		return models.AttendanceIngestResponse{Rejected: 1}, err
	}
	slog.DebugContext(ctx, "ingesting attendance batch", "events", len(events))

	resp, err := h.attendanceService.IngestBatch(ctx, events)

	// Sessions are started even when the batch stopped early; events that
	// made it into the log are enough to prove a join.
	started := make(map[int64]struct{})
	for _, event := range events {
		if event == nil || event.SessionID <= 0 || !event.EventType.OpensCycle() {
			continue
		}
		if _, seen := started[event.SessionID]; seen {
			continue
		}
		started[event.SessionID] = struct{}{}
		h.markStarted(ctx, event.SessionID)
	}

	if err != nil {
		return resp, fmt.Errorf("attendance batch stopped after %d events: %w", resp.Accepted+resp.Duplicates+resp.Rejected, err)
	}
	return resp, nil
}

// markStarted moves the session to ONGOING on its first join. Failures are
// logged only; the status sweep applies the same rule.
func (h *TelemetryHandler) markStarted(ctx context.Context, sessionID int64) {
	started, err := h.lifecycleService.MarkStarted(ctx, sessionID)
	if err != nil {
		if domain.GetErrorType(err) == domain.ErrorTypeNotFound {
			slog.WarnContext(ctx, "attendance event for unknown session", "session_id", sessionID)
			return
		}
		slog.WarnContext(ctx, "error marking session started", "session_id", sessionID, logging.ErrKey, err)
		return
	}
	if started {
		slog.InfoContext(ctx, "session started on first join", "session_id", sessionID)
	}
}
