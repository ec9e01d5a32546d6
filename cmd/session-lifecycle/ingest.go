// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/handlers"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/middleware"
)

// natsMessage adapts a NATS message to domain.Message.
type natsMessage struct {
	msg *nats.Msg
}

var _ domain.Message = (*natsMessage)(nil)

func (m *natsMessage) Subject() string { return m.msg.Subject }

func (m *natsMessage) Data() []byte { return m.msg.Data }

func (m *natsMessage) Respond(data []byte) error { return m.msg.Respond(data) }

func (m *natsMessage) HasReply() bool { return m.msg.Reply != "" }

// readiness reports whether the daemon can take traffic.
type readiness interface {
	HandlerReady() bool
}

// newIngestMux serves /health, /ready and /metrics.
func newIngestMux(ready readiness, connected func() bool, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.HandlerReady() || !connected() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// subscribe creates one queue subscription per subject handled by h.
func subscribe(ctx context.Context, nc *nats.Conn, h *handlers.TelemetryHandler) ([]*nats.Subscription, error) {
	// Messages delivered while draining still run to completion.
	msgCtx := context.WithoutCancel(ctx)
	subs := make([]*nats.Subscription, 0, len(h.Subjects()))
	for _, subject := range h.Subjects() {
		sub, err := nc.QueueSubscribe(subject, models.AttendanceQueueGroup, func(msg *nats.Msg) {
			h.HandleMessage(msgCtx, &natsMessage{msg: msg})
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, domain.NewUnavailableError(fmt.Sprintf("failed to subscribe to %s", subject), err)
		}
		slog.InfoContext(ctx, "subscribed to NATS subject", "subject", subject, "queue", models.AttendanceQueueGroup)
		subs = append(subs, sub)
	}
	return subs, nil
}

// runIngest consumes attendance telemetry until ctx is cancelled, then drains
// the subscriptions and stops the HTTP server.
func runIngest(ctx context.Context, a *app) error {
	handler := handlers.NewTelemetryHandler(a.attendance, a.lifecycle)
	if !handler.HandlerReady() {
		return domain.ErrServiceUnavailable
	}

	subs, err := subscribe(ctx, a.nc, handler)
	if err != nil {
		return err
	}

	mux := newIngestMux(handler, a.nc.IsConnected, a.metrics.Registry)
	httpServer := &http.Server{
		Addr:              a.cfg.Ingest.Addr,
		Handler:           otelhttp.NewHandler(middleware.RequestLoggerMiddleware()(mux), "session-lifecycle-ingest"),
		ReadHeaderTimeout: 3 * time.Second,
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.With("addr", httpServer.Addr).Info("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down ingest")
		err = nil
	case err = <-serverErr:
		slog.With(logging.ErrKey, err).Error("http listener error")
	}

	for _, sub := range subs {
		if drainErr := sub.Drain(); drainErr != nil {
			slog.With(logging.ErrKey, drainErr, "subject", sub.Subject).Warn("error draining subscription")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.With(logging.ErrKey, shutdownErr).Error("http shutdown error")
	}
	wg.Wait()

	if err != nil {
		return domain.NewUnavailableError("ingest HTTP server failed", err)
	}
	return nil
}
