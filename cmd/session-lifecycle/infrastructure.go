// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/cmd/session-lifecycle/platforms"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/cache"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/messaging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/postgres"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/store"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/service"
)

// requirements describe which backing services a command cannot run without.
type requirements struct {
	// databaseOnly skips everything but the Postgres pool.
	databaseOnly bool
	// nats makes a NATS connection failure fatal. Without it, commands run
	// with publishing and notifications disabled.
	nats bool
	// rooms opens the meeting room key-value bucket.
	rooms bool
}

// app holds the connections and services shared by every command.
type app struct {
	cfg     Config
	pool    *pgxpool.Pool
	nc      *nats.Conn
	redis   *redis.Client
	metrics *service.Metrics

	lifecycle    *service.SessionLifecycleService
	attendance   *service.AttendanceService
	orchestrator *service.MeetingOrchestrator
	ledger       *service.LedgerService
	auditor      *service.LedgerAuditor
	grace        *service.GracePeriodService
	retention    *service.RetentionService
}

// setupPostgres opens the pool described by the configuration.
func setupPostgres(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	return postgres.Connect(ctx, postgres.PoolConfig{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		ConnectTimeout:  cfg.ConnectTimeout,
	})
}

// setupNATS connects to the broker with reconnect handlers that log state
// changes.
func setupNATS(ctx context.Context, cfg NATSConfig) (*nats.Conn, error) {
	slog.InfoContext(ctx, "connecting to NATS", "url", cfg.URL)

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("session-lifecycle"),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.With(logging.ErrKey, err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				slog.With(logging.ErrKey, err, "subject", sub.Subject, "queue", sub.Queue).Error("async NATS error")
				return
			}
			slog.With(logging.ErrKey, err).Error("async NATS error outside subscription")
		}),
	)
	if err != nil {
		return nil, domain.NewUnavailableError("failed to connect to NATS", err)
	}
	return conn, nil
}

// setupRoomStore opens, creating it if needed, the key-value bucket holding
// meeting room claims.
func setupRoomStore(ctx context.Context, nc *nats.Conn) (*store.NatsRoomRepository, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, domain.NewUnavailableError("failed to create JetStream context", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      store.KVStoreNameMeetingRooms,
		Description: "meeting room records and creation claims, one per session",
		History:     1,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, domain.NewUnavailableError(fmt.Sprintf("failed to open key-value store %s", store.KVStoreNameMeetingRooms), err)
	}
	return store.NewNatsRoomRepository(kv, ""), nil
}

// setupTenantDirectory returns the Postgres directory, fronted by the Redis
// cache when one is configured and reachable.
func setupTenantDirectory(ctx context.Context, cfg RedisConfig, db postgres.DB) (domain.TenantDirectory, *redis.Client) {
	directory := postgres.NewTenantRepository(db)
	if cfg.Addr == "" {
		return directory, nil
	}

	client, err := cache.Connect(ctx, cache.Config{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err != nil {
		slog.WarnContext(ctx, "tenant settings cache disabled", logging.ErrKey, err)
		return directory, nil
	}
	slog.InfoContext(ctx, "tenant settings cache enabled", "addr", cfg.Addr, "ttl", cfg.TTL)
	return cache.NewTenantCache(client, directory, cfg.TTL), client
}

// newApp connects the backing services and builds every service. Connections
// opened before a failure are closed.
func newApp(ctx context.Context, cfg Config, req requirements) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: service.NewMetrics()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.pool, err = setupPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if req.databaseOnly {
		return a, nil
	}

	var (
		publisher domain.EventPublisher
		notifier  domain.Notifier
		rooms     domain.MeetingRoomRepository
	)
	a.nc, err = setupNATS(ctx, cfg.NATS)
	switch {
	case err != nil && req.nats:
		return nil, err
	case err != nil:
		slog.WarnContext(ctx, "running without NATS, events and notifications are disabled", logging.ErrKey, err)
		err = nil
	default:
		builder := messaging.NewMessageBuilder(a.nc)
		publisher, notifier = builder, builder
		if req.rooms {
			rooms, err = setupRoomStore(ctx, a.nc)
			if err != nil {
				return nil, err
			}
		}
	}

	tenants, redisClient := setupTenantDirectory(ctx, cfg.Redis, a.pool)
	a.redis = redisClient

	sessions := postgres.NewSessionRepository(a.pool)
	records := postgres.NewAttendanceRepository(a.pool)
	subscriptions := postgres.NewSubscriptionRepository(a.pool)
	serviceConfig := cfg.serviceConfig()

	a.attendance = service.NewAttendanceService(sessions, records, records, tenants, serviceConfig)
	a.ledger = service.NewLedgerService(sessions, subscriptions, subscriptions, notifier, serviceConfig)
	a.lifecycle = service.NewSessionLifecycleService(sessions, records, tenants, publisher, notifier, serviceConfig)
	a.lifecycle.Attendance = a.attendance
	a.lifecycle.Ledger = a.ledger
	a.auditor = service.NewLedgerAuditor(subscriptions, serviceConfig)
	a.grace = service.NewGracePeriodService(subscriptions, tenants, notifier, serviceConfig)
	a.retention = service.NewRetentionService(sessions, serviceConfig)

	if rooms != nil {
		providers := platforms.NewVideoRegistry(platforms.PlatformConfigs{
			Zoom:    cfg.Zoom,
			LiveKit: cfg.LiveKit,
			Timeout: cfg.Batch.ProviderTimeout,
		})
		a.orchestrator = service.NewMeetingOrchestrator(sessions, rooms, providers, tenants, publisher, notifier, serviceConfig)
		a.orchestrator.Metrics = a.metrics
	}

	a.attendance.Metrics = a.metrics
	a.ledger.Metrics = a.metrics
	a.lifecycle.Metrics = a.metrics
	a.auditor.Metrics = a.metrics
	a.grace.Metrics = a.metrics
	a.retention.Metrics = a.metrics

	return a, nil
}

// close drains NATS and closes every open connection.
func (a *app) close() {
	if a.nc != nil && !a.nc.IsClosed() {
		if err := a.nc.Drain(); err != nil {
			slog.With(logging.ErrKey, err).Error("error draining NATS connection")
		}
		// Drain is asynchronous; give in-flight handlers a moment to finish.
		deadline := time.Now().Add(drainTimeout)
		for !a.nc.IsClosed() && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.With(logging.ErrKey, err).Warn("error closing redis client")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
