// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package cache keeps tenant settings in Redis in front of the tenant
// directory. Redis is optional; every failure falls through to the directory.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/logging"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second

	// DefaultTTL bounds how long a settings change can go unnoticed.
	DefaultTTL = 5 * time.Minute

	keyPrefix = "session-lifecycle:tenant-settings:"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect returns a go-redis client and validates the connection with PING.
func Connect(ctx context.Context, config Config) (*redis.Client, error) {
	addr := strings.TrimSpace(config.Addr)
	if addr == "" {
		return nil, domain.NewValidationError("redis address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, domain.NewUnavailableError("redis is unreachable", err)
	}
	return client, nil
}

// redisClient is the subset of the go-redis API the cache uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// TenantCache implements domain.TenantDirectory as a read-through cache.
type TenantCache struct {
	client redisClient
	next   domain.TenantDirectory
	ttl    time.Duration
}

var _ domain.TenantDirectory = (*TenantCache)(nil)

// NewTenantCache wraps next with a Redis read-through cache.
func NewTenantCache(client redisClient, next domain.TenantDirectory, ttl time.Duration) *TenantCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TenantCache{client: client, next: next, ttl: ttl}
}

func (c *TenantCache) key(tenantID string) string {
	return keyPrefix + tenantID
}

// GetSettings implements domain.TenantDirectory.
func (c *TenantCache) GetSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	if settings, ok := c.lookup(ctx, tenantID); ok {
		return settings, nil
	}

	settings, err := c.next.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return settings, nil
	}
	if err := c.client.Set(ctx, c.key(tenantID), data, c.ttl).Err(); err != nil {
		slog.WarnContext(ctx, "failed to cache tenant settings", "tenant_id", tenantID, logging.ErrKey, err)
	}
	return settings, nil
}

func (c *TenantCache) lookup(ctx context.Context, tenantID string) (*models.TenantSettings, bool) {
	raw, err := c.client.Get(ctx, c.key(tenantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.WarnContext(ctx, "tenant settings cache unavailable", "tenant_id", tenantID, logging.ErrKey, err)
		return nil, false
	}

	var settings models.TenantSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		slog.WarnContext(ctx, "discarding unreadable cached tenant settings", "tenant_id", tenantID, logging.ErrKey, err)
		return nil, false
	}
	return &settings, true
}

// Invalidate drops the cached settings of a tenant.
func (c *TenantCache) Invalidate(ctx context.Context, tenantID string) error {
	if err := c.client.Del(ctx, c.key(tenantID)).Err(); err != nil {
		return domain.NewUnavailableError(fmt.Sprintf("failed to invalidate tenant %s", tenantID), err)
	}
	return nil
}
