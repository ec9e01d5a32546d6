// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/mocks"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// fakeRedis is an in-memory stand-in for the commands the cache issues.
type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	failGet error
	failSet error
	failDel error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return redis.NewStringResult("", f.failGet)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewStatusResult("", f.failSet)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDel != nil {
		return redis.NewIntResult(0, f.failDel)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func testSettings() *models.TenantSettings {
	return &models.TenantSettings{
		TenantID:           "noor",
		Timezone:           "Asia/Riyadh",
		AutoCreateMeetings: true,
		VideoProvider:      models.ProviderLiveKit,
		ReadinessWindow:    10 * time.Minute,
		PartialThreshold:   50,
	}
}

func TestTenantCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	directory := &mocks.MockTenantDirectory{}
	directory.On("GetSettings", mock.Anything, "noor").Return(testSettings(), nil).Once()

	cache := NewTenantCache(client, directory, time.Minute)

	first, err := cache.GetSettings(ctx, "noor")
	require.NoError(t, err)
	second, err := cache.GetSettings(ctx, "noor")
	require.NoError(t, err)

	assert.Equal(t, testSettings(), first)
	assert.Equal(t, first, second)
	assert.Equal(t, time.Minute, client.ttls[keyPrefix+"noor"])
	directory.AssertExpectations(t)
}

func TestTenantCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	directory := &mocks.MockTenantDirectory{}
	directory.On("GetSettings", mock.Anything, "noor").Return(testSettings(), nil).Twice()

	cache := NewTenantCache(client, directory, 0)
	_, err := cache.GetSettings(ctx, "noor")
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, client.ttls[keyPrefix+"noor"])

	require.NoError(t, cache.Invalidate(ctx, "noor"))
	_, err = cache.GetSettings(ctx, "noor")
	require.NoError(t, err)

	directory.AssertExpectations(t)

	client.failDel = errors.New("READONLY")
	assert.Equal(t, domain.ErrorTypeUnavailable, domain.GetErrorType(cache.Invalidate(ctx, "noor")))
}

func TestTenantCache_Degraded(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeRedis)
		cached bool
	}{
		{
			name:  "get fails",
			setup: func(f *fakeRedis) { f.failGet = errors.New("connection refused") },
		},
		{
			name:  "set fails",
			setup: func(f *fakeRedis) { f.failSet = errors.New("OOM") },
		},
		{
			name:  "corrupt entry",
			setup: func(f *fakeRedis) { f.values[keyPrefix+"noor"] = "{not json" },
			// the fresh value overwrites the corrupt one
			cached: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeRedis()
			tt.setup(client)
			directory := &mocks.MockTenantDirectory{}
			directory.On("GetSettings", mock.Anything, "noor").Return(testSettings(), nil).Once()

			got, err := NewTenantCache(client, directory, time.Minute).GetSettings(context.Background(), "noor")

			require.NoError(t, err)
			assert.Equal(t, testSettings(), got)
			directory.AssertExpectations(t)

			if tt.cached {
				var stored models.TenantSettings
				require.NoError(t, json.Unmarshal([]byte(client.values[keyPrefix+"noor"]), &stored))
				assert.Equal(t, "Asia/Riyadh", stored.Timezone)
			}
		})
	}
}

func TestTenantCache_DirectoryErrorNotCached(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	directory := &mocks.MockTenantDirectory{}
	directory.On("GetSettings", mock.Anything, "ghost").Return(nil, domain.NewNotFoundError("tenant not found")).Twice()

	cache := NewTenantCache(client, directory, time.Minute)
	for range 2 {
		_, err := cache.GetSettings(ctx, "ghost")
		assert.Equal(t, domain.ErrorTypeNotFound, domain.GetErrorType(err))
	}

	assert.Empty(t, client.values)
	directory.AssertExpectations(t)
}

func TestConnect_EmptyAddr(t *testing.T) {
	_, err := Connect(context.Background(), Config{Addr: "  "})
	assert.Equal(t, domain.ErrorTypeValidation, domain.GetErrorType(err))
}
