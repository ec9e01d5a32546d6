// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/constants"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.LFX.Environment)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, constants.DefaultChunkSize, cfg.Batch.ChunkSize)
	assert.Equal(t, models.ProviderLiveKit, cfg.Meetings.DefaultProvider)
	assert.Equal(t, "me", cfg.Zoom.UserID)
	assert.True(t, cfg.Ledger.AbsentBillable)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, ":8080", cfg.Ingest.Addr)
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
lfx:
  environment: development
batch:
  chunk_size: 50
  provider_timeout: 20s
meetings:
  default_provider: zoom
livekit:
  host: https://livekit.example.org
`), 0o600))

	t.Setenv("BATCH_CHUNK_SIZE", "75")
	t.Setenv("POSTGRES_DSN", "postgres://db:5432/sessions")
	t.Setenv("LEDGER_ABSENT_BILLABLE", "false")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.LFX.Environment)
	assert.Equal(t, 75, cfg.Batch.ChunkSize, "environment wins over the file")
	assert.Equal(t, 20*time.Second, cfg.Batch.ProviderTimeout)
	assert.Equal(t, models.ProviderZoom, cfg.Meetings.DefaultProvider)
	assert.Equal(t, "https://livekit.example.org", cfg.LiveKit.Host)
	assert.Equal(t, "postgres://db:5432/sessions", cfg.Postgres.DSN)
	assert.False(t, cfg.Ledger.AbsentBillable)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNormalizeEnvironment(t *testing.T) {
	tests := map[string]string{
		"dev":         "dev",
		"Development": "dev",
		"stg":         "staging",
		"stage":       "staging",
		"staging":     "staging",
		"prod":        "prod",
		"":            "prod",
		"anything":    "prod",
	}
	for raw, want := range tests {
		assert.Equal(t, want, normalizeEnvironment(raw), raw)
	}
}

func TestConfig_ServiceConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.Tenant.Timezone = "Asia/Riyadh"
	cfg.Attendance.PartialThreshold = 60

	sc := cfg.serviceConfig()

	assert.Equal(t, cfg.Batch.Concurrency, sc.Concurrency)
	assert.Equal(t, cfg.Retention.PurgeAfter, sc.PurgeAfter)
	assert.Equal(t, "Asia/Riyadh", sc.TenantDefaults.Timezone)
	assert.Equal(t, float64(60), sc.TenantDefaults.PartialThreshold)
	assert.Equal(t, models.ProviderLiveKit, sc.TenantDefaults.VideoProvider)
	assert.Equal(t, "00:00", sc.TenantDefaults.QuietWindowStart)
}
