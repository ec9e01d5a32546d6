// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/cmd/session-lifecycle/platforms"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/service"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/pkg/constants"
)

// Config is the full service configuration. Every key can be overridden by
// the environment variable named after its path, e.g. postgres.dsn is
// POSTGRES_DSN.
type Config struct {
	LFX        LFXConfig               `mapstructure:"lfx"`
	Postgres   PostgresConfig          `mapstructure:"postgres"`
	NATS       NATSConfig              `mapstructure:"nats"`
	Redis      RedisConfig             `mapstructure:"redis"`
	Batch      BatchConfig             `mapstructure:"batch"`
	Lifecycle  LifecycleConfig         `mapstructure:"lifecycle"`
	Meetings   MeetingsConfig          `mapstructure:"meetings"`
	Attendance AttendanceConfig        `mapstructure:"attendance"`
	Ledger     LedgerConfig            `mapstructure:"ledger"`
	Retention  RetentionConfig         `mapstructure:"retention"`
	Tenant     TenantConfig            `mapstructure:"tenant"`
	Zoom       platforms.ZoomConfig    `mapstructure:"zoom"`
	LiveKit    platforms.LiveKitConfig `mapstructure:"livekit"`
	Metrics    MetricsConfig           `mapstructure:"metrics"`
	Ingest     IngestConfig            `mapstructure:"ingest"`
}

// LFXConfig selects the environment used for app links.
type LFXConfig struct {
	Environment string `mapstructure:"environment"`
	AppOrigin   string `mapstructure:"app_origin"`
}

// PostgresConfig holds the connection pool settings.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// NATSConfig holds the broker connection settings.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxReconnect  int           `mapstructure:"max_reconnect"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// RedisConfig enables the tenant settings cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// BatchConfig controls chunking and fan-out.
type BatchConfig struct {
	ChunkSize       int           `mapstructure:"chunk_size"`
	Concurrency     int           `mapstructure:"concurrency"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

// LifecycleConfig holds the state machine defaults.
type LifecycleConfig struct {
	ReadinessWindow      time.Duration `mapstructure:"readiness_window"`
	StartGrace           time.Duration `mapstructure:"start_grace"`
	OvertimeAllowance    time.Duration `mapstructure:"overtime_allowance"`
	StaleAfter           time.Duration `mapstructure:"stale_after"`
	ChainTerminalEffects bool          `mapstructure:"chain_terminal_effects"`
}

// MeetingsConfig holds the orchestrator defaults.
type MeetingsConfig struct {
	DefaultProvider  string        `mapstructure:"default_provider"`
	CreateLookahead  time.Duration `mapstructure:"create_lookahead"`
	EndLookback      time.Duration `mapstructure:"end_lookback"`
	QuietWindowStart string        `mapstructure:"quiet_window_start"`
	QuietWindowEnd   string        `mapstructure:"quiet_window_end"`
	MaxParticipants  int           `mapstructure:"max_participants"`
}

// AttendanceConfig holds the reconciliation defaults.
type AttendanceConfig struct {
	Lookback            time.Duration `mapstructure:"lookback"`
	LateThreshold       time.Duration `mapstructure:"late_threshold"`
	EarlyLeaveThreshold time.Duration `mapstructure:"early_leave_threshold"`
	PartialThreshold    float64       `mapstructure:"partial_threshold"`
}

// LedgerConfig holds the billing policy.
type LedgerConfig struct {
	AbsentBillable bool `mapstructure:"absent_billable"`
}

// RetentionConfig holds the purge horizon.
type RetentionConfig struct {
	PurgeAfter time.Duration `mapstructure:"purge_after"`
}

// TenantConfig holds defaults for tenants without stored settings.
type TenantConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// MetricsConfig enables pushing batch metrics.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// IngestConfig configures the ingestion daemon.
type IngestConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("lfx.environment", "prod")
	v.SetDefault("lfx.app_origin", "")

	v.SetDefault("postgres.dsn", "postgres://localhost:5432/sessions?sslmode=disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 0)
	v.SetDefault("postgres.max_conn_lifetime", time.Hour)
	v.SetDefault("postgres.connect_timeout", 10*time.Second)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.timeout", 10*time.Second)
	v.SetDefault("nats.max_reconnect", 3)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("batch.chunk_size", constants.DefaultChunkSize)
	v.SetDefault("batch.concurrency", constants.DefaultConcurrency)
	v.SetDefault("batch.provider_timeout", constants.DefaultProviderTimeout)

	v.SetDefault("lifecycle.readiness_window", constants.DefaultReadinessWindow)
	v.SetDefault("lifecycle.start_grace", constants.DefaultStartGrace)
	v.SetDefault("lifecycle.overtime_allowance", constants.DefaultOvertimeAllowance)
	v.SetDefault("lifecycle.stale_after", constants.DefaultStaleAfter)
	v.SetDefault("lifecycle.chain_terminal_effects", true)

	v.SetDefault("meetings.default_provider", models.ProviderLiveKit)
	v.SetDefault("meetings.create_lookahead", constants.DefaultMeetingCreateLookahead)
	v.SetDefault("meetings.end_lookback", constants.DefaultMeetingEndLookback)
	v.SetDefault("meetings.quiet_window_start", "00:00")
	v.SetDefault("meetings.quiet_window_end", "05:00")
	v.SetDefault("meetings.max_participants", constants.DefaultMaxParticipants)

	v.SetDefault("attendance.lookback", constants.DefaultAttendanceLookback)
	v.SetDefault("attendance.late_threshold", constants.DefaultLateThreshold)
	v.SetDefault("attendance.early_leave_threshold", constants.DefaultEarlyLeaveThreshold)
	v.SetDefault("attendance.partial_threshold", constants.DefaultPartialThreshold)

	v.SetDefault("ledger.absent_billable", true)
	v.SetDefault("retention.purge_after", constants.DefaultPurgeAfter)
	v.SetDefault("tenant.timezone", "UTC")

	v.SetDefault("zoom.account_id", "")
	v.SetDefault("zoom.client_id", "")
	v.SetDefault("zoom.client_secret", "")
	v.SetDefault("zoom.user_id", "me")

	v.SetDefault("livekit.host", "")
	v.SetDefault("livekit.api_key", "")
	v.SetDefault("livekit.api_secret", "")
	v.SetDefault("livekit.join_base_url", "")

	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "session_lifecycle")
	v.SetDefault("ingest.addr", ":8080")
}

// loadConfig reads defaults, then the optional YAML file, then the environment.
func loadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.LFX.Environment = normalizeEnvironment(cfg.LFX.Environment)
	return cfg, nil
}

// normalizeEnvironment maps the accepted spellings of an environment name.
func normalizeEnvironment(raw string) string {
	switch strings.ToLower(raw) {
	case "dev", "development":
		return "dev"
	case "staging", "stg", "stage":
		return "staging"
	default:
		return "prod"
	}
}

// serviceConfig converts the loaded configuration for the services.
func (c Config) serviceConfig() service.ServiceConfig {
	return service.ServiceConfig{
		LFXEnvironment:         c.LFX.Environment,
		AppOrigin:              c.LFX.AppOrigin,
		ChunkSize:              c.Batch.ChunkSize,
		Concurrency:            c.Batch.Concurrency,
		ProviderTimeout:        c.Batch.ProviderTimeout,
		ChainTerminalEffects:   c.Lifecycle.ChainTerminalEffects,
		AbsentBillable:         c.Ledger.AbsentBillable,
		StaleAfter:             c.Lifecycle.StaleAfter,
		MeetingCreateLookahead: c.Meetings.CreateLookahead,
		MeetingEndLookback:     c.Meetings.EndLookback,
		AttendanceLookback:     c.Attendance.Lookback,
		PurgeAfter:             c.Retention.PurgeAfter,
		TenantDefaults: models.TenantSettings{
			Timezone:            c.Tenant.Timezone,
			VideoProvider:       c.Meetings.DefaultProvider,
			ReadinessWindow:     c.Lifecycle.ReadinessWindow,
			StartGrace:          c.Lifecycle.StartGrace,
			OvertimeAllowance:   c.Lifecycle.OvertimeAllowance,
			QuietWindowStart:    c.Meetings.QuietWindowStart,
			QuietWindowEnd:      c.Meetings.QuietWindowEnd,
			LateThreshold:       c.Attendance.LateThreshold,
			EarlyLeaveThreshold: c.Attendance.EarlyLeaveThreshold,
			PartialThreshold:    c.Attendance.PartialThreshold,
			MaxParticipants:     c.Meetings.MaxParticipants,
		},
	}
}
