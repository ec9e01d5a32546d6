// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package platforms provides video provider setup for the session lifecycle
// service. It registers every provider whose credentials are configured.
package platforms

import (
	"log/slog"
	"time"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/video"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/video/livekit"
	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/infrastructure/video/zoom"
)

// ZoomConfig holds Zoom-specific configuration
type ZoomConfig struct {
	AccountID    string `mapstructure:"account_id"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	UserID       string `mapstructure:"user_id"`
}

// LiveKitConfig holds LiveKit-specific configuration
type LiveKitConfig struct {
	Host        string `mapstructure:"host"`
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	JoinBaseURL string `mapstructure:"join_base_url"`
}

// PlatformConfigs holds configuration for all supported providers
type PlatformConfigs struct {
	Zoom    ZoomConfig
	LiveKit LiveKitConfig
	// Timeout bounds a single provider HTTP request
	Timeout time.Duration
}

func (z ZoomConfig) toProviderConfig(timeout time.Duration) zoom.Config {
	return zoom.Config{
		AccountID:    z.AccountID,
		ClientID:     z.ClientID,
		ClientSecret: z.ClientSecret,
		UserID:       z.UserID,
		Timeout:      timeout,
	}
}

func (l LiveKitConfig) toProviderConfig(timeout time.Duration) livekit.Config {
	return livekit.Config{
		Host:        l.Host,
		APIKey:      l.APIKey,
		APISecret:   l.APISecret,
		JoinBaseURL: l.JoinBaseURL,
		Timeout:     timeout,
	}
}

// NewVideoRegistry creates the provider registry and registers each
// configured provider.
func NewVideoRegistry(configs PlatformConfigs) *video.Registry {
	registry := video.NewRegistry()
	SetupLiveKit(registry, configs.LiveKit, configs.Timeout)
	SetupZoom(registry, configs.Zoom, configs.Timeout)
	return registry
}

// SetupZoom registers the Zoom provider when its credentials are present.
func SetupZoom(registry *video.Registry, config ZoomConfig, timeout time.Duration) bool {
	providerConfig := config.toProviderConfig(timeout)
	if !providerConfig.IsConfigured() {
		slog.Warn("Zoom provider not configured - missing required settings",
			"has_account_id", config.AccountID != "",
			"has_client_id", config.ClientID != "",
			"has_client_secret", config.ClientSecret != "")
		return false
	}

	registry.RegisterProvider(models.ProviderZoom, zoom.NewProvider(providerConfig))
	slog.Info("Zoom provider configured",
		"account_id", config.AccountID,
		"client_id", config.ClientID)
	return true
}

// SetupLiveKit registers the LiveKit provider when its credentials are present.
func SetupLiveKit(registry *video.Registry, config LiveKitConfig, timeout time.Duration) bool {
	providerConfig := config.toProviderConfig(timeout)
	if !providerConfig.IsConfigured() {
		slog.Warn("LiveKit provider not configured - missing required settings",
			"has_host", config.Host != "",
			"has_api_key", config.APIKey != "",
			"has_api_secret", config.APISecret != "")
		return false
	}

	registry.RegisterProvider(models.ProviderLiveKit, livekit.NewProvider(providerConfig))
	slog.Info("LiveKit provider configured", "host", config.Host)
	return true
}
