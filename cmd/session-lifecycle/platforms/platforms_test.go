// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package platforms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

func TestNewVideoRegistry(t *testing.T) {
	tests := []struct {
		name    string
		configs PlatformConfigs
		want    []string
	}{
		{
			name: "nothing configured",
			want: []string{},
		},
		{
			name: "livekit only",
			configs: PlatformConfigs{
				LiveKit: LiveKitConfig{Host: "https://livekit.example.org", APIKey: "key", APISecret: "secret"},
			},
			want: []string{models.ProviderLiveKit},
		},
		{
			name: "both providers",
			configs: PlatformConfigs{
				Zoom:    ZoomConfig{AccountID: "acct", ClientID: "id", ClientSecret: "secret"},
				LiveKit: LiveKitConfig{Host: "https://livekit.example.org", APIKey: "key", APISecret: "secret"},
				Timeout: 5 * time.Second,
			},
			want: []string{models.ProviderLiveKit, models.ProviderZoom},
		},
		{
			name: "partial zoom credentials",
			configs: PlatformConfigs{
				Zoom: ZoomConfig{AccountID: "acct", ClientID: "id"},
			},
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewVideoRegistry(tt.configs)
			assert.ElementsMatch(t, tt.want, registry.Names())
		})
	}
}
