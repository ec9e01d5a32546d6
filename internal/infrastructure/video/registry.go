// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package video keeps the video providers the orchestrator can open rooms on.
package video

import (
	"fmt"
	"sync"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain"
)

// Registry implements the VideoProviderRegistry interface
type Registry struct {
	providers map[string]domain.VideoProvider
	mu        sync.RWMutex
}

var _ domain.VideoProviderRegistry = (*Registry)(nil)

// NewRegistry creates a new video provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.VideoProvider),
	}
}

// GetProvider returns the video provider registered under name
func (r *Registry) GetProvider(name string) (domain.VideoProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, domain.NewValidationError(fmt.Sprintf("video provider %q is not configured", name))
	}
	return provider, nil
}

// RegisterProvider registers a video provider
func (r *Registry) RegisterProvider(name string, provider domain.VideoProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[name] = provider
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
