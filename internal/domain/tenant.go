// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import (
	"context"

	"github.com/linuxfoundation/lfx-v2-session-lifecycle-service/internal/domain/models"
)

// TenantDirectory resolves per-tenant settings. Implementations return the
// stored values; callers fill the gaps with WithDefaults.
type TenantDirectory interface {
	GetSettings(ctx context.Context, tenantID string) (*models.TenantSettings, error)
}
