// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package constants

import (
	"fmt"
	"net/url"
)

// LFX app domain constants
const (
	// LFXDomainDev is the development domain
	LFXDomainDev = "app.dev.lfx.dev"
	// LFXDomainStaging is the staging domain
	LFXDomainStaging = "app.staging.lfx.dev"
	// LFXDomainProd is the production domain
	LFXDomainProd = "app.lfx.dev"
)

// GetLFXAppDomain returns the appropriate LFX app domain based on the environment
// Environment should be one of: "dev", "staging", "prod"
func GetLFXAppDomain(environment string) string {
	switch environment {
	case "dev":
		return LFXDomainDev
	case "staging":
		return LFXDomainStaging
	default:
		return LFXDomainProd
	}
}

// LinkGenerator builds the links embedded in notifications.
type LinkGenerator struct {
	environment     string
	customAppOrigin string
}

// NewLinkGenerator creates a LinkGenerator for the environment. A non-empty
// customAppOrigin replaces the environment domain.
func NewLinkGenerator(environment, customAppOrigin string) *LinkGenerator {
	return &LinkGenerator{
		environment:     environment,
		customAppOrigin: customAppOrigin,
	}
}

func (g *LinkGenerator) origin() string {
	if g.customAppOrigin != "" {
		return g.customAppOrigin
	}
	return "https://" + GetLFXAppDomain(g.environment)
}

// SessionURL links to the session page of a tenant.
func (g *LinkGenerator) SessionURL(tenantID string, sessionID int64) string {
	return fmt.Sprintf("%s/academies/%s/sessions/%d", g.origin(), url.PathEscape(tenantID), sessionID)
}

// SubscriptionURL links to the renewal page of a subscription.
func (g *LinkGenerator) SubscriptionURL(tenantID string, subscriptionID int64) string {
	return fmt.Sprintf("%s/academies/%s/subscriptions/%d", g.origin(), url.PathEscape(tenantID), subscriptionID)
}
