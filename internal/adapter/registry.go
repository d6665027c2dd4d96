// Package adapter constructs provider implementations from configuration.
// Dispatch is keyed by core.ProviderKind so adding a backend is a closed
// change here rather than branching spread through the codebase.
package adapter

import (
	"fmt"
	"strings"

	"github.com/stitchcal/stitch/internal/adapter/google"
	"github.com/stitchcal/stitch/internal/adapter/icloud"
	"github.com/stitchcal/stitch/internal/adapter/outlook"
	"github.com/stitchcal/stitch/internal/core"
)

// Config carries the per-provider client settings.
type Config struct {
	// Public base URL of this service, used to derive OAuth redirect URLs
	// of the form {base}/connect/{provider}/callback.
	BaseURL string

	GoogleClientID     string
	GoogleClientSecret string

	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string

	// Optional override, mainly for tests. Defaults to Apple's endpoint.
	ICloudServerURL string
}

// RedirectURL returns the OAuth callback URL for a provider.
func (c Config) RedirectURL(kind core.ProviderKind) string {
	return fmt.Sprintf("%s/connect/%s/callback", strings.TrimRight(c.BaseURL, "/"), kind)
}

// Factory builds providers on demand. The orchestrator and the connect
// service both depend on this signature rather than on concrete adapters.
type Factory func(kind core.ProviderKind) (core.Provider, error)

// NewFactory returns a Factory over the configured providers.
func NewFactory(cfg Config) Factory {
	return func(kind core.ProviderKind) (core.Provider, error) {
		return New(kind, cfg)
	}
}

// New constructs the adapter for one provider kind.
func New(kind core.ProviderKind, cfg Config) (core.Provider, error) {
	switch kind {
	case core.ProviderGoogle:
		return google.New(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.RedirectURL(kind)), nil
	case core.ProviderOutlook:
		return outlook.New(cfg.MicrosoftClientID, cfg.MicrosoftClientSecret, cfg.MicrosoftTenantID, cfg.RedirectURL(kind)), nil
	case core.ProviderICloud:
		return icloud.New(cfg.ICloudServerURL), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}
