package payment

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/wenwu/saas-platform/storefront-service/internal/apperr"
	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// Registry resolves provider names to enabled providers.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewRegistry builds a registry holding every provider that has an API key configured.
func NewRegistry(cfg config.PaymentConfig, httpClient *http.Client, logger *slog.Logger) *Registry {
	r := NewEmptyRegistry(cfg.DefaultProvider)

	if creds, _ := cfg.Provider(models.ProviderAtlantik); creds.APIKey != "" {
		r.Register(NewAtlantikProvider(logger, creds.BaseURL, creds.APIKey, httpClient))
	}
	if creds, _ := cfg.Provider(models.ProviderPakasir); creds.APIKey != "" {
		r.Register(NewPakasirProvider(logger, creds.BaseURL, creds.APIKey, httpClient))
	}
	return r
}

func NewEmptyRegistry(defaultProvider string) *Registry {
	return &Registry{providers: make(map[string]Provider), defaultProvider: defaultProvider}
}

func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get returns the provider for name. An empty name selects the default.
// Unknown names are a validation error; known but unconfigured names are unavailable.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultProvider
	}
	if !slices.Contains(models.Providers, name) {
		return nil, apperr.Validation("unknown payment provider %q", name)
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, apperr.ProviderUnavailable("payment provider %s is not enabled", name)
	}
	return p, nil
}

func (r *Registry) Default() string { return r.defaultProvider }

// Describe lists every known provider and whether it is enabled.
func (r *Registry) Describe() []models.ProviderInfo {
	infos := make([]models.ProviderInfo, 0, len(models.Providers))
	for _, name := range models.Providers {
		_, ok := r.providers[name]
		infos = append(infos, models.ProviderInfo{Name: name, Enabled: ok})
	}
	return infos
}
