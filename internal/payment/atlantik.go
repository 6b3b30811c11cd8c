package payment

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// AtlantikProvider talks to the Atlantik deposit API.
type AtlantikProvider struct {
	api depositAPI
}

func NewAtlantikProvider(logger *slog.Logger, baseURL, apiKey string, httpClient *http.Client) *AtlantikProvider {
	return &AtlantikProvider{api: newDepositAPI(models.ProviderAtlantik, baseURL, apiKey, httpClient, logger)}
}

func (p *AtlantikProvider) Name() string { return models.ProviderAtlantik }

func (p *AtlantikProvider) CreateDeposit(ctx context.Context, amount int64) (*Deposit, error) {
	return p.api.create(ctx, map[string]int64{"nominal": amount})
}

// DepositStatus returns {"data": {"status": ..., "nominal": ...}}.
func (p *AtlantikProvider) DepositStatus(ctx context.Context, depositID string) ([]byte, error) {
	return p.api.status(ctx, depositID)
}
