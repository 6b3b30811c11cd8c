package payment

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// PakasirProvider talks to the Pakasir deposit API. Its status body nests
// the payment under "transaction" rather than "data".
type PakasirProvider struct {
	api depositAPI
}

func NewPakasirProvider(logger *slog.Logger, baseURL, apiKey string, httpClient *http.Client) *PakasirProvider {
	return &PakasirProvider{api: newDepositAPI(models.ProviderPakasir, baseURL, apiKey, httpClient, logger)}
}

func (p *PakasirProvider) Name() string { return models.ProviderPakasir }

func (p *PakasirProvider) CreateDeposit(ctx context.Context, amount int64) (*Deposit, error) {
	return p.api.create(ctx, map[string]int64{"nominal": amount})
}

func (p *PakasirProvider) DepositStatus(ctx context.Context, depositID string) ([]byte, error) {
	return p.api.status(ctx, depositID)
}
