package service

import (
	"context"
	"time"

	"github.com/wenwu/saas-platform/storefront-service/internal/client"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
	"github.com/wenwu/saas-platform/storefront-service/internal/payment"
	"github.com/wenwu/saas-platform/storefront-service/internal/repository"
)

// TransactionStore is the ledger. Implemented by repository.TransactionRepository.
type TransactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
	GetByID(ctx context.Context, internalID string) (*models.Transaction, error)
	Advance(ctx context.Context, internalID string, status models.DepositStatus, settled *int64, payload []byte) (*models.Transaction, bool, error)
	List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Transaction, error)
	ListUnpublishedEvents(ctx context.Context, cutoff time.Time, limit int) ([]*models.TransactionEvent, error)
	MarkEventPublished(ctx context.Context, internalID string) error
}

// ProviderResolver is implemented by payment.Registry.
type ProviderResolver interface {
	Get(name string) (payment.Provider, error)
	Default() string
	Describe() []models.ProviderInfo
}

type CatalogReader interface {
	GetPanelProduct(ctx context.Context, id string) (*models.PanelProduct, error)
}

type AttemptStore interface {
	Create(ctx context.Context, a *models.ProvisionAttempt) error
	Transition(ctx context.Context, id string, from, to models.AttemptState, patch repository.AttemptPatch) error
	ListSweepable(ctx context.Context, cutoff time.Time, limit int) ([]*models.ProvisionAttempt, error)
}

type AccountStore interface {
	Commit(ctx context.Context, attemptID string, acc *models.ProvisionedAccount) error
	GetByIdentity(ctx context.Context, identity string) (*models.ProvisionedAccount, error)
	List(ctx context.Context, limit, offset int) ([]*models.ProvisionedAccount, error)
}

// PanelAPI is implemented by client.PanelClient.
type PanelAPI interface {
	CreateUser(ctx context.Context, req *client.CreateUserRequest) (*client.PanelUser, error)
	CreateServer(ctx context.Context, req *client.CreateServerRequest) (*client.PanelServer, error)
	FindUserByUsername(ctx context.Context, username string) (*client.PanelUser, error)
	GetServerByExternalID(ctx context.Context, externalID string) (*client.PanelServer, error)
	DeleteServer(ctx context.Context, serverID int64) error
	DeleteUser(ctx context.Context, userID int64) error
}
