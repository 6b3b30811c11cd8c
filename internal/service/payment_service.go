package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/storefront-service/internal/apperr"
	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/events"
	"github.com/wenwu/saas-platform/storefront-service/internal/metrics"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
	"github.com/wenwu/saas-platform/storefront-service/internal/payment"
	"github.com/wenwu/saas-platform/storefront-service/internal/repository"
)

// 事件发布上限: 不让 broker 拖住 check-payment 请求
const publishTimeout = 5 * time.Second

// PaymentService creates deposits at a provider and drives ledger entries to a terminal status.
type PaymentService struct {
	cfg       *config.Config
	store     TransactionStore
	providers ProviderResolver
	publisher events.Publisher
	logger    *slog.Logger
}

func NewPaymentService(
	cfg *config.Config,
	store TransactionStore,
	providers ProviderResolver,
	publisher events.Publisher,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		cfg:       cfg,
		store:     store,
		providers: providers,
		publisher: publisher,
		logger:    logger.With("component", "payment_service"),
	}
}

// CreateDeposit asks the provider for a deposit and records it as pending.
// Nothing is written unless the provider answered with a deposit id.
func (s *PaymentService) CreateDeposit(ctx context.Context, req *models.CreatePaymentRequest) (*models.CreatePaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, apperr.Validation("amount must be a positive integer, got %d", req.Amount)
	}
	if req.ProductPrice < 0 {
		return nil, apperr.Validation("product_price must not be negative")
	}
	productType := req.ProductType
	if productType == "" {
		productType = models.ProductTopup
	}
	if !productType.Valid() {
		return nil, apperr.Validation("unknown product_type %q", productType)
	}

	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Payment.Timeout)
	defer cancel()

	deposit, err := provider.CreateDeposit(callCtx, req.Amount)
	if err != nil {
		s.logger.WarnContext(ctx, "create deposit failed", "provider", provider.Name(), "amount", req.Amount, "error", err)
		return nil, apperr.Upstream("payment provider "+provider.Name()+" did not create the deposit", err)
	}

	depositID := deposit.ID
	txn := &models.Transaction{
		InternalID:        uuid.New().String(),
		ProviderDepositID: &depositID,
		DepositStatus:     models.DepositPending,
		DepositAmount:     req.Amount,
		OrderID:           req.OrderID,
		OrderStatus:       models.OrderPending,
		ProductCode:       req.ProductCode,
		ProductType:       productType,
		ProductPrice:      req.ProductPrice,
		Target:            req.Target,
		Provider:          provider.Name(),
	}

	if err := s.store.Create(ctx, txn); err != nil {
		// 远端已创建充值单，本地未记录：必须留下足够的对账信息
		s.logger.ErrorContext(ctx, "deposit created remotely but ledger write failed",
			"remote_id", depositID,
			"provider", provider.Name(),
			"internal_id", txn.InternalID,
			"amount", req.Amount,
			"at", time.Now().UTC().Format(time.RFC3339),
			"error", err)
		return nil, apperr.Persistence("record transaction", err)
	}

	metrics.DepositsCreatedTotal.WithLabelValues(provider.Name()).Inc()
	s.logger.InfoContext(ctx, "deposit created", "internal_id", txn.InternalID, "provider", provider.Name(), "remote_id", depositID)

	return &models.CreatePaymentResponse{
		Success:             true,
		InternalID:          txn.InternalID,
		ProviderDepositID:   depositID,
		Provider:            provider.Name(),
		PaymentInstructions: deposit.Instructions,
	}, nil
}

// CheckStatus refreshes a ledger entry from the provider recorded on it.
// Terminal entries are returned as stored without calling the provider.
func (s *PaymentService) CheckStatus(ctx context.Context, internalID string) (*models.Transaction, error) {
	txn, err := s.GetTransaction(ctx, internalID)
	if err != nil {
		return nil, err
	}
	if txn.DepositStatus.Terminal() || txn.ProviderDepositID == nil {
		return txn, nil
	}

	provider, err := s.providers.Get(txn.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Payment.Timeout)
	defer cancel()

	raw, err := provider.DepositStatus(callCtx, *txn.ProviderDepositID)
	if err != nil {
		s.logger.WarnContext(ctx, "deposit status query failed", "internal_id", txn.InternalID, "provider", txn.Provider, "error", err)
		return nil, apperr.Upstream("payment provider "+txn.Provider+" status query failed", err)
	}

	result := payment.Normalize(txn.Provider, raw)
	if result.Status == models.DepositPending {
		return txn, nil
	}

	var settled *int64
	if result.Status == models.DepositSuccess {
		settled = result.SettledAmount
		if settled == nil {
			amount := txn.DepositAmount
			settled = &amount
		}
	}

	updated, changed, err := s.store.Advance(ctx, txn.InternalID, result.Status, settled, raw)
	if err != nil {
		s.logger.ErrorContext(ctx, "provider reported a final status but ledger write failed",
			"remote_id", *txn.ProviderDepositID,
			"provider", txn.Provider,
			"internal_id", txn.InternalID,
			"status", result.Status,
			"at", time.Now().UTC().Format(time.RFC3339),
			"error", err)
		return nil, apperr.Persistence("update transaction status", err)
	}

	if changed {
		metrics.DepositTransitionsTotal.WithLabelValues(updated.Provider, string(updated.DepositStatus)).Inc()
		s.logger.InfoContext(ctx, "deposit status changed", "internal_id", updated.InternalID, "status", updated.DepositStatus)
		if err := s.emitTransition(ctx, updated); err != nil {
			s.logger.WarnContext(ctx, "deposit event not delivered, relay will retry",
				"internal_id", updated.InternalID, "status", updated.DepositStatus, "error", err)
		}
	}
	return updated, nil
}

// Reconcile is the reconciliation endpoint: refresh, then report status with the full entry.
func (s *PaymentService) Reconcile(ctx context.Context, internalID string) (*models.CheckPaymentResponse, error) {
	txn, err := s.CheckStatus(ctx, internalID)
	if err != nil {
		return nil, err
	}
	return &models.CheckPaymentResponse{
		Success:       true,
		Status:        txn.DepositStatus,
		SettledAmount: txn.SettledAmount,
		Transaction:   txn,
	}, nil
}

// GetTransaction reads a ledger entry without contacting the provider.
func (s *PaymentService) GetTransaction(ctx context.Context, internalID string) (*models.Transaction, error) {
	if _, err := uuid.Parse(internalID); err != nil {
		return nil, apperr.NotFound("transaction %q not found", internalID)
	}

	txn, err := s.store.GetByID(ctx, internalID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("transaction %s not found", internalID)
	}
	if err != nil {
		return nil, apperr.Persistence("load transaction", err)
	}
	return txn, nil
}

func (s *PaymentService) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("unknown deposit status %q", filter.Status)
	}
	page := models.Page{Limit: filter.Limit, Offset: filter.Offset}.Normalize()
	filter.Limit, filter.Offset = page.Limit, page.Offset

	list, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, apperr.Persistence("list transactions", err)
	}
	if list == nil {
		list = []*models.Transaction{}
	}
	return list, nil
}

// ListStalePending feeds the background reconciler.
func (s *PaymentService) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error) {
	list, err := s.store.ListStalePending(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, apperr.Persistence("list stale transactions", err)
	}
	return list, nil
}

func (s *PaymentService) Providers() *models.PaymentProvidersResponse {
	return &models.PaymentProvidersResponse{
		Success:         true,
		Providers:       s.providers.Describe(),
		DefaultProvider: s.providers.Default(),
	}
}

// RelayEvents publishes committed transitions whose event never reached the
// broker. Transitions younger than olderThan are left to the request that
// wrote them. The pass stops at the first delivery failure.
func (s *PaymentService) RelayEvents(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := s.store.ListUnpublishedEvents(ctx, time.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, apperr.Persistence("list unpublished events", err)
	}

	relayed := 0
	for _, ev := range pending {
		if ctx.Err() != nil {
			break
		}
		txn, err := s.store.GetByID(ctx, ev.InternalID)
		if err != nil {
			return relayed, apperr.Persistence("load transaction "+ev.InternalID, err)
		}
		if err := s.emitTransition(ctx, txn); err != nil {
			return relayed, apperr.Upstream("relay event for "+ev.InternalID, err)
		}
		relayed++
	}

	if relayed > 0 {
		s.logger.InfoContext(ctx, "relayed deposit events", "count", relayed)
	}
	return relayed, nil
}

// emitTransition publishes the event for a settled entry and stamps its
// transition row. Cancellation of ctx does not cut the write short.
func (s *PaymentService) emitTransition(ctx context.Context, txn *models.Transaction) error {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, events.DepositTransition(txn)); err != nil {
		return err
	}
	if err := s.store.MarkEventPublished(pubCtx, txn.InternalID); err != nil {
		return fmt.Errorf("event delivered but not marked: %w", err)
	}
	return nil
}
