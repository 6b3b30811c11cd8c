package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// PaymentChecker is implemented by service.PaymentService.
type PaymentChecker interface {
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error)
	CheckStatus(ctx context.Context, internalID string) (*models.Transaction, error)
	RelayEvents(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// relayDelay keeps the relay away from transitions whose request may still be publishing.
const relayDelay = 30 * time.Second

// PendingReconciler re-checks deposits nobody has polled for a while so the
// ledger converges even when the buyer never comes back.
type PendingReconciler struct {
	payments PaymentChecker
	cfg      config.WorkersConfig
	logger   *slog.Logger
}

func NewPendingReconciler(payments PaymentChecker, cfg config.WorkersConfig, logger *slog.Logger) *PendingReconciler {
	return &PendingReconciler{
		payments: payments,
		cfg:      cfg,
		logger:   logger.With("component", "pending_reconciler"),
	}
}

// ReconcileSummary counts the outcome of one pass.
type ReconcileSummary struct {
	Checked  int `json:"checked"`
	Settled  int `json:"settled"`
	Pending  int `json:"pending"`
	Failures int `json:"failures"`
	Relayed  int `json:"relayed"`
}

// RunOnce checks one batch of stale pending deposits, then relays deposit
// events that never reached the broker. A failure on one deposit does not
// stop the batch.
func (r *PendingReconciler) RunOnce(ctx context.Context) (*ReconcileSummary, error) {
	stale, err := r.payments.ListStalePending(ctx, r.cfg.ReconcileStaleAge, r.cfg.ReconcileBatch)
	if err != nil {
		return nil, fmt.Errorf("list stale deposits: %w", err)
	}

	summary := &ReconcileSummary{}
	for _, txn := range stale {
		if ctx.Err() != nil {
			break
		}
		summary.Checked++

		updated, err := r.payments.CheckStatus(ctx, txn.InternalID)
		if err != nil {
			summary.Failures++
			r.logger.WarnContext(ctx, "reconcile deposit failed", "internal_id", txn.InternalID, "provider", txn.Provider, "error", err)
			continue
		}
		if updated.DepositStatus.Terminal() {
			summary.Settled++
		} else {
			summary.Pending++
		}
	}

	relayed, err := r.payments.RelayEvents(ctx, relayDelay, r.cfg.ReconcileBatch)
	summary.Relayed = relayed
	if err != nil {
		r.logger.WarnContext(ctx, "event relay incomplete", "relayed", relayed, "error", err)
	}

	if summary.Checked > 0 || summary.Relayed > 0 {
		r.logger.InfoContext(ctx, "reconcile pass finished",
			"checked", summary.Checked, "settled", summary.Settled, "pending", summary.Pending,
			"failures", summary.Failures, "relayed", summary.Relayed)
	}
	return summary, nil
}

// Run blocks until ctx is cancelled.
func (r *PendingReconciler) Run(ctx context.Context) {
	runEvery(ctx, r.logger, "pending_reconciler", r.cfg.ReconcileInterval, func(ctx context.Context) error {
		_, err := r.RunOnce(ctx)
		return err
	})
}
