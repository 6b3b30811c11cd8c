package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/metrics"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// AttemptCompensator is implemented by service.ProvisionService.
type AttemptCompensator interface {
	ListSweepable(ctx context.Context, grace time.Duration, limit int) ([]*models.ProvisionAttempt, error)
	CompensateAttempt(ctx context.Context, attempt *models.ProvisionAttempt) (string, error)
}

// OrphanSweeper deletes panel users and servers left behind by provisioning
// attempts that never committed.
type OrphanSweeper struct {
	provisioning AttemptCompensator
	cfg          config.WorkersConfig
	logger       *slog.Logger
}

func NewOrphanSweeper(provisioning AttemptCompensator, cfg config.WorkersConfig, logger *slog.Logger) *OrphanSweeper {
	return &OrphanSweeper{
		provisioning: provisioning,
		cfg:          cfg,
		logger:       logger.With("component", "orphan_sweeper"),
	}
}

// SweepSummary maps a sweep result to how many attempts ended that way.
type SweepSummary map[string]int

// RunOnce compensates one batch. Attempts whose compensation fails stay
// where they are and are retried on the next pass.
func (s *OrphanSweeper) RunOnce(ctx context.Context) (SweepSummary, error) {
	attempts, err := s.provisioning.ListSweepable(ctx, s.cfg.SweepGrace, s.cfg.SweepBatch)
	if err != nil {
		return nil, fmt.Errorf("list sweepable attempts: %w", err)
	}

	summary := SweepSummary{}
	for _, attempt := range attempts {
		if ctx.Err() != nil {
			break
		}
		result, err := s.provisioning.CompensateAttempt(ctx, attempt)
		if err != nil {
			result = "error"
			s.logger.ErrorContext(ctx, "compensation failed",
				"attempt_id", attempt.ID,
				"identity", attempt.Identity,
				"state", attempt.State,
				"at", time.Now().UTC().Format(time.RFC3339),
				"error", err)
		}
		summary[result]++
		metrics.OrphanSweepsTotal.WithLabelValues(result).Inc()
	}
	return summary, nil
}

// Run blocks until ctx is cancelled.
func (s *OrphanSweeper) Run(ctx context.Context) {
	runEvery(ctx, s.logger, "orphan_sweeper", s.cfg.SweepInterval, func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	})
}
