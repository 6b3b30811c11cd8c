package worker

import (
	"context"
	"log/slog"
	"time"
)

// runEvery calls fn on every tick until ctx is cancelled.
func runEvery(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.InfoContext(ctx, "worker started", "worker", name, "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "worker stopped", "worker", name)
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.ErrorContext(ctx, "worker run failed", "worker", name, "error", err)
			}
		}
	}
}
