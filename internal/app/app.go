package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wenwu/saas-platform/storefront-service/internal/client"
	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/db"
	"github.com/wenwu/saas-platform/storefront-service/internal/events"
	"github.com/wenwu/saas-platform/storefront-service/internal/payment"
	"github.com/wenwu/saas-platform/storefront-service/internal/repository"
	"github.com/wenwu/saas-platform/storefront-service/internal/service"
	"github.com/wenwu/saas-platform/storefront-service/internal/worker"
)

// App holds the wired dependencies shared by the API server and storectl.
type App struct {
	Pool      *pgxpool.Pool
	Publisher events.Publisher

	Payments     *service.PaymentService
	Provisioning *service.ProvisionService

	Reconciler *worker.PendingReconciler
	Sweeper    *worker.OrphanSweeper
}

// Build connects to PostgreSQL and wires repositories, clients and services.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.Database.MigrateOnStart {
		if err := db.RunMigrations(cfg.Database.DSN(), logger); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pool, err := db.NewPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// Repositories
	transactionRepo := repository.NewTransactionRepository(pool)
	catalogRepo := repository.NewCatalogRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	accountRepo := repository.NewAccountRepository(pool)

	// Clients
	registry := payment.NewRegistry(cfg.Payment, &http.Client{Timeout: cfg.Payment.Timeout}, logger)
	panelClient := client.NewPanelClient(logger, cfg.Panel.Domain, cfg.Panel.APIKey, &http.Client{Timeout: cfg.Panel.Timeout})
	publisher := events.New(cfg.Kafka, logger)

	// Services
	payments := service.NewPaymentService(cfg, transactionRepo, registry, publisher, logger)
	provisioning, err := service.NewProvisionService(cfg, catalogRepo, attemptRepo, accountRepo, panelClient, publisher, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	if missing := cfg.Panel.Missing(); len(missing) > 0 {
		logger.Warn("panel provisioning disabled until configured", "missing", missing)
	}
	for _, p := range registry.Describe() {
		logger.Info("payment provider", "name", p.Name, "enabled", p.Enabled)
	}

	return &App{
		Pool:         pool,
		Publisher:    publisher,
		Payments:     payments,
		Provisioning: provisioning,
		Reconciler:   worker.NewPendingReconciler(payments, cfg.Workers, logger),
		Sweeper:      worker.NewOrphanSweeper(provisioning, cfg.Workers, logger),
	}, nil
}

func (a *App) Close(logger *slog.Logger) {
	if err := a.Publisher.Close(); err != nil {
		logger.Warn("close event publisher", "error", err)
	}
	a.Pool.Close()
}
