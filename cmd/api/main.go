package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wenwu/saas-platform/storefront-service/internal/app"
	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/http"
	"github.com/wenwu/saas-platform/storefront-service/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log.Info("starting storefront service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close(log)

	// Background workers
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); a.Reconciler.Run(ctx) }()
	go func() { defer wg.Done(); a.Sweeper.Run(ctx) }()

	server := http.NewServer(cfg, a.Payments, a.Provisioning, log)
	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", ":"+cfg.Server.Port)
		serverErr <- server.Run()
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Error("server failed", "error", err)
		}
		stop()
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	wg.Wait()
	log.Info("server exited")
}
