package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"budgetbook/internal/cli"
	"budgetbook/internal/config"
	apphttp "budgetbook/internal/http"
	applog "budgetbook/internal/log"
	"budgetbook/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentHTTP, (*config.Config).ValidateAPI)

	s := cli.OpenStore(context.Background(), logger, cfg)
	repo := cli.NewRepository(s, logger)
	dup := services.NewBudgetService(repo, cfg.RolloverItemConcurrency, logger.Logger)

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		JWTSecret:          cfg.JWTSecret,
		JWTIssuer:          cfg.JWTIssuer,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
		ScopeCacheTTL:      cfg.ScopeCacheTTL,
	}, repo, dup, logger)
	if err != nil {
		logger.Error("Failed to build HTTP server", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if err := s.Close(); err != nil {
			logger.Error("Failed to close store", applog.FieldError, err)
		}
	})

	logger.Info("Starting budgetbook server",
		"port", cfg.Port,
		applog.FieldBackend, cfg.StoreBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
