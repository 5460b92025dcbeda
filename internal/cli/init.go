// Package cli provides common CLI initialization utilities shared by
// cmd/budgetbook, cmd/rollover-worker and cmd/rollover-lambda.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"budgetbook/internal/backend"
	"budgetbook/internal/config"
	applog "budgetbook/internal/log"
	"budgetbook/internal/repository"
	"budgetbook/internal/services"
	"budgetbook/internal/sheets/google"
	"budgetbook/internal/store"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger installs the configured handler as the default logger and
// returns it tagged with component.
func SetupLogger(cfg *config.Config, component string) *applog.Logger {
	logger := applog.New(applog.Config{
		Level:     applog.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: component,
		Output:    os.Stdout,
	})
	applog.SetDefault(logger)
	return logger
}

// Bootstrap loads .env and the configuration, sets up logging and validates
// the configuration together with any extra checks. It exits the process
// when validation fails.
func Bootstrap(component string, extra ...func(*config.Config) error) (*config.Config, *applog.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, component)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}
	for _, check := range extra {
		if err := check(cfg); err != nil {
			logger.Error("Configuration validation failed", applog.FieldError, err)
			os.Exit(1)
		}
	}
	return cfg, logger
}

// BackendConfig maps the application configuration onto a store backend.
func BackendConfig(cfg *config.Config) backend.Config {
	return backend.Config{
		Type:           backend.BackendType(cfg.StoreBackend),
		SQLiteDBPath:   cfg.SQLiteDBPath,
		DynamoTable:    cfg.DynamoTable,
		DynamoIndex:    cfg.DynamoGSIName,
		DynamoRegion:   cfg.AWSRegion,
		DynamoEndpoint: cfg.DynamoEndpoint,
	}
}

// OpenStore opens the configured store or exits the process on failure.
func OpenStore(ctx context.Context, logger *applog.Logger, cfg *config.Config) store.Store {
	s, err := backend.Open(ctx, BackendConfig(cfg), logger.Logger)
	if err != nil {
		logger.Error("Failed to open store",
			applog.FieldBackend, cfg.StoreBackend,
			applog.FieldError, err)
		os.Exit(1)
	}
	return s
}

// NewRepository wraps s in a repository logging through logger.
func NewRepository(s store.Store, logger *applog.Logger) *repository.Repository {
	return repository.New(s, repository.WithLogger(logger.Logger))
}

// ReportWriters returns the log writer and, when configured, the Google
// Sheets writer. A Sheets writer that cannot be created is logged and left
// out so the rollover still runs.
func ReportWriters(ctx context.Context, logger *applog.Logger, cfg *config.Config) []services.ReportWriter {
	writers := []services.ReportWriter{services.LogReportWriter{Logger: logger.Logger}}
	if !cfg.ReportsToSheets() {
		return writers
	}
	w, err := google.New(ctx, google.Config{
		SpreadsheetID:   cfg.ReportSpreadsheetID,
		SheetName:       cfg.ReportSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger.Logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets report writer", applog.FieldError, err)
		return writers
	}
	logger.Info("Google Sheets report writer enabled", "sheet", cfg.ReportSheetName)
	return append(writers, w)
}

// NewRolloverProcessor builds the processor used by the worker and the lambda.
func NewRolloverProcessor(ctx context.Context, logger *applog.Logger, cfg *config.Config, repo *repository.Repository) *services.RolloverProcessor {
	return services.NewRolloverProcessor(repo,
		services.RolloverConfig{
			ItemConcurrency:  cfg.RolloverItemConcurrency,
			ScopeConcurrency: cfg.RolloverScopeConcurrency,
		},
		services.WithRolloverLogger(logger.Logger),
		services.WithReportWriters(ReportWriters(ctx, logger, cfg)...),
	)
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
