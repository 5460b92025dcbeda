// Package backend selects and opens the configured store backend.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"budgetbook/internal/store"
	"budgetbook/internal/store/dynamo"
	"budgetbook/internal/store/memory"
	"budgetbook/internal/store/sqlite"
)

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	DynamoBackend BackendType = "dynamodb"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, DynamoBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, DynamoBackend, MemoryBackend}
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// DynamoDB specific
	DynamoTable    string
	DynamoIndex    string
	DynamoRegion   string
	DynamoEndpoint string
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case DynamoBackend:
		if c.DynamoTable == "" {
			return fmt.Errorf("DynamoDB table name is required for dynamodb backend")
		}
	case MemoryBackend:
		// nothing to validate
	}

	return nil
}

// Open creates the store described by cfg. The caller owns the returned
// store and must Close it.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case SQLiteBackend:
		s, err := sqlite.New(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		logger.Info("Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
		return s, nil

	case DynamoBackend:
		s, err := dynamo.New(ctx, dynamo.Config{
			Table:     cfg.DynamoTable,
			IndexName: cfg.DynamoIndex,
			Region:    cfg.DynamoRegion,
			Endpoint:  cfg.DynamoEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize DynamoDB store: %w", err)
		}
		logger.Info("Initialized DynamoDB backend",
			"table", cfg.DynamoTable,
			"index", cfg.DynamoIndex,
			"endpoint", cfg.DynamoEndpoint)
		return s, nil

	case MemoryBackend:
		logger.Info("Initialized memory backend")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}
