package app

import (
	"context"
	"fmt"

	"coinafrique-scraper/internal/config"
	"coinafrique-scraper/internal/observability"
	"coinafrique-scraper/internal/storage"
	"coinafrique-scraper/internal/storage/memory"
	"coinafrique-scraper/internal/storage/mssql"
	"coinafrique-scraper/internal/storage/postgres"
)

// OpenStore connects the configured driver and provisions the schema.
func OpenStore(ctx context.Context, cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) (storage.Repository, error) {
	var (
		store storage.Repository
		err   error
	)

	switch cfg.Storage.Driver {
	case config.DriverMSSQL:
		store, err = mssql.Open(cfg.Storage.DSN, cfg.StorageOptions(), logger, metrics)
	case config.DriverPostgres:
		store, err = postgres.Open(ctx, cfg.Storage.DSN, cfg.Storage.MaxConns, cfg.StorageOptions(), logger, metrics)
	case config.DriverMemory:
		store = memory.New(cfg.Storage.ReadLimit)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	logger.Info("Store ready", "driver", cfg.Storage.Driver)
	return store, nil
}
