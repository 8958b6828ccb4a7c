package core

import (
	"context"
	"fmt"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"stagedwell/internal/config"
	"stagedwell/internal/infra/persistence/memory"
	"stagedwell/internal/infra/persistence/postgres"
	"stagedwell/internal/infra/persistence/sqlite"
	"stagedwell/internal/infra/persistence/sqlstore"
	"stagedwell/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageOptions carries the ambient dependencies handed to the host store.
type StorageOptions struct {
	Clock  quartz.Clock
	Logger slog.Logger
}

// OpenPersistentStore selects a host store from cfg. An empty driver
// defaults to sqlite.
func OpenPersistentStore(ctx context.Context, cfg config.Storage, opts StorageOptions) (domain.PersistentStore, error) {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	sqlOpts := []sqlstore.Option{
		sqlstore.WithClock(opts.Clock),
		sqlstore.WithLogger(opts.Logger.Named("store")),
	}
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(memory.WithClock(opts.Clock)), nil
	case StorageSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLite.Path, sqlOpts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.Open(ctx, cfg.Postgres.DSN, sqlOpts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
