package core

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagedwell/internal/config"
	"stagedwell/internal/infra/persistence/memory"
	"stagedwell/internal/infra/persistence/postgres"
	"stagedwell/internal/infra/persistence/sqlstore"
)

func TestOpenPersistentStoreDrivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	opts := StorageOptions{Logger: slogtest.Make(t, nil)}

	store, err := OpenPersistentStore(ctx, config.Storage{Driver: "memory"}, opts)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)

	path := filepath.Join(t.TempDir(), "nested", "stagedwell.db")
	store, err = OpenPersistentStore(ctx, config.Storage{SQLite: config.SQLite{Path: path}}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	sqlStore, ok := store.(*sqlstore.Store)
	require.True(t, ok)
	assert.Equal(t, "sqlite", sqlStore.Dialect().Name())
	assert.FileExists(t, path)

	_, err = OpenPersistentStore(ctx, config.Storage{Driver: "oracle"}, opts)
	assert.ErrorContains(t, err, "unknown storage driver oracle")
}

func TestOpenPersistentStorePostgresFailure(t *testing.T) {
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) {
		return nil, errors.New("connection refused")
	})
	t.Cleanup(restore)

	store, err := OpenPersistentStore(context.Background(), config.Storage{Driver: "postgres"}, StorageOptions{})
	require.Error(t, err)
	assert.Nil(t, store)
	assert.ErrorContains(t, err, "connection refused")
}
