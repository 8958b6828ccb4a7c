// Package sqlite opens the tracking host store on a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"stagedwell/internal/infra/persistence/sqlstore"
	"stagedwell/pkg/domain"
)

const (
	driverName  = "sqlite"
	defaultPath = "stagedwell.db"
	// MemoryPath opens a private in-memory database.
	MemoryPath = ":memory:"
)

// Dialect renders SQLite SQL. Timestamps are stored as fixed-width UTC text
// so that text comparison orders them chronologically.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string               { return "sqlite" }
func (Dialect) Rebind(query string) string { return query }
func (Dialect) IDColumn() string           { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (Dialect) TimestampType() string      { return "TEXT" }
func (Dialect) JSONType() string           { return "TEXT" }
func (Dialect) TimeParam(t time.Time) any  { return t.UTC().Format(domain.TrackingTimeLayout) }
func (Dialect) Epoch(expr string) string {
	return fmt.Sprintf("CAST(strftime('%%s', %s) AS INTEGER)", expr)
}
func (Dialect) IDList(column string, ids []int64) (string, []any) {
	return sqlstore.InList(column, ids)
}

// Open opens (creating if needed) the database at path. The pool is
// limited to one connection: SQLite serialises writers anyway and an
// in-memory database exists per connection.
func Open(ctx context.Context, path string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != MemoryPath && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return sqlstore.New(db, Dialect{}, opts...), nil
}
