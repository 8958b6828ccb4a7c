// Package postgres opens the tracking host store on a Postgres database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/lib/pq"

	"stagedwell/internal/infra/persistence/sqlstore"
)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenPersistentStore defaults while allowing overrides via config.
	defaultDSN = "postgres://localhost/stagedwell?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the function used to open databases and returns a
// restore function. Tests use it to inject stub drivers.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

// Dialect renders Postgres SQL.
type Dialect struct{}

var _ sqlstore.Dialect = Dialect{}

func (Dialect) Name() string              { return "postgres" }
func (Dialect) IDColumn() string          { return "BIGSERIAL PRIMARY KEY" }
func (Dialect) TimestampType() string     { return "TIMESTAMPTZ" }
func (Dialect) JSONType() string          { return "JSONB" }
func (Dialect) TimeParam(t time.Time) any { return t.UTC() }
func (Dialect) Epoch(expr string) string {
	return fmt.Sprintf("CAST(EXTRACT(EPOCH FROM %s) AS BIGINT)", expr)
}

// IDList binds the ids as a single array parameter.
func (Dialect) IDList(column string, ids []int64) (string, []any) {
	return column + " = ANY(?)", []any{pq.Array(ids)}
}

// Rebind rewrites "?" placeholders to "$n", leaving quoted text alone.
func (Dialect) Rebind(query string) string {
	var (
		b      strings.Builder
		n      int
		quoted bool
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Open connects to the database at dsn (falls back to defaultDSN).
func Open(ctx context.Context, dsn string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return sqlstore.New(db, Dialect{}, opts...), nil
}
