package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stagedwell/internal/tracking"
	"stagedwell/pkg/domain"
)

// Compile-time contract assertions ensuring Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.SQLSearcher     = (*Store)(nil)
)

// Store persists tracked records in one table per entity type and one
// category table per tracked type. Every write runs in a database
// transaction.
type Store struct {
	db      *sql.DB
	dialect Dialect
	hooks   *domain.Hooks
	clock   quartz.Clock
	logger  slog.Logger
	tracer  trace.Tracer

	mu    sync.RWMutex
	decls map[domain.EntityType]domain.Declaration
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for record timestamps.
func WithClock(clock quartz.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithTracer overrides the otel tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) { s.tracer = tracer }
}

// New wraps an open database.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	s := &Store{
		db:      db,
		dialect: dialect,
		hooks:   domain.NewHooks(),
		clock:   quartz.NewReal(),
		logger:  slog.Make(),
		tracer:  otel.Tracer("stagedwell/sqlstore"),
		decls:   make(map[domain.EntityType]domain.Declaration),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect implements domain.SQLSearcher.
func (s *Store) Dialect() domain.Dialect { return s.dialect }

// Declare creates the tables of a type if they do not exist yet.
func (s *Store) Declare(ctx context.Context, decl domain.Declaration) error {
	normalized, err := decl.Normalize()
	if err != nil {
		return err
	}
	for _, stmt := range SchemaStatements(s.dialect, normalized) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("declare %s: execute ddl: %w", normalized.Entity, err)
		}
	}
	s.mu.Lock()
	s.decls[normalized.Entity] = normalized
	s.mu.Unlock()
	s.logger.Debug(ctx, "declared entity tables", slog.F("entity", normalized.Entity), slog.F("table", normalized.Table))
	return nil
}

func (s *Store) declaration(entity domain.EntityType) (domain.Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	decl, ok := s.decls[entity]
	if !ok {
		return domain.Declaration{}, fmt.Errorf("entity type %s not declared", entity)
	}
	return decl, nil
}

// RegisterHook adds a write hook for an entity type.
func (s *Store) RegisterHook(entity domain.EntityType, hook domain.Hook) {
	s.hooks.Register(entity, hook)
}

func (s *Store) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("db.system", s.dialect.Name())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RunInTransaction runs fn in a database transaction, committed only when
// fn succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (err error) {
	ctx, span := s.startSpan(ctx, "sqlstore.RunInTransaction")
	defer func() { endSpan(span, err) }()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()
	tx := &transaction{ctx: ctx, store: s, tx: sqlTx, now: tracking.Now(s.clock)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// View runs fn against a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) (err error) {
	ctx, span := s.startSpan(ctx, "sqlstore.View")
	defer func() { endSpan(span, err) }()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&transaction{ctx: ctx, store: s, tx: sqlTx, now: tracking.Now(s.clock)})
}

// Flush is a no-op: writes are committed when their transaction ends.
func (s *Store) Flush(context.Context) error { return nil }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// BaseQuery implements domain.SQLSearcher. The access scope of ctx becomes
// the query's predicate.
func (s *Store) BaseQuery(ctx context.Context, entity domain.EntityType) (domain.Query, error) {
	decl, err := s.declaration(entity)
	if err != nil {
		return nil, err
	}
	q := NewQuery(decl.Table)
	if scope := domain.AccessScopeFrom(ctx); !scope.Unrestricted() {
		company := Column(q.TableAlias(), "company_id")
		in, args := s.dialect.IDList(company, scope.CompanyIDs)
		q.AddWhere(fmt.Sprintf("%s IS NULL OR %s", company, in), args...)
	}
	return q, nil
}

// SelectIDs implements domain.SQLSearcher.
func (s *Store) SelectIDs(ctx context.Context, query string, args ...any) (ids []int64, err error) {
	ctx, span := s.startSpan(ctx, "sqlstore.SelectIDs")
	span.SetAttributes(attribute.String("db.statement", query))
	defer func() { endSpan(span, err) }()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}
