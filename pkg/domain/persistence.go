package domain

import (
	"context"
	"time"
)

// TransactionView provides read-only access to records and categories.
// Finders return ErrNotFound for missing ids.
type TransactionView interface {
	FindRecord(entity EntityType, id int64) (Record, error)
	ListRecords(entity EntityType) ([]Record, error)
	// FindRecords returns the existing records among ids in ascending id
	// order.
	FindRecords(entity EntityType, ids []int64) ([]Record, error)
	FindCategory(entity EntityType, id int64) (Category, error)
	ListCategories(entity EntityType) ([]Category, error)
}

// Transaction exposes the writes a persistence implementation must support
// within an atomic scope. Record writes fire the store's hooks before they
// are stored.
type Transaction interface {
	TransactionView
	CreateCategory(Category) (Category, error)
	UpdateCategory(entity EntityType, id int64, mutator func(*Category) error) (Category, error)
	CreateRecord(Record) (Record, error)
	UpdateRecord(entity EntityType, id int64, mutator func(*Record) error) (Record, error)
	DeleteRecord(entity EntityType, id int64) error
}

// PersistentStore is the host abstraction the tracking engine runs on.
type PersistentStore interface {
	Declare(ctx context.Context, decl Declaration) error
	RegisterHook(entity EntityType, hook Hook)
	RunInTransaction(ctx context.Context, fn func(Transaction) error) error
	View(ctx context.Context, fn func(TransactionView) error) error
	// Flush persists pending writes so that queries observe them.
	Flush(ctx context.Context) error
	Close() error
}

// Query is a host base query that already carries the caller's access
// control. Callers extend it with joins and read back the composed clauses.
type Query interface {
	// TableAlias is the alias of the entity table in FromClause.
	TableAlias() string
	FromClause() string
	WhereClause() string
	WhereParams() []any
	MakeAlias(table, suffix string) string
	AddJoin(kind, alias, table, condition string)
}

// Dialect adapts SQL built with "?" placeholders to a database.
type Dialect interface {
	Name() string
	Rebind(query string) string
	// Epoch renders an expression yielding the unix seconds of a timestamp
	// column expression.
	Epoch(expr string) string
	// TimeParam converts an instant to a value bindable against timestamp
	// columns.
	TimeParam(t time.Time) any
}

// SQLSearcher is implemented by relational hosts.
type SQLSearcher interface {
	Flush(ctx context.Context) error
	BaseQuery(ctx context.Context, entity EntityType) (Query, error)
	Dialect() Dialect
	SelectIDs(ctx context.Context, query string, args ...any) ([]int64, error)
}

// ScanSearcher is implemented by hosts without a query language. fn sees
// every record visible to the caller in ascending id order.
type ScanSearcher interface {
	Flush(ctx context.Context) error
	ScanVisible(ctx context.Context, entity EntityType, fn func(Record) error) error
}

// Settings exposes integer configuration parameters.
type Settings interface {
	Int(key string, def int) int
}

// StaticSettings is a fixed Settings map.
type StaticSettings map[string]int

// Int returns the value stored under key, or def.
func (s StaticSettings) Int(key string, def int) int {
	if v, ok := s[key]; ok {
		return v
	}
	return def
}
