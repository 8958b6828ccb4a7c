// Package memory provides an in-memory implementation of the tracking host
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"

	"stagedwell/internal/tracking"
	"stagedwell/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.ScanSearcher    = (*Store)(nil)
)

type memoryState struct {
	records    map[domain.EntityType]map[int64]domain.Record
	categories map[domain.EntityType]map[int64]domain.Category
	lastIDs    map[string]int64
}

func newMemoryState() memoryState {
	return memoryState{
		records:    make(map[domain.EntityType]map[int64]domain.Record),
		categories: make(map[domain.EntityType]map[int64]domain.Category),
		lastIDs:    make(map[string]int64),
	}
}

func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for table, id := range s.lastIDs {
		out.lastIDs[table] = id
	}
	for entity, records := range s.records {
		cp := make(map[int64]domain.Record, len(records))
		for id, rec := range records {
			cp[id] = rec.Clone()
		}
		out.records[entity] = cp
	}
	for entity, cats := range s.categories {
		cp := make(map[int64]domain.Category, len(cats))
		for id, cat := range cats {
			cp[id] = cat
		}
		out.categories[entity] = cp
	}
	return out
}

// Store provides an in-memory transactional store. Writers are serialised
// by a single mutex and work on a copy of the state that replaces the
// committed state only when the transaction succeeds.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	decls map[domain.EntityType]domain.Declaration
	hooks *domain.Hooks
	clock quartz.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for record timestamps.
func WithClock(clock quartz.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state: newMemoryState(),
		decls: make(map[domain.EntityType]domain.Declaration),
		hooks: domain.NewHooks(),
		clock: quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Declare registers an entity type with the store.
func (s *Store) Declare(_ context.Context, decl domain.Declaration) error {
	normalized, err := decl.Normalize()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decls[normalized.Entity] = normalized
	if s.state.records[normalized.Entity] == nil {
		s.state.records[normalized.Entity] = make(map[int64]domain.Record)
		s.state.categories[normalized.Entity] = make(map[int64]domain.Category)
	}
	return nil
}

// RegisterHook adds a write hook for an entity type.
func (s *Store) RegisterHook(entity domain.EntityType, hook domain.Hook) {
	s.hooks.Register(entity, hook)
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		ctx:   ctx,
		store: s,
		state: s.state.clone(),
		now:   tracking.Now(s.clock),
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	decls := maps.Clone(s.decls)
	s.mu.RUnlock()
	return fn(view{state: &snapshot, decls: decls})
}

// Flush is a no-op: committed state is immediately visible.
func (s *Store) Flush(context.Context) error { return nil }

// Close releases nothing.
func (s *Store) Close() error { return nil }

// ScanVisible calls fn for every record of entity visible under the access
// scope of ctx, in ascending id order.
func (s *Store) ScanVisible(ctx context.Context, entity domain.EntityType, fn func(domain.Record) error) error {
	scope := domain.AccessScopeFrom(ctx)
	s.mu.RLock()
	if _, ok := s.decls[entity]; !ok {
		s.mu.RUnlock()
		return fmt.Errorf("entity type %s not declared", entity)
	}
	records := sortedRecords(s.state.records[entity])
	s.mu.RUnlock()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !scope.Allows(rec.CompanyID) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func sortedRecords(records map[int64]domain.Record) []domain.Record {
	out := make([]domain.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type view struct {
	state *memoryState
	decls map[domain.EntityType]domain.Declaration
}

func (v view) declared(entity domain.EntityType) error {
	if _, ok := v.decls[entity]; !ok {
		return fmt.Errorf("entity type %s not declared", entity)
	}
	return nil
}

func (v view) FindRecord(entity domain.EntityType, id int64) (domain.Record, error) {
	if err := v.declared(entity); err != nil {
		return domain.Record{}, err
	}
	rec, ok := v.state.records[entity][id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound{Entity: entity, ID: id}
	}
	return rec.Clone(), nil
}

func (v view) ListRecords(entity domain.EntityType) ([]domain.Record, error) {
	if err := v.declared(entity); err != nil {
		return nil, err
	}
	return sortedRecords(v.state.records[entity]), nil
}

func (v view) FindRecords(entity domain.EntityType, ids []int64) ([]domain.Record, error) {
	if err := v.declared(entity); err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := v.state.records[entity][id]; ok {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) FindCategory(entity domain.EntityType, id int64) (domain.Category, error) {
	if err := v.declared(entity); err != nil {
		return domain.Category{}, err
	}
	cat, ok := v.state.categories[entity][id]
	if !ok {
		return domain.Category{}, domain.ErrNotFound{Entity: entity + ".category", ID: id}
	}
	return cat, nil
}

func (v view) ListCategories(entity domain.EntityType) ([]domain.Category, error) {
	if err := v.declared(entity); err != nil {
		return nil, err
	}
	out := make([]domain.Category, 0, len(v.state.categories[entity]))
	for _, cat := range v.state.categories[entity] {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// transaction is a mutation set applied to a copy of the store state.
type transaction struct {
	ctx   context.Context
	store *Store
	state memoryState
	now   time.Time
}

func (tx *transaction) view() view {
	return view{state: &tx.state, decls: tx.store.decls}
}

func (tx *transaction) FindRecord(entity domain.EntityType, id int64) (domain.Record, error) {
	return tx.view().FindRecord(entity, id)
}

func (tx *transaction) ListRecords(entity domain.EntityType) ([]domain.Record, error) {
	return tx.view().ListRecords(entity)
}

func (tx *transaction) FindRecords(entity domain.EntityType, ids []int64) ([]domain.Record, error) {
	return tx.view().FindRecords(entity, ids)
}

func (tx *transaction) FindCategory(entity domain.EntityType, id int64) (domain.Category, error) {
	return tx.view().FindCategory(entity, id)
}

func (tx *transaction) ListCategories(entity domain.EntityType) ([]domain.Category, error) {
	return tx.view().ListCategories(entity)
}

// nextID allocates ids per table, like the autoincrement keys of the SQL
// hosts.
func (tx *transaction) nextID(table string) int64 {
	tx.state.lastIDs[table]++
	return tx.state.lastIDs[table]
}

func (tx *transaction) declaration(entity domain.EntityType) (domain.Declaration, error) {
	decl, ok := tx.store.decls[entity]
	if !ok {
		return domain.Declaration{}, fmt.Errorf("entity type %s not declared", entity)
	}
	return decl, nil
}

func (tx *transaction) CreateCategory(cat domain.Category) (domain.Category, error) {
	decl, err := tx.declaration(cat.Entity)
	if err != nil {
		return domain.Category{}, err
	}
	if !decl.Tracked() {
		return domain.Category{}, fmt.Errorf("entity type %s has no category attribute", cat.Entity)
	}
	if err := cat.Validate(); err != nil {
		return domain.Category{}, err
	}
	if decl.ThresholdAttr == "" {
		cat.RottingThresholdDays = 0
	}
	cat.ID = tx.nextID(decl.CategoryTable)
	tx.state.categories[cat.Entity][cat.ID] = cat
	return cat, nil
}

func (tx *transaction) UpdateCategory(entity domain.EntityType, id int64, mutator func(*domain.Category) error) (domain.Category, error) {
	decl, err := tx.declaration(entity)
	if err != nil {
		return domain.Category{}, err
	}
	current, ok := tx.state.categories[entity][id]
	if !ok {
		return domain.Category{}, domain.ErrNotFound{Entity: entity + ".category", ID: id}
	}
	if err := mutator(&current); err != nil {
		return domain.Category{}, err
	}
	current.ID, current.Entity = id, entity
	if err := current.Validate(); err != nil {
		return domain.Category{}, err
	}
	if decl.ThresholdAttr == "" {
		current.RottingThresholdDays = 0
	}
	tx.state.categories[entity][id] = current
	return current, nil
}

func (tx *transaction) checkCategory(entity domain.EntityType, id *int64) error {
	if id == nil {
		return nil
	}
	if _, ok := tx.state.categories[entity][*id]; !ok {
		return fmt.Errorf("category: %w", domain.ErrNotFound{Entity: entity + ".category", ID: *id})
	}
	return nil
}

func (tx *transaction) CreateRecord(rec domain.Record) (domain.Record, error) {
	decl, err := tx.declaration(rec.Entity)
	if err != nil {
		return domain.Record{}, err
	}
	if err := tx.checkCategory(rec.Entity, rec.CategoryID); err != nil {
		return domain.Record{}, err
	}
	rec = rec.Clone()
	rec.ID = tx.nextID(decl.Table)
	rec.DurationTracking = domain.Tracking{}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = tx.now
	}
	rec.UpdatedAt = tx.now
	stamp := decl.LastUpdateAttr != "" && rec.DateLastStageUpdate == nil
	if stamp {
		now := tx.now
		rec.DateLastStageUpdate = &now
	}
	if err := tx.store.hooks.Fire(tx.ctx, domain.NewChange(rec.Entity, nil, &rec)); err != nil {
		return domain.Record{}, err
	}
	if stamp {
		at := tracking.StageUpdated(rec, tx.store.clock)
		rec.DateLastStageUpdate = &at
	}
	rec.ClearWriteMarks()
	tx.state.records[rec.Entity][rec.ID] = rec
	return rec.Clone(), nil
}

func (tx *transaction) UpdateRecord(entity domain.EntityType, id int64, mutator func(*domain.Record) error) (domain.Record, error) {
	decl, err := tx.declaration(entity)
	if err != nil {
		return domain.Record{}, err
	}
	before, ok := tx.state.records[entity][id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound{Entity: entity, ID: id}
	}
	after := before.Clone()
	if err := mutator(&after); err != nil {
		return domain.Record{}, err
	}
	after.ID, after.Entity, after.CreatedAt = id, entity, before.CreatedAt
	after.DurationTracking = before.DurationTracking.Clone()
	if err := tx.checkCategory(entity, after.CategoryID); err != nil {
		return domain.Record{}, err
	}
	change := domain.NewChange(entity, &before, &after)
	after.UpdatedAt = tx.now
	if err := tx.store.hooks.Fire(tx.ctx, change); err != nil {
		return domain.Record{}, err
	}
	if change.CategoryWritten && decl.LastUpdateAttr != "" {
		at := tracking.StageUpdated(after, tx.store.clock)
		after.DateLastStageUpdate = &at
	}
	after.ClearWriteMarks()
	tx.state.records[entity][id] = after
	return after.Clone(), nil
}

func (tx *transaction) DeleteRecord(entity domain.EntityType, id int64) error {
	if _, err := tx.declaration(entity); err != nil {
		return err
	}
	before, ok := tx.state.records[entity][id]
	if !ok {
		return domain.ErrNotFound{Entity: entity, ID: id}
	}
	if err := tx.store.hooks.Fire(tx.ctx, domain.NewChange(entity, &before, nil)); err != nil {
		return err
	}
	delete(tx.state.records[entity], id)
	return nil
}
