package tracking

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"stagedwell/pkg/domain"
)

// Binding is the immutable tracking descriptor of one entity type. It is
// created once when the type is registered; nothing reads attribute names
// per call afterwards.
type Binding struct {
	decl           domain.Declaration
	rottingEnabled bool
	opts           options
	accumulator    *Accumulator
}

var _ domain.Hook = (*Binding)(nil)

// Bind validates a declaration and snapshots it. Rotting is enabled when the
// declaration names both the last-update and the threshold attribute.
func Bind(decl domain.Declaration, opts ...Option) (*Binding, error) {
	normalized, err := decl.Normalize()
	if err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	b := &Binding{
		decl:           normalized,
		rottingEnabled: normalized.RottingDeclared(),
		opts:           o,
	}
	b.accumulator = &Accumulator{
		entity:  normalized.Entity,
		clock:   o.clock,
		logger:  o.logger.Named("accumulator"),
		metrics: o.metrics,
	}
	return b, nil
}

// Entity returns the bound entity type.
func (b *Binding) Entity() domain.EntityType { return b.decl.Entity }

// Declaration returns the normalized declaration.
func (b *Binding) Declaration() domain.Declaration { return b.decl }

// Tracked reports whether the type has a category attribute.
func (b *Binding) Tracked() bool { return b.decl.Tracked() }

// RottingEnabled is the static rotting gate.
func (b *Binding) RottingEnabled() bool { return b.rottingEnabled }

// Clock returns the binding's time source.
func (b *Binding) Clock() quartz.Clock { return b.opts.clock }

// Accumulator returns the duration accumulator of the type.
func (b *Binding) Accumulator() *Accumulator { return b.accumulator }

// Resolver returns a category resolver reading through view.
func (b *Binding) Resolver(view domain.TransactionView) Resolver {
	return Resolver{binding: b, view: view}
}

// Evaluator returns the rotting evaluator of the type.
func (b *Binding) Evaluator() *Evaluator {
	return &Evaluator{binding: b}
}

// Query returns the rotting search of the type over store.
func (b *Binding) Query(store domain.PersistentStore) *Query {
	return &Query{binding: b, store: store, logger: b.opts.logger.Named("query")}
}

// Name implements domain.Hook.
func (b *Binding) Name() string {
	return "duration_tracking." + string(b.decl.Entity)
}

// Apply implements domain.Hook. Creates and category writes run the
// accumulator; every other write leaves the tracking state alone.
func (b *Binding) Apply(ctx context.Context, change *domain.Change) error {
	if !b.Tracked() || change.After == nil {
		return nil
	}
	if change.Action != domain.ActionCreate && !change.CategoryWritten {
		return nil
	}
	b.accumulator.OnRecompute(ctx, change.After)
	return nil
}

// Registry maps entity types to their bindings.
type Registry struct {
	mu       sync.RWMutex
	bindings map[domain.EntityType]*Binding
	logger   slog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger slog.Logger) *Registry {
	return &Registry{bindings: make(map[domain.EntityType]*Binding), logger: logger}
}

// Register adds a binding. Each type can be bound once.
func (r *Registry) Register(b *Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bindings[b.Entity()]; ok {
		return fmt.Errorf("entity type %s already registered", b.Entity())
	}
	r.bindings[b.Entity()] = b
	r.logger.Info(context.Background(), "registered tracked entity type",
		slog.F("entity", b.Entity()),
		slog.F("tracked", b.Tracked()),
		slog.F("rotting_enabled", b.RottingEnabled()),
	)
	return nil
}

// Lookup returns the binding of an entity type.
func (r *Registry) Lookup(entity domain.EntityType) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[entity]
	return b, ok
}

// Bindings returns every binding ordered by entity type.
func (r *Registry) Bindings() []*Binding {
	r.mu.RLock()
	out := make([]*Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Entity() < out[j].Entity() })
	return out
}
