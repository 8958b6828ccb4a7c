package domain

import (
	"context"
	"fmt"
	"sync"
)

// Hook runs inside the write transaction of a record, before the write is
// stored. An error aborts the transaction.
type Hook interface {
	Name() string
	Apply(ctx context.Context, change *Change) error
}

// Hooks dispatches changes to the hooks registered for each entity type.
type Hooks struct {
	mu    sync.RWMutex
	hooks map[EntityType][]Hook
}

// NewHooks constructs an empty dispatcher.
func NewHooks() *Hooks {
	return &Hooks{hooks: make(map[EntityType][]Hook)}
}

// Register appends a hook for an entity type.
func (h *Hooks) Register(entity EntityType, hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[entity] = append(h.hooks[entity], hook)
}

// Fire runs the hooks registered for the change's entity type in
// registration order.
func (h *Hooks) Fire(ctx context.Context, change *Change) error {
	h.mu.RLock()
	hooks := append([]Hook(nil), h.hooks[change.Entity]...)
	h.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook.Apply(ctx, change); err != nil {
			return fmt.Errorf("hook %s: %w", hook.Name(), err)
		}
	}
	return nil
}
