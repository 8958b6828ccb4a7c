package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChangeDetectsCategoryWrites(t *testing.T) {
	t.Parallel()

	created := &Record{CategoryID: Ref(1)}
	assert.True(t, NewChange("lead", nil, created).CategoryWritten)
	assert.False(t, NewChange("lead", nil, &Record{}).CategoryWritten)

	before := Record{CategoryID: Ref(1)}
	same := before.Clone()
	assert.False(t, NewChange("lead", &before, &same).CategoryWritten)

	rewritten := before.Clone()
	rewritten.SetCategory(Ref(1))
	change := NewChange("lead", &before, &rewritten)
	assert.Equal(t, ActionUpdate, change.Action)
	assert.True(t, change.CategoryWritten)

	moved := before.Clone()
	moved.CategoryID = Ref(2)
	assert.True(t, NewChange("lead", &before, &moved).CategoryWritten)

	assert.Equal(t, ActionDelete, NewChange("lead", &before, nil).Action)
}

type recordingHook struct {
	name  string
	calls *[]string
	err   error
}

func (h recordingHook) Name() string { return h.name }

func (h recordingHook) Apply(_ context.Context, _ *Change) error {
	*h.calls = append(*h.calls, h.name)
	return h.err
}

func TestHooksFireInOrderAndStopOnError(t *testing.T) {
	t.Parallel()

	var calls []string
	hooks := NewHooks()
	hooks.Register("lead", recordingHook{name: "a", calls: &calls})
	hooks.Register("lead", recordingHook{name: "b", calls: &calls, err: errors.New("boom")})
	hooks.Register("lead", recordingHook{name: "c", calls: &calls})
	hooks.Register("other", recordingHook{name: "x", calls: &calls})

	err := hooks.Fire(context.Background(), &Change{Entity: "lead"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook b")
	assert.Equal(t, []string{"a", "b"}, calls)
}

func TestAccessScope(t *testing.T) {
	t.Parallel()

	ctx := WithAccessScope(context.Background(), AccessScope{CompanyIDs: []int64{1, 2}})
	scope := AccessScopeFrom(ctx)
	assert.True(t, scope.Allows(Ref(2)))
	assert.False(t, scope.Allows(Ref(3)))
	assert.True(t, scope.Allows(nil))
	assert.True(t, AccessScopeFrom(context.Background()).Unrestricted())
}
