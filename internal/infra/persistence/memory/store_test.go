package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagedwell/pkg/domain"
)

var leadDecl = domain.Declaration{
	Entity:         "crm.lead",
	CategoryAttr:   "stage_id",
	LastUpdateAttr: "date_last_stage_update",
	ThresholdAttr:  "rotting_threshold_days",
}

type recordingHook struct {
	changes []domain.Change
	err     error
}

func (h *recordingHook) Name() string { return "recording" }

func (h *recordingHook) Apply(_ context.Context, change *domain.Change) error {
	h.changes = append(h.changes, *change)
	return h.err
}

func newTestStore(t *testing.T) (*Store, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store := NewStore(WithClock(clock))
	require.NoError(t, store.Declare(context.Background(), leadDecl))
	return store, clock
}

func TestStoreAssignsIDsPerTable(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	var catIDs, recIDs []int64
	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, name := range []string{"New", "Won"} {
			cat, err := tx.CreateCategory(domain.Category{Entity: leadDecl.Entity, Name: name})
			if err != nil {
				return err
			}
			catIDs = append(catIDs, cat.ID)
		}
		for range 2 {
			rec, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "lead"})
			if err != nil {
				return err
			}
			recIDs = append(recIDs, rec.ID)
		}
		return nil
	}))
	assert.Equal(t, []int64{1, 2}, catIDs)
	assert.Equal(t, []int64{1, 2}, recIDs)
}

func TestStoreRollsBackFailedTransactions(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "lost"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		recs, err := v.ListRecords(leadDecl.Entity)
		require.NoError(t, err)
		assert.Empty(t, recs)
		return nil
	}))

	// The sequence of the failed transaction is discarded too.
	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rec, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "kept"})
		assert.EqualValues(t, 1, rec.ID)
		return err
	}))
}

func TestStoreStampsRecords(t *testing.T) {
	t.Parallel()
	store, clock := newTestStore(t)
	ctx := context.Background()
	created := clock.Now()

	var id int64
	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rec, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "lead"})
		id = rec.ID
		return err
	}))

	clock.Advance(time.Hour)
	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateRecord(leadDecl.Entity, id, func(r *domain.Record) error {
			r.Name = "renamed"
			r.CreatedAt = time.Time{}
			r.DurationTracking = domain.Tracking{Stage: domain.Ref(9)}
			return nil
		})
		return err
	}))

	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		rec, err := v.FindRecord(leadDecl.Entity, id)
		require.NoError(t, err)
		assert.Equal(t, "renamed", rec.Name)
		assert.Equal(t, created, rec.CreatedAt)
		assert.Equal(t, created.Add(time.Hour), rec.UpdatedAt)
		require.NotNil(t, rec.DateLastStageUpdate)
		assert.Equal(t, created, *rec.DateLastStageUpdate)
		assert.True(t, rec.DurationTracking.IsZero())
		return nil
	}))
}

func TestStoreFiresHooks(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()
	hook := &recordingHook{}
	store.RegisterHook(leadDecl.Entity, hook)

	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		cat, err := tx.CreateCategory(domain.Category{Entity: leadDecl.Entity, Name: "New"})
		if err != nil {
			return err
		}
		rec, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "lead", CategoryID: domain.Ref(cat.ID)})
		if err != nil {
			return err
		}
		if _, err := tx.UpdateRecord(leadDecl.Entity, rec.ID, func(r *domain.Record) error {
			r.SetCategory(domain.Ref(cat.ID))
			return nil
		}); err != nil {
			return err
		}
		if _, err := tx.UpdateRecord(leadDecl.Entity, rec.ID, func(r *domain.Record) error {
			r.Name = "renamed"
			return nil
		}); err != nil {
			return err
		}
		return tx.DeleteRecord(leadDecl.Entity, rec.ID)
	}))

	require.Len(t, hook.changes, 4)
	assert.Equal(t, domain.ActionCreate, hook.changes[0].Action)
	assert.True(t, hook.changes[0].CategoryWritten)
	assert.Equal(t, domain.ActionUpdate, hook.changes[1].Action)
	assert.True(t, hook.changes[1].CategoryWritten)
	assert.False(t, hook.changes[2].CategoryWritten)
	assert.Equal(t, domain.ActionDelete, hook.changes[3].Action)
	assert.Nil(t, hook.changes[3].After)
}

func TestStoreRejectsUnknownEntities(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.Record{Entity: "sale.order", Name: "x"})
		return err
	})
	require.Error(t, err)

	err = store.View(ctx, func(v domain.TransactionView) error {
		_, err := v.FindRecord(leadDecl.Entity, 99)
		return err
	})
	assert.True(t, domain.IsNotFound(err))
	assert.Error(t, store.ScanVisible(ctx, "sale.order", func(domain.Record) error { return nil }))
}

func TestStoreCategoriesWithoutThresholdAttribute(t *testing.T) {
	t.Parallel()
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Declare(ctx, domain.Declaration{Entity: "helpdesk.ticket", CategoryAttr: "stage_id"}))
	require.NoError(t, store.Declare(ctx, domain.Declaration{Entity: "res.partner"}))

	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		cat, err := tx.CreateCategory(domain.Category{Entity: "helpdesk.ticket", Name: "Open", RottingThresholdDays: 4})
		require.NoError(t, err)
		assert.Zero(t, cat.RottingThresholdDays)

		_, err = tx.CreateCategory(domain.Category{Entity: "res.partner", Name: "x"})
		assert.Error(t, err)
		_, err = tx.CreateCategory(domain.Category{Entity: "helpdesk.ticket", Name: "bad", RottingThresholdDays: -1})
		assert.Error(t, err)
		return nil
	}))
}

func TestScanVisibleAppliesScope(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, company := range []*int64{domain.Ref(2), nil, domain.Ref(1), domain.Ref(3)} {
			if _, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "lead", CompanyID: company}); err != nil {
				return err
			}
		}
		return nil
	}))

	collect := func(ctx context.Context) []int64 {
		var ids []int64
		require.NoError(t, store.ScanVisible(ctx, leadDecl.Entity, func(rec domain.Record) error {
			ids = append(ids, rec.ID)
			return nil
		}))
		return ids
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, collect(ctx))
	scoped := domain.WithAccessScope(ctx, domain.AccessScope{CompanyIDs: []int64{1, 2}})
	assert.Equal(t, []int64{1, 2, 3}, collect(scoped))
}

func TestViewSnapshotsDeclarations(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			decl := domain.Declaration{Entity: domain.EntityType(fmt.Sprintf("crm.extra%d", i)), CategoryAttr: "stage_id"}
			assert.NoError(t, store.Declare(ctx, decl))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
				_, err := v.ListRecords(leadDecl.Entity)
				return err
			}))
		}()
	}
	wg.Wait()

	// A view opened before a declaration does not see it.
	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		require.NoError(t, store.Declare(ctx, domain.Declaration{Entity: "crm.late", CategoryAttr: "stage_id"}))
		_, err := v.ListRecords("crm.late")
		assert.Error(t, err)
		return nil
	}))
}
