package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagedwell/internal/infra/persistence/sqlstore"
	"stagedwell/pkg/domain"
)

var leadDecl = domain.Declaration{
	Entity:         "crm.lead",
	CategoryAttr:   "stage_id",
	LastUpdateAttr: "date_last_stage_update",
	ThresholdAttr:  "rotting_threshold_days",
}

func openTestStore(t *testing.T, path string) (*sqlstore.Store, *quartz.Mock) {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	store, err := Open(context.Background(), path, sqlstore.WithClock(clock), sqlstore.WithLogger(slogtest.Make(t, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Declare(context.Background(), leadDecl))
	return store, clock
}

func TestDialect(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	assert.Equal(t, "sqlite", d.Name())
	assert.Equal(t, "a = ?", d.Rebind("a = ?"))
	assert.Equal(t, `CAST(strftime('%s', "t"."c") AS INTEGER)`, d.Epoch(`"t"."c"`))
	assert.Equal(t, "2025-01-02T03:04:05Z", d.TimeParam(time.Date(2025, 1, 2, 4, 4, 5, 0, time.FixedZone("x", 3600))))
	clause, args := d.IDList("id", []int64{1})
	assert.Equal(t, "id IN (?)", clause)
	assert.Equal(t, []any{int64(1)}, args)
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	store, clock := openTestStore(t, MemoryPath)
	ctx := context.Background()

	var catID, recID int64
	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		cat, err := tx.CreateCategory(domain.Category{Entity: leadDecl.Entity, Name: "New", Sequence: 5, RottingThresholdDays: 3})
		if err != nil {
			return err
		}
		catID = cat.ID
		rec, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "Acme", CompanyID: domain.Ref(7), CategoryID: domain.Ref(cat.ID)})
		recID = rec.ID
		return err
	}))
	assert.EqualValues(t, 1, catID)
	assert.EqualValues(t, 1, recID)

	clock.Advance(90 * time.Second)
	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateRecord(leadDecl.Entity, recID, func(r *domain.Record) error {
			r.DurationTracking = domain.Tracking{Stage: domain.Ref(catID), Totals: map[int64]int64{catID: 30}}
			return nil
		})
		return err
	}))

	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		rec, err := v.FindRecord(leadDecl.Entity, recID)
		require.NoError(t, err)
		created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, "Acme", rec.Name)
		assert.Equal(t, int64(7), *rec.CompanyID)
		assert.Equal(t, catID, *rec.CategoryID)
		assert.Equal(t, created, rec.CreatedAt)
		assert.Equal(t, created.Add(90*time.Second), rec.UpdatedAt)
		assert.Equal(t, created, *rec.DateLastStageUpdate)
		// Tracking is owned by the accumulator; direct writes are dropped.
		assert.True(t, rec.DurationTracking.IsZero())

		cat, err := v.FindCategory(leadDecl.Entity, catID)
		require.NoError(t, err)
		assert.Equal(t, domain.Category{ID: catID, Entity: leadDecl.Entity, Name: "New", Sequence: 5, RottingThresholdDays: 3}, cat)

		recs, err := v.FindRecords(leadDecl.Entity, []int64{recID, 99})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
		recs, err = v.FindRecords(leadDecl.Entity, nil)
		require.NoError(t, err)
		assert.Empty(t, recs)
		return nil
	}))
}

func TestStoredTrackingDecodesLeniently(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t, MemoryPath)
	ctx := context.Background()

	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "imported"})
		return err
	}))
	_, err := store.DB().ExecContext(ctx, `UPDATE "crm_lead" SET "duration_tracking" = ? WHERE "id" = 1`,
		`{"s": "2", "d": "2025-01-01 00:00:00", "2": 12.9, "x": 4}`)
	require.NoError(t, err)

	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		rec, err := v.FindRecord(leadDecl.Entity, 1)
		require.NoError(t, err)
		require.NotNil(t, rec.DurationTracking.Stage)
		assert.EqualValues(t, 2, *rec.DurationTracking.Stage)
		assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *rec.DurationTracking.Since)
		assert.EqualValues(t, 12, rec.DurationTracking.Total(2))
		return nil
	}))
}

func TestDeleteAndRollback(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t, MemoryPath)
	ctx := context.Background()

	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for range 3 {
			if _, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "lead"}); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return tx.DeleteRecord(leadDecl.Entity, 2)
	}))
	err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.DeleteRecord(leadDecl.Entity, 1); err != nil {
			return err
		}
		return tx.DeleteRecord(leadDecl.Entity, 2)
	})
	assert.True(t, domain.IsNotFound(err))

	require.NoError(t, store.View(ctx, func(v domain.TransactionView) error {
		recs, err := v.ListRecords(leadDecl.Entity)
		require.NoError(t, err)
		ids := make([]int64, 0, len(recs))
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []int64{1, 3}, ids)
		return nil
	}))
}

func TestBaseQueryAppliesScope(t *testing.T) {
	t.Parallel()
	store, _ := openTestStore(t, MemoryPath)
	ctx := context.Background()

	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, company := range []*int64{domain.Ref(1), domain.Ref(2), nil} {
			if _, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "lead", CompanyID: company}); err != nil {
				return err
			}
		}
		return nil
	}))

	scoped := domain.WithAccessScope(ctx, domain.AccessScope{CompanyIDs: []int64{2}})
	q, err := store.BaseQuery(scoped, leadDecl.Entity)
	require.NoError(t, err)
	assert.Equal(t, `"crm_lead"."company_id" IS NULL OR "crm_lead"."company_id" IN (?)`, q.WhereClause()[1:len(q.WhereClause())-1])

	ids, err := store.SelectIDs(ctx, `SELECT "crm_lead"."id" FROM `+q.FromClause()+` WHERE `+q.WhereClause()+` ORDER BY 1`, q.WhereParams()...)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)

	_, err = store.BaseQuery(ctx, "sale.order")
	assert.Error(t, err)
}

func TestOpenCreatesFileDatabase(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "stagedwell.db")
	store, _ := openTestStore(t, path)
	require.NoError(t, store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "persisted"})
		return err
	}))
	require.NoError(t, store.Close())

	reopened, _ := openTestStore(t, path)
	require.NoError(t, reopened.View(context.Background(), func(v domain.TransactionView) error {
		rec, err := v.FindRecord(leadDecl.Entity, 1)
		require.NoError(t, err)
		assert.Equal(t, "persisted", rec.Name)
		return nil
	}))
}
