package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagedwell/internal/infra/persistence/postgres/testutil"
	"stagedwell/internal/infra/persistence/sqlstore"
	"stagedwell/internal/tracking"
	"stagedwell/pkg/domain"
)

var leadDecl = domain.Declaration{
	Entity:         "crm.lead",
	CategoryAttr:   "stage_id",
	LastUpdateAttr: "date_last_stage_update",
	ThresholdAttr:  "rotting_threshold_days",
}

var categoryColumns = []string{"id", "entity_type", "name", "sequence", "rotting_threshold_days"}

func newStubStore(t *testing.T) (*sqlstore.Store, *testutil.StubConn, *quartz.Mock) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	t.Cleanup(func() { _ = db.Close() })
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	store := sqlstore.New(db, Dialect{}, sqlstore.WithClock(clock), sqlstore.WithLogger(slogtest.Make(t, nil)))
	require.NoError(t, store.Declare(context.Background(), leadDecl))
	return store, conn, clock
}

func TestRebind(t *testing.T) {
	t.Parallel()

	d := Dialect{}
	assert.Equal(t, "a = $1 AND b = 'x?y' AND c = ANY($2)", d.Rebind("a = ? AND b = 'x?y' AND c = ANY(?)"))
	assert.Equal(t, "SELECT 1", d.Rebind("SELECT 1"))
	assert.Equal(t, `CAST(EXTRACT(EPOCH FROM "t"."c") AS BIGINT)`, d.Epoch(`"t"."c"`))

	clause, args := d.IDList(`"t"."company_id"`, []int64{3, 4})
	assert.Equal(t, `"t"."company_id" = ANY(?)`, clause)
	require.Len(t, args, 1)
	value, err := args[0].(driver.Valuer).Value()
	require.NoError(t, err)
	assert.Equal(t, "{3,4}", value)
}

func TestDeclareCreatesPostgresSchema(t *testing.T) {
	t.Parallel()
	_, conn, _ := newStubStore(t)

	require.Len(t, conn.Execs, 4)
	category, entity := conn.Execs[0].SQL, conn.Execs[1].SQL
	assert.Contains(t, category, `"id" BIGSERIAL PRIMARY KEY`)
	assert.Contains(t, entity, `"duration_tracking" JSONB NOT NULL DEFAULT '{}'`)
	assert.Contains(t, entity, `"date_last_stage_update" TIMESTAMPTZ`)
	assert.Contains(t, entity, `"write_date" TIMESTAMPTZ NOT NULL`)
}

func TestDeclareReportsDDLFailures(t *testing.T) {
	t.Parallel()

	db, conn := testutil.NewStubDB()
	t.Cleanup(func() { _ = db.Close() })
	conn.FailExec = true
	store := sqlstore.New(db, Dialect{})
	err := store.Declare(context.Background(), leadDecl)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute ddl")
}

func TestCreateRecordUsesReturningAndPositionalParameters(t *testing.T) {
	t.Parallel()
	store, conn, clock := newStubStore(t)
	conn.OnQuery(`INSERT INTO "crm_lead"`, []string{"id"}, []driver.Value{int64(11)})
	conn.OnQuery(`FROM "crm_lead_category"`, categoryColumns, []driver.Value{int64(2), "crm.lead", "New", int64(0), int64(5)})

	b, err := tracking.Bind(leadDecl, tracking.WithClock(clock))
	require.NoError(t, err)
	store.RegisterHook(b.Entity(), b)

	var rec domain.Record
	require.NoError(t, store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		rec, err = tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "Acme", CategoryID: domain.Ref(2)})
		return err
	}))
	assert.EqualValues(t, 11, rec.ID)
	assert.EqualValues(t, 2, *rec.DurationTracking.Stage)

	insert, ok := conn.LastQuery(`INSERT INTO "crm_lead"`)
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(insert.SQL, `VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "id"`), insert.SQL)
	assert.Equal(t, "{}", insert.Args[3])
	assert.Equal(t, clock.Now(), insert.Args[4])

	update := conn.Execs[len(conn.Execs)-1]
	assert.True(t, strings.HasPrefix(update.SQL, `UPDATE "crm_lead" SET "name" = $1`), update.SQL)
	assert.True(t, strings.HasSuffix(update.SQL, `WHERE "id" = $8`), update.SQL)
	assert.JSONEq(t, `{"s": 2, "d": "2025-06-01T00:00:00Z"}`, update.Args[3].(string))
	assert.Equal(t, int64(11), update.Args[7])
	assert.Equal(t, 1, conn.Commits)
}

func TestFailedTransactionRollsBack(t *testing.T) {
	t.Parallel()
	store, conn, _ := newStubStore(t)
	conn.FailQuery(`INSERT INTO "crm_lead"`, errors.New("unique violation"))

	err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.Record{Entity: leadDecl.Entity, Name: "Acme"})
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unique violation")
	assert.Equal(t, 0, conn.Commits)
	assert.Equal(t, 1, conn.Rollbacks)

	conn.FailBegin = true
	err = store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil })
	assert.ErrorContains(t, err, "begin tx")
}

func TestRottingSearchSQL(t *testing.T) {
	t.Parallel()
	store, conn, clock := newStubStore(t)
	conn.OnQuery(`FROM "crm_lead_category"`, categoryColumns, []driver.Value{int64(1), "crm.lead", "New", int64(0), int64(3)})
	conn.OnQuery(`SELECT "crm_lead"."id"`, []string{"id"}, []driver.Value{int64(9)}, []driver.Value{int64(4)})

	b, err := tracking.Bind(leadDecl, tracking.WithClock(clock), tracking.WithLogger(slogtest.Make(t, nil)))
	require.NoError(t, err)
	scoped := domain.WithAccessScope(context.Background(), domain.AccessScope{CompanyIDs: []int64{1, 2}})

	ids, err := b.Query(store).Search(scoped, tracking.OpIn, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9}, ids)

	stmt, ok := conn.LastQuery(`SELECT "crm_lead"."id"`)
	require.True(t, ok)
	assert.Equal(t,
		`SELECT "crm_lead"."id" FROM "crm_lead" AS "crm_lead" JOIN "crm_lead_category" AS "crm_lead__stage_id" ON ("crm_lead"."stage_id" = "crm_lead__stage_id"."id") `+
			`WHERE (("crm_lead"."company_id" IS NULL OR "crm_lead"."company_id" = ANY($1))) AND `+
			`("crm_lead__stage_id"."rotting_threshold_days" <> 0 AND "crm_lead"."date_last_stage_update" IS NOT NULL AND "crm_lead"."date_last_stage_update" >= $2 AND `+
			`CAST(EXTRACT(EPOCH FROM "crm_lead"."date_last_stage_update") AS BIGINT) + CAST("crm_lead__stage_id"."rotting_threshold_days" AS BIGINT) * 86400 <= $3)`,
		stmt.SQL)
	now := clock.Now()
	assert.Equal(t, []any{"{1,2}", now.AddDate(-1, 0, 0), now.Unix()}, stmt.Args)
}

func TestRottingComplementSQL(t *testing.T) {
	t.Parallel()
	store, conn, clock := newStubStore(t)
	conn.OnQuery(`FROM "crm_lead_category"`, categoryColumns, []driver.Value{int64(1), "crm.lead", "New", int64(0), int64(3)})

	b, err := tracking.Bind(leadDecl, tracking.WithClock(clock))
	require.NoError(t, err)
	scoped := domain.WithAccessScope(context.Background(), domain.AccessScope{CompanyIDs: []int64{5}})

	ids, err := b.Query(store).Search(scoped, tracking.OpNotIn, true)
	require.NoError(t, err)
	assert.Empty(t, ids)

	stmt, ok := conn.LastQuery(`NOT IN`)
	require.True(t, ok)
	assert.Contains(t, stmt.SQL, `"crm_lead"."company_id" = ANY($1)`)
	assert.Contains(t, stmt.SQL, `"crm_lead"."id" NOT IN (SELECT "crm_lead"."id" FROM "crm_lead" AS "crm_lead" JOIN`)
	assert.Contains(t, stmt.SQL, `"crm_lead"."company_id" = ANY($2)`)
	assert.Contains(t, stmt.SQL, `<= $4))`)
	require.Len(t, stmt.Args, 4)
	assert.Equal(t, "{5}", stmt.Args[0])
	assert.Equal(t, "{5}", stmt.Args[1])
}

func TestOpenUsesInjectedDriver(t *testing.T) {
	db, conn := testutil.NewStubDB()
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return db, nil
	})
	defer restore()

	store, err := Open(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "pgx", gotDriver)
	assert.Equal(t, defaultDSN, gotDSN)
	assert.Equal(t, "postgres", store.Dialect().Name())
	require.NoError(t, store.Close())

	db, conn = testutil.NewStubDB()
	conn.FailExec = true
	restore2 := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore2()
	_, err = Open(context.Background(), "postgres://db/x")
	assert.ErrorContains(t, err, "ping postgres")
}
