package sqlstore

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagedwell/pkg/domain"
)

type textDialect struct{}

func (textDialect) Name() string               { return "text" }
func (textDialect) Rebind(query string) string { return query }
func (textDialect) Epoch(expr string) string   { return fmt.Sprintf("EPOCH(%s)", expr) }
func (textDialect) TimeParam(t time.Time) any  { return t.Format(time.RFC3339) }
func (textDialect) IDColumn() string           { return "SERIAL" }
func (textDialect) TimestampType() string      { return "TS" }
func (textDialect) JSONType() string           { return "JSON" }
func (textDialect) IDList(column string, ids []int64) (string, []any) {
	return InList(column, ids)
}

func TestQueryComposition(t *testing.T) {
	t.Parallel()

	q := NewQuery("crm_lead")
	assert.Equal(t, "crm_lead", q.TableAlias())
	assert.Equal(t, `"crm_lead" AS "crm_lead"`, q.FromClause())
	assert.Empty(t, q.WhereClause())

	alias := q.MakeAlias("crm_lead", "stage_id")
	assert.Equal(t, "crm_lead__stage_id", alias)
	q.AddJoin("JOIN", alias, "crm_lead_category", `"crm_lead"."stage_id" = "crm_lead__stage_id"."id"`)
	assert.Equal(t, "crm_lead__stage_id_2", q.MakeAlias("crm_lead", "stage_id"))
	q.AddJoin("left", "crm_lead__user_id", "res_users", "1 = 1")

	q.AddWhere(`"crm_lead"."company_id" IS NULL OR "crm_lead"."company_id" IN (?, ?)`, int64(1), int64(2))
	q.AddWhere(`"crm_lead"."name" <> ?`, "")

	assert.Equal(t,
		`"crm_lead" AS "crm_lead" JOIN "crm_lead_category" AS "crm_lead__stage_id" ON ("crm_lead"."stage_id" = "crm_lead__stage_id"."id") LEFT JOIN "res_users" AS "crm_lead__user_id" ON (1 = 1)`,
		q.FromClause())
	assert.Equal(t,
		`("crm_lead"."company_id" IS NULL OR "crm_lead"."company_id" IN (?, ?)) AND ("crm_lead"."name" <> ?)`,
		q.WhereClause())

	params := q.WhereParams()
	assert.Equal(t, []any{int64(1), int64(2), ""}, params)
	params[0] = "mutated"
	assert.Equal(t, int64(1), q.WhereParams()[0])
}

func TestInList(t *testing.T) {
	t.Parallel()

	clause, args := InList(`"t"."id"`, nil)
	assert.Equal(t, "1 = 0", clause)
	assert.Empty(t, args)

	clause, args = InList(`"t"."id"`, []int64{4, 5, 6})
	assert.Equal(t, `"t"."id" IN (?, ?, ?)`, clause)
	assert.Equal(t, []any{int64(4), int64(5), int64(6)}, args)
	assert.Equal(t, "", Placeholders(0))
	assert.Equal(t, "?", Placeholders(1))
}

func TestParseTime(t *testing.T) {
	t.Parallel()

	want := time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC)
	for _, value := range []any{
		"2025-01-01T10:30:00Z",
		[]byte("2025-01-01T10:30:00Z"),
		"2025-01-01 10:30:00",
		"2025-01-01 12:30:00+02:00",
		"2025-01-01T10:30:00.750Z",
		want.In(time.FixedZone("x", 3600)),
	} {
		got, err := ParseTime(value)
		require.NoError(t, err, "%v", value)
		require.NotNil(t, got)
		assert.Equal(t, want, *got, "%v", value)
	}

	got, err := ParseTime(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = ParseTime("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseTime("yesterday")
	assert.Error(t, err)
	_, err = ParseTime(42)
	assert.Error(t, err)
}

func TestSchemaStatements(t *testing.T) {
	t.Parallel()

	decl, err := domain.Declaration{
		Entity:         "crm.lead",
		CategoryAttr:   "stage_id",
		LastUpdateAttr: "date_last_stage_update",
		ThresholdAttr:  "rotting_threshold_days",
	}.Normalize()
	require.NoError(t, err)

	stmts := SchemaStatements(textDialect{}, decl)
	require.Len(t, stmts, 4)
	assert.True(t, strings.HasPrefix(stmts[0], `CREATE TABLE IF NOT EXISTS "crm_lead_category"`))
	assert.Contains(t, stmts[0], `"rotting_threshold_days" INTEGER NOT NULL DEFAULT 0`)
	assert.Contains(t, stmts[1], `"id" SERIAL`)
	assert.Contains(t, stmts[1], `"stage_id" BIGINT REFERENCES "crm_lead_category"("id")`)
	assert.Contains(t, stmts[1], `"duration_tracking" JSON NOT NULL DEFAULT '{}'`)
	assert.Contains(t, stmts[1], `"date_last_stage_update" TS`)
	assert.Contains(t, stmts[1], `"create_date" TS NOT NULL`)
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "crm_lead_stage_id_idx" ON "crm_lead" ("stage_id")`, stmts[2])
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "crm_lead_date_last_stage_update_idx" ON "crm_lead" ("date_last_stage_update")`, stmts[3])

	untracked, err := domain.Declaration{Entity: "res.partner"}.Normalize()
	require.NoError(t, err)
	stmts = SchemaStatements(textDialect{}, untracked)
	require.Len(t, stmts, 1)
	assert.NotContains(t, stmts[0], "REFERENCES")
	assert.NotContains(t, stmts[0], "date_last_stage_update")
}
