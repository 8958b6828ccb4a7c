package sqlstore

import (
	"fmt"
	"strings"

	"stagedwell/pkg/domain"
)

// SchemaStatements returns the DDL creating the tables of a declared type.
func SchemaStatements(d Dialect, decl domain.Declaration) []string {
	var stmts []string
	if decl.Tracked() {
		cols := []string{
			QuoteIdent("id") + " " + d.IDColumn(),
			QuoteIdent("entity_type") + " TEXT NOT NULL",
			QuoteIdent("name") + " TEXT NOT NULL",
			QuoteIdent("sequence") + " INTEGER NOT NULL DEFAULT 0",
		}
		if decl.ThresholdAttr != "" {
			cols = append(cols, QuoteIdent(decl.ThresholdAttr)+" INTEGER NOT NULL DEFAULT 0")
		}
		stmts = append(stmts, createTable(decl.CategoryTable, cols))
	}

	cols := []string{
		QuoteIdent("id") + " " + d.IDColumn(),
		QuoteIdent("name") + " TEXT NOT NULL DEFAULT ''",
		QuoteIdent("company_id") + " BIGINT",
	}
	if decl.Tracked() {
		cols = append(cols, fmt.Sprintf("%s BIGINT REFERENCES %s(%s)", QuoteIdent(decl.CategoryAttr), QuoteIdent(decl.CategoryTable), QuoteIdent("id")))
	}
	cols = append(cols, fmt.Sprintf("%s %s NOT NULL DEFAULT '{}'", QuoteIdent(decl.TrackingAttr), d.JSONType()))
	if decl.LastUpdateAttr != "" {
		cols = append(cols, QuoteIdent(decl.LastUpdateAttr)+" "+d.TimestampType())
	}
	cols = append(cols,
		QuoteIdent(decl.CreateDateAttr)+" "+d.TimestampType()+" NOT NULL",
		QuoteIdent("write_date")+" "+d.TimestampType()+" NOT NULL",
	)
	stmts = append(stmts, createTable(decl.Table, cols))

	if decl.Tracked() {
		stmts = append(stmts, createIndex(decl.Table, decl.CategoryAttr))
	}
	if decl.LastUpdateAttr != "" {
		stmts = append(stmts, createIndex(decl.Table, decl.LastUpdateAttr))
	}
	return stmts
}

func createTable(table string, cols []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", QuoteIdent(table), strings.Join(cols, ",\n\t"))
}

func createIndex(table, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", QuoteIdent(table+"_"+column+"_idx"), QuoteIdent(table), QuoteIdent(column))
}
