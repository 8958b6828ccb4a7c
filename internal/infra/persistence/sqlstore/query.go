package sqlstore

import (
	"fmt"
	"strings"

	"stagedwell/pkg/domain"
)

var _ domain.Query = (*Query)(nil)

type join struct {
	kind      string
	alias     string
	table     string
	condition string
}

// Query is a base query over one entity table. Joins added by callers are
// rendered after the entity table; the access control predicate stays in
// WhereClause and keeps referring to the entity alias.
type Query struct {
	alias   string
	table   string
	joins   []join
	where   []string
	params  []any
	aliases map[string]struct{}
}

// NewQuery starts a query over table aliased by its own name.
func NewQuery(table string) *Query {
	return &Query{
		alias:   table,
		table:   table,
		aliases: map[string]struct{}{table: {}},
	}
}

// TableAlias implements domain.Query.
func (q *Query) TableAlias() string { return q.alias }

// FromClause implements domain.Query.
func (q *Query) FromClause() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s AS %s", QuoteIdent(q.table), QuoteIdent(q.alias))
	for _, j := range q.joins {
		fmt.Fprintf(&b, " %s %s AS %s ON (%s)", j.kind, QuoteIdent(j.table), QuoteIdent(j.alias), j.condition)
	}
	return b.String()
}

// WhereClause implements domain.Query.
func (q *Query) WhereClause() string {
	if len(q.where) == 0 {
		return ""
	}
	parts := make([]string, len(q.where))
	for i, w := range q.where {
		parts[i] = "(" + w + ")"
	}
	return strings.Join(parts, " AND ")
}

// WhereParams implements domain.Query.
func (q *Query) WhereParams() []any {
	return append([]any(nil), q.params...)
}

// MakeAlias returns an alias for joining table from the given suffix that
// is unique within the query.
func (q *Query) MakeAlias(table, suffix string) string {
	base := table + "__" + suffix
	alias := base
	for i := 2; ; i++ {
		if _, taken := q.aliases[alias]; !taken {
			break
		}
		alias = fmt.Sprintf("%s_%d", base, i)
	}
	q.aliases[alias] = struct{}{}
	return alias
}

// AddJoin implements domain.Query. Unknown kinds become inner joins.
func (q *Query) AddJoin(kind, alias, table, condition string) {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case "LEFT JOIN", "LEFT":
		kind = "LEFT JOIN"
	default:
		kind = "JOIN"
	}
	q.aliases[alias] = struct{}{}
	q.joins = append(q.joins, join{kind: kind, alias: alias, table: table, condition: condition})
}

// AddWhere appends a predicate with its parameters.
func (q *Query) AddWhere(clause string, args ...any) {
	q.where = append(q.where, clause)
	q.params = append(q.params, args...)
}
