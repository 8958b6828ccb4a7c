package tracking

import (
	"fmt"
	"time"

	"stagedwell/pkg/domain"
)

// rottingCondition is the rotting predicate used by searches. Relational
// hosts get it as SQL, scan hosts evaluate it in Go; both read the same
// window so they select the same records.
type rottingCondition struct {
	now    time.Time
	cutoff time.Time
}

func newRottingCondition(now time.Time, months int) rottingCondition {
	if months <= 0 {
		months = DefaultSearchMonths
	}
	return rottingCondition{now: now, cutoff: now.AddDate(0, -months, 0)}
}

// matches reports whether a record with the given last stage update sitting
// in a category with the given threshold is rotting. Records without a last
// stage update never match.
func (c rottingCondition) matches(lastUpdate *time.Time, thresholdDays int) bool {
	if thresholdDays == 0 || lastUpdate == nil {
		return false
	}
	if lastUpdate.Before(c.cutoff) {
		return false
	}
	return !c.now.Before(RotPoint(*lastUpdate, thresholdDays))
}

// sql renders the predicate over the entity and category aliases of a
// composed query.
func (c rottingCondition) sql(dialect domain.Dialect, entityAlias, lastUpdateColumn, categoryAlias, thresholdColumn string) (string, []any) {
	threshold := quoteIdent(categoryAlias) + "." + quoteIdent(thresholdColumn)
	lastUpdate := quoteIdent(entityAlias) + "." + quoteIdent(lastUpdateColumn)
	clause := fmt.Sprintf("%[1]s <> 0 AND %[2]s IS NOT NULL AND %[2]s >= ? AND %[3]s + CAST(%[1]s AS BIGINT) * 86400 <= ?",
		threshold, lastUpdate, dialect.Epoch(lastUpdate))
	return clause, []any{dialect.TimeParam(c.cutoff), c.now.Unix()}
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
