// Package sqlstore implements the tracking host store over database/sql.
// The sqlite and postgres packages supply dialects and open connections.
package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"stagedwell/pkg/domain"
)

// Dialect extends the query dialect with the DDL and list binding a
// relational host needs.
type Dialect interface {
	domain.Dialect
	// IDColumn is the column definition of an auto-assigned primary key.
	IDColumn() string
	TimestampType() string
	JSONType() string
	// IDList renders "column IN ids" with "?" placeholders.
	IDList(column string, ids []int64) (string, []any)
}

// QuoteIdent quotes a validated identifier.
func QuoteIdent(name string) string {
	return `"` + name + `"`
}

// Column renders alias.column.
func Column(alias, column string) string {
	return QuoteIdent(alias) + "." + QuoteIdent(column)
}

// Placeholders renders n comma separated "?" placeholders.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// InList renders a portable "column IN (?, ...)" clause. An empty list
// matches nothing.
func InList(column string, ids []int64) (string, []any) {
	if len(ids) == 0 {
		return "1 = 0", nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf("%s IN (%s)", column, Placeholders(len(ids))), args
}

// ParseTime converts a scanned timestamp column to UTC at second precision.
func ParseTime(value any) (*time.Time, error) {
	var t time.Time
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t = v
	case string:
		return parseTimeText(v)
	case []byte:
		return parseTimeText(string(v))
	default:
		return nil, fmt.Errorf("unsupported timestamp value %T", value)
	}
	t = t.UTC().Truncate(time.Second)
	return &t, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTimeText(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC().Truncate(time.Second)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("parse timestamp %q", s)
}
