package tracking

import (
	"fmt"
	"time"

	"stagedwell/pkg/domain"
)

// Resolver reads the bound category attribute, the category threshold and
// the rotting anchor of a record.
type Resolver struct {
	binding *Binding
	view    domain.TransactionView
}

// CurrentCategory returns the record's category, nil when unset or when the
// type is untracked.
func (r Resolver) CurrentCategory(rec domain.Record) *int64 {
	if !r.binding.Tracked() {
		return nil
	}
	return rec.CategoryID
}

// ThresholdDays returns the rotting threshold of a category. Missing
// categories and undeclared thresholds read as 0.
func (r Resolver) ThresholdDays(categoryID *int64) (int, error) {
	if categoryID == nil || r.binding.decl.ThresholdAttr == "" {
		return 0, nil
	}
	cat, err := r.view.FindCategory(r.binding.Entity(), *categoryID)
	if domain.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve threshold of %s category %d: %w", r.binding.Entity(), *categoryID, err)
	}
	return max(cat.RottingThresholdDays, 0), nil
}

// Anchor returns the instant dwell in the current category is measured from:
// the last stage update, else the creation date, else now.
func (r Resolver) Anchor(rec domain.Record) time.Time {
	if r.binding.decl.LastUpdateAttr != "" && rec.DateLastStageUpdate != nil {
		return rec.DateLastStageUpdate.UTC()
	}
	if !rec.CreatedAt.IsZero() {
		return rec.CreatedAt.UTC()
	}
	return Now(r.binding.Clock())
}
