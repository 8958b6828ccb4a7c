// Package domain defines the tracked records, categories, host ports and
// error types shared by the tracking engine and the stores that host it.
package domain

import (
	"fmt"
	"time"
)

// EntityType identifies a host record type, for example "crm.lead".
type EntityType string

// Category is a value of a record's categorical attribute (a pipeline stage).
// A zero RottingThresholdDays disables rotting for records in the category.
type Category struct {
	ID                   int64      `json:"id"`
	Entity               EntityType `json:"entity_type"`
	Name                 string     `json:"name"`
	Sequence             int        `json:"sequence"`
	RottingThresholdDays int        `json:"rotting_threshold_days"`
}

// Validate reports whether the category can be persisted.
func (c Category) Validate() error {
	if c.Entity == "" {
		return fmt.Errorf("category entity type required")
	}
	if c.RottingThresholdDays < 0 {
		return fmt.Errorf("category %q: rotting threshold must not be negative, got %d", c.Name, c.RottingThresholdDays)
	}
	return nil
}

// Record is a tracked host record.
type Record struct {
	ID                  int64      `json:"id"`
	Entity              EntityType `json:"entity_type"`
	Name                string     `json:"name"`
	CompanyID           *int64     `json:"company_id,omitempty"`
	CategoryID          *int64     `json:"category_id,omitempty"`
	DurationTracking    Tracking   `json:"duration_tracking"`
	DateLastStageUpdate *time.Time `json:"date_last_stage_update,omitempty"`
	CreatedAt           time.Time  `json:"create_date"`
	UpdatedAt           time.Time  `json:"write_date"`

	categoryWritten bool
}

// SetCategory assigns the category attribute and marks it as written, so the
// write is tracked even when the value does not change.
func (r *Record) SetCategory(id *int64) {
	r.CategoryID = cloneID(id)
	r.categoryWritten = true
}

// CategoryWritten reports whether SetCategory was called since the record was
// loaded.
func (r Record) CategoryWritten() bool {
	return r.categoryWritten
}

// ClearWriteMarks forgets pending attribute writes. Stores call it once a
// write has been applied.
func (r *Record) ClearWriteMarks() {
	r.categoryWritten = false
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.CompanyID = cloneID(r.CompanyID)
	out.CategoryID = cloneID(r.CategoryID)
	out.DurationTracking = r.DurationTracking.Clone()
	out.DateLastStageUpdate = cloneTime(r.DateLastStageUpdate)
	return out
}

// Ref returns a pointer to id, for optional id fields.
func Ref(id int64) *int64 {
	return &id
}

// SameID reports whether two optional ids hold the same value.
func SameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
