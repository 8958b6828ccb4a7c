package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Default attribute names used when a Declaration leaves them empty.
const (
	DefaultTrackingAttr   = "duration_tracking"
	DefaultCreateDateAttr = "create_date"
)

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reserved columns every host table carries.
var reservedColumns = map[string]struct{}{
	"id":         {},
	"name":       {},
	"company_id": {},
	"write_date": {},
}

// Declaration describes how a host entity type exposes the attributes the
// tracking mixin needs. An empty CategoryAttr leaves the type untracked; an
// empty LastUpdateAttr or ThresholdAttr disables rotting for it.
type Declaration struct {
	Entity         EntityType `mapstructure:"entity" json:"entity"`
	Table          string     `mapstructure:"table" json:"table,omitempty"`
	CategoryAttr   string     `mapstructure:"category_attr" json:"category_attr,omitempty"`
	CategoryTable  string     `mapstructure:"category_table" json:"category_table,omitempty"`
	TrackingAttr   string     `mapstructure:"tracking_attr" json:"tracking_attr,omitempty"`
	LastUpdateAttr string     `mapstructure:"last_update_attr" json:"last_update_attr,omitempty"`
	ThresholdAttr  string     `mapstructure:"threshold_attr" json:"threshold_attr,omitempty"`
	CreateDateAttr string     `mapstructure:"create_date_attr" json:"create_date_attr,omitempty"`
}

// Normalize fills defaults and validates every attribute as a plain SQL
// identifier.
func (d Declaration) Normalize() (Declaration, error) {
	if strings.TrimSpace(string(d.Entity)) == "" {
		return Declaration{}, fmt.Errorf("declaration: entity type required")
	}
	if d.Table == "" {
		d.Table = strings.ReplaceAll(string(d.Entity), ".", "_")
	}
	if d.TrackingAttr == "" {
		d.TrackingAttr = DefaultTrackingAttr
	}
	if d.CreateDateAttr == "" {
		d.CreateDateAttr = DefaultCreateDateAttr
	}
	if d.CategoryAttr != "" && d.CategoryTable == "" {
		d.CategoryTable = d.Table + "_category"
	}

	named := map[string]string{
		"table":            d.Table,
		"category_attr":    d.CategoryAttr,
		"category_table":   d.CategoryTable,
		"tracking_attr":    d.TrackingAttr,
		"last_update_attr": d.LastUpdateAttr,
		"threshold_attr":   d.ThresholdAttr,
		"create_date_attr": d.CreateDateAttr,
	}
	for field, value := range named {
		if value == "" {
			continue
		}
		if !identifierPattern.MatchString(value) {
			return Declaration{}, fmt.Errorf("declaration %s: %s %q is not a valid identifier", d.Entity, field, value)
		}
	}

	seen := make(map[string]string)
	for _, column := range []struct{ field, value string }{
		{"category_attr", d.CategoryAttr},
		{"tracking_attr", d.TrackingAttr},
		{"last_update_attr", d.LastUpdateAttr},
		{"create_date_attr", d.CreateDateAttr},
	} {
		if column.value == "" {
			continue
		}
		if _, ok := reservedColumns[column.value]; ok {
			return Declaration{}, fmt.Errorf("declaration %s: %s %q collides with a reserved column", d.Entity, column.field, column.value)
		}
		if other, ok := seen[column.value]; ok {
			return Declaration{}, fmt.Errorf("declaration %s: %s and %s share column %q", d.Entity, other, column.field, column.value)
		}
		seen[column.value] = column.field
	}
	if d.ThresholdAttr != "" {
		switch d.ThresholdAttr {
		case "id", "name", "entity_type", "sequence":
			return Declaration{}, fmt.Errorf("declaration %s: threshold_attr %q collides with a reserved column", d.Entity, d.ThresholdAttr)
		}
	}
	if d.CategoryTable != "" && d.CategoryTable == d.Table {
		return Declaration{}, fmt.Errorf("declaration %s: category table must differ from %q", d.Entity, d.Table)
	}
	return d, nil
}

// Tracked reports whether the type declares a category attribute.
func (d Declaration) Tracked() bool {
	return d.CategoryAttr != ""
}

// RottingDeclared reports whether both attributes rotting depends on are
// declared.
func (d Declaration) RottingDeclared() bool {
	return d.Tracked() && d.LastUpdateAttr != "" && d.ThresholdAttr != ""
}
