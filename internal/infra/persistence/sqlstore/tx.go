package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stagedwell/internal/tracking"
	"stagedwell/pkg/domain"
)

type transaction struct {
	ctx   context.Context
	store *Store
	tx    *sql.Tx
	now   time.Time
}

func (tx *transaction) rebind(query string) string {
	return tx.store.dialect.Rebind(query)
}

func (tx *transaction) exec(query string, args ...any) error {
	_, err := tx.tx.ExecContext(tx.ctx, tx.rebind(query), args...)
	return err
}

// recordColumns lists the selected columns of a record row in scan order.
func recordColumns(decl domain.Declaration) []string {
	cols := []string{"id", "name", "company_id"}
	if decl.Tracked() {
		cols = append(cols, decl.CategoryAttr)
	}
	cols = append(cols, decl.TrackingAttr)
	if decl.LastUpdateAttr != "" {
		cols = append(cols, decl.LastUpdateAttr)
	}
	return append(cols, decl.CreateDateAttr, "write_date")
}

func selectList(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = Column(alias, col)
	}
	return strings.Join(out, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(decl domain.Declaration, row rowScanner) (domain.Record, error) {
	var (
		rec               domain.Record
		company, category sql.NullInt64
		trackingRaw       any
		lastUpdate        any
		created, written  any
	)
	dest := []any{&rec.ID, &rec.Name, &company}
	if decl.Tracked() {
		dest = append(dest, &category)
	}
	dest = append(dest, &trackingRaw)
	if decl.LastUpdateAttr != "" {
		dest = append(dest, &lastUpdate)
	}
	dest = append(dest, &created, &written)
	if err := row.Scan(dest...); err != nil {
		return domain.Record{}, err
	}

	rec.Entity = decl.Entity
	if company.Valid {
		rec.CompanyID = domain.Ref(company.Int64)
	}
	if category.Valid {
		rec.CategoryID = domain.Ref(category.Int64)
	}
	tracking, err := decodeTracking(trackingRaw)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%s %d: %w", decl.Entity, rec.ID, err)
	}
	rec.DurationTracking = tracking
	if rec.DateLastStageUpdate, err = ParseTime(lastUpdate); err != nil {
		return domain.Record{}, fmt.Errorf("%s %d: %s: %w", decl.Entity, rec.ID, decl.LastUpdateAttr, err)
	}
	for _, ts := range []struct {
		target *time.Time
		value  any
		column string
	}{{&rec.CreatedAt, created, decl.CreateDateAttr}, {&rec.UpdatedAt, written, "write_date"}} {
		parsed, err := ParseTime(ts.value)
		if err != nil {
			return domain.Record{}, fmt.Errorf("%s %d: %s: %w", decl.Entity, rec.ID, ts.column, err)
		}
		if parsed != nil {
			*ts.target = *parsed
		}
	}
	return rec, nil
}

func decodeTracking(value any) (domain.Tracking, error) {
	switch v := value.(type) {
	case nil:
		return domain.Tracking{}, nil
	case string:
		return domain.ParseTracking([]byte(v))
	case []byte:
		return domain.ParseTracking(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return domain.Tracking{}, fmt.Errorf("encode tracking value %T: %w", value, err)
		}
		return domain.ParseTracking(raw)
	}
}

func (tx *transaction) queryRecords(decl domain.Declaration, where string, args ...any) ([]domain.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", selectList(decl.Table, recordColumns(decl)), QuoteIdent(decl.Table))
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + Column(decl.Table, "id")
	rows, err := tx.tx.QueryContext(tx.ctx, tx.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", decl.Entity, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Record
	for rows.Next() {
		rec, err := scanRecord(decl, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", decl.Entity, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", decl.Entity, err)
	}
	return out, nil
}

func (tx *transaction) FindRecord(entity domain.EntityType, id int64) (domain.Record, error) {
	decl, err := tx.store.declaration(entity)
	if err != nil {
		return domain.Record{}, err
	}
	recs, err := tx.queryRecords(decl, Column(decl.Table, "id")+" = ?", id)
	if err != nil {
		return domain.Record{}, err
	}
	if len(recs) == 0 {
		return domain.Record{}, domain.ErrNotFound{Entity: entity, ID: id}
	}
	return recs[0], nil
}

func (tx *transaction) ListRecords(entity domain.EntityType) ([]domain.Record, error) {
	decl, err := tx.store.declaration(entity)
	if err != nil {
		return nil, err
	}
	return tx.queryRecords(decl, "")
}

func (tx *transaction) FindRecords(entity domain.EntityType, ids []int64) ([]domain.Record, error) {
	decl, err := tx.store.declaration(entity)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}
	where, args := tx.store.dialect.IDList(Column(decl.Table, "id"), ids)
	return tx.queryRecords(decl, where, args...)
}

func categoryColumns(decl domain.Declaration) []string {
	cols := []string{"id", "entity_type", "name", "sequence"}
	if decl.ThresholdAttr != "" {
		cols = append(cols, decl.ThresholdAttr)
	}
	return cols
}

func (tx *transaction) categoryDeclaration(entity domain.EntityType) (domain.Declaration, error) {
	decl, err := tx.store.declaration(entity)
	if err != nil {
		return domain.Declaration{}, err
	}
	if !decl.Tracked() {
		return domain.Declaration{}, fmt.Errorf("entity type %s has no category attribute", entity)
	}
	return decl, nil
}

func (tx *transaction) queryCategories(decl domain.Declaration, where string, args ...any) ([]domain.Category, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", selectList(decl.CategoryTable, categoryColumns(decl)), QuoteIdent(decl.CategoryTable))
	if where != "" {
		query += " WHERE " + where
	}
	query += fmt.Sprintf(" ORDER BY %s, %s", Column(decl.CategoryTable, "sequence"), Column(decl.CategoryTable, "id"))
	rows, err := tx.tx.QueryContext(tx.ctx, tx.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s categories: %w", decl.Entity, err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Category
	for rows.Next() {
		var (
			cat    domain.Category
			entity string
		)
		dest := []any{&cat.ID, &entity, &cat.Name, &cat.Sequence}
		if decl.ThresholdAttr != "" {
			dest = append(dest, &cat.RottingThresholdDays)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s category: %w", decl.Entity, err)
		}
		cat.Entity = domain.EntityType(entity)
		out = append(out, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s categories: %w", decl.Entity, err)
	}
	return out, nil
}

func (tx *transaction) FindCategory(entity domain.EntityType, id int64) (domain.Category, error) {
	decl, err := tx.categoryDeclaration(entity)
	if err != nil {
		return domain.Category{}, err
	}
	cats, err := tx.queryCategories(decl, Column(decl.CategoryTable, "id")+" = ?", id)
	if err != nil {
		return domain.Category{}, err
	}
	if len(cats) == 0 {
		return domain.Category{}, domain.ErrNotFound{Entity: entity + ".category", ID: id}
	}
	return cats[0], nil
}

func (tx *transaction) ListCategories(entity domain.EntityType) ([]domain.Category, error) {
	decl, err := tx.store.declaration(entity)
	if err != nil {
		return nil, err
	}
	if !decl.Tracked() {
		return []domain.Category{}, nil
	}
	return tx.queryCategories(decl, "")
}

func (tx *transaction) CreateCategory(cat domain.Category) (domain.Category, error) {
	decl, err := tx.categoryDeclaration(cat.Entity)
	if err != nil {
		return domain.Category{}, err
	}
	if err := cat.Validate(); err != nil {
		return domain.Category{}, err
	}
	cols := []string{QuoteIdent("entity_type"), QuoteIdent("name"), QuoteIdent("sequence")}
	args := []any{string(cat.Entity), cat.Name, cat.Sequence}
	if decl.ThresholdAttr != "" {
		cols = append(cols, QuoteIdent(decl.ThresholdAttr))
		args = append(args, cat.RottingThresholdDays)
	} else {
		cat.RottingThresholdDays = 0
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		QuoteIdent(decl.CategoryTable), strings.Join(cols, ", "), Placeholders(len(cols)), QuoteIdent("id"))
	if err := tx.tx.QueryRowContext(tx.ctx, tx.rebind(query), args...).Scan(&cat.ID); err != nil {
		return domain.Category{}, fmt.Errorf("insert %s category: %w", cat.Entity, err)
	}
	return cat, nil
}

func (tx *transaction) UpdateCategory(entity domain.EntityType, id int64, mutator func(*domain.Category) error) (domain.Category, error) {
	decl, err := tx.categoryDeclaration(entity)
	if err != nil {
		return domain.Category{}, err
	}
	current, err := tx.FindCategory(entity, id)
	if err != nil {
		return domain.Category{}, err
	}
	if err := mutator(&current); err != nil {
		return domain.Category{}, err
	}
	current.ID, current.Entity = id, entity
	if err := current.Validate(); err != nil {
		return domain.Category{}, err
	}
	sets := []string{QuoteIdent("name") + " = ?", QuoteIdent("sequence") + " = ?"}
	args := []any{current.Name, current.Sequence}
	if decl.ThresholdAttr != "" {
		sets = append(sets, QuoteIdent(decl.ThresholdAttr)+" = ?")
		args = append(args, current.RottingThresholdDays)
	} else {
		current.RottingThresholdDays = 0
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", QuoteIdent(decl.CategoryTable), strings.Join(sets, ", "), QuoteIdent("id"))
	if err := tx.exec(query, args...); err != nil {
		return domain.Category{}, fmt.Errorf("update %s category %d: %w", entity, id, err)
	}
	return current, nil
}

func (tx *transaction) checkCategory(decl domain.Declaration, id *int64) error {
	if id == nil {
		return nil
	}
	if _, err := tx.FindCategory(decl.Entity, *id); err != nil {
		return fmt.Errorf("category: %w", err)
	}
	return nil
}

// recordValues returns the writable columns of a record and their values.
func (tx *transaction) recordValues(decl domain.Declaration, rec domain.Record) ([]string, []any, error) {
	d := tx.store.dialect
	tracking, err := json.Marshal(rec.DurationTracking)
	if err != nil {
		return nil, nil, fmt.Errorf("encode tracking: %w", err)
	}
	cols := []string{"name", "company_id"}
	args := []any{rec.Name, nullableID(rec.CompanyID)}
	if decl.Tracked() {
		cols = append(cols, decl.CategoryAttr)
		args = append(args, nullableID(rec.CategoryID))
	}
	cols = append(cols, decl.TrackingAttr)
	args = append(args, string(tracking))
	if decl.LastUpdateAttr != "" {
		cols = append(cols, decl.LastUpdateAttr)
		if rec.DateLastStageUpdate != nil {
			args = append(args, d.TimeParam(*rec.DateLastStageUpdate))
		} else {
			args = append(args, nil)
		}
	}
	cols = append(cols, decl.CreateDateAttr, "write_date")
	args = append(args, d.TimeParam(rec.CreatedAt), d.TimeParam(rec.UpdatedAt))
	return cols, args, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func (tx *transaction) writeRecord(decl domain.Declaration, rec domain.Record) error {
	cols, args, err := tx.recordValues(decl, rec)
	if err != nil {
		return err
	}
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = QuoteIdent(col) + " = ?"
	}
	args = append(args, rec.ID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", QuoteIdent(decl.Table), strings.Join(sets, ", "), QuoteIdent("id"))
	if err := tx.exec(query, args...); err != nil {
		return fmt.Errorf("update %s %d: %w", decl.Entity, rec.ID, err)
	}
	return nil
}

func (tx *transaction) CreateRecord(rec domain.Record) (domain.Record, error) {
	decl, err := tx.store.declaration(rec.Entity)
	if err != nil {
		return domain.Record{}, err
	}
	if err := tx.checkCategory(decl, rec.CategoryID); err != nil {
		return domain.Record{}, err
	}
	rec = rec.Clone()
	rec.DurationTracking = domain.Tracking{}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = tx.now
	}
	rec.CreatedAt = rec.CreatedAt.UTC().Truncate(time.Second)
	rec.UpdatedAt = tx.now
	stamp := decl.LastUpdateAttr != "" && rec.DateLastStageUpdate == nil
	if stamp {
		now := tx.now
		rec.DateLastStageUpdate = &now
	}

	cols, args, err := tx.recordValues(decl, rec)
	if err != nil {
		return domain.Record{}, err
	}
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = QuoteIdent(col)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		QuoteIdent(decl.Table), strings.Join(quoted, ", "), Placeholders(len(cols)), QuoteIdent("id"))
	if err := tx.tx.QueryRowContext(tx.ctx, tx.rebind(query), args...).Scan(&rec.ID); err != nil {
		return domain.Record{}, fmt.Errorf("insert %s: %w", rec.Entity, err)
	}

	if err := tx.store.hooks.Fire(tx.ctx, domain.NewChange(rec.Entity, nil, &rec)); err != nil {
		return domain.Record{}, err
	}
	if stamp {
		at := tracking.StageUpdated(rec, tx.store.clock)
		rec.DateLastStageUpdate = &at
	}
	rec.ClearWriteMarks()
	if err := tx.writeRecord(decl, rec); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

func (tx *transaction) UpdateRecord(entity domain.EntityType, id int64, mutator func(*domain.Record) error) (domain.Record, error) {
	decl, err := tx.store.declaration(entity)
	if err != nil {
		return domain.Record{}, err
	}
	before, err := tx.FindRecord(entity, id)
	if err != nil {
		return domain.Record{}, err
	}
	after := before.Clone()
	if err := mutator(&after); err != nil {
		return domain.Record{}, err
	}
	after.ID, after.Entity, after.CreatedAt = id, entity, before.CreatedAt
	after.DurationTracking = before.DurationTracking.Clone()
	if err := tx.checkCategory(decl, after.CategoryID); err != nil {
		return domain.Record{}, err
	}
	change := domain.NewChange(entity, &before, &after)
	after.UpdatedAt = tx.now
	if err := tx.store.hooks.Fire(tx.ctx, change); err != nil {
		return domain.Record{}, err
	}
	if change.CategoryWritten && decl.LastUpdateAttr != "" {
		at := tracking.StageUpdated(after, tx.store.clock)
		after.DateLastStageUpdate = &at
	}
	after.ClearWriteMarks()
	if err := tx.writeRecord(decl, after); err != nil {
		return domain.Record{}, err
	}
	return after, nil
}

func (tx *transaction) DeleteRecord(entity domain.EntityType, id int64) error {
	decl, err := tx.store.declaration(entity)
	if err != nil {
		return err
	}
	before, err := tx.FindRecord(entity, id)
	if err != nil {
		return err
	}
	if err := tx.store.hooks.Fire(tx.ctx, domain.NewChange(entity, &before, nil)); err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", QuoteIdent(decl.Table), QuoteIdent("id"))
	if err := tx.exec(query, id); err != nil {
		return fmt.Errorf("delete %s %d: %w", entity, id, err)
	}
	return nil
}
