package tracking

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"cdr.dev/slog/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stagedwell/pkg/domain"
)

// Operator is a search operator on is_rotting.
type Operator string

// Supported operators.
const (
	OpIn    Operator = "in"
	OpNotIn Operator = "not in"
)

// Query translates is_rotting predicates into record ids.
type Query struct {
	binding *Binding
	store   domain.PersistentStore
	logger  slog.Logger
}

// Search returns, in ascending order, the ids of visible records whose
// is_rotting value satisfies op over values. The false set is the
// complement of the true set within the records visible to the caller.
func (q *Query) Search(ctx context.Context, op Operator, values ...bool) (ids []int64, err error) {
	entity := q.binding.Entity()
	ctx, span := q.binding.opts.tracer.Start(ctx, "tracking.RottingQuery.Search", trace.WithAttributes(
		attribute.String("entity", string(entity)),
		attribute.String("operator", string(op)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("matched", len(ids)))
		}
		span.End()
	}()

	if op != OpIn && op != OpNotIn {
		q.binding.opts.metrics.observeSearch(entity, "invalid_operator")
		return nil, domain.InvalidOperatorError{Entity: entity, Operator: string(op)}
	}
	if err := q.checkEnabled(ctx); err != nil {
		q.binding.opts.metrics.observeSearch(entity, "not_configured")
		q.logger.Warn(ctx, "rotting search on unconfigured type", slog.F("entity", entity), slog.Error(err))
		return nil, err
	}

	wantRotting, wantFresh := membership(op, values)
	if !wantRotting && !wantFresh {
		q.binding.opts.metrics.observeSearch(entity, "ok")
		return []int64{}, nil
	}

	months := q.binding.opts.settings.Int(SearchMonthsKey, DefaultSearchMonths)
	cond := newRottingCondition(Now(q.binding.Clock()), months)

	switch host := q.store.(type) {
	case domain.SQLSearcher:
		if err := host.Flush(ctx); err != nil {
			return nil, fmt.Errorf("flush before rotting search: %w", err)
		}
		ids, err = q.searchSQL(ctx, host, cond, wantRotting, wantFresh)
	case domain.ScanSearcher:
		if err := host.Flush(ctx); err != nil {
			return nil, fmt.Errorf("flush before rotting search: %w", err)
		}
		ids, err = q.searchScan(ctx, host, cond, wantRotting, wantFresh)
	default:
		return nil, fmt.Errorf("rotting search: store %T cannot be searched", q.store)
	}
	if err != nil {
		q.binding.opts.metrics.observeSearch(entity, "error")
		return nil, err
	}
	q.binding.opts.metrics.observeSearch(entity, "ok")
	q.logger.Debug(ctx, "rotting search",
		slog.F("entity", entity),
		slog.F("operator", op),
		slog.F("values", values),
		slog.F("matched", len(ids)),
	)
	return ids, nil
}

// checkEnabled applies the static gate of the binding and the data gate: at
// least one category of the type must have a non-zero threshold.
func (q *Query) checkEnabled(ctx context.Context) error {
	entity := q.binding.Entity()
	if !q.binding.RottingEnabled() {
		return domain.ConfigurationMissingError{Entity: entity, Reason: "last stage update or threshold attribute not declared"}
	}
	var configured bool
	err := q.store.View(ctx, func(view domain.TransactionView) error {
		cats, err := view.ListCategories(entity)
		if err != nil {
			return err
		}
		configured = slices.ContainsFunc(cats, func(c domain.Category) bool { return c.RottingThresholdDays != 0 })
		return nil
	})
	if err != nil {
		return fmt.Errorf("check rotting configuration of %s: %w", entity, err)
	}
	if !configured {
		return domain.ConfigurationMissingError{Entity: entity, Reason: "no category has a rotting threshold"}
	}
	return nil
}

// membership maps op over values to the two halves of the partition.
func membership(op Operator, values []bool) (wantRotting, wantFresh bool) {
	hasTrue := slices.Contains(values, true)
	hasFalse := slices.Contains(values, false)
	if op == OpNotIn {
		return !hasTrue, !hasFalse
	}
	return hasTrue, hasFalse
}

func (q *Query) searchSQL(ctx context.Context, host domain.SQLSearcher, cond rottingCondition, wantRotting, wantFresh bool) ([]int64, error) {
	entity := q.binding.Entity()
	outer, err := host.BaseQuery(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("base query of %s: %w", entity, err)
	}

	var (
		sql  string
		args []any
	)
	switch {
	case wantRotting && wantFresh:
		sql, args = selectIDs(outer, "", nil)
	case wantRotting:
		clause, condArgs := q.joinRotting(host.Dialect(), outer, cond)
		sql, args = selectIDs(outer, clause, condArgs)
	default:
		inner, err := host.BaseQuery(ctx, entity)
		if err != nil {
			return nil, fmt.Errorf("base query of %s: %w", entity, err)
		}
		clause, condArgs := q.joinRotting(host.Dialect(), inner, cond)
		subquery, subArgs := selectIDs(inner, clause, condArgs)
		notIn := fmt.Sprintf("%s.%s NOT IN (%s)", quoteIdent(outer.TableAlias()), quoteIdent("id"), subquery)
		sql, args = selectIDs(outer, notIn, subArgs)
	}

	ids, err := host.SelectIDs(ctx, host.Dialect().Rebind(sql), args...)
	if err != nil {
		return nil, fmt.Errorf("rotting search of %s: %w", entity, err)
	}
	if ids == nil {
		ids = []int64{}
	}
	slices.Sort(ids)
	return ids, nil
}

// joinRotting joins the category table onto the entity alias of base and
// returns the rotting predicate over the joined aliases.
func (q *Query) joinRotting(dialect domain.Dialect, base domain.Query, cond rottingCondition) (string, []any) {
	decl := q.binding.decl
	entityAlias := base.TableAlias()
	categoryAlias := base.MakeAlias(entityAlias, decl.CategoryAttr)
	base.AddJoin("JOIN", categoryAlias, decl.CategoryTable, fmt.Sprintf("%s.%s = %s.%s",
		quoteIdent(entityAlias), quoteIdent(decl.CategoryAttr), quoteIdent(categoryAlias), quoteIdent("id")))
	return cond.sql(dialect, entityAlias, decl.LastUpdateAttr, categoryAlias, decl.ThresholdAttr)
}

// selectIDs renders "SELECT id FROM ... WHERE ..." over a base query plus an
// optional extra clause. Parameters follow placeholder order.
func selectIDs(base domain.Query, extra string, extraArgs []any) (string, []any) {
	var (
		where []string
		args  []any
	)
	if clause := base.WhereClause(); clause != "" {
		where = append(where, "("+clause+")")
		args = append(args, base.WhereParams()...)
	}
	if extra != "" {
		where = append(where, "("+extra+")")
		args = append(args, extraArgs...)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s.%s FROM %s", quoteIdent(base.TableAlias()), quoteIdent("id"), base.FromClause())
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	return b.String(), args
}

func (q *Query) searchScan(ctx context.Context, host domain.ScanSearcher, cond rottingCondition, wantRotting, wantFresh bool) ([]int64, error) {
	entity := q.binding.Entity()
	var thresholds map[int64]int
	err := q.store.View(ctx, func(view domain.TransactionView) error {
		var err error
		thresholds, err = categoryThresholds(view, q.binding)
		return err
	})
	if err != nil {
		return nil, err
	}
	ids := []int64{}
	err = host.ScanVisible(ctx, entity, func(rec domain.Record) error {
		rotting := false
		if rec.CategoryID != nil {
			rotting = cond.matches(rec.DateLastStageUpdate, thresholds[*rec.CategoryID])
		}
		if (rotting && wantRotting) || (!rotting && wantFresh) {
			ids = append(ids, rec.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rotting scan of %s: %w", entity, err)
	}
	slices.Sort(ids)
	return ids, nil
}
