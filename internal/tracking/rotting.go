package tracking

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stagedwell/pkg/domain"
)

const secondsPerDay = 86400

// Verdict is the computed rotting state of a record.
type Verdict struct {
	IsRotting bool `json:"is_rotting"`
	Days      int  `json:"rotting_days"`
}

// RotPoint returns the instant a record anchored at anchor starts rotting.
// Days are whole 86400 second periods, stepped in UTC.
func RotPoint(anchor time.Time, thresholdDays int) time.Time {
	return anchor.UTC().AddDate(0, 0, thresholdDays)
}

// elapsedDays counts the whole days between anchor and a later now.
func elapsedDays(anchor, now time.Time) int {
	secs := now.Unix() - anchor.Unix()
	if now.Nanosecond() < anchor.Nanosecond() {
		secs--
	}
	return int(secs / secondsPerDay)
}

// Assess computes the verdict for a record anchored at anchor in a category
// with the given threshold. Days counts whole 86400 second periods since the
// anchor.
func Assess(anchor time.Time, thresholdDays int, now time.Time) Verdict {
	if thresholdDays <= 0 || now.Before(RotPoint(anchor, thresholdDays)) {
		return Verdict{}
	}
	return Verdict{IsRotting: true, Days: elapsedDays(anchor, now)}
}

// Evaluator computes rotting verdicts on read.
type Evaluator struct {
	binding *Binding
}

// Evaluate returns the verdict of one record.
func (e *Evaluator) Evaluate(ctx context.Context, view domain.TransactionView, rec domain.Record) (Verdict, error) {
	_, span := e.binding.opts.tracer.Start(ctx, "tracking.Evaluate", trace.WithAttributes(
		attribute.String("entity", string(e.binding.Entity())),
		attribute.Int64("record.id", rec.ID),
	))
	defer span.End()

	if !e.binding.RottingEnabled() {
		return Verdict{}, nil
	}
	resolver := e.binding.Resolver(view)
	category := resolver.CurrentCategory(rec)
	if category == nil {
		return Verdict{}, nil
	}
	threshold, err := resolver.ThresholdDays(category)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Verdict{}, err
	}
	verdict := Assess(resolver.Anchor(rec), threshold, Now(e.binding.Clock()))
	span.SetAttributes(attribute.Bool("rotting", verdict.IsRotting), attribute.Int("rotting.days", verdict.Days))
	return verdict, nil
}

// EvaluateAll returns the verdicts of several records keyed by id, reading
// each category once.
func (e *Evaluator) EvaluateAll(ctx context.Context, view domain.TransactionView, recs []domain.Record) (map[int64]Verdict, error) {
	out := make(map[int64]Verdict, len(recs))
	if !e.binding.RottingEnabled() {
		for _, rec := range recs {
			out[rec.ID] = Verdict{}
		}
		return out, nil
	}
	thresholds, err := categoryThresholds(view, e.binding)
	if err != nil {
		return nil, err
	}
	resolver := e.binding.Resolver(view)
	now := Now(e.binding.Clock())
	for _, rec := range recs {
		category := resolver.CurrentCategory(rec)
		if category == nil {
			out[rec.ID] = Verdict{}
			continue
		}
		out[rec.ID] = Assess(resolver.Anchor(rec), thresholds[*category], now)
	}
	return out, nil
}

func categoryThresholds(view domain.TransactionView, b *Binding) (map[int64]int, error) {
	cats, err := view.ListCategories(b.Entity())
	if err != nil {
		return nil, fmt.Errorf("list %s categories: %w", b.Entity(), err)
	}
	out := make(map[int64]int, len(cats))
	if b.decl.ThresholdAttr == "" {
		return out, nil
	}
	for _, cat := range cats {
		out[cat.ID] = max(cat.RottingThresholdDays, 0)
	}
	return out, nil
}
