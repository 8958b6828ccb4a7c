package tracking

import (
	"context"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"stagedwell/pkg/domain"
)

// Accumulator maintains the duration tracking state of records on category
// writes.
type Accumulator struct {
	entity  domain.EntityType
	clock   quartz.Clock
	logger  slog.Logger
	metrics *Metrics
}

// OnRecompute folds the dwell since the last entry into the total of the
// previous category and marks the record as entering its current category
// now. Records without a category are left untouched. Writing the same
// category again still rolls the elapsed dwell and resets the entry instant.
func (a *Accumulator) OnRecompute(ctx context.Context, rec *domain.Record) {
	if rec.CategoryID == nil {
		return
	}
	now := Now(a.clock)
	state := rec.DurationTracking.Clone()

	var (
		from   *int64
		rolled int64
	)
	if state.Started() {
		from = state.Stage
		rolled = max(int64(now.Sub(*state.Since)/time.Second), 0)
		state.Add(*state.Stage, rolled)
	}
	state.Enter(*rec.CategoryID, now)
	rec.DurationTracking = state

	fields := []slog.Field{
		slog.F("entity", a.entity),
		slog.F("id", rec.ID),
		slog.F("to", *rec.CategoryID),
		slog.F("rolled_seconds", rolled),
	}
	if from != nil {
		fields = append(fields, slog.F("from", *from))
	}
	a.logger.Debug(ctx, "category dwell rolled", fields...)
	a.metrics.observeWrite(a.entity, rolled)
}
