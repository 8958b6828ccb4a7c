package tracking

import (
	"time"

	"github.com/coder/quartz"

	"stagedwell/pkg/domain"
)

// Now returns the clock's current instant in UTC, truncated to the second.
// Every dwell computation reads time through it.
func Now(clock quartz.Clock) time.Time {
	return clock.Now().UTC().Truncate(time.Second)
}

// StageUpdated returns the last stage update to store for rec after a
// category write: the entry instant the accumulator stamped when rec sits in
// its tracked category, otherwise a fresh read of clock.
func StageUpdated(rec domain.Record, clock quartz.Clock) time.Time {
	state := rec.DurationTracking
	if rec.CategoryID != nil && state.Started() && *state.Stage == *rec.CategoryID {
		return *state.Since
	}
	return Now(clock)
}
