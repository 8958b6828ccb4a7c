package tracking

import (
	"time"

	"stagedwell/pkg/domain"
)

// Durations returns the time spent per category, counting the ongoing dwell
// in the current category up to now.
func Durations(rec domain.Record, now time.Time) map[int64]time.Duration {
	state := rec.DurationTracking
	out := make(map[int64]time.Duration, len(state.Totals)+1)
	for id, seconds := range state.Totals {
		out[id] = time.Duration(seconds) * time.Second
	}
	if state.Started() {
		if ongoing := now.Sub(*state.Since); ongoing > 0 {
			out[*state.Stage] += ongoing.Truncate(time.Second)
		} else if _, ok := out[*state.Stage]; !ok {
			out[*state.Stage] = 0
		}
	}
	return out
}
