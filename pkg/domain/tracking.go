package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Keys and layout of the persisted duration tracking object.
const (
	TrackingStageKey   = "s"
	TrackingSinceKey   = "d"
	TrackingTimeLayout = "2006-01-02T15:04:05Z"
)

// Tracking is the compact dwell state of a record. It is persisted as a JSON
// object where "s" holds the current category id, "d" the UTC instant the
// record entered it, and every decimal key the seconds accumulated in the
// category with that id.
type Tracking struct {
	Stage  *int64
	Since  *time.Time
	Totals map[int64]int64
}

// Started reports whether both the current category and its entry instant
// are known.
func (t Tracking) Started() bool {
	return t.Stage != nil && t.Since != nil
}

// IsZero reports whether nothing has been tracked yet.
func (t Tracking) IsZero() bool {
	return t.Stage == nil && t.Since == nil && len(t.Totals) == 0
}

// Total returns the seconds accumulated for a category.
func (t Tracking) Total(categoryID int64) int64 {
	return t.Totals[categoryID]
}

// Add accumulates seconds for a category. Negative amounts are ignored.
func (t *Tracking) Add(categoryID, seconds int64) {
	if seconds < 0 {
		seconds = 0
	}
	if t.Totals == nil {
		t.Totals = make(map[int64]int64)
	}
	t.Totals[categoryID] += seconds
}

// Enter records that the record is in categoryID since at.
func (t *Tracking) Enter(categoryID int64, at time.Time) {
	id := categoryID
	since := at.UTC().Truncate(time.Second)
	t.Stage = &id
	t.Since = &since
}

// Clone returns a deep copy.
func (t Tracking) Clone() Tracking {
	out := Tracking{Stage: cloneID(t.Stage), Since: cloneTime(t.Since)}
	if t.Totals != nil {
		out.Totals = make(map[int64]int64, len(t.Totals))
		for k, v := range t.Totals {
			out.Totals[k] = v
		}
	}
	return out
}

// MarshalJSON writes the compact object form. Keys come out sorted, so equal
// states encode to equal bytes.
func (t Tracking) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(t.Totals)+2)
	if t.Stage != nil {
		obj[TrackingStageKey] = *t.Stage
	}
	if t.Since != nil {
		obj[TrackingSinceKey] = t.Since.UTC().Format(TrackingTimeLayout)
	}
	for id, seconds := range t.Totals {
		obj[strconv.FormatInt(id, 10)] = seconds
	}
	return json.Marshal(obj)
}

// UnmarshalJSON reads the compact object form. Keys other than "s", "d" and
// canonical decimal category ids are dropped; values that are not numbers
// read as 0.
func (t *Tracking) UnmarshalJSON(data []byte) error {
	*t = Tracking{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode duration tracking: %w", err)
	}
	for key, value := range raw {
		switch key {
		case TrackingStageKey:
			if id, ok := decodeInteger(value); ok {
				t.Stage = &id
			}
		case TrackingSinceKey:
			if at, ok := decodeInstant(value); ok {
				t.Since = &at
			}
		default:
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil || strconv.FormatInt(id, 10) != key {
				continue
			}
			seconds, _ := decodeInteger(value)
			t.Add(id, seconds)
		}
	}
	return nil
}

// ParseTracking decodes a stored tracking column. Empty input is an empty
// state.
func ParseTracking(data []byte) (Tracking, error) {
	var t Tracking
	if err := t.UnmarshalJSON(data); err != nil {
		return Tracking{}, err
	}
	return t, nil
}

func decodeInteger(raw json.RawMessage) (int64, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func decodeInstant(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if at, err := time.Parse(layout, s); err == nil {
			return at.UTC().Truncate(time.Second), true
		}
	}
	return time.Time{}, false
}
