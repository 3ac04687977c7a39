package recurrence

import (
	"testing"
	"time"
)

// A year of weekday standups queried one search window at a time.
func BenchmarkStandupSeriesInSearchWindow(b *testing.B) {
	engine := NewEngine(time.UTC)
	start := time.Date(2025, time.January, 6, 9, 30, 0, 0, time.UTC)
	end := start.Add(15 * time.Minute)
	until := start.AddDate(1, 0, 0)

	rule := Rule{
		ID:        "alice-standup",
		SeriesID:  "alice-standup",
		Frequency: FrequencyDaily,
		Weekdays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartsOn:  start,
		EndsOn:    &until,
	}
	windowStart := time.Date(2025, time.October, 21, 0, 0, 0, 0, time.UTC)
	windowEnd := windowStart.AddDate(0, 0, 14)
	opts := GenerateOptions{RangeStart: &windowStart, RangeEnd: &windowEnd}

	for b.Loop() {
		occurrences, err := engine.GenerateOccurrences(rule, start, end, opts)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(occurrences) != 10 {
			b.Fatalf("expected 10 standups in the window, got %d", len(occurrences))
		}
	}
}
