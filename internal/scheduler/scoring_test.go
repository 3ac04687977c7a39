package scheduler

import (
	"testing"
	"time"
)

func TestScorerScore(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(DefaultWeights())
	// Tuesday.
	preferred := time.Date(2025, time.October, 21, 10, 0, 0, 0, time.UTC)

	at := func(day, hour, minute int) Interval {
		start := time.Date(2025, time.October, day, hour, minute, 0, 0, time.UTC)
		return Interval{Start: start, End: start.Add(30 * time.Minute)}
	}

	tests := []struct {
		name      string
		candidate Interval
		want      float64
	}{
		{"exact preferred slot is capped", at(21, 10, 0), 1.0},
		{"monday afternoon gets only the base", at(20, 15, 0), 0.5},
		{"monday within one hour in core hours", at(20, 11, 0), 0.7},
		{"wednesday late afternoon", at(22, 16, 0), 0.6},
		{"friday exact hour in core hours", at(24, 10, 0), 0.8},
		{"same hour later minute counts as exact hour", at(24, 10, 30), 0.8},
		{"preferred date two hours later", at(21, 12, 0), 1.0},
		{"preferred date late afternoon", at(21, 16, 0), 0.9},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := scorer.Score(tc.candidate, preferred); got != tc.want {
				t.Fatalf("expected score %.4f, got %.4f", tc.want, got)
			}
		})
	}
}

func TestScorerIsPure(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(DefaultWeights())
	preferred := time.Date(2025, time.October, 21, 9, 0, 0, 0, time.UTC)
	start := time.Date(2025, time.October, 23, 13, 30, 0, 0, time.UTC)
	candidate := Interval{Start: start, End: start.Add(45 * time.Minute)}

	first := scorer.Score(candidate, preferred)
	for i := 0; i < 100; i++ {
		if got := scorer.Score(candidate, preferred); got != first {
			t.Fatalf("expected identical score %v on call %d, got %v", first, i, got)
		}
	}
}

func TestScorerUsesPreferredLocation(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	scorer := NewScorer(DefaultWeights())
	preferred := time.Date(2025, time.October, 21, 10, 0, 0, 0, tokyo)
	// 01:00 UTC is 10:00 in Tokyo on the same date.
	start := time.Date(2025, time.October, 21, 1, 0, 0, 0, time.UTC)

	if got := scorer.Score(Interval{Start: start, End: start.Add(time.Hour)}, preferred); got != 1.0 {
		t.Fatalf("expected candidate to be read in the preferred location, got %v", got)
	}
}

func TestScorerPenalize(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(DefaultWeights())
	if got := scorer.Penalize(0.8, 2); got != 0.6 {
		t.Fatalf("expected 0.6 after two soft conflicts, got %v", got)
	}
	if got := scorer.Penalize(0.2, 5); got != 0 {
		t.Fatalf("expected penalty to floor at zero, got %v", got)
	}
	if got := scorer.Penalize(0.7, 0); got != 0.7 {
		t.Fatalf("expected no penalty without soft conflicts, got %v", got)
	}
}
