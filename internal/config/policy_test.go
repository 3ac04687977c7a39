package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/negotiation-scheduler/internal/scheduler"
)

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	t.Run("empty document keeps defaults", func(t *testing.T) {
		t.Parallel()
		policy, err := ParsePolicy(nil)
		if err != nil {
			t.Fatalf("ParsePolicy returned error: %v", err)
		}
		defaults := scheduler.DefaultPolicy()
		if policy.DayStart != defaults.DayStart || policy.TopK != defaults.TopK || policy.Weights != defaults.Weights {
			t.Fatalf("expected defaults, got %+v", policy)
		}
	})

	t.Run("overrides provided fields", func(t *testing.T) {
		t.Parallel()
		doc := `
timezone: Asia/Tokyo
working_hours:
  start: "08:30"
  end: "18:00"
slot_step: 15m
search_days: 7
top_k: 5
skip_weekends: false
soft_blocks_as_hard: true
weights:
  mid_week: 0
  core_hours_start: 11
`
		policy, err := ParsePolicy([]byte(doc))
		if err != nil {
			t.Fatalf("ParsePolicy returned error: %v", err)
		}
		if policy.Location.String() != "Asia/Tokyo" {
			t.Fatalf("unexpected location %s", policy.Location)
		}
		if policy.DayStart != 8*time.Hour+30*time.Minute || policy.DayEnd != 18*time.Hour {
			t.Fatalf("unexpected working hours %s-%s", policy.DayStart, policy.DayEnd)
		}
		if policy.Step != 15*time.Minute || policy.SearchDays != 7 || policy.TopK != 5 {
			t.Fatalf("unexpected grid %+v", policy)
		}
		if policy.SkipWeekends || !policy.Conflicts.SoftBlocksAsHard {
			t.Fatalf("unexpected flags %+v", policy)
		}
		if policy.Weights.MidWeek != 0 || policy.Weights.CoreHoursStart != 11 || policy.Weights.Base != 0.5 {
			t.Fatalf("unexpected weights %+v", policy.Weights)
		}
	})

	t.Run("aggregates invalid values", func(t *testing.T) {
		t.Parallel()
		doc := `
timezone: Mars/Olympus
working_hours:
  start: "17:00"
  end: "09:00"
top_k: 0
weights:
  base: 2
`
		_, err := ParsePolicy([]byte(doc))
		if err == nil {
			t.Fatalf("expected error")
		}
		for _, field := range []string{"timezone", "working_hours", "top_k", "weights.base"} {
			if !strings.Contains(err.Error(), field) {
				t.Fatalf("expected %s in %q", field, err.Error())
			}
		}
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		t.Parallel()
		if _, err := ParsePolicy([]byte("lunch_break: true\n")); err == nil {
			t.Fatalf("expected error for unknown key")
		}
	})
}

func TestLoadPolicy(t *testing.T) {
	t.Parallel()

	policy, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy returned error: %v", err)
	}
	if policy.TopK != scheduler.DefaultPolicy().TopK {
		t.Fatalf("expected default policy, got %+v", policy)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("top_k: 3\n"), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	policy, err = LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy returned error: %v", err)
	}
	if policy.TopK != 3 {
		t.Fatalf("expected top_k 3, got %d", policy.TopK)
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
