package scheduler

import (
	"testing"
	"time"
)

func TestOverlaps(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.October, 21, 9, 0, 0, 0, time.UTC)
	candidate := Interval{Start: base, End: base.Add(30 * time.Minute)}

	tests := []struct {
		name  string
		block Block
		want  bool
	}{
		{"identical", Block{Start: base, End: base.Add(30 * time.Minute)}, true},
		{"contains", Block{Start: base.Add(-time.Hour), End: base.Add(time.Hour)}, true},
		{"partial tail", Block{Start: base.Add(15 * time.Minute), End: base.Add(45 * time.Minute)}, true},
		{"ends at start", Block{Start: base.Add(-time.Hour), End: base}, false},
		{"starts at end", Block{Start: base.Add(30 * time.Minute), End: base.Add(time.Hour)}, false},
		{"disjoint", Block{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)}, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Overlaps(candidate, tc.block); got != tc.want {
				t.Fatalf("expected overlap %v, got %v", tc.want, got)
			}
		})
	}
}

func TestConflictPolicyBlocking(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		block  Block
		policy ConflictPolicy
		want   bool
	}{
		{"busy always blocks", Block{Kind: KindBusy, IsFlexible: true}, ConflictPolicy{}, true},
		{"available never blocks", Block{Kind: KindAvailable}, ConflictPolicy{SoftBlocksAsHard: true}, false},
		{"rigid available never blocks", Block{Kind: KindAvailable, IsFlexible: false}, ConflictPolicy{}, false},
		{"flexible soft block is soft", Block{Kind: KindFlexible, IsFlexible: true}, ConflictPolicy{}, false},
		{"break soft block is soft", Block{Kind: KindBreak, IsFlexible: true}, ConflictPolicy{}, false},
		{"rigid break blocks", Block{Kind: KindBreak, IsFlexible: false}, ConflictPolicy{}, true},
		{"rigid flexible kind blocks", Block{Kind: KindFlexible, IsFlexible: false}, ConflictPolicy{}, true},
		{"opt in makes soft blocks hard", Block{Kind: KindFlexible, IsFlexible: true}, ConflictPolicy{SoftBlocksAsHard: true}, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.policy.Blocking(tc.block); got != tc.want {
				t.Fatalf("expected blocking %v, got %v", tc.want, got)
			}
		})
	}
}

func TestDetectConflicts(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, time.October, 21, 10, 0, 0, 0, time.UTC)
	candidate := Interval{Start: base, End: base.Add(time.Hour)}

	blocks := []Block{
		{ID: "busy", OwnerID: "alice", Kind: KindBusy, Start: base.Add(30 * time.Minute), End: base.Add(90 * time.Minute)},
		{ID: "gym", OwnerID: "bob", Kind: KindFlexible, IsFlexible: true, Start: base, End: base.Add(time.Hour)},
		{ID: "offer", OwnerID: "bob", Kind: KindAvailable, Start: base, End: base.Add(time.Hour)},
		{ID: "later", OwnerID: "alice", Kind: KindBusy, Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)},
	}

	t.Run("participant overlap produces hard and soft conflicts", func(t *testing.T) {
		t.Parallel()
		conflicts := DetectConflicts(candidate, blocks, ConflictPolicy{})
		if len(conflicts) != 2 {
			t.Fatalf("expected 2 conflicts, got %d: %+v", len(conflicts), conflicts)
		}
		if conflicts[0].BlockID != "busy" || conflicts[0].Type != ConflictTypeHard || conflicts[0].Participant != "alice" {
			t.Fatalf("unexpected first conflict %+v", conflicts[0])
		}
		if conflicts[1].BlockID != "gym" || conflicts[1].Type != ConflictTypeSoft {
			t.Fatalf("unexpected second conflict %+v", conflicts[1])
		}
		if !HasHardConflict(conflicts) {
			t.Fatalf("expected a hard conflict")
		}
	})

	t.Run("non-overlapping blocks yield no conflicts", func(t *testing.T) {
		t.Parallel()
		early := Interval{Start: base.Add(-2 * time.Hour), End: base.Add(-time.Hour)}
		if conflicts := DetectConflicts(early, blocks, ConflictPolicy{}); len(conflicts) != 0 {
			t.Fatalf("expected no conflicts, got %+v", conflicts)
		}
	})
}
