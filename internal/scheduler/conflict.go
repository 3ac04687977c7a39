package scheduler

import "time"

// BlockKind classifies a calendar block.
type BlockKind string

const (
	// KindBusy marks time that is never available for meetings.
	KindBusy BlockKind = "BUSY"
	// KindAvailable marks time the owner explicitly offers.
	KindAvailable BlockKind = "AVAILABLE"
	// KindFlexible marks time that can be moved when needed.
	KindFlexible BlockKind = "FLEXIBLE"
	// KindBreak marks breaks such as lunch.
	KindBreak BlockKind = "BREAK"
)

// Valid reports whether the kind is one of the known block kinds.
func (k BlockKind) Valid() bool {
	switch k {
	case KindBusy, KindAvailable, KindFlexible, KindBreak:
		return true
	default:
		return false
	}
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether the interval has a positive length.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Duration returns the length of the interval.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Overlaps reports whether two half-open intervals share any instant.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Equal reports whether both intervals cover the same instants.
func (i Interval) Equal(other Interval) bool {
	return i.Start.Equal(other.Start) && i.End.Equal(other.End)
}

// Block is the scheduling view of a participant's calendar entry.
type Block struct {
	ID         string
	OwnerID    string
	Title      string
	Start      time.Time
	End        time.Time
	Kind       BlockKind
	Priority   int
	IsFlexible bool
}

// Interval returns the block's time range.
func (b Block) Interval() Interval {
	return Interval{Start: b.Start, End: b.End}
}

// ConflictPolicy decides which blocks prevent a candidate from being offered.
type ConflictPolicy struct {
	// SoftBlocksAsHard makes flexible FLEXIBLE and BREAK blocks blocking.
	SoftBlocksAsHard bool
}

// Blocking reports whether the block excludes overlapping candidates.
// BUSY blocks always block and AVAILABLE blocks never do. Other kinds block
// when they are not flexible or when the policy treats soft blocks as hard.
func (p ConflictPolicy) Blocking(block Block) bool {
	switch block.Kind {
	case KindBusy:
		return true
	case KindAvailable:
		return false
	}
	return !block.IsFlexible || p.SoftBlocksAsHard
}

// ConflictType describes how an overlapping block affects a candidate.
type ConflictType string

const (
	// ConflictTypeHard indicates the block rules the candidate out.
	ConflictTypeHard ConflictType = "hard"
	// ConflictTypeSoft indicates the block only lowers the candidate's score.
	ConflictTypeSoft ConflictType = "soft"
)

// Conflict details an overlapping block relation that callers can present to users.
type Conflict struct {
	BlockID     string       `json:"block_id"`
	Participant string       `json:"participant"`
	Type        ConflictType `json:"type"`
}

// Overlaps reports whether the block overlaps the candidate interval.
func Overlaps(candidate Interval, block Block) bool {
	return candidate.Overlaps(block.Interval())
}

// DetectConflicts lists every block overlapping the candidate, classified by the policy.
// AVAILABLE blocks are never reported.
func DetectConflicts(candidate Interval, blocks []Block, policy ConflictPolicy) []Conflict {
	var conflicts []Conflict
	for _, block := range blocks {
		if block.Kind == KindAvailable || !Overlaps(candidate, block) {
			continue
		}
		conflictType := ConflictTypeSoft
		if policy.Blocking(block) {
			conflictType = ConflictTypeHard
		}
		conflicts = append(conflicts, Conflict{
			BlockID:     block.ID,
			Participant: block.OwnerID,
			Type:        conflictType,
		})
	}
	return conflicts
}

// HasHardConflict reports whether any conflict rules the candidate out.
func HasHardConflict(conflicts []Conflict) bool {
	for _, conflict := range conflicts {
		if conflict.Type == ConflictTypeHard {
			return true
		}
	}
	return false
}
