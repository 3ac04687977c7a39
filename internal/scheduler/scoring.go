package scheduler

import (
	"math"
	"time"
)

// Weights is the slot scoring table. Changing it is a policy change.
type Weights struct {
	Base           float64
	PreferredDate  float64
	ExactHour      float64
	NearHour       float64
	MidWeek        float64
	CoreHours      float64
	CoreHoursStart int
	CoreHoursEnd   int
	Cap            float64
	// SoftConflictPenalty is subtracted once per soft conflict after scoring.
	SoftConflictPenalty float64
}

// DefaultWeights returns the standard scoring table.
func DefaultWeights() Weights {
	return Weights{
		Base:                0.5,
		PreferredDate:       0.3,
		ExactHour:           0.2,
		NearHour:            0.1,
		MidWeek:             0.1,
		CoreHours:           0.1,
		CoreHoursStart:      10,
		CoreHoursEnd:        14,
		Cap:                 1.0,
		SoftConflictPenalty: 0.1,
	}
}

// Breakdown lists the contribution of each scoring rule.
type Breakdown struct {
	Base          float64 `json:"base"`
	PreferredDate float64 `json:"preferred_date"`
	Hour          float64 `json:"hour"`
	MidWeek       float64 `json:"mid_week"`
	CoreHours     float64 `json:"core_hours"`
}

// Sum returns the uncapped total of the breakdown.
func (b Breakdown) Sum() float64 {
	return b.Base + b.PreferredDate + b.Hour + b.MidWeek + b.CoreHours
}

// Scorer computes slot desirability from a fixed weight table.
type Scorer struct {
	weights Weights
}

// NewScorer constructs a Scorer. A zero Cap falls back to 1.0.
func NewScorer(weights Weights) Scorer {
	if weights.Cap <= 0 {
		weights.Cap = 1.0
	}
	return Scorer{weights: weights}
}

// Weights returns the table used by the scorer.
func (s Scorer) Weights() Weights {
	return s.weights
}

// Breakdown evaluates each scoring rule for the candidate. Calendar fields
// are read in the location of preferred.
func (s Scorer) Breakdown(candidate Interval, preferred time.Time) Breakdown {
	loc := preferred.Location()
	start := candidate.Start.In(loc)
	w := s.weights

	b := Breakdown{Base: w.Base}
	if sameDate(start, preferred) {
		b.PreferredDate = w.PreferredDate
	}

	switch diff := absInt(start.Hour() - preferred.Hour()); {
	case diff == 0:
		b.Hour = w.ExactHour
	case diff == 1:
		b.Hour = w.NearHour
	}

	switch start.Weekday() {
	case time.Tuesday, time.Wednesday, time.Thursday:
		b.MidWeek = w.MidWeek
	}

	if start.Hour() >= w.CoreHoursStart && start.Hour() < w.CoreHoursEnd {
		b.CoreHours = w.CoreHours
	}
	return b
}

// Score returns the capped desirability of the candidate in [0, Cap].
// It is a pure function of its inputs.
func (s Scorer) Score(candidate Interval, preferred time.Time) float64 {
	return s.clamp(s.Breakdown(candidate, preferred).Sum())
}

// Penalize lowers a score by the soft conflict penalty, flooring at zero.
func (s Scorer) Penalize(score float64, softConflicts int) float64 {
	if softConflicts <= 0 {
		return score
	}
	return s.clamp(score - float64(softConflicts)*s.weights.SoftConflictPenalty)
}

func (s Scorer) clamp(score float64) float64 {
	if score > s.weights.Cap {
		score = s.weights.Cap
	}
	if score < 0 {
		score = 0
	}
	return roundScore(score)
}

// roundScore trims float noise so equal rule sets produce equal scores.
func roundScore(score float64) float64 {
	return math.Round(score*1e4) / 1e4
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
