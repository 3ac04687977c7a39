package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// CalendarReader materializes a participant's blocks overlapping a window.
type CalendarReader interface {
	GetBlocks(ctx context.Context, participantID string, from, to time.Time) ([]Block, error)
}

// Policy bounds the candidate grid searched by the Engine.
type Policy struct {
	Location *time.Location
	// DayStart and DayEnd are wall-clock offsets from local midnight.
	DayStart     time.Duration
	DayEnd       time.Duration
	Step         time.Duration
	SearchDays   int
	TopK         int
	SkipWeekends bool
	Conflicts    ConflictPolicy
	Weights      Weights
}

// DefaultPolicy returns a 09:00-17:00 UTC grid with 30 minute steps over 14 days.
func DefaultPolicy() Policy {
	return Policy{
		Location:     time.UTC,
		DayStart:     9 * time.Hour,
		DayEnd:       17 * time.Hour,
		Step:         30 * time.Minute,
		SearchDays:   14,
		TopK:         10,
		SkipWeekends: true,
		Weights:      DefaultWeights(),
	}
}

func (p Policy) normalized() Policy {
	defaults := DefaultPolicy()
	if p.Location == nil {
		p.Location = defaults.Location
	}
	if p.DayEnd <= p.DayStart {
		p.DayStart, p.DayEnd = defaults.DayStart, defaults.DayEnd
	}
	if p.Step <= 0 {
		p.Step = defaults.Step
	}
	if p.SearchDays <= 0 {
		p.SearchDays = defaults.SearchDays
	}
	if p.TopK <= 0 {
		p.TopK = defaults.TopK
	}
	return p
}

// WithinWorkingHours reports whether the interval lies inside one working day
// of the policy, ignoring existing calendar blocks.
func (p Policy) WithinWorkingHours(candidate Interval) bool {
	p = p.normalized()
	start := candidate.Start.In(p.Location)
	if p.SkipWeekends && isWeekend(start.Weekday()) {
		return false
	}
	midnight := localMidnight(start, p.Location)
	return !start.Before(atOffset(midnight, p.DayStart)) && !candidate.End.After(atOffset(midnight, p.DayEnd))
}

// Query describes one search over participants' calendars.
type Query struct {
	Preferred    time.Time
	Duration     time.Duration
	Participants []string
	// SearchDays and TopK override the policy when positive.
	SearchDays int
	TopK       int
}

// Candidate is a feasible, scored slot.
type Candidate struct {
	Interval
	Score         float64
	Breakdown     Breakdown
	SoftConflicts int
	// ExactMatch is set when the candidate starts at the preferred instant.
	ExactMatch bool
}

// Result is the outcome of a search. Candidates is ranked and truncated.
type Result struct {
	Candidates []Candidate
	Window     Interval
	// Preferred holds the candidate at the preferred instant when it is
	// feasible, even when truncation dropped it from Candidates.
	Preferred *Candidate
}

// ErrInvalidQuery is returned for queries with a non-positive duration.
var ErrInvalidQuery = errors.New("scheduler: duration must be positive")

// Engine enumerates and ranks candidate slots. It never writes.
type Engine struct {
	calendar CalendarReader
	policy   Policy
	scorer   Scorer
}

// NewEngine constructs an Engine reading blocks through calendar.
func NewEngine(calendar CalendarReader, policy Policy) *Engine {
	policy = policy.normalized()
	return &Engine{
		calendar: calendar,
		policy:   policy,
		scorer:   NewScorer(policy.Weights),
	}
}

// Policy returns the normalized policy used by the engine.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Scorer returns the scorer used by the engine.
func (e *Engine) Scorer() Scorer {
	return e.scorer
}

// FindSlots returns up to topK feasible slots ordered by score descending,
// ties broken by earliest start. An empty result means no availability.
func (e *Engine) FindSlots(ctx context.Context, query Query, searchDays, topK int) ([]Candidate, error) {
	query.SearchDays = searchDays
	query.TopK = topK
	result, err := e.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return result.Candidates, nil
}

// Search runs the bounded grid search described by the policy.
func (e *Engine) Search(ctx context.Context, query Query) (Result, error) {
	if query.Duration <= 0 {
		return Result{}, ErrInvalidQuery
	}
	policy := e.policy
	searchDays := policy.SearchDays
	if query.SearchDays > 0 {
		searchDays = query.SearchDays
	}
	topK := policy.TopK
	if query.TopK > 0 {
		topK = query.TopK
	}

	preferred := query.Preferred.In(policy.Location)
	firstDay := localMidnight(preferred, policy.Location)
	window := Interval{Start: firstDay, End: firstDay.AddDate(0, 0, searchDays)}

	blocks, err := e.loadBlocks(ctx, query.Participants, window)
	if err != nil {
		return Result{}, err
	}

	result := Result{Window: window}
	var candidates []Candidate
	preferredOnGrid := false

	for day := 0; day < searchDays; day++ {
		date := firstDay.AddDate(0, 0, day)
		if policy.SkipWeekends && isWeekend(date.Weekday()) {
			continue
		}
		dayStart := atOffset(date, policy.DayStart)
		dayEnd := atOffset(date, policy.DayEnd)

		for start := dayStart; start.Before(dayEnd); start = start.Add(policy.Step) {
			if start.Equal(preferred) {
				preferredOnGrid = true
			}
			if c, ok := e.evaluate(start, query.Duration, dayEnd, preferred, blocks); ok {
				candidates = append(candidates, c)
			}
		}
	}

	// Off-grid preferred times are still evaluated so an exact request can be honored.
	if !preferredOnGrid && policy.WithinWorkingHours(Interval{Start: preferred, End: preferred.Add(query.Duration)}) {
		dayEnd := atOffset(firstDay, policy.DayEnd)
		if c, ok := e.evaluate(preferred, query.Duration, dayEnd, preferred, blocks); ok {
			candidates = append(candidates, c)
		}
	}

	for i := range candidates {
		if candidates[i].ExactMatch {
			exact := candidates[i]
			result.Preferred = &exact
			break
		}
	}

	sortCandidates(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	result.Candidates = candidates
	return result, nil
}

func (e *Engine) evaluate(start time.Time, duration time.Duration, dayEnd, preferred time.Time, blocks []Block) (Candidate, bool) {
	interval := Interval{Start: start, End: start.Add(duration)}
	if interval.End.After(dayEnd) {
		return Candidate{}, false
	}
	conflicts := DetectConflicts(interval, blocks, e.policy.Conflicts)
	if HasHardConflict(conflicts) {
		return Candidate{}, false
	}

	breakdown := e.scorer.Breakdown(interval, preferred)
	score := e.scorer.Penalize(e.scorer.Score(interval, preferred), len(conflicts))
	return Candidate{
		Interval:      interval,
		Score:         score,
		Breakdown:     breakdown,
		SoftConflicts: len(conflicts),
		ExactMatch:    start.Equal(preferred),
	}, true
}

func (e *Engine) loadBlocks(ctx context.Context, participants []string, window Interval) ([]Block, error) {
	if e.calendar == nil || len(participants) == 0 {
		return nil, nil
	}
	var all []Block
	for _, participant := range participants {
		blocks, err := e.calendar.GetBlocks(ctx, participant, window.Start, window.End)
		if err != nil {
			return nil, fmt.Errorf("scheduler: load blocks for %s: %w", participant, err)
		}
		for _, block := range blocks {
			if block.OwnerID == "" {
				block.OwnerID = participant
			}
			all = append(all, block)
		}
	}
	return all, nil
}

// sortCandidates orders by score descending, then by earliest start.
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Start.Before(candidates[j].Start)
	})
}

func localMidnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// atOffset returns the wall-clock time offset from midnight on that local
// date, so DST transitions do not shift the working day.
func atOffset(midnight time.Time, offset time.Duration) time.Time {
	y, m, d := midnight.Date()
	hours := int(offset / time.Hour)
	minutes := int(offset % time.Hour / time.Minute)
	return time.Date(y, m, d, hours, minutes, 0, 0, midnight.Location())
}

func isWeekend(day time.Weekday) bool {
	return day == time.Saturday || day == time.Sunday
}
