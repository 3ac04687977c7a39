// Package recurrence expands repeating calendar entries, such as weekly
// standups, into concrete occurrences.
package recurrence

import (
	"errors"
	"time"
)

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily generates occurrences for each day within the range.
	FrequencyDaily
	// FrequencyWeekly generates occurrences for the selected weekdays.
	FrequencyWeekly
)

// MaxOccurrences bounds a single expansion.
const MaxOccurrences = 5000

// Rule describes how a series of calendar entries repeats.
type Rule struct {
	ID string
	// SeriesID links occurrences back to the entry they were expanded from.
	SeriesID  string
	Frequency Frequency
	Weekdays  []time.Weekday
	StartsOn  time.Time
	EndsOn    *time.Time
}

// GenerateOptions defines optional range bounds for occurrence generation.
type GenerateOptions struct {
	RangeStart *time.Time
	RangeEnd   *time.Time
}

// Occurrence represents a generated instance of a recurrence rule.
type Occurrence struct {
	SeriesID string
	RuleID   string
	Start    time.Time
	End      time.Time
}

// Engine expands recurrence rules into occurrences.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that evaluates wall clock times in loc.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location returns the zone occurrences are generated in.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ErrInvalidWindow indicates the generation window is unbounded.
var ErrInvalidWindow = errors.New("recurrence: generation window requires an end bound")

// ErrInvalidDuration indicates the template entry duration is invalid.
var ErrInvalidDuration = errors.New("recurrence: entry duration must be positive")

// ErrTooManyOccurrences indicates the window would yield more than MaxOccurrences entries.
var ErrTooManyOccurrences = errors.New("recurrence: too many occurrences")

// GenerateOccurrences expands rule using baseStart and baseEnd as the template entry.
//
//   - Wall clock times are kept in the engine's location, so an 09:30 standup
//     stays at 09:30 across daylight saving changes.
//   - The window is bounded by the rule's EndsOn and the optional range end,
//     one of which is required.
//   - Weekly rules emit the selected weekdays; daily rules emit every day
//     unless weekdays narrow them.
func (e *Engine) GenerateOccurrences(rule Rule, baseStart, baseEnd time.Time, opts GenerateOptions) ([]Occurrence, error) {
	loc := e.Location()

	baseStart = baseStart.In(loc)
	baseEnd = baseEnd.In(loc)
	if !baseEnd.After(baseStart) {
		return nil, ErrInvalidDuration
	}
	duration := baseEnd.Sub(baseStart)

	ruleStart := rule.StartsOn.In(loc)

	var upperBound time.Time
	hasUpper := false
	if rule.EndsOn != nil {
		upperBound = rule.EndsOn.In(loc)
		hasUpper = true
	}
	if opts.RangeEnd != nil {
		rangeEnd := opts.RangeEnd.In(loc)
		if !hasUpper || rangeEnd.Before(upperBound) {
			upperBound = rangeEnd
		}
		hasUpper = true
	}
	if !hasUpper {
		return nil, ErrInvalidWindow
	}

	lowerBound := ruleStart
	if opts.RangeStart != nil && opts.RangeStart.After(lowerBound) {
		lowerBound = opts.RangeStart.In(loc)
	}
	if lowerBound.After(upperBound) {
		return nil, nil
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	occurrences := make([]Occurrence, 0)
	for day := firstCandidate(lowerBound, baseStart, loc); !day.After(upperBound); day = nextDay(day, baseStart, loc) {
		include, err := shouldInclude(rule.Frequency, weekdaySet, day.Weekday())
		if err != nil {
			return nil, err
		}
		if !include {
			continue
		}
		if len(occurrences) == MaxOccurrences {
			return nil, ErrTooManyOccurrences
		}
		occurrences = append(occurrences, Occurrence{
			SeriesID: rule.SeriesID,
			RuleID:   rule.ID,
			Start:    day,
			End:      day.Add(duration),
		})
	}

	return occurrences, nil
}

// firstCandidate returns the first template time of day at or after lowerBound.
func firstCandidate(lowerBound, template time.Time, loc *time.Location) time.Time {
	candidate := combineDateTime(lowerBound, template, loc)
	if candidate.Before(lowerBound) {
		candidate = nextDay(candidate, template, loc)
	}
	return candidate
}

func nextDay(current, template time.Time, loc *time.Location) time.Time {
	return combineDateTime(current.AddDate(0, 0, 1), template, loc)
}

func combineDateTime(dateSource, template time.Time, loc *time.Location) time.Time {
	y, m, d := dateSource.In(loc).Date()
	t := template.In(loc)
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

func shouldInclude(freq Frequency, weekdaySet map[time.Weekday]struct{}, day time.Weekday) (bool, error) {
	switch freq {
	case FrequencyDaily:
		if len(weekdaySet) == 0 {
			return true, nil
		}
		_, ok := weekdaySet[day]
		return ok, nil
	case FrequencyWeekly:
		if len(weekdaySet) == 0 {
			return false, nil
		}
		_, ok := weekdaySet[day]
		return ok, nil
	default:
		return false, ErrInvalidFrequency
	}
}
