// Package seed builds demo participants and calendars relative to a reference day.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/negotiation-scheduler/internal/persistence"
	"github.com/example/negotiation-scheduler/internal/recurrence"
)

// Store is the write surface seeding needs.
type Store interface {
	UpsertParticipant(ctx context.Context, participant persistence.Participant) error
	CreateBlock(ctx context.Context, block persistence.CalendarBlock) error
}

// Dataset is a set of participants and their calendar blocks.
type Dataset struct {
	Participants []persistence.Participant
	Blocks       []persistence.CalendarBlock
}

// Summary reports what Apply wrote.
type Summary struct {
	Participants int
	Blocks       int
	// Skipped counts blocks that already existed.
	Skipped int
}

// Options tunes the demo dataset.
type Options struct {
	// Days is how many working days of one-off blocks to create. Defaults to 3.
	Days int
	// StandupWeeks is how many weeks of recurring standups to expand. Defaults to 2.
	StandupWeeks int
}

type entry struct {
	day        int
	title      string
	start, end string
	kind       persistence.BlockKind
	priority   int
	flexible   bool
}

type persona struct {
	participant persistence.Participant
	entries     []entry
	standup     *standup
}

type standup struct {
	title    string
	at       string
	minutes  int
	weekdays []time.Weekday
}

// personas mirror a focused engineer, a collaborative lead and a mostly free reviewer.
var personas = []persona{
	{
		participant: persistence.Participant{ID: "alice", DisplayName: "Alice Johnson", Email: "alice@example.com", Active: true},
		entries: []entry{
			{0, "Morning Focus Time", "09:00", "11:00", persistence.BlockKindBusy, 9, false},
			{0, "Lunch Break", "12:00", "13:00", persistence.BlockKindBreak, 6, false},
			{0, "Afternoon Focus Time", "14:00", "16:00", persistence.BlockKindBusy, 8, false},
			{1, "Deep Work Session", "09:00", "12:00", persistence.BlockKindBusy, 9, false},
			{1, "Client Call", "14:00", "15:00", persistence.BlockKindBusy, 8, false},
			{1, "Flexible Time", "15:30", "17:00", persistence.BlockKindFlexible, 4, true},
			{2, "Morning Focus", "09:00", "11:00", persistence.BlockKindBusy, 9, false},
			{2, "Project Review", "14:00", "15:30", persistence.BlockKindBusy, 7, false},
		},
		standup: &standup{title: "Team Standup", at: "16:30", minutes: 30, weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}},
	},
	{
		participant: persistence.Participant{ID: "bob", DisplayName: "Bob Smith", Email: "bob@example.com", Active: true},
		entries: []entry{
			{0, "Team Meeting", "10:00", "11:00", persistence.BlockKindBusy, 6, false},
			{0, "Lunch", "12:00", "13:00", persistence.BlockKindBreak, 5, false},
			{0, "Flexible Work Time", "13:30", "15:00", persistence.BlockKindFlexible, 3, true},
			{0, "Client Presentation", "15:30", "16:30", persistence.BlockKindBusy, 8, false},
			{1, "Flexible Morning", "09:00", "11:00", persistence.BlockKindFlexible, 2, true},
			{1, "Project Sync", "11:30", "12:30", persistence.BlockKindBusy, 6, false},
			{1, "Open Time", "14:00", "17:00", persistence.BlockKindAvailable, 1, true},
			{2, "Weekly Planning", "09:00", "10:00", persistence.BlockKindBusy, 7, false},
			{2, "Flexible Afternoon", "10:30", "17:00", persistence.BlockKindFlexible, 2, true},
		},
	},
	{
		participant: persistence.Participant{ID: "charlie", DisplayName: "Charlie Davis", Email: "charlie@example.com", Active: true},
		entries: []entry{
			{0, "Code Review", "11:00", "12:00", persistence.BlockKindBusy, 5, false},
			{1, "Lunch", "12:30", "13:30", persistence.BlockKindBreak, 4, false},
			{2, "Office Hours", "15:00", "16:00", persistence.BlockKindFlexible, 3, true},
		},
		standup: &standup{title: "Platform Standup", at: "09:30", minutes: 15, weekdays: []time.Weekday{time.Monday, time.Wednesday, time.Friday}},
	},
}

// Demo builds the demo dataset. Day 0 is the first working day at or after
// day, and wall clock times are interpreted in loc.
func Demo(day time.Time, loc *time.Location, opts Options) (Dataset, error) {
	if loc == nil {
		loc = time.UTC
	}
	if opts.Days <= 0 {
		opts.Days = 3
	}
	if opts.StandupWeeks <= 0 {
		opts.StandupWeeks = 2
	}

	workdays := workingDays(day.In(loc), opts.Days)
	engine := recurrence.NewEngine(loc)
	createdAt := day.UTC()

	var ds Dataset
	for _, p := range personas {
		participant := p.participant
		participant.CreatedAt = createdAt
		ds.Participants = append(ds.Participants, participant)

		for i, e := range p.entries {
			if e.day >= len(workdays) {
				continue
			}
			start, err := at(workdays[e.day], e.start, loc)
			if err != nil {
				return Dataset{}, err
			}
			end, err := at(workdays[e.day], e.end, loc)
			if err != nil {
				return Dataset{}, err
			}
			ds.Blocks = append(ds.Blocks, persistence.CalendarBlock{
				ID:         fmt.Sprintf("%s-%d", participant.ID, i+1),
				OwnerID:    participant.ID,
				Title:      e.title,
				Start:      start.UTC(),
				End:        end.UTC(),
				Kind:       e.kind,
				Priority:   e.priority,
				IsFlexible: e.flexible,
				CreatedAt:  createdAt,
			})
		}

		if p.standup == nil {
			continue
		}
		blocks, err := expandStandup(engine, participant.ID, *p.standup, workdays[0], opts.StandupWeeks, createdAt)
		if err != nil {
			return Dataset{}, err
		}
		ds.Blocks = append(ds.Blocks, blocks...)
	}
	return ds, nil
}

func expandStandup(engine *recurrence.Engine, ownerID string, s standup, first time.Time, weeks int, createdAt time.Time) ([]persistence.CalendarBlock, error) {
	loc := engine.Location()
	start, err := at(first, s.at, loc)
	if err != nil {
		return nil, err
	}
	until := start.AddDate(0, 0, 7*weeks-1)
	rule := recurrence.Rule{
		ID:        ownerID + "-standup",
		SeriesID:  ownerID + "-standup",
		Frequency: recurrence.FrequencyWeekly,
		Weekdays:  s.weekdays,
		StartsOn:  start,
		EndsOn:    &until,
	}
	occurrences, err := engine.GenerateOccurrences(rule, start, start.Add(time.Duration(s.minutes)*time.Minute), recurrence.GenerateOptions{})
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", rule.ID, err)
	}

	blocks := make([]persistence.CalendarBlock, 0, len(occurrences))
	for _, occ := range occurrences {
		blocks = append(blocks, persistence.CalendarBlock{
			ID:        fmt.Sprintf("%s-%s", occ.SeriesID, occ.Start.Format("20060102")),
			OwnerID:   ownerID,
			Title:     s.title,
			Start:     occ.Start.UTC(),
			End:       occ.End.UTC(),
			Kind:      persistence.BlockKindBusy,
			Priority:  7,
			CreatedAt: createdAt,
		})
	}
	return blocks, nil
}

// Apply writes the dataset. Participants are upserted and blocks that
// already exist are skipped, so seeding twice is harmless.
func Apply(ctx context.Context, store Store, ds Dataset) (Summary, error) {
	var summary Summary
	for _, p := range ds.Participants {
		if err := store.UpsertParticipant(ctx, p); err != nil {
			return summary, fmt.Errorf("seed participant %s: %w", p.ID, err)
		}
		summary.Participants++
	}
	for _, b := range ds.Blocks {
		if err := store.CreateBlock(ctx, b); err != nil {
			if errors.Is(err, persistence.ErrDuplicate) {
				summary.Skipped++
				continue
			}
			return summary, fmt.Errorf("seed block %s: %w", b.ID, err)
		}
		summary.Blocks++
	}
	return summary, nil
}

func workingDays(from time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	y, m, d := from.Date()
	current := time.Date(y, m, d, 0, 0, 0, 0, from.Location())
	for len(days) < n {
		if wd := current.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, current)
		}
		current = current.AddDate(0, 0, 1)
	}
	return days
}

func at(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse clock %q: %w", clock, err)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc), nil
}
