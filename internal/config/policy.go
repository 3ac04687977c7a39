package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/example/negotiation-scheduler/internal/scheduler"
)

// PolicyFile is the YAML layout of the search policy. Absent fields keep the
// defaults of scheduler.DefaultPolicy.
type PolicyFile struct {
	Timezone         string         `yaml:"timezone"`
	WorkingHours     *WorkingHours  `yaml:"working_hours"`
	SlotStep         string         `yaml:"slot_step"`
	SearchDays       *int           `yaml:"search_days"`
	TopK             *int           `yaml:"top_k"`
	SkipWeekends     *bool          `yaml:"skip_weekends"`
	SoftBlocksAsHard *bool          `yaml:"soft_blocks_as_hard"`
	Weights          *WeightsConfig `yaml:"weights"`
}

// WorkingHours is the daily window candidates must fit in, as HH:MM.
type WorkingHours struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// WeightsConfig overrides entries of the scoring table.
type WeightsConfig struct {
	Base                *float64 `yaml:"base"`
	PreferredDate       *float64 `yaml:"preferred_date"`
	ExactHour           *float64 `yaml:"exact_hour"`
	NearHour            *float64 `yaml:"near_hour"`
	MidWeek             *float64 `yaml:"mid_week"`
	CoreHours           *float64 `yaml:"core_hours"`
	CoreHoursStart      *int     `yaml:"core_hours_start"`
	CoreHoursEnd        *int     `yaml:"core_hours_end"`
	SoftConflictPenalty *float64 `yaml:"soft_conflict_penalty"`
}

// LoadPolicy reads a policy file. An empty path returns the default policy.
func LoadPolicy(path string) (scheduler.Policy, error) {
	if strings.TrimSpace(path) == "" {
		return scheduler.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return scheduler.Policy{}, fmt.Errorf("reading policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes YAML into a policy. Unknown keys are rejected and every
// invalid value is reported in one error.
func ParsePolicy(data []byte) (scheduler.Policy, error) {
	var file PolicyFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return scheduler.Policy{}, fmt.Errorf("parsing policy: %w", err)
	}
	return file.Policy()
}

// Policy applies the file on top of the default policy.
func (f PolicyFile) Policy() (scheduler.Policy, error) {
	policy := scheduler.DefaultPolicy()
	invalid := make([]string, 0, 4)

	if tz := strings.TrimSpace(f.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			invalid = append(invalid, "timezone")
		} else {
			policy.Location = loc
		}
	}

	if f.WorkingHours != nil {
		start, startErr := clockOffset(f.WorkingHours.Start, policy.DayStart)
		end, endErr := clockOffset(f.WorkingHours.End, policy.DayEnd)
		switch {
		case startErr != nil || endErr != nil:
			invalid = append(invalid, "working_hours")
		case end <= start:
			invalid = append(invalid, "working_hours")
		default:
			policy.DayStart, policy.DayEnd = start, end
		}
	}

	if step := strings.TrimSpace(f.SlotStep); step != "" {
		d, err := time.ParseDuration(step)
		if err != nil || d <= 0 {
			invalid = append(invalid, "slot_step")
		} else {
			policy.Step = d
		}
	}

	if f.SearchDays != nil {
		if *f.SearchDays <= 0 {
			invalid = append(invalid, "search_days")
		} else {
			policy.SearchDays = *f.SearchDays
		}
	}
	if f.TopK != nil {
		if *f.TopK <= 0 {
			invalid = append(invalid, "top_k")
		} else {
			policy.TopK = *f.TopK
		}
	}
	if f.SkipWeekends != nil {
		policy.SkipWeekends = *f.SkipWeekends
	}
	if f.SoftBlocksAsHard != nil {
		policy.Conflicts.SoftBlocksAsHard = *f.SoftBlocksAsHard
	}

	if f.Weights != nil {
		invalid = append(invalid, f.Weights.apply(&policy.Weights)...)
	}

	if len(invalid) > 0 {
		return scheduler.Policy{}, fmt.Errorf("ポリシー設定の値が不正です: %s", strings.Join(invalid, ", "))
	}
	return policy, nil
}

func (w WeightsConfig) apply(weights *scheduler.Weights) []string {
	var invalid []string
	setWeight := func(name string, value *float64, target *float64) {
		if value == nil {
			return
		}
		if *value < 0 || *value > 1 {
			invalid = append(invalid, "weights."+name)
			return
		}
		*target = *value
	}
	setWeight("base", w.Base, &weights.Base)
	setWeight("preferred_date", w.PreferredDate, &weights.PreferredDate)
	setWeight("exact_hour", w.ExactHour, &weights.ExactHour)
	setWeight("near_hour", w.NearHour, &weights.NearHour)
	setWeight("mid_week", w.MidWeek, &weights.MidWeek)
	setWeight("core_hours", w.CoreHours, &weights.CoreHours)
	setWeight("soft_conflict_penalty", w.SoftConflictPenalty, &weights.SoftConflictPenalty)

	start, end := weights.CoreHoursStart, weights.CoreHoursEnd
	if w.CoreHoursStart != nil {
		start = *w.CoreHoursStart
	}
	if w.CoreHoursEnd != nil {
		end = *w.CoreHoursEnd
	}
	if start < 0 || end > 24 || end <= start {
		invalid = append(invalid, "weights.core_hours_start", "weights.core_hours_end")
	} else {
		weights.CoreHoursStart, weights.CoreHoursEnd = start, end
	}
	return invalid
}

// clockOffset parses HH:MM into an offset from midnight.
func clockOffset(value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	if value == "24:00" {
		return 24 * time.Hour, nil
	}
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
