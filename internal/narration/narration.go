// Package narration rewrites slot explanations with a hosted language model.
//
// Narrators implement negotiation.Explainer. They see the request title, the
// slot interval and its score breakdown, never participant identities or
// calendar block titles. Any failure, including an over-long answer, is
// returned as an error so the coordinator falls back to the template text.
package narration

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/negotiation-scheduler/internal/negotiation"
)

const (
	// MaxLength bounds a narrated explanation in characters.
	MaxLength = 200

	defaultTimeout   = 3 * time.Second
	defaultMaxTokens = 120
)

var (
	// ErrEmpty is returned when the model produced no text.
	ErrEmpty = errors.New("narration: empty response")
	// ErrTooLong is returned when the model ignored the length limit.
	ErrTooLong = errors.New("narration: response too long")
)

// Options configures a narrator.
type Options struct {
	Model   string
	APIKey  string
	BaseURL string
	// Timeout bounds one Explain call.
	Timeout     time.Duration
	MaxTokens   int64
	Temperature float64
	// MaxRetries is passed to the SDK client. Zero disables retries.
	MaxRetries int
}

func defaultOptions(model string) Options {
	return Options{
		Model:       model,
		Timeout:     defaultTimeout,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.3,
	}
}

const systemPrompt = "You explain why a meeting time slot was suggested. " +
	"Answer with one friendly sentence of at most 200 characters. " +
	"Do not invent facts beyond the ones given."

// Prompt renders the user prompt for input.
func Prompt(input negotiation.ExplainInput) string {
	loc := input.Preferred.Location()
	start := input.Slot.Start.In(loc)
	end := input.Slot.End.In(loc)

	var b strings.Builder
	fmt.Fprintf(&b, "Meeting: %q, %d minutes.\n", input.Title, input.DurationMinutes)
	fmt.Fprintf(&b, "Requested time: %s.\n", input.Preferred.Format("Mon 2 Jan 2006 15:04"))
	fmt.Fprintf(&b, "Suggested slot #%d: %s-%s, score %.2f of 1.00.\n",
		input.Rank, start.Format("Mon 2 Jan 2006 15:04"), end.Format("15:04"), input.Slot.Score)
	if input.Slot.ExactMatch {
		b.WriteString("This is exactly the requested time.\n")
	}

	var factors []string
	bd := input.Slot.Breakdown
	if bd.PreferredDate > 0 {
		factors = append(factors, "same date as requested")
	}
	if bd.Hour > 0 {
		factors = append(factors, "close to the requested hour")
	}
	if bd.MidWeek > 0 {
		factors = append(factors, "mid-week")
	}
	if bd.CoreHours > 0 {
		factors = append(factors, "core working hours")
	}
	if input.Slot.SoftConflicts > 0 {
		factors = append(factors, fmt.Sprintf("overlaps %d flexible calendar block(s)", input.Slot.SoftConflicts))
	}
	if len(factors) > 0 {
		fmt.Fprintf(&b, "Factors: %s.\n", strings.Join(factors, ", "))
	}
	return b.String()
}

// finish normalizes model output and enforces the length limit.
func finish(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, "\"")
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", ErrEmpty
	}
	if n := utf8.RuneCountInString(text); n > MaxLength {
		return "", fmt.Errorf("%w: %d characters", ErrTooLong, n)
	}
	return text, nil
}
