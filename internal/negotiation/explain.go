package negotiation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ExplainInput describes one ranked slot to explain. It intentionally carries
// no participant identities or block titles.
type ExplainInput struct {
	// Rank is 1-based.
	Rank            int
	Title           string
	Slot            Slot
	Preferred       time.Time
	DurationMinutes int
}

// Explainer produces a short human-readable reason for a slot's rank.
type Explainer interface {
	Explain(ctx context.Context, input ExplainInput) (string, error)
}

// TemplateExplainer builds explanations from the score breakdown.
type TemplateExplainer struct{}

// Explain implements Explainer. It never fails.
func (TemplateExplainer) Explain(_ context.Context, input ExplainInput) (string, error) {
	return TemplateExplanation(input), nil
}

// TemplateExplanation returns the deterministic explanation for input.
func TemplateExplanation(input ExplainInput) string {
	var lead string
	switch {
	case input.Rank == 1 && input.Slot.ExactMatch:
		lead = "This is your preferred time and it's available!"
	case input.Rank == 1:
		lead = "This is the best available time close to your preference."
	default:
		lead = "This alternative time slot works well around existing commitments."
	}

	reasons := slotReasons(input)
	if len(reasons) == 0 {
		return lead
	}
	return fmt.Sprintf("%s (%s)", lead, strings.Join(reasons, ", "))
}

func slotReasons(input ExplainInput) []string {
	slot := input.Slot
	b := slot.Breakdown
	var reasons []string
	if b.PreferredDate > 0 {
		reasons = append(reasons, "on your preferred date")
	}
	if b.Hour > 0 {
		if slot.Start.In(input.Preferred.Location()).Hour() == input.Preferred.Hour() {
			reasons = append(reasons, "at your preferred hour")
		} else {
			reasons = append(reasons, "within an hour of your preferred time")
		}
	}
	if b.MidWeek > 0 {
		reasons = append(reasons, "mid-week")
	}
	if b.CoreHours > 0 {
		reasons = append(reasons, "during core hours")
	}
	if slot.SoftConflicts > 0 {
		reasons = append(reasons, fmt.Sprintf("overlaps %d flexible block(s)", slot.SoftConflicts))
	}
	return reasons
}
