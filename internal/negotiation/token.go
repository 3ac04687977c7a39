package negotiation

import (
	"sort"
	"strings"
	"time"

	"github.com/example/negotiation-scheduler/internal/scheduler"
)

// IdempotencyToken derives the commit key for a meeting. Two commits of the
// same title, interval and participant set produce the same token, which the
// meeting store keeps unique.
func IdempotencyToken(title string, interval scheduler.Interval, participants []string) string {
	sorted := append([]string(nil), participants...)
	sort.Strings(sorted)
	return digest(
		"meeting",
		strings.TrimSpace(title),
		interval.Start.UTC().Format(time.RFC3339),
		interval.End.UTC().Format(time.RFC3339),
		strings.Join(sorted, ","),
	)
}
