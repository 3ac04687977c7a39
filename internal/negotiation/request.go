package negotiation

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"

	maxTitleLength     = 200
	maxDurationMinutes = 24 * 60
)

// RequestInput is a meeting request as received from callers.
type RequestInput struct {
	Title           string   `json:"title"`
	PreferredDate   string   `json:"preferred_date"`
	PreferredTime   string   `json:"preferred_time"`
	DurationMinutes int      `json:"duration_minutes"`
	Participants    []string `json:"participants,omitempty"`
}

// ParseRequest validates the input and resolves the preferred date and time in loc.
func ParseRequest(input RequestInput, loc *time.Location) (Request, error) {
	if loc == nil {
		loc = time.UTC
	}
	vErr := &ValidationError{}

	date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(input.PreferredDate), loc)
	if err != nil {
		vErr.add("preferred_date", "must use YYYY-MM-DD format")
	}
	clock, err := time.Parse(timeLayout, strings.TrimSpace(input.PreferredTime))
	if err != nil {
		vErr.add("preferred_time", "must use HH:MM format")
	}

	req := Request{
		Title:           strings.TrimSpace(input.Title),
		DurationMinutes: input.DurationMinutes,
		Participants:    normalizeParticipants(input.Participants),
	}
	vErr.merge(validateRequest(req))
	if vErr.HasErrors() {
		return Request{}, vErr
	}

	req.Preferred = time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
	return req, nil
}

func validateRequest(req Request) *ValidationError {
	vErr := &ValidationError{}
	switch title := strings.TrimSpace(req.Title); {
	case title == "":
		vErr.add("title", "title is required")
	case len(title) > maxTitleLength:
		vErr.add("title", "title must be "+strconv.Itoa(maxTitleLength)+" characters or fewer")
	}
	switch {
	case req.DurationMinutes <= 0:
		vErr.add("duration_minutes", "duration must be positive")
	case req.DurationMinutes > maxDurationMinutes:
		vErr.add("duration_minutes", "duration must not exceed one day")
	}
	for _, p := range req.Participants {
		if strings.TrimSpace(p) == "" {
			vErr.add("participants", "participant ids must not be blank")
			break
		}
	}
	return vErr
}

func normalizeParticipants(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Fingerprint identifies requests that describe the same meeting. Sessions
// are looked up by fingerprint so repeated schedule calls reuse one ranking.
func Fingerprint(req Request) string {
	participants := append([]string(nil), req.Participants...)
	sort.Strings(participants)
	return digest(
		strings.TrimSpace(req.Title),
		req.Preferred.UTC().Format(time.RFC3339),
		strconv.Itoa(req.DurationMinutes),
		strings.Join(participants, ","),
	)
}

func digest(parts ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
