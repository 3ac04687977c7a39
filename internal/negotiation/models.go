package negotiation

import (
	"time"

	"github.com/example/negotiation-scheduler/internal/persistence"
	"github.com/example/negotiation-scheduler/internal/scheduler"
)

// Request is a validated meeting request. Preferred carries the requested
// date and time in the policy location.
type Request struct {
	Title           string    `json:"title"`
	Preferred       time.Time `json:"preferred"`
	DurationMinutes int       `json:"duration_minutes"`
	// Participants is optional. When empty, every active participant is used.
	Participants []string `json:"participants,omitempty"`
}

// Duration returns the requested meeting length.
func (r Request) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// RequestedInterval returns the interval the requester asked for.
func (r Request) RequestedInterval() scheduler.Interval {
	return scheduler.Interval{Start: r.Preferred, End: r.Preferred.Add(r.Duration())}
}

// Slot is a ranked candidate.
type Slot struct {
	Start         time.Time           `json:"start"`
	End           time.Time           `json:"end"`
	Score         float64             `json:"score"`
	Explanation   string              `json:"explanation"`
	ExactMatch    bool                `json:"exact_match"`
	SoftConflicts int                 `json:"soft_conflicts,omitempty"`
	Breakdown     scheduler.Breakdown `json:"breakdown"`
}

// Interval returns the slot's time range.
func (s Slot) Interval() scheduler.Interval {
	return scheduler.Interval{Start: s.Start, End: s.End}
}

// Outcome names the expected result of an operation.
type Outcome string

const (
	OutcomeAvailable        Outcome = "available"
	OutcomeNoAvailability   Outcome = "no_availability"
	OutcomeScheduled        Outcome = "scheduled"
	OutcomeAlreadyScheduled Outcome = "already_scheduled"
	OutcomeInvalidSlotIndex Outcome = "invalid_slot_index"
	OutcomeSlotConflict     Outcome = "slot_conflict"
)

// Result is the ranked outcome of Negotiate. Candidates are ordered by score
// descending with ties broken by earliest start, except that a feasible slot
// at the requested instant is promoted to the top when it scores at least as
// well as the best candidate.
type Result struct {
	SessionID    string             `json:"session_id"`
	Request      Request            `json:"request"`
	Participants []string           `json:"participants"`
	Candidates   []Slot             `json:"candidates"`
	Window       scheduler.Interval `json:"search_window"`
	Success      bool               `json:"success"`
	// DirectlyBookable is set when the first candidate is the requested slot.
	DirectlyBookable bool `json:"directly_bookable"`
	// RequiresConfirmation is set when the requested time lies outside
	// working hours. Alternatives are offered but none is chosen implicitly.
	RequiresConfirmation bool    `json:"requires_confirmation"`
	Outcome              Outcome `json:"outcome"`
	Message              string  `json:"message"`
}

// ScheduleRequest selects one ranked slot to commit.
type ScheduleRequest struct {
	Request   Request
	SlotIndex int
	// SessionID pins the ranked list to commit from. When empty the latest
	// session for the same request is reused.
	SessionID string
}

// Meeting is the committed meeting returned to callers.
type Meeting struct {
	ID              string                    `json:"id"`
	Title           string                    `json:"title"`
	DurationMinutes int                       `json:"duration_minutes"`
	Start           time.Time                 `json:"start"`
	End             time.Time                 `json:"end"`
	Status          persistence.MeetingStatus `json:"status"`
	Participants    []string                  `json:"participants"`
}

// ScheduleResult is the outcome of Schedule.
type ScheduleResult struct {
	SessionID      string               `json:"session_id"`
	Success        bool                 `json:"success"`
	Outcome        Outcome              `json:"outcome"`
	SlotIndex      int                  `json:"slot_index"`
	CandidateCount int                  `json:"candidate_count"`
	Slot           *Slot                `json:"slot,omitempty"`
	Meeting        *Meeting             `json:"meeting,omitempty"`
	Conflicts      []scheduler.Conflict `json:"conflicts,omitempty"`
	Message        string               `json:"message"`
}

// SessionState is the lifecycle state of a negotiation session.
type SessionState string

const (
	SessionPending     SessionState = "PENDING"
	SessionNegotiating SessionState = "NEGOTIATING"
	SessionScheduled   SessionState = "SCHEDULED"
	SessionFailed      SessionState = "FAILED"
)

// Session is one negotiation and the ranked list later commits refer to.
type Session struct {
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	State       SessionState `json:"state"`
	Result      Result       `json:"result"`
	MeetingID   string       `json:"meeting_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func meetingFromRecord(record persistence.Meeting) *Meeting {
	m := &Meeting{
		ID:              record.ID,
		Title:           record.Title,
		DurationMinutes: record.DurationMinutes,
		Start:           record.RequestedStart,
		End:             record.RequestedEnd,
		Status:          record.Status,
		Participants:    append([]string(nil), record.Participants...),
	}
	if record.CommittedStart != nil && record.CommittedEnd != nil {
		m.Start = *record.CommittedStart
		m.End = *record.CommittedEnd
	}
	return m
}

func blockFromRecord(record persistence.CalendarBlock) scheduler.Block {
	return scheduler.Block{
		ID:         record.ID,
		OwnerID:    record.OwnerID,
		Title:      record.Title,
		Start:      record.Start,
		End:        record.End,
		Kind:       scheduler.BlockKind(record.Kind),
		Priority:   record.Priority,
		IsFlexible: record.IsFlexible,
	}
}

func cloneResult(r Result) Result {
	r.Participants = append([]string(nil), r.Participants...)
	r.Candidates = append([]Slot(nil), r.Candidates...)
	r.Request.Participants = append([]string(nil), r.Request.Participants...)
	return r
}
