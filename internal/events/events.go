// Package events defines the negotiation lifecycle events streamed to observers.
package events

import "time"

// Kind classifies a negotiation event.
type Kind string

const (
	KindStatus    Kind = "STATUS"
	KindReasoning Kind = "REASONING"
	KindResult    Kind = "RESULT"
)

// TopicNegotiation is the topic every negotiation event is published on.
const TopicNegotiation = "negotiation"

// Stage names the step of a session that produced an event.
const (
	StageSessionStarted    = "session_started"
	StageSearching         = "searching"
	StageSlotExplained     = "slot_explained"
	StageNegotiationResult = "negotiation_result"
	StageSchedulingStarted = "scheduling_started"
	StageMeetingScheduled  = "meeting_scheduled"
	StageSchedulingFailed  = "scheduling_failed"
)

// Slot summarizes a ranked candidate for observers.
type Slot struct {
	Rank        int       `json:"rank"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Score       float64   `json:"score"`
	Explanation string    `json:"explanation,omitempty"`
	ExactMatch  bool      `json:"exact_match,omitempty"`
}

// Payload carries the event body. Unused fields are omitted on the wire.
type Payload struct {
	Stage     string `json:"stage"`
	Message   string `json:"message,omitempty"`
	Title     string `json:"title,omitempty"`
	Success   *bool  `json:"success,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Slots     []Slot `json:"slots,omitempty"`
	MeetingID string `json:"meeting_id,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Event is one ordered entry of a session's lifecycle.
type Event struct {
	SessionID string    `json:"session_id"`
	Sequence  uint64    `json:"sequence"`
	Kind      Kind      `json:"kind"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink accepts events for delivery. Implementations must not block.
type Sink interface {
	Publish(sessionID string, kind Kind, payload Payload)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(string, Kind, Payload) {}

// Bool returns a pointer to v for optional payload fields.
func Bool(v bool) *bool {
	return &v
}
