package negotiation

import (
	"github.com/example/negotiation-scheduler/internal/events"
)

// Summary is the terminal report of a negotiate or schedule call.
type Summary struct {
	Stage     string
	Title     string
	Success   bool
	Outcome   Outcome
	Message   string
	Slots     []Slot
	MeetingID string
	Err       error
}

// Hooks receive lifecycle notifications. Implementations must return quickly;
// the coordinator calls them inline.
type Hooks interface {
	OnStatus(sessionID, stage, message string)
	OnReasoning(sessionID string, rank int, slot Slot)
	OnResult(sessionID string, summary Summary)
}

// NopHooks ignores every notification.
type NopHooks struct{}

func (NopHooks) OnStatus(string, string, string) {}
func (NopHooks) OnReasoning(string, int, Slot)   {}
func (NopHooks) OnResult(string, Summary)        {}

// SinkHooks publishes lifecycle notifications as negotiation events.
func SinkHooks(sink events.Sink) Hooks {
	if sink == nil {
		sink = events.Discard
	}
	return sinkHooks{sink: sink}
}

type sinkHooks struct {
	sink events.Sink
}

func (h sinkHooks) OnStatus(sessionID, stage, message string) {
	h.sink.Publish(sessionID, events.KindStatus, events.Payload{Stage: stage, Message: message})
}

func (h sinkHooks) OnReasoning(sessionID string, rank int, slot Slot) {
	h.sink.Publish(sessionID, events.KindReasoning, events.Payload{
		Stage:   events.StageSlotExplained,
		Message: slot.Explanation,
		Slots:   []events.Slot{eventSlot(rank, slot)},
	})
}

func (h sinkHooks) OnResult(sessionID string, summary Summary) {
	payload := events.Payload{
		Stage:     summary.Stage,
		Message:   summary.Message,
		Title:     summary.Title,
		Success:   events.Bool(summary.Success),
		Outcome:   string(summary.Outcome),
		MeetingID: summary.MeetingID,
	}
	for i, slot := range summary.Slots {
		payload.Slots = append(payload.Slots, eventSlot(i+1, slot))
	}
	if summary.Err != nil {
		payload.Error = summary.Err.Error()
		payload.ErrorKind = ErrorKind(summary.Err)
		payload.Retryable = IsRetryable(summary.Err)
	} else if kind := OutcomeKind(summary.Outcome); kind != "" {
		payload.ErrorKind = kind
	}
	h.sink.Publish(sessionID, events.KindResult, payload)
}

func eventSlot(rank int, slot Slot) events.Slot {
	return events.Slot{
		Rank:        rank,
		Start:       slot.Start,
		End:         slot.End,
		Score:       slot.Score,
		Explanation: slot.Explanation,
		ExactMatch:  slot.ExactMatch,
	}
}
