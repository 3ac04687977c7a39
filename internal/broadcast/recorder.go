package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/example/negotiation-scheduler/internal/events"
	"github.com/example/negotiation-scheduler/internal/persistence"
)

// Recorder persists every event of a topic to an event log. It consumes its
// own subscription, so a slow store never blocks publishers; events the
// subscription drops are missing from the log and counted in Dropped.
type Recorder struct {
	repo   persistence.EventRepository
	sub    *Subscription
	logger *slog.Logger
	done   chan struct{}
}

// NewRecorder subscribes to topic on b. Call Run to start persisting.
func NewRecorder(b *Broadcaster, topic string, repo persistence.EventRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		sub:    b.Subscribe(topic),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Run stores events until ctx is cancelled or the broadcaster closes.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	defer r.sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-r.sub.C():
			if !ok {
				return
			}
			r.record(ctx, event)
		}
	}
}

// Done is closed once Run returns.
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

// Dropped reports events lost before they could be recorded.
func (r *Recorder) Dropped() uint64 {
	return r.sub.Dropped()
}

func (r *Recorder) record(ctx context.Context, event events.Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		r.logger.Error("failed to encode event payload", "session_id", event.SessionID, "sequence", event.Sequence, "error", err)
		return
	}
	record := persistence.EventRecord{
		SessionID: event.SessionID,
		Sequence:  event.Sequence,
		Kind:      string(event.Kind),
		Payload:   payload,
		CreatedAt: event.Timestamp,
	}
	if err := r.repo.AppendEvent(ctx, record); err != nil {
		r.logger.Warn("failed to record event", "session_id", event.SessionID, "sequence", event.Sequence, "error", err)
	}
}

// DecodeRecord converts a stored record back into an event.
func DecodeRecord(record persistence.EventRecord) (events.Event, error) {
	var payload events.Payload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return events.Event{}, err
	}
	return events.Event{
		SessionID: record.SessionID,
		Sequence:  record.Sequence,
		Kind:      events.Kind(record.Kind),
		Payload:   payload,
		Timestamp: record.CreatedAt,
	}, nil
}
