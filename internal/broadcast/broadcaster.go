// Package broadcast fans negotiation events out to in-process subscribers.
//
// Delivery is best-effort: each subscriber owns a bounded buffer and the
// oldest buffered event is dropped when a slow subscriber falls behind.
// Publish never blocks on subscribers.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/negotiation-scheduler/internal/events"
)

// DefaultBufferSize is the per-subscriber buffer used when none is configured.
const DefaultBufferSize = 64

const sequenceLookupTimeout = 2 * time.Second

// SequenceSource reports the highest sequence already issued for a session,
// typically from the persisted event log.
type SequenceSource interface {
	LastEventSequence(ctx context.Context, sessionID string) (uint64, error)
}

// Broadcaster assigns per-session sequence numbers and delivers events to
// topic subscribers in publish order.
type Broadcaster struct {
	mu          sync.Mutex
	logger      *slog.Logger
	now         func() time.Time
	bufferSize  int
	source      SequenceSource
	sequences   map[string]uint64
	subscribers map[string]map[*Subscription]struct{}
	closed      bool
}

// Option customizes a Broadcaster.
type Option func(*Broadcaster)

// WithBufferSize sets the per-subscriber buffer size.
func WithBufferSize(size int) Option {
	return func(b *Broadcaster) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) {
		if now != nil {
			b.now = now
		}
	}
}

// WithSequenceSource resumes sessions the broadcaster holds no counter for
// after the highest sequence src reports.
func WithSequenceSource(src SequenceSource) Option {
	return func(b *Broadcaster) {
		b.source = src
	}
}

// WithLogger sets the logger used for drop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New constructs a Broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		logger:      slog.Default(),
		now:         time.Now,
		bufferSize:  DefaultBufferSize,
		sequences:   make(map[string]uint64),
		subscribers: make(map[string]map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers an event on the negotiation topic. It implements events.Sink.
func (b *Broadcaster) Publish(sessionID string, kind events.Kind, payload events.Payload) {
	b.PublishTopic(events.TopicNegotiation, sessionID, kind, payload)
}

// PublishTopic assigns the next sequence number for the session and enqueues
// the event for every subscriber of topic. Sequence assignment and enqueueing
// share one critical section so subscribers observe sequence order.
func (b *Broadcaster) PublishTopic(topic, sessionID string, kind events.Kind, payload events.Payload) events.Event {
	floor := b.resumeFrom(sessionID)

	b.mu.Lock()
	defer b.mu.Unlock()

	sequence := max(b.sequences[sessionID], floor) + 1
	b.sequences[sessionID] = sequence
	event := events.Event{
		SessionID: sessionID,
		Sequence:  sequence,
		Kind:      kind,
		Payload:   payload,
		Timestamp: b.now().UTC(),
	}
	if b.closed {
		return event
	}

	for sub := range b.subscribers[topic] {
		if sub.offer(event) {
			b.logger.Debug("subscriber buffer full, dropped oldest event",
				"topic", topic,
				"session_id", sessionID,
				"dropped_total", sub.Dropped(),
			)
		}
	}
	return event
}

// resumeFrom looks up the last issued sequence of a session without a live
// counter. The lookup runs outside the lock so other sessions keep publishing.
func (b *Broadcaster) resumeFrom(sessionID string) uint64 {
	if b.source == nil {
		return 0
	}
	b.mu.Lock()
	_, live := b.sequences[sessionID]
	b.mu.Unlock()
	if live {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), sequenceLookupTimeout)
	defer cancel()
	last, err := b.source.LastEventSequence(ctx, sessionID)
	if err != nil {
		b.logger.Warn("failed to resume event sequence", "session_id", sessionID, "error", err)
		return 0
	}
	return last
}

// Subscribe registers a subscriber for events published after this call.
func (b *Broadcaster) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		topic: topic,
		ch:    make(chan events.Event, b.bufferSize),
		owner: b,
	}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[*Subscription]struct{})
	}
	b.subscribers[topic][sub] = struct{}{}
	return sub
}

// Forget drops the in-memory sequence counter of a session. With a sequence
// source the next publish resumes after the last recorded event.
func (b *Broadcaster) Forget(sessionID string) {
	b.mu.Lock()
	delete(b.sequences, sessionID)
	b.mu.Unlock()
}

// SubscriberCount reports the number of live subscribers on topic.
func (b *Broadcaster) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[topic])
}

// Close ends every subscription. Later publishes are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for sub := range subs {
			sub.closeLocked()
		}
		delete(b.subscribers, topic)
	}
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, sub.topic)
		}
	}
	sub.closeLocked()
}

// Subscription is a bounded stream of events for one subscriber.
type Subscription struct {
	topic   string
	ch      chan events.Event
	owner   *Broadcaster
	dropped atomic.Uint64
	closed  bool
}

// C returns the event stream. It is closed when the subscription ends.
func (s *Subscription) C() <-chan events.Event {
	return s.ch
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Dropped reports how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes the stream. It is safe to call twice.
func (s *Subscription) Close() {
	if s == nil || s.owner == nil {
		return
	}
	s.owner.unsubscribe(s)
}

// offer enqueues the event, evicting the oldest buffered one when full.
// It reports whether an event was dropped. Callers hold the owner's lock.
func (s *Subscription) offer(event events.Event) bool {
	if s.closed {
		return false
	}
	select {
	case s.ch <- event:
		return false
	default:
	}

	select {
	case <-s.ch:
	default:
	}
	s.dropped.Add(1)

	select {
	case s.ch <- event:
	default:
		s.dropped.Add(1)
	}
	return true
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
