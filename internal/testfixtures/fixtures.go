package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/negotiation-scheduler/internal/negotiation"
	"github.com/example/negotiation-scheduler/internal/persistence"
)

var blockCounter uint64

// referenceTime is Tuesday 2025-10-21 08:00 UTC, one hour before the default
// working window opens.
var referenceTime = time.Date(2025, time.October, 21, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// At returns the UTC instant days after the reference date at hour:minute.
func At(days, hour, minute int) time.Time {
	d := referenceTime.AddDate(0, 0, days)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.UTC)
}

// ------------------------- Participant fixtures -------------------------

// Participant returns an active participant with a deterministic display name
// and email derived from id.
func Participant(id string) persistence.Participant {
	return persistence.Participant{
		ID:          id,
		DisplayName: fmt.Sprintf("Participant %s", id),
		Email:       fmt.Sprintf("%s@example.com", id),
		Active:      true,
		CreatedAt:   referenceTime,
	}
}

// InactiveParticipant returns a participant excluded from implicit participant sets.
func InactiveParticipant(id string) persistence.Participant {
	p := Participant(id)
	p.Active = false
	return p
}

// ---------------------------- Block fixtures ----------------------------

// BlockOption configures a generated calendar block.
type BlockOption func(*persistence.CalendarBlock)

// NewBlock returns a BUSY, rigid block for owner over [start, end).
func NewBlock(owner string, start, end time.Time, opts ...BlockOption) persistence.CalendarBlock {
	idx := atomic.AddUint64(&blockCounter, 1)
	block := persistence.CalendarBlock{
		ID:        fmt.Sprintf("block-%03d", idx),
		OwnerID:   owner,
		Title:     "Busy",
		Start:     start,
		End:       end,
		Kind:      persistence.BlockKindBusy,
		Priority:  5,
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&block)
	}
	return block
}

// WithBlockID overrides the generated block ID.
func WithBlockID(id string) BlockOption {
	return func(b *persistence.CalendarBlock) {
		b.ID = id
	}
}

// WithBlockTitle overrides the block title.
func WithBlockTitle(title string) BlockOption {
	return func(b *persistence.CalendarBlock) {
		b.Title = title
	}
}

// WithBlockKind sets the block kind.
func WithBlockKind(kind persistence.BlockKind) BlockOption {
	return func(b *persistence.CalendarBlock) {
		b.Kind = kind
	}
}

// WithBlockPriority sets the block priority.
func WithBlockPriority(priority int) BlockOption {
	return func(b *persistence.CalendarBlock) {
		b.Priority = priority
	}
}

// Flexible marks the block as a soft FLEXIBLE block.
func Flexible() BlockOption {
	return func(b *persistence.CalendarBlock) {
		b.Kind = persistence.BlockKindFlexible
		b.IsFlexible = true
		b.Title = "Flexible"
	}
}

// --------------------------- Request fixtures ---------------------------

// RequestOption configures a generated meeting request.
type RequestOption func(*negotiation.Request)

// NewRequest returns a 30 minute request for the reference date at 10:00 UTC.
func NewRequest(opts ...RequestOption) negotiation.Request {
	req := negotiation.Request{
		Title:           "Design review",
		Preferred:       At(0, 10, 0),
		DurationMinutes: 30,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// WithTitle overrides the request title.
func WithTitle(title string) RequestOption {
	return func(r *negotiation.Request) {
		r.Title = title
	}
}

// WithPreferred overrides the preferred start.
func WithPreferred(t time.Time) RequestOption {
	return func(r *negotiation.Request) {
		r.Preferred = t
	}
}

// WithDuration overrides the duration in minutes.
func WithDuration(minutes int) RequestOption {
	return func(r *negotiation.Request) {
		r.DurationMinutes = minutes
	}
}

// WithParticipants sets the explicit participant list.
func WithParticipants(ids ...string) RequestOption {
	return func(r *negotiation.Request) {
		r.Participants = append([]string(nil), ids...)
	}
}

// ------------------------------- Seeding -------------------------------

// SeedStore is the write surface fixtures are loaded through.
type SeedStore interface {
	UpsertParticipant(ctx context.Context, participant persistence.Participant) error
	CreateBlock(ctx context.Context, block persistence.CalendarBlock) error
}

// Seed stores the participants and blocks, failing the test on any error.
func Seed(tb testing.TB, store SeedStore, participants []persistence.Participant, blocks ...persistence.CalendarBlock) {
	tb.Helper()
	ctx := context.Background()
	for _, p := range participants {
		if err := store.UpsertParticipant(ctx, p); err != nil {
			tb.Fatalf("seed participant %s: %v", p.ID, err)
		}
	}
	for _, b := range blocks {
		if err := store.CreateBlock(ctx, b); err != nil {
			tb.Fatalf("seed block %s: %v", b.ID, err)
		}
	}
}

// Participants builds active participants for each id.
func Participants(ids ...string) []persistence.Participant {
	out := make([]persistence.Participant, 0, len(ids))
	for _, id := range ids {
		out = append(out, Participant(id))
	}
	return out
}
