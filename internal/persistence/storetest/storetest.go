// Package storetest holds the repository contract every persistence backend must satisfy.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

// Factory returns a fresh, migrated, empty store for one subtest.
type Factory func(t *testing.T) persistence.Store

var counter atomic.Uint64

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), counter.Add(1))
}

// base is Tuesday 2025-10-21 00:00 UTC.
var base = time.Date(2025, time.October, 21, 0, 0, 0, 0, time.UTC)

// Run executes the repository contract against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("participants", func(t *testing.T) { testParticipants(t, factory(t)) })
	t.Run("calendar blocks", func(t *testing.T) { testBlocks(t, factory(t)) })
	t.Run("meetings", func(t *testing.T) { testMeetings(t, factory(t)) })
	t.Run("sessions", func(t *testing.T) { testSessions(t, factory(t)) })
	t.Run("events", func(t *testing.T) { testEvents(t, factory(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, factory(t)) })
}

func testParticipants(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	alice := persistence.Participant{ID: uniqueID("alice"), DisplayName: "Alice", Email: "alice@example.com", Active: true, CreatedAt: base}
	bob := persistence.Participant{ID: uniqueID("bob"), DisplayName: "Bob", Active: false, CreatedAt: base}

	for _, p := range []persistence.Participant{alice, bob} {
		if err := store.UpsertParticipant(ctx, p); err != nil {
			t.Fatalf("UpsertParticipant failed: %v", err)
		}
	}

	alice.DisplayName = "Alice A."
	if err := store.UpsertParticipant(ctx, alice); err != nil {
		t.Fatalf("UpsertParticipant update failed: %v", err)
	}

	got, err := store.GetParticipant(ctx, alice.ID)
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if got.DisplayName != "Alice A." || !got.Active || got.Email != alice.Email {
		t.Fatalf("unexpected participant %+v", got)
	}

	if _, err := store.GetParticipant(ctx, uniqueID("missing")); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := store.ListParticipants(ctx)
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	seen := map[string]bool{}
	for _, p := range list {
		seen[p.ID] = p.Active
	}
	if active, ok := seen[alice.ID]; !ok || !active {
		t.Fatalf("expected active alice in %+v", list)
	}
	if active, ok := seen[bob.ID]; !ok || active {
		t.Fatalf("expected inactive bob in %+v", list)
	}
}

func testBlocks(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	owner := uniqueID("owner")
	if err := store.UpsertParticipant(ctx, persistence.Participant{ID: owner, DisplayName: owner, Active: true, CreatedAt: base}); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	late := persistence.CalendarBlock{
		ID: uniqueID("block"), OwnerID: owner, Title: "Standup",
		Start: base.Add(16*time.Hour + 30*time.Minute), End: base.Add(17 * time.Hour),
		Kind: persistence.BlockKindBusy, Priority: 7, CreatedAt: base,
	}
	early := persistence.CalendarBlock{
		ID: uniqueID("block"), OwnerID: owner, Title: "Gym",
		Start: base.Add(9 * time.Hour), End: base.Add(10 * time.Hour),
		Kind: persistence.BlockKindFlexible, Priority: 3, IsFlexible: true, CreatedAt: base,
	}
	nextDay := persistence.CalendarBlock{
		ID: uniqueID("block"), OwnerID: owner, Title: "Focus",
		Start: base.Add(33 * time.Hour), End: base.Add(35 * time.Hour),
		Kind: persistence.BlockKindBusy, Priority: 8, CreatedAt: base,
	}
	for _, b := range []persistence.CalendarBlock{late, early, nextDay} {
		if err := store.CreateBlock(ctx, b); err != nil {
			t.Fatalf("CreateBlock failed: %v", err)
		}
	}

	if err := store.CreateBlock(ctx, early); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated block id, got %v", err)
	}

	invalid := early
	invalid.ID = uniqueID("block")
	invalid.End = invalid.Start
	if err := store.CreateBlock(ctx, invalid); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation for empty interval, got %v", err)
	}

	blocks, err := store.GetBlocks(ctx, owner, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("GetBlocks failed: %v", err)
	}
	if len(blocks) != 2 || blocks[0].ID != early.ID || blocks[1].ID != late.ID {
		t.Fatalf("expected [early late], got %+v", blocks)
	}
	if !blocks[0].IsFlexible || blocks[0].Kind != persistence.BlockKindFlexible || blocks[0].Priority != 3 {
		t.Fatalf("block fields not round-tripped: %+v", blocks[0])
	}
	if !blocks[0].Start.Equal(early.Start) || !blocks[0].End.Equal(early.End) {
		t.Fatalf("block times not round-tripped: %+v", blocks[0])
	}

	touching, err := store.GetBlocks(ctx, owner, base.Add(10*time.Hour), base.Add(16*time.Hour+30*time.Minute))
	if err != nil {
		t.Fatalf("GetBlocks failed: %v", err)
	}
	if len(touching) != 0 {
		t.Fatalf("expected half-open window to exclude touching blocks, got %+v", touching)
	}

	if err := store.DeleteBlock(ctx, early.ID); err != nil {
		t.Fatalf("DeleteBlock failed: %v", err)
	}
	if err := store.DeleteBlock(ctx, early.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
}

func testMeetings(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	start := base.Add(10 * time.Hour)
	end := start.Add(30 * time.Minute)
	token := uniqueID("token")

	meeting := persistence.Meeting{
		ID:               uniqueID("meeting"),
		Title:            "Planning",
		DurationMinutes:  30,
		RequestedStart:   start,
		RequestedEnd:     end,
		CommittedStart:   &start,
		CommittedEnd:     &end,
		Status:           persistence.MeetingStatusPending,
		IdempotencyToken: token,
		Participants:     []string{"alice", "bob"},
		CreatedAt:        base,
		UpdatedAt:        base,
	}
	if err := store.CreateMeeting(ctx, meeting); err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	found, err := store.FindMeetingByToken(ctx, token)
	if err != nil {
		t.Fatalf("FindMeetingByToken failed: %v", err)
	}
	if found.ID != meeting.ID || found.CommittedStart == nil || !found.CommittedStart.Equal(start) {
		t.Fatalf("unexpected meeting %+v", found)
	}
	if len(found.Participants) != 2 || found.Participants[0] != "alice" || found.Participants[1] != "bob" {
		t.Fatalf("participants not round-tripped: %+v", found.Participants)
	}

	dup := meeting
	dup.ID = uniqueID("meeting")
	if err := store.CreateMeeting(ctx, dup); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused token, got %v", err)
	}

	if err := store.UpdateMeetingStatus(ctx, meeting.ID, persistence.MeetingStatusScheduled, base.Add(time.Minute)); err != nil {
		t.Fatalf("UpdateMeetingStatus failed: %v", err)
	}
	got, err := store.GetMeeting(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if got.Status != persistence.MeetingStatusScheduled {
		t.Fatalf("expected SCHEDULED, got %s", got.Status)
	}

	failed := meeting
	failed.ID = uniqueID("meeting")
	failed.IdempotencyToken = uniqueID("token")
	failed.CreatedAt = base.Add(time.Minute)
	if err := store.CreateMeeting(ctx, failed); err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	if err := store.UpdateMeetingStatus(ctx, failed.ID, persistence.MeetingStatusFailed, base.Add(2*time.Minute)); err != nil {
		t.Fatalf("UpdateMeetingStatus failed: %v", err)
	}
	if _, err := store.FindMeetingByToken(ctx, failed.IdempotencyToken); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected failed meeting to release its token, got %v", err)
	}

	retry := failed
	retry.ID = uniqueID("meeting")
	if err := store.CreateMeeting(ctx, retry); err != nil {
		t.Fatalf("expected released token to be reusable, got %v", err)
	}

	if err := store.UpdateMeetingStatus(ctx, uniqueID("missing"), persistence.MeetingStatusFailed, base); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	list, err := store.ListMeetings(ctx)
	if err != nil {
		t.Fatalf("ListMeetings failed: %v", err)
	}
	if len(list) < 3 {
		t.Fatalf("expected at least 3 meetings, got %d", len(list))
	}
}

func testSessions(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	fingerprint := uniqueID("fp")

	first := persistence.NegotiationSession{
		ID: uniqueID("session"), Fingerprint: fingerprint, State: "NEGOTIATING", Title: "Sync",
		Candidates: []byte(`[{"start":"2025-10-21T10:00:00Z"}]`), CreatedAt: base, UpdatedAt: base,
	}
	second := first
	second.ID = uniqueID("session")
	second.CreatedAt = base.Add(time.Minute)
	second.UpdatedAt = base.Add(time.Minute)

	for _, s := range []persistence.NegotiationSession{first, second} {
		if err := store.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession failed: %v", err)
		}
	}

	latest, err := store.FindLatestSession(ctx, fingerprint)
	if err != nil {
		t.Fatalf("FindLatestSession failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("expected latest session %s, got %s", second.ID, latest.ID)
	}

	first.State = "SCHEDULED"
	first.MeetingID = "meeting-1"
	first.UpdatedAt = base.Add(2 * time.Minute)
	if err := store.SaveSession(ctx, first); err != nil {
		t.Fatalf("SaveSession update failed: %v", err)
	}
	got, err := store.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.State != "SCHEDULED" || got.MeetingID != "meeting-1" || string(got.Candidates) != string(first.Candidates) {
		t.Fatalf("unexpected session %+v", got)
	}
	if latest, _ := store.FindLatestSession(ctx, fingerprint); latest.ID != first.ID {
		t.Fatalf("expected updated session to become latest, got %s", latest.ID)
	}

	if _, err := store.FindLatestSession(ctx, uniqueID("fp")); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testEvents(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	sessionID := uniqueID("session")

	for _, seq := range []uint64{2, 1, 3} {
		record := persistence.EventRecord{
			SessionID: sessionID, Sequence: seq, Kind: "STATUS",
			Payload: []byte(fmt.Sprintf(`{"stage":"s%d"}`, seq)), CreatedAt: base,
		}
		if err := store.AppendEvent(ctx, record); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
	if err := store.AppendEvent(ctx, persistence.EventRecord{SessionID: sessionID, Sequence: 1, Kind: "STATUS", Payload: []byte(`{}`), CreatedAt: base}); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated sequence, got %v", err)
	}

	records, err := store.ListEvents(ctx, sessionID)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 events, got %d", len(records))
	}
	for i, record := range records {
		if record.Sequence != uint64(i+1) {
			t.Fatalf("expected sequence order, got %d at %d", record.Sequence, i)
		}
	}

	last, err := store.LastEventSequence(ctx, sessionID)
	if err != nil {
		t.Fatalf("LastEventSequence failed: %v", err)
	}
	if last != 3 {
		t.Fatalf("expected last sequence 3, got %d", last)
	}
	if last, err := store.LastEventSequence(ctx, uniqueID("session")); err != nil || last != 0 {
		t.Fatalf("expected zero for a session without events, got %d (%v)", last, err)
	}
}

func testTransactions(t *testing.T, store persistence.Store) {
	tx, ok := store.(persistence.Transactor)
	if !ok {
		t.Skip("store has no transaction support")
	}
	ctx := context.Background()
	owner := uniqueID("owner")
	if err := store.UpsertParticipant(ctx, persistence.Participant{ID: owner, DisplayName: owner, Active: true, CreatedAt: base}); err != nil {
		t.Fatalf("UpsertParticipant failed: %v", err)
	}

	block := persistence.CalendarBlock{
		ID: uniqueID("block"), OwnerID: owner, Title: "Meeting",
		Start: base.Add(11 * time.Hour), End: base.Add(12 * time.Hour),
		Kind: persistence.BlockKindBusy, Priority: 8, CreatedAt: base,
	}
	boom := errors.New("boom")
	err := tx.WithTx(ctx, func(ctx context.Context) error {
		if err := store.CreateBlock(ctx, block); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	blocks, err := store.GetBlocks(ctx, owner, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("GetBlocks failed: %v", err)
	}
	if len(blocks) != 0 {
		t.Fatalf("expected rollback to discard block, got %+v", blocks)
	}

	if locker, ok := store.(persistence.ParticipantLocker); ok {
		err = tx.WithTx(ctx, func(ctx context.Context) error {
			if err := locker.LockParticipants(ctx, []string{owner}); err != nil {
				return err
			}
			return store.CreateBlock(ctx, block)
		})
	} else {
		err = tx.WithTx(ctx, func(ctx context.Context) error {
			return store.CreateBlock(ctx, block)
		})
	}
	if err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}
	blocks, err = store.GetBlocks(ctx, owner, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("GetBlocks failed: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("expected committed block, got %+v", blocks)
	}
}
