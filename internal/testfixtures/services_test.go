package testfixtures

import (
	"context"
	"testing"

	"github.com/example/negotiation-scheduler/internal/negotiation"
)

func TestServiceFactoryNewCoordinator(t *testing.T) {
	ids := NewIDGenerator("sess")
	factory := NewServiceFactory(WithIDGenerator(ids))
	store := NewMemoryStore(t)
	Seed(t, store, Participants("alice"))

	coordinator := factory.NewCoordinator(CoordinatorDeps{Store: store})
	result, err := coordinator.Negotiate(context.Background(), NewRequest(WithParticipants("alice")))
	if err != nil {
		t.Fatalf("Negotiate returned error: %v", err)
	}

	if result.SessionID != "sess-1" {
		t.Fatalf("expected generated session ID sess-1, got %q", result.SessionID)
	}
	if issued := ids.Issued(); len(issued) != 1 {
		t.Fatalf("negotiation should issue one id, got %v", issued)
	}
	session, err := coordinator.Session(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("Session returned error: %v", err)
	}
	if !session.CreatedAt.Equal(ReferenceTime()) {
		t.Fatalf("expected timestamp %v, got %v", ReferenceTime(), session.CreatedAt)
	}
	if session.State != negotiation.SessionNegotiating {
		t.Fatalf("expected NEGOTIATING session, got %s", session.State)
	}
}

func TestSQLiteStoreIsMigrated(t *testing.T) {
	store := NewSQLiteStore(t)
	Seed(t, store, Participants("alice", "bob"),
		NewBlock("alice", At(0, 9, 0), At(0, 9, 30)),
		NewBlock("bob", At(0, 10, 0), At(0, 11, 0), Flexible()),
	)

	blocks, err := store.GetBlocks(context.Background(), "bob", At(0, 0, 0), At(1, 0, 0))
	if err != nil {
		t.Fatalf("GetBlocks returned error: %v", err)
	}
	if len(blocks) != 1 || !blocks[0].IsFlexible {
		t.Fatalf("expected one flexible block, got %+v", blocks)
	}
}

func TestAtUsesReferenceDate(t *testing.T) {
	got := At(1, 14, 30)
	if got.Day() != 22 || got.Hour() != 14 || got.Minute() != 30 {
		t.Fatalf("unexpected instant %v", got)
	}
	if got.Weekday().String() != "Wednesday" {
		t.Fatalf("expected Wednesday, got %s", got.Weekday())
	}
}
