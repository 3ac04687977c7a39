package negotiation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/negotiation-scheduler/internal/broadcast"
	"github.com/example/negotiation-scheduler/internal/events"
	"github.com/example/negotiation-scheduler/internal/negotiation"
	"github.com/example/negotiation-scheduler/internal/persistence"
	"github.com/example/negotiation-scheduler/internal/persistence/memory"
	"github.com/example/negotiation-scheduler/internal/persistence/sqlite"
	"github.com/example/negotiation-scheduler/internal/scheduler"
	"github.com/example/negotiation-scheduler/internal/testfixtures"
)

var at = testfixtures.At

type storeFactory func(t *testing.T) negotiation.Store

// backends runs commit paths against the compensating in-memory store and the
// transactional SQLite store.
var backends = map[string]storeFactory{
	"memory": func(t *testing.T) negotiation.Store { return testfixtures.NewMemoryStore(t) },
	"sqlite": func(t *testing.T) negotiation.Store { return testfixtures.NewSQLiteStore(t) },
}

func seed(t *testing.T, store negotiation.Store, participants []persistence.Participant, blocks ...persistence.CalendarBlock) {
	t.Helper()
	testfixtures.Seed(t, store, participants, blocks...)
}

func newCoordinator(store negotiation.Store, hooks negotiation.Hooks, cfg negotiation.Config) *negotiation.Coordinator {
	factory := testfixtures.NewServiceFactory()
	return factory.NewCoordinator(testfixtures.CoordinatorDeps{Store: store, Hooks: hooks, Config: cfg})
}

func countBlocks(t *testing.T, store negotiation.Store, owner string, from, to time.Time) int {
	t.Helper()
	blocks, err := store.GetBlocks(context.Background(), owner, from, to)
	if err != nil {
		t.Fatalf("GetBlocks returned error: %v", err)
	}
	return len(blocks)
}

func listMeetings(t *testing.T, store negotiation.Store) []persistence.Meeting {
	t.Helper()
	meetings, err := store.ListMeetings(context.Background())
	if err != nil {
		t.Fatalf("ListMeetings returned error: %v", err)
	}
	return meetings
}

func containsStart(slots []negotiation.Slot, start time.Time) bool {
	for _, slot := range slots {
		if slot.Start.Equal(start) {
			return true
		}
	}
	return false
}

func TestNegotiateSkipsBusySlot(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewMemoryStore(t)
	seed(t, store, testfixtures.Participants("alice"), testfixtures.NewBlock("alice", at(0, 9, 0), at(0, 9, 30)))
	coordinator := newCoordinator(store, nil, negotiation.Config{})

	result, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest(
		testfixtures.WithPreferred(at(0, 9, 0)),
		testfixtures.WithParticipants("alice"),
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if containsStart(result.Candidates, at(0, 9, 0)) {
		t.Fatalf("expected 09:00 slot to be excluded")
	}
	if !containsStart(result.Candidates, at(0, 9, 30)) {
		t.Fatalf("expected 09:30 slot to be present")
	}
	if result.DirectlyBookable {
		t.Fatalf("expected busy preferred slot not to be directly bookable")
	}
	if n := countBlocks(t, store, "alice", at(0, 0, 0), at(14, 0, 0)); n != 1 {
		t.Fatalf("expected negotiate not to write blocks, got %d", n)
	}
	if meetings := listMeetings(t, store); len(meetings) != 0 {
		t.Fatalf("expected negotiate not to create meetings, got %d", len(meetings))
	}
}

func TestNegotiateRanksFreePreferredSlotFirst(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewMemoryStore(t)
	seed(t, store, testfixtures.Participants("alice", "bob"))
	coordinator := newCoordinator(store, nil, negotiation.Config{})

	result, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest(testfixtures.WithParticipants("alice", "bob")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Outcome != negotiation.OutcomeAvailable {
		t.Fatalf("expected success, got %+v", result)
	}
	first := result.Candidates[0]
	if !first.Start.Equal(at(0, 10, 0)) || !first.ExactMatch {
		t.Fatalf("expected exact preferred slot first, got %+v", first)
	}
	if !result.DirectlyBookable || result.RequiresConfirmation {
		t.Fatalf("expected directly bookable without confirmation, got %+v", result)
	}
	if first.Explanation == "" {
		t.Fatalf("expected an explanation for the top slot")
	}
	if len(result.Candidates) != 10 {
		t.Fatalf("expected top 10 candidates, got %d", len(result.Candidates))
	}
	for i := 1; i < len(result.Candidates); i++ {
		prev, cur := result.Candidates[i-1], result.Candidates[i]
		if i > 1 && (prev.Score < cur.Score || (prev.Score == cur.Score && prev.Start.After(cur.Start))) {
			t.Fatalf("candidates out of order at %d", i)
		}
		if cur.ExactMatch {
			t.Fatalf("expected a single exact match")
		}
	}
}

func TestNegotiateOutsideWorkingHoursRequiresConfirmation(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewMemoryStore(t)
	seed(t, store, testfixtures.Participants("alice"))
	coordinator := newCoordinator(store, nil, negotiation.Config{})

	result, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest(testfixtures.WithPreferred(at(0, 18, 0))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.RequiresConfirmation {
		t.Fatalf("expected confirmation to be required")
	}
	if result.DirectlyBookable || containsStart(result.Candidates, at(0, 18, 0)) {
		t.Fatalf("expected no slot outside working hours, got %+v", result.Candidates)
	}
	if !result.Success || len(result.Candidates) == 0 {
		t.Fatalf("expected alternatives to be offered")
	}
}

func TestNegotiateNoAvailabilityIsNotAnError(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewMemoryStore(t)
	seed(t, store, testfixtures.Participants("alice"))
	coordinator := newCoordinator(store, nil, negotiation.Config{})

	result, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest(testfixtures.WithDuration(9*60)))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Success || result.Outcome != negotiation.OutcomeNoAvailability || len(result.Candidates) != 0 {
		t.Fatalf("expected no availability, got %+v", result)
	}
	if result.Message == "" {
		t.Fatalf("expected an explanatory message")
	}
}

func TestNegotiateResolvesParticipants(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewMemoryStore(t)
	seed(t, store,
		[]persistence.Participant{testfixtures.Participant("alice"), testfixtures.Participant("bob"), testfixtures.InactiveParticipant("carol")},
		testfixtures.NewBlock("carol", at(0, 10, 0), at(0, 11, 0)),
	)
	coordinator := newCoordinator(store, nil, negotiation.Config{})

	t.Run("all active participants by default", func(t *testing.T) {
		result, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Participants) != 2 || result.Participants[0] != "alice" || result.Participants[1] != "bob" {
			t.Fatalf("expected alice and bob, got %v", result.Participants)
		}
		if !result.DirectlyBookable {
			t.Fatalf("expected inactive participant's block to be ignored")
		}
	})

	t.Run("unknown participant is a validation error", func(t *testing.T) {
		_, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest(testfixtures.WithParticipants("alice", "mallory")))
		var vErr *negotiation.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := vErr.FieldErrors["participants"]; !ok {
			t.Fatalf("expected participants field error, got %v", vErr.FieldErrors)
		}
	})

	t.Run("invalid request is rejected before any read", func(t *testing.T) {
		_, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest(testfixtures.WithDuration(0)))
		if negotiation.ErrorKind(err) != "validation" {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestScheduleInvalidSlotIndex(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewMemoryStore(t)
	seed(t, store, testfixtures.Participants("alice"))
	policy := scheduler.DefaultPolicy()
	policy.TopK = 3
	coordinator := newCoordinator(store, nil, negotiation.Config{Policy: policy})
	req := testfixtures.NewRequest(testfixtures.WithParticipants("alice"))

	negotiated, err := coordinator.Negotiate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(negotiated.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(negotiated.Candidates))
	}

	for _, index := range []int{5, 3, -1} {
		result, err := coordinator.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req, SlotIndex: index})
		if err != nil {
			t.Fatalf("expected structured result for index %d, got %v", index, err)
		}
		if result.Success || result.Outcome != negotiation.OutcomeInvalidSlotIndex || result.CandidateCount != 3 {
			t.Fatalf("expected invalid slot index for %d, got %+v", index, result)
		}
	}

	if meetings := listMeetings(t, store); len(meetings) != 0 {
		t.Fatalf("expected no meetings, got %d", len(meetings))
	}
	if n := countBlocks(t, store, "alice", at(0, 0, 0), at(14, 0, 0)); n != 0 {
		t.Fatalf("expected no blocks, got %d", n)
	}
	session, err := coordinator.Session(context.Background(), negotiated.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.State != negotiation.SessionNegotiating {
		t.Fatalf("expected session state to be unchanged, got %s", session.State)
	}
}

func TestScheduleIsIdempotent(t *testing.T) {
	t.Parallel()

	for name, factory := range backends {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := factory(t)
			seed(t, store, testfixtures.Participants("alice", "bob", "carol"))
			coordinator := newCoordinator(store, nil, negotiation.Config{})
			req := testfixtures.NewRequest(testfixtures.WithParticipants("alice", "bob", "carol"))

			first, err := coordinator.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req, SlotIndex: 0})
			if err != nil {
				t.Fatalf("first schedule failed: %v", err)
			}
			if !first.Success || first.Outcome != negotiation.OutcomeScheduled || first.Meeting == nil {
				t.Fatalf("expected scheduled meeting, got %+v", first)
			}
			if first.Meeting.Status != persistence.MeetingStatusScheduled || !first.Meeting.Start.Equal(at(0, 10, 0)) {
				t.Fatalf("unexpected meeting %+v", first.Meeting)
			}

			second, err := coordinator.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req, SlotIndex: 0})
			if err != nil {
				t.Fatalf("second schedule failed: %v", err)
			}
			if !second.Success || second.Outcome != negotiation.OutcomeAlreadyScheduled {
				t.Fatalf("expected replay, got %+v", second)
			}
			if second.Meeting == nil || second.Meeting.ID != first.Meeting.ID {
				t.Fatalf("expected the original meeting, got %+v", second.Meeting)
			}
			if second.SessionID != first.SessionID {
				t.Fatalf("expected the ranked session to be reused")
			}

			if meetings := listMeetings(t, store); len(meetings) != 1 {
				t.Fatalf("expected exactly one meeting, got %d", len(meetings))
			}
			for _, p := range []string{"alice", "bob", "carol"} {
				if n := countBlocks(t, store, p, at(0, 10, 0), at(0, 10, 30)); n != 1 {
					t.Fatalf("expected one block for %s, got %d", p, n)
				}
			}

			session, err := coordinator.Session(context.Background(), first.SessionID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if session.State != negotiation.SessionScheduled || session.MeetingID != first.Meeting.ID {
				t.Fatalf("expected scheduled session, got %+v", session)
			}
		})
	}
}

func TestScheduleConcurrentOverlappingCommits(t *testing.T) {
	t.Parallel()

	for name, factory := range backends {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store := factory(t)
			seed(t, store, testfixtures.Participants("alice", "bob"))
			coordinator := newCoordinator(store, nil, negotiation.Config{})

			requests := []negotiation.Request{
				testfixtures.NewRequest(testfixtures.WithTitle("Planning"), testfixtures.WithDuration(60), testfixtures.WithParticipants("alice")),
				testfixtures.NewRequest(testfixtures.WithTitle("1:1"), testfixtures.WithParticipants("alice", "bob")),
			}
			for _, req := range requests {
				if _, err := coordinator.Negotiate(context.Background(), req); err != nil {
					t.Fatalf("negotiate failed: %v", err)
				}
			}

			results := make([]negotiation.ScheduleResult, len(requests))
			errs := make([]error, len(requests))
			var wg sync.WaitGroup
			for i, req := range requests {
				wg.Add(1)
				go func(i int, req negotiation.Request) {
					defer wg.Done()
					results[i], errs[i] = coordinator.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req, SlotIndex: 0})
				}(i, req)
			}
			wg.Wait()

			scheduled, conflicted := 0, 0
			for i, result := range results {
				if errs[i] != nil {
					t.Fatalf("schedule %d failed: %v", i, errs[i])
				}
				switch result.Outcome {
				case negotiation.OutcomeScheduled:
					scheduled++
				case negotiation.OutcomeSlotConflict:
					conflicted++
					if len(result.Conflicts) == 0 {
						t.Fatalf("expected conflicts to be reported")
					}
				}
			}
			if scheduled != 1 || conflicted != 1 {
				t.Fatalf("expected one success and one conflict, got %d and %d", scheduled, conflicted)
			}
			if n := countBlocks(t, store, "alice", at(0, 10, 0), at(0, 11, 0)); n != 1 {
				t.Fatalf("expected a single block for alice, got %d", n)
			}
			if meetings := listMeetings(t, store); len(meetings) != 1 {
				t.Fatalf("expected a single meeting, got %d", len(meetings))
			}
		})
	}
}

func TestScheduleWithSessionID(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewSQLiteStore(t)
	seed(t, store, testfixtures.Participants("alice"))
	factory := testfixtures.NewServiceFactory()
	first := factory.NewCoordinator(testfixtures.CoordinatorDeps{Store: store})
	req := testfixtures.NewRequest(testfixtures.WithParticipants("alice"))

	negotiated, err := first.Negotiate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A fresh coordinator has no in-memory sessions and reads the stored ranking.
	second := factory.NewCoordinator(testfixtures.CoordinatorDeps{Store: store})

	t.Run("stored session is reused", func(t *testing.T) {
		result, err := second.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req, SlotIndex: 1, SessionID: negotiated.SessionID})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Outcome != negotiation.OutcomeScheduled || !result.Slot.Start.Equal(negotiated.Candidates[1].Start) {
			t.Fatalf("expected slot 1 of the stored ranking, got %+v", result)
		}
	})

	t.Run("mismatched request is rejected", func(t *testing.T) {
		other := testfixtures.NewRequest(testfixtures.WithTitle("Other"), testfixtures.WithParticipants("alice"))
		_, err := second.Schedule(context.Background(), negotiation.ScheduleRequest{Request: other, SessionID: negotiated.SessionID})
		var vErr *negotiation.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := second.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req, SessionID: "missing"})
		if !errors.Is(err, negotiation.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("scheduled session cannot commit another slot", func(t *testing.T) {
		_, err := second.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req, SlotIndex: 2, SessionID: negotiated.SessionID})
		if !errors.Is(err, negotiation.ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
	})
}

// failingBlocks fails the nth CreateBlock call.
type failingBlocks struct {
	*memory.Storage
	mu     sync.Mutex
	failOn int
	calls  int
}

func (f *failingBlocks) CreateBlock(ctx context.Context, block persistence.CalendarBlock) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failOn
	f.mu.Unlock()
	if fail {
		return fmt.Errorf("write block: %w", persistence.ErrUnavailable)
	}
	return f.Storage.CreateBlock(ctx, block)
}

func TestSchedulePartialCommitIsCompensated(t *testing.T) {
	t.Parallel()

	store := &failingBlocks{Storage: testfixtures.NewMemoryStore(t), failOn: 2}
	seed(t, store, testfixtures.Participants("alice", "bob"))
	coordinator := newCoordinator(store, nil, negotiation.Config{})
	req := testfixtures.NewRequest(testfixtures.WithParticipants("alice", "bob"))

	_, err := coordinator.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req})
	if !errors.Is(err, negotiation.ErrPartialCommit) || !negotiation.IsRetryable(err) {
		t.Fatalf("expected retryable partial commit, got %v", err)
	}
	var commitErr *negotiation.CommitError
	if !errors.As(err, &commitErr) || len(commitErr.RolledBack) != 1 {
		t.Fatalf("expected one rolled back block, got %v", err)
	}

	for _, p := range []string{"alice", "bob"} {
		if n := countBlocks(t, store, p, at(0, 0, 0), at(14, 0, 0)); n != 0 {
			t.Fatalf("expected compensation to remove %s's block, got %d", p, n)
		}
	}
	meetings := listMeetings(t, store)
	if len(meetings) != 1 || meetings[0].Status != persistence.MeetingStatusFailed {
		t.Fatalf("expected the meeting to be marked FAILED, got %+v", meetings)
	}

	// The failed meeting released its token, so a retry commits.
	retry, err := coordinator.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retry.Outcome != negotiation.OutcomeScheduled {
		t.Fatalf("expected retry to schedule, got %+v", retry)
	}
	for _, p := range []string{"alice", "bob"} {
		if n := countBlocks(t, store, p, at(0, 0, 0), at(14, 0, 0)); n != 1 {
			t.Fatalf("expected one block for %s after retry, got %d", p, n)
		}
	}
}

// gatedBlocks holds the first CreateBlock call until release is closed and
// then fails it. pending receives a signal whenever a token lookup observes a
// PENDING meeting.
type gatedBlocks struct {
	*memory.Storage
	entered chan struct{}
	release chan struct{}
	pending chan struct{}
	mu      sync.Mutex
	calls   int
}

func newGatedBlocks(t *testing.T) *gatedBlocks {
	return &gatedBlocks{
		Storage: testfixtures.NewMemoryStore(t),
		entered: make(chan struct{}),
		release: make(chan struct{}),
		pending: make(chan struct{}, 1),
	}
}

func (g *gatedBlocks) CreateBlock(ctx context.Context, block persistence.CalendarBlock) error {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
		return fmt.Errorf("write block: %w", persistence.ErrUnavailable)
	}
	return g.Storage.CreateBlock(ctx, block)
}

func (g *gatedBlocks) FindMeetingByToken(ctx context.Context, token string) (persistence.Meeting, error) {
	meeting, err := g.Storage.FindMeetingByToken(ctx, token)
	if err == nil && meeting.Status == persistence.MeetingStatusPending {
		select {
		case g.pending <- struct{}{}:
		default:
		}
	}
	return meeting, err
}

func TestScheduleDuplicateDuringFailingCommit(t *testing.T) {
	t.Parallel()

	store := newGatedBlocks(t)
	seed(t, store, testfixtures.Participants("alice", "bob"))
	coordinator := newCoordinator(store, nil, negotiation.Config{LockTimeout: 5 * time.Second})
	req := testfixtures.NewRequest(testfixtures.WithParticipants("alice", "bob"))

	negotiated, err := coordinator.Negotiate(context.Background(), req)
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}
	scheduleReq := negotiation.ScheduleRequest{Request: req, SessionID: negotiated.SessionID}

	firstErr := make(chan error, 1)
	go func() {
		_, err := coordinator.Schedule(context.Background(), scheduleReq)
		firstErr <- err
	}()
	<-store.entered

	type outcome struct {
		result negotiation.ScheduleResult
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		result, err := coordinator.Schedule(context.Background(), scheduleReq)
		second <- outcome{result, err}
	}()

	select {
	case <-store.pending:
	case <-time.After(2 * time.Second):
		t.Fatal("second schedule never looked up the pending meeting")
	}
	close(store.release)

	if err := <-firstErr; !errors.Is(err, negotiation.ErrPartialCommit) {
		t.Fatalf("expected the first commit to fail, got %v", err)
	}
	got := <-second
	if got.err != nil {
		t.Fatalf("second schedule failed: %v", got.err)
	}
	if !got.result.Success || got.result.Outcome != negotiation.OutcomeScheduled {
		t.Fatalf("expected the second call to commit its own meeting, got %+v", got.result)
	}
	if got.result.Meeting == nil || got.result.Meeting.Status != persistence.MeetingStatusScheduled {
		t.Fatalf("expected a scheduled meeting, got %+v", got.result.Meeting)
	}

	scheduled := 0
	for _, meeting := range listMeetings(t, store) {
		if meeting.Status == persistence.MeetingStatusScheduled {
			scheduled++
			if meeting.ID != got.result.Meeting.ID {
				t.Fatalf("unexpected scheduled meeting %s", meeting.ID)
			}
		}
	}
	if scheduled != 1 {
		t.Fatalf("expected exactly one scheduled meeting, got %d", scheduled)
	}
	for _, p := range []string{"alice", "bob"} {
		if n := countBlocks(t, store, p, at(0, 0, 0), at(14, 0, 0)); n != 1 {
			t.Fatalf("expected one block for %s, got %d", p, n)
		}
	}

	session, err := coordinator.Session(context.Background(), negotiated.SessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.State != negotiation.SessionScheduled || session.MeetingID != got.result.Meeting.ID {
		t.Fatalf("expected the session to point at the committed meeting, got %+v", session)
	}
}

// failingTxBlocks fails the nth CreateBlock call inside the SQLite transaction.
type failingTxBlocks struct {
	*sqlite.Store
	failOn int
	calls  int
}

func (f *failingTxBlocks) CreateBlock(ctx context.Context, block persistence.CalendarBlock) error {
	f.calls++
	if f.calls == f.failOn {
		return fmt.Errorf("write block: %w", persistence.ErrUnavailable)
	}
	return f.Store.CreateBlock(ctx, block)
}

func TestSchedulePartialCommitRollsBackTransaction(t *testing.T) {
	t.Parallel()

	base := testfixtures.NewSQLiteStore(t)
	seed(t, base, testfixtures.Participants("alice", "bob"))
	store := &failingTxBlocks{Store: base, failOn: 2}
	coordinator := newCoordinator(store, nil, negotiation.Config{})
	req := testfixtures.NewRequest(testfixtures.WithParticipants("alice", "bob"))

	_, err := coordinator.Schedule(context.Background(), negotiation.ScheduleRequest{Request: req})
	if !errors.Is(err, negotiation.ErrPartialCommit) {
		t.Fatalf("expected partial commit, got %v", err)
	}
	if meetings := listMeetings(t, store); len(meetings) != 0 {
		t.Fatalf("expected the transaction to roll back the meeting, got %+v", meetings)
	}
	if n := countBlocks(t, store, "alice", at(0, 0, 0), at(14, 0, 0)); n != 0 {
		t.Fatalf("expected the transaction to roll back alice's block, got %d", n)
	}
}

// offlineCalendar fails every calendar read.
type offlineCalendar struct {
	*memory.Storage
}

func (offlineCalendar) GetBlocks(context.Context, string, time.Time, time.Time) ([]persistence.CalendarBlock, error) {
	return nil, fmt.Errorf("dial calendar: %w", persistence.ErrUnavailable)
}

func TestCollaboratorUnavailable(t *testing.T) {
	t.Parallel()

	store := offlineCalendar{Storage: testfixtures.NewMemoryStore(t)}
	seed(t, store, testfixtures.Participants("alice"))
	broadcaster := broadcast.New()
	t.Cleanup(broadcaster.Close)
	sub := broadcaster.Subscribe(events.TopicNegotiation)
	coordinator := newCoordinator(store, negotiation.SinkHooks(broadcaster), negotiation.Config{})

	_, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest())
	if !errors.Is(err, negotiation.ErrCollaboratorUnavailable) || !negotiation.IsRetryable(err) {
		t.Fatalf("expected retryable collaborator error, got %v", err)
	}
	if !errors.Is(err, persistence.ErrUnavailable) {
		t.Fatalf("expected the store error to stay in the chain, got %v", err)
	}

	_, err = coordinator.Schedule(context.Background(), negotiation.ScheduleRequest{Request: testfixtures.NewRequest()})
	if !errors.Is(err, negotiation.ErrCollaboratorUnavailable) {
		t.Fatalf("expected schedule to fail fast, got %v", err)
	}
	if meetings := listMeetings(t, store); len(meetings) != 0 {
		t.Fatalf("expected no partial state, got %d meetings", len(meetings))
	}

	var result events.Event
	for event := range sub.C() {
		if event.Kind == events.KindResult {
			result = event
			break
		}
	}
	if result.Payload.ErrorKind != "collaborator_unavailable" || !result.Payload.Retryable {
		t.Fatalf("expected retryable collaborator result event, got %+v", result.Payload)
	}
}

func TestNegotiateEventsAreOrdered(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewMemoryStore(t)
	seed(t, store, testfixtures.Participants("alice"))
	broadcaster := broadcast.New()
	t.Cleanup(broadcaster.Close)
	sub := broadcaster.Subscribe(events.TopicNegotiation)
	coordinator := newCoordinator(store, negotiation.SinkHooks(broadcaster), negotiation.Config{})

	result, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var received []events.Event
	timeout := time.After(2 * time.Second)
	for len(received) == 0 || received[len(received)-1].Kind != events.KindResult {
		select {
		case event := <-sub.C():
			received = append(received, event)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(received))
		}
	}

	if received[0].Payload.Stage != events.StageSessionStarted {
		t.Fatalf("expected session start first, got %s", received[0].Payload.Stage)
	}
	reasoning := 0
	for i, event := range received {
		if event.SessionID != result.SessionID {
			t.Fatalf("unexpected session %s", event.SessionID)
		}
		if event.Sequence != uint64(i+1) {
			t.Fatalf("expected sequence %d, got %d", i+1, event.Sequence)
		}
		if event.Kind == events.KindReasoning {
			reasoning++
		}
	}
	if reasoning != 3 {
		t.Fatalf("expected reasoning for the top 3 slots, got %d", reasoning)
	}
	final := received[len(received)-1].Payload
	if final.Stage != events.StageNegotiationResult || final.Success == nil || !*final.Success || len(final.Slots) != 10 {
		t.Fatalf("unexpected result payload %+v", final)
	}
}

type stubExplainer struct {
	err error
}

func (s stubExplainer) Explain(_ context.Context, input negotiation.ExplainInput) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("narrated %d", input.Rank), nil
}

func TestNegotiateNarratesTopSlots(t *testing.T) {
	t.Parallel()

	store := testfixtures.NewMemoryStore(t)
	seed(t, store, testfixtures.Participants("alice"))

	t.Run("narrator output replaces the template", func(t *testing.T) {
		coordinator := newCoordinator(store, nil, negotiation.Config{Explainer: stubExplainer{}, NarrateTop: 2})
		result, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Candidates[0].Explanation != "narrated 1" || result.Candidates[1].Explanation != "narrated 2" {
			t.Fatalf("expected narrated explanations, got %q and %q", result.Candidates[0].Explanation, result.Candidates[1].Explanation)
		}
		if result.Candidates[2].Explanation == "narrated 3" || result.Candidates[2].Explanation == "" {
			t.Fatalf("expected template explanation past the narrated slots, got %q", result.Candidates[2].Explanation)
		}
	})

	t.Run("narrator failures fall back to the template", func(t *testing.T) {
		coordinator := newCoordinator(store, nil, negotiation.Config{Explainer: stubExplainer{err: errors.New("timeout")}})
		result, err := coordinator.Negotiate(context.Background(), testfixtures.NewRequest())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Candidates[0].Explanation != "This is your preferred time and it's available! (on your preferred date, at your preferred hour, mid-week, during core hours)" {
			t.Fatalf("unexpected fallback explanation %q", result.Candidates[0].Explanation)
		}
	})
}

func TestExpiredSessionsAreEvictedButStillLoadable(t *testing.T) {
	ctx := context.Background()
	store := testfixtures.NewMemoryStore(t)
	testfixtures.Seed(t, store, testfixtures.Participants("alice"))

	clock := testfixtures.NewClock(time.Time{})
	var (
		mu      sync.Mutex
		evicted []string
	)
	coordinator := testfixtures.NewServiceFactory(testfixtures.WithClock(clock)).NewCoordinator(testfixtures.CoordinatorDeps{
		Store: store,
		Config: negotiation.Config{
			SessionTTL: time.Minute,
			OnSessionEvicted: func(id string) {
				mu.Lock()
				evicted = append(evicted, id)
				mu.Unlock()
			},
		},
	})

	first, err := coordinator.Negotiate(ctx, testfixtures.NewRequest(testfixtures.WithParticipants("alice")))
	if err != nil {
		t.Fatalf("Negotiate returned error: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := coordinator.Negotiate(ctx, testfixtures.NewRequest(testfixtures.WithParticipants("alice"), testfixtures.WithTitle("Retro"))); err != nil {
		t.Fatalf("second Negotiate returned error: %v", err)
	}

	mu.Lock()
	got := append([]string(nil), evicted...)
	mu.Unlock()
	if len(got) != 1 || got[0] != first.SessionID {
		t.Fatalf("expected %s to be evicted, got %v", first.SessionID, got)
	}

	session, err := coordinator.Session(ctx, first.SessionID)
	if err != nil {
		t.Fatalf("evicted session should load from the store: %v", err)
	}
	if session.State != negotiation.SessionNegotiating || len(session.Result.Candidates) == 0 {
		t.Fatalf("unexpected reloaded session %+v", session)
	}
}

func TestSequenceContinuesAfterSessionReload(t *testing.T) {
	ctx := context.Background()
	store := testfixtures.NewMemoryStore(t)
	testfixtures.Seed(t, store, testfixtures.Participants("alice"))

	broadcaster := broadcast.New(broadcast.WithSequenceSource(store))
	recorder := broadcast.NewRecorder(broadcaster, events.TopicNegotiation, store, nil)
	go recorder.Run(ctx)
	sub := broadcaster.Subscribe(events.TopicNegotiation)
	t.Cleanup(func() {
		broadcaster.Close()
		<-recorder.Done()
	})

	clock := testfixtures.NewClock(time.Time{})
	coordinator := testfixtures.NewServiceFactory(testfixtures.WithClock(clock)).NewCoordinator(testfixtures.CoordinatorDeps{
		Store: store,
		Hooks: negotiation.SinkHooks(broadcaster),
		Config: negotiation.Config{
			SessionTTL:       time.Minute,
			OnSessionEvicted: broadcaster.Forget,
		},
	})

	req := testfixtures.NewRequest(testfixtures.WithParticipants("alice"))
	negotiated, err := coordinator.Negotiate(ctx, req)
	if err != nil {
		t.Fatalf("Negotiate returned error: %v", err)
	}
	var live []uint64
	collect := func(stage string) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case event := <-sub.C():
				if event.SessionID != negotiated.SessionID {
					continue
				}
				live = append(live, event.Sequence)
				if event.Kind == events.KindResult && event.Payload.Stage == stage {
					return
				}
			case <-timeout:
				t.Fatalf("timed out waiting for %s", stage)
			}
		}
	}
	collect(events.StageNegotiationResult)
	waitRecorded(t, store, negotiated.SessionID, uint64(len(live)))

	clock.Advance(2 * time.Minute)
	if _, err := coordinator.Negotiate(ctx, testfixtures.NewRequest(testfixtures.WithParticipants("alice"), testfixtures.WithTitle("Retro"))); err != nil {
		t.Fatalf("second Negotiate returned error: %v", err)
	}

	result, err := coordinator.Schedule(ctx, negotiation.ScheduleRequest{Request: req, SessionID: negotiated.SessionID})
	if err != nil || result.Outcome != negotiation.OutcomeScheduled {
		t.Fatalf("expected the reloaded session to schedule, got %+v (%v)", result, err)
	}
	collect(events.StageMeetingScheduled)

	for i, sequence := range live {
		if sequence != uint64(i+1) {
			t.Fatalf("expected contiguous sequences, got %v", live)
		}
	}
	waitRecorded(t, store, negotiated.SessionID, uint64(len(live)))
	recorded, err := store.ListEvents(ctx, negotiated.SessionID)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(recorded) != len(live) {
		t.Fatalf("expected %d recorded events, got %d", len(live), len(recorded))
	}
}

func waitRecorded(t *testing.T, store persistence.EventRepository, sessionID string, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		last, err := store.LastEventSequence(context.Background(), sessionID)
		if err == nil && last == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d recorded events for %s, last sequence %d (%v)", want, sessionID, last, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
