package negotiation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"title": "title is required"}}
	if got := withFields.Error(); got != "validation failed" {
		t.Fatalf("expected consistent message for populated error, got %q", got)
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	if base.HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	base.add("title", "required")
	base.merge(&ValidationError{FieldErrors: map[string]string{"duration_minutes": "positive"}})
	base.merge(nil)

	if len(base.FieldErrors) != 2 || !base.HasErrors() {
		t.Fatalf("expected two field errors, got %+v", base.FieldErrors)
	}
}

func TestCommitErrorMatchesPartialCommitAndCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := fmt.Errorf("schedule: %w", &CommitError{MeetingID: "m-1", RolledBack: []string{"b-1", "b-2"}, Err: cause})

	if !errors.Is(err, ErrPartialCommit) {
		t.Fatalf("expected ErrPartialCommit, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable, got %v", err)
	}
	var commitErr *CommitError
	if !errors.As(err, &commitErr) || commitErr.MeetingID != "m-1" {
		t.Fatalf("expected CommitError for m-1, got %v", err)
	}
	if !strings.Contains(err.Error(), "rolled back 2 blocks") {
		t.Fatalf("expected rollback count in message, got %q", err.Error())
	}
	if !IsRetryable(err) {
		t.Fatalf("expected partial commit to be retryable")
	}
}

func TestUnavailableWrapsOnce(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	first := unavailable("get blocks", cause)
	second := unavailable("search", first)

	if second != first {
		t.Fatalf("expected already wrapped error to be returned unchanged")
	}
	if !errors.Is(second, ErrCollaboratorUnavailable) || !errors.Is(second, cause) {
		t.Fatalf("expected sentinel and cause in chain, got %v", second)
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", &ValidationError{FieldErrors: map[string]string{"title": "required"}}, "validation"},
		{"wrapped validation", fmt.Errorf("parse: %w", &ValidationError{}), "validation"},
		{"partial commit", &CommitError{Err: errors.New("boom")}, "partial_commit"},
		{"lock", fmt.Errorf("%w: timed out", ErrLockUnavailable), "lock_unavailable"},
		{"collaborator", unavailable("get blocks", errors.New("down")), "collaborator_unavailable"},
		{"session not found", fmt.Errorf("%w: s-1", ErrSessionNotFound), "session_not_found"},
		{"session closed", ErrSessionClosed, "session_closed"},
		{"unexpected", errors.New("boom"), "unexpected"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ErrorKind(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestOutcomeKind(t *testing.T) {
	t.Parallel()

	if got := OutcomeKind(OutcomeSlotConflict); got != "slot_conflict" {
		t.Fatalf("expected slot_conflict, got %q", got)
	}
	if got := OutcomeKind(OutcomeScheduled); got != "" {
		t.Fatalf("expected no label for success, got %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	if IsRetryable(&ValidationError{}) {
		t.Fatalf("validation errors are not retryable")
	}
	if IsRetryable(ErrSessionClosed) {
		t.Fatalf("closed sessions are not retryable")
	}
	if !IsRetryable(fmt.Errorf("%w: timed out", ErrLockUnavailable)) {
		t.Fatalf("lock timeouts are retryable")
	}
}

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}
	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}
