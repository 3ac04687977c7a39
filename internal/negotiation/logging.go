package negotiation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/negotiation-scheduler/internal/logging"
)

var defaultLogger = logging.Default

// serviceLogger scopes the request logger, or base, to one coordinator operation.
func serviceLogger(ctx context.Context, base *slog.Logger, operation string, attrs ...any) *slog.Logger {
	pairs := append([]any{"service", "negotiation", "operation", operation}, attrs...)
	return logging.Resolve(ctx, base).With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrPartialCommit):
		return "partial_commit"
	case errors.Is(err, ErrLockUnavailable):
		return "lock_unavailable"
	case errors.Is(err, ErrCollaboratorUnavailable):
		return "collaborator_unavailable"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return "validation"
	}

	return "unexpected"
}

// OutcomeKind maps expected outcomes to the same label space as ErrorKind.
func OutcomeKind(outcome Outcome) string {
	switch outcome {
	case OutcomeNoAvailability, OutcomeInvalidSlotIndex, OutcomeSlotConflict:
		return string(outcome)
	}
	return ""
}
