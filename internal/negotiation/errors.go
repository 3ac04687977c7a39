package negotiation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCollaboratorUnavailable is returned when the calendar or meeting store cannot be reached.
	ErrCollaboratorUnavailable = errors.New("negotiation: collaborator unavailable")
	// ErrLockUnavailable is returned when participant locks cannot be acquired in time.
	ErrLockUnavailable = errors.New("negotiation: participant lock unavailable")
	// ErrPartialCommit is returned when a commit failed after some writes and was rolled back.
	ErrPartialCommit = errors.New("negotiation: partial commit rolled back")
	// ErrSessionNotFound is returned when a referenced session does not exist.
	ErrSessionNotFound = errors.New("negotiation: session not found")
	// ErrSessionClosed is returned when a finished session cannot commit another slot.
	ErrSessionClosed = errors.New("negotiation: session closed")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// CommitError reports a scheduling failure after the commit started writing.
// Any blocks written before the failure have been removed and the meeting, if
// created, is marked FAILED. It matches ErrPartialCommit and its cause.
type CommitError struct {
	MeetingID  string
	RolledBack []string
	Err        error
}

func (e *CommitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "negotiation: commit of meeting %s failed", e.MeetingID)
	if len(e.RolledBack) > 0 {
		fmt.Fprintf(&b, " (rolled back %d blocks)", len(e.RolledBack))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CommitError) Unwrap() []error {
	return []error{ErrPartialCommit, e.Err}
}

// IsRetryable reports whether the caller may retry the operation unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCollaboratorUnavailable) ||
		errors.Is(err, ErrLockUnavailable) ||
		errors.Is(err, ErrPartialCommit)
}

func unavailable(op string, err error) error {
	if errors.Is(err, ErrCollaboratorUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrCollaboratorUnavailable, err)
}
