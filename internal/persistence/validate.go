package persistence

import "fmt"

// ValidateBlock checks the invariants every backend enforces on calendar blocks.
func ValidateBlock(block CalendarBlock) error {
	if block.ID == "" || block.OwnerID == "" {
		return fmt.Errorf("calendar block requires id and owner: %w", ErrConstraintViolation)
	}
	if !block.Start.Before(block.End) {
		return fmt.Errorf("calendar block %s must start before it ends: %w", block.ID, ErrConstraintViolation)
	}
	switch block.Kind {
	case BlockKindBusy, BlockKindAvailable, BlockKindFlexible, BlockKindBreak:
	default:
		return fmt.Errorf("calendar block %s has unknown kind %q: %w", block.ID, block.Kind, ErrConstraintViolation)
	}
	if block.Priority < 1 || block.Priority > 10 {
		return fmt.Errorf("calendar block %s priority %d outside 1..10: %w", block.ID, block.Priority, ErrConstraintViolation)
	}
	return nil
}

// ValidateMeeting checks the invariants every backend enforces on meetings.
func ValidateMeeting(meeting Meeting) error {
	if meeting.ID == "" {
		return fmt.Errorf("meeting requires id: %w", ErrConstraintViolation)
	}
	if meeting.DurationMinutes <= 0 {
		return fmt.Errorf("meeting %s duration must be positive: %w", meeting.ID, ErrConstraintViolation)
	}
	switch meeting.Status {
	case MeetingStatusPending, MeetingStatusScheduled, MeetingStatusFailed:
	default:
		return fmt.Errorf("meeting %s has unknown status %q: %w", meeting.ID, meeting.Status, ErrConstraintViolation)
	}
	return nil
}
