package persistence

import "time"

// BlockKind mirrors the calendar block classification stored in the database.
type BlockKind string

const (
	BlockKindBusy      BlockKind = "BUSY"
	BlockKindAvailable BlockKind = "AVAILABLE"
	BlockKindFlexible  BlockKind = "FLEXIBLE"
	BlockKindBreak     BlockKind = "BREAK"
)

// MeetingStatus is the lifecycle state of a committed meeting.
type MeetingStatus string

const (
	MeetingStatusPending   MeetingStatus = "PENDING"
	MeetingStatusScheduled MeetingStatus = "SCHEDULED"
	MeetingStatusFailed    MeetingStatus = "FAILED"
)

// Participant represents a calendar owner.
type Participant struct {
	ID          string
	DisplayName string
	Email       string
	Active      bool
	CreatedAt   time.Time
}

// CalendarBlock is an interval on a participant's calendar.
type CalendarBlock struct {
	ID         string
	OwnerID    string
	Title      string
	Start      time.Time
	End        time.Time
	Kind       BlockKind
	Priority   int
	IsFlexible bool
	// MeetingID links blocks created by a committed meeting.
	MeetingID string
	CreatedAt time.Time
}

// Meeting is a meeting committed by the negotiation engine.
type Meeting struct {
	ID               string
	Title            string
	DurationMinutes  int
	RequestedStart   time.Time
	RequestedEnd     time.Time
	CommittedStart   *time.Time
	CommittedEnd     *time.Time
	Status           MeetingStatus
	IdempotencyToken string
	Participants     []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NegotiationSession is the stored snapshot of one negotiation.
type NegotiationSession struct {
	ID          string
	Fingerprint string
	State       string
	Title       string
	// Candidates holds the ranked negotiation result as an opaque JSON document.
	Candidates []byte
	MeetingID  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EventRecord is a persisted negotiation event.
type EventRecord struct {
	SessionID string
	Sequence  uint64
	Kind      string
	Payload   []byte
	CreatedAt time.Time
}
