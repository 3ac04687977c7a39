package persistence

import (
	"context"
	"time"
)

// ParticipantRepository stores calendar owners.
type ParticipantRepository interface {
	UpsertParticipant(ctx context.Context, participant Participant) error
	GetParticipant(ctx context.Context, id string) (Participant, error)
	ListParticipants(ctx context.Context) ([]Participant, error)
}

// CalendarRepository stores calendar blocks.
type CalendarRepository interface {
	// GetBlocks returns the owner's blocks overlapping [from, to) ordered by start.
	GetBlocks(ctx context.Context, ownerID string, from, to time.Time) ([]CalendarBlock, error)
	CreateBlock(ctx context.Context, block CalendarBlock) error
	DeleteBlock(ctx context.Context, id string) error
}

// MeetingRepository stores committed meetings.
type MeetingRepository interface {
	CreateMeeting(ctx context.Context, meeting Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	// FindMeetingByToken returns ErrNotFound when no meeting holds the token.
	FindMeetingByToken(ctx context.Context, token string) (Meeting, error)
	// UpdateMeetingStatus sets the status. Moving a meeting to FAILED also
	// releases its idempotency token so a retry can commit again.
	UpdateMeetingStatus(ctx context.Context, id string, status MeetingStatus, updatedAt time.Time) error
	ListMeetings(ctx context.Context) ([]Meeting, error)
}

// SessionRepository stores negotiation session snapshots.
type SessionRepository interface {
	SaveSession(ctx context.Context, session NegotiationSession) error
	GetSession(ctx context.Context, id string) (NegotiationSession, error)
	// FindLatestSession returns the most recently updated session for the fingerprint.
	FindLatestSession(ctx context.Context, fingerprint string) (NegotiationSession, error)
}

// EventRepository stores the negotiation event log.
type EventRepository interface {
	AppendEvent(ctx context.Context, record EventRecord) error
	ListEvents(ctx context.Context, sessionID string) ([]EventRecord, error)
	// LastEventSequence returns the highest stored sequence of the session,
	// or zero when it has no events.
	LastEventSequence(ctx context.Context, sessionID string) (uint64, error)
}

// Transactor runs fn in a single transaction carried by the context passed to fn.
// Repository calls made with that context join the transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ParticipantLocker serializes writers per participant inside a transaction.
type ParticipantLocker interface {
	LockParticipants(ctx context.Context, participantIDs []string) error
}

// Store groups every repository a backend provides.
type Store interface {
	ParticipantRepository
	CalendarRepository
	MeetingRepository
	SessionRepository
	EventRepository
	Ping(ctx context.Context) error
	Close() error
}
