// Package memory provides a map-backed persistence.Store without transactions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

// Storage provides an in-memory implementation of persistence.Store.
type Storage struct {
	mu           sync.RWMutex
	participants map[string]persistence.Participant
	blocks       map[string]persistence.CalendarBlock
	meetings     map[string]persistence.Meeting
	tokens       map[string]string
	sessions     map[string]persistence.NegotiationSession
	events       map[string][]persistence.EventRecord
}

// Open returns a new empty Storage.
func Open() *Storage {
	return &Storage{
		participants: make(map[string]persistence.Participant),
		blocks:       make(map[string]persistence.CalendarBlock),
		meetings:     make(map[string]persistence.Meeting),
		tokens:       make(map[string]string),
		sessions:     make(map[string]persistence.NegotiationSession),
		events:       make(map[string][]persistence.EventRecord),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

// Ping always succeeds.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// --- ParticipantRepository implementation ---

// UpsertParticipant inserts or replaces a participant.
func (s *Storage) UpsertParticipant(_ context.Context, participant persistence.Participant) error {
	if participant.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.participants[participant.ID]; ok && participant.CreatedAt.IsZero() {
		participant.CreatedAt = existing.CreatedAt
	}
	s.participants[participant.ID] = participant
	return nil
}

// GetParticipant retrieves a participant by ID.
func (s *Storage) GetParticipant(_ context.Context, id string) (persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participant, ok := s.participants[id]
	if !ok {
		return persistence.Participant{}, persistence.ErrNotFound
	}
	return participant, nil
}

// ListParticipants returns all participants ordered by ID.
func (s *Storage) ListParticipants(context.Context) ([]persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Participant, 0, len(s.participants))
	for _, participant := range s.participants {
		out = append(out, participant)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- CalendarRepository implementation ---

// GetBlocks returns the owner's blocks overlapping [from, to) ordered by start.
func (s *Storage) GetBlocks(_ context.Context, ownerID string, from, to time.Time) ([]persistence.CalendarBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persistence.CalendarBlock
	for _, block := range s.blocks {
		if block.OwnerID != ownerID {
			continue
		}
		if !block.Start.Before(to) || !from.Before(block.End) {
			continue
		}
		out = append(out, block)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// CreateBlock stores a new block.
func (s *Storage) CreateBlock(_ context.Context, block persistence.CalendarBlock) error {
	if err := persistence.ValidateBlock(block); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[block.ID]; ok {
		return fmt.Errorf("memory: block %s: %w", block.ID, persistence.ErrDuplicate)
	}
	s.blocks[block.ID] = block
	return nil
}

// DeleteBlock removes a block.
func (s *Storage) DeleteBlock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.blocks, id)
	return nil
}

// --- MeetingRepository implementation ---

// CreateMeeting stores a new meeting and reserves its idempotency token.
func (s *Storage) CreateMeeting(_ context.Context, meeting persistence.Meeting) error {
	if err := persistence.ValidateMeeting(meeting); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meetings[meeting.ID]; ok {
		return fmt.Errorf("memory: meeting %s: %w", meeting.ID, persistence.ErrDuplicate)
	}
	if meeting.IdempotencyToken != "" {
		if _, ok := s.tokens[meeting.IdempotencyToken]; ok {
			return fmt.Errorf("memory: idempotency token: %w", persistence.ErrDuplicate)
		}
		s.tokens[meeting.IdempotencyToken] = meeting.ID
	}
	s.meetings[meeting.ID] = cloneMeeting(meeting)
	return nil
}

// GetMeeting retrieves a meeting by ID.
func (s *Storage) GetMeeting(_ context.Context, id string) (persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return cloneMeeting(meeting), nil
}

// FindMeetingByToken retrieves the meeting holding the idempotency token.
func (s *Storage) FindMeetingByToken(_ context.Context, token string) (persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tokens[token]
	if !ok {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return cloneMeeting(s.meetings[id]), nil
}

// UpdateMeetingStatus sets the meeting status, releasing the token on failure.
func (s *Storage) UpdateMeetingStatus(_ context.Context, id string, status persistence.MeetingStatus, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return persistence.ErrNotFound
	}
	meeting.Status = status
	meeting.UpdatedAt = updatedAt
	if status == persistence.MeetingStatusFailed && meeting.IdempotencyToken != "" {
		delete(s.tokens, meeting.IdempotencyToken)
		meeting.IdempotencyToken = ""
	}
	s.meetings[id] = meeting
	return nil
}

// ListMeetings returns all meetings ordered by CreatedAt ascending.
func (s *Storage) ListMeetings(context.Context) ([]persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Meeting, 0, len(s.meetings))
	for _, meeting := range s.meetings {
		out = append(out, cloneMeeting(meeting))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- SessionRepository implementation ---

// SaveSession inserts or replaces a session snapshot.
func (s *Storage) SaveSession(_ context.Context, session persistence.NegotiationSession) error {
	if session.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session.Candidates = append([]byte(nil), session.Candidates...)
	s.sessions[session.ID] = session
	return nil
}

// GetSession retrieves a session by ID.
func (s *Storage) GetSession(_ context.Context, id string) (persistence.NegotiationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.NegotiationSession{}, persistence.ErrNotFound
	}
	session.Candidates = append([]byte(nil), session.Candidates...)
	return session, nil
}

// FindLatestSession returns the most recently updated session for the fingerprint.
func (s *Storage) FindLatestSession(_ context.Context, fingerprint string) (persistence.NegotiationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest persistence.NegotiationSession
		found  bool
	)
	for _, session := range s.sessions {
		if session.Fingerprint != fingerprint {
			continue
		}
		if !found || session.UpdatedAt.After(latest.UpdatedAt) ||
			(session.UpdatedAt.Equal(latest.UpdatedAt) && session.CreatedAt.After(latest.CreatedAt)) {
			latest = session
			found = true
		}
	}
	if !found {
		return persistence.NegotiationSession{}, persistence.ErrNotFound
	}
	latest.Candidates = append([]byte(nil), latest.Candidates...)
	return latest, nil
}

// --- EventRepository implementation ---

// AppendEvent appends an event to the session's log.
func (s *Storage) AppendEvent(_ context.Context, record persistence.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.events[record.SessionID] {
		if existing.Sequence == record.Sequence {
			return fmt.Errorf("memory: event %s/%d: %w", record.SessionID, record.Sequence, persistence.ErrDuplicate)
		}
	}
	record.Payload = append([]byte(nil), record.Payload...)
	s.events[record.SessionID] = append(s.events[record.SessionID], record)
	return nil
}

// ListEvents returns the session's events ordered by sequence.
func (s *Storage) ListEvents(_ context.Context, sessionID string) ([]persistence.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.EventRecord, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// LastEventSequence returns the highest recorded sequence for the session.
func (s *Storage) LastEventSequence(_ context.Context, sessionID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last uint64
	for _, record := range s.events[sessionID] {
		last = max(last, record.Sequence)
	}
	return last, nil
}

func cloneMeeting(meeting persistence.Meeting) persistence.Meeting {
	meeting.Participants = append([]string(nil), meeting.Participants...)
	if meeting.CommittedStart != nil {
		start := *meeting.CommittedStart
		meeting.CommittedStart = &start
	}
	if meeting.CommittedEnd != nil {
		end := *meeting.CommittedEnd
		meeting.CommittedEnd = &end
	}
	return meeting
}

var _ persistence.Store = (*Storage)(nil)
