// Package postgres implements persistence.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

// Store is a pgx-backed persistence.Store. Repository calls join the
// transaction carried by their context when one is present.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ persistence.Store             = (*Store)(nil)
	_ persistence.Transactor        = (*Store)(nil)
	_ persistence.ParticipantLocker = (*Store)(nil)
)

// Open connects a pool to the database at databaseURL.
func Open(ctx context.Context, databaseURL string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.pool)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.pool, fn)
}

// LockParticipants serializes commits per participant until the surrounding
// transaction ends.
func (s *Store) LockParticipants(ctx context.Context, participantIDs []string) error {
	return lockParticipants(ctx, participantIDs)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", persistence.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- participants ---

func (s *Store) UpsertParticipant(ctx context.Context, participant persistence.Participant) error {
	if participant.ID == "" {
		return fmt.Errorf("participant requires id: %w", persistence.ErrConstraintViolation)
	}
	const stmt = `
INSERT INTO participants (id, display_name, email, active, created_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5)
ON CONFLICT (id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	email = EXCLUDED.email,
	active = EXCLUDED.active`

	if _, err := s.exec(ctx, stmt, participant.ID, participant.DisplayName, participant.Email, participant.Active, participant.CreatedAt); err != nil {
		return fmt.Errorf("upsert participant: %w", mapError(err))
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (persistence.Participant, error) {
	const query = `SELECT id, display_name, COALESCE(email, ''), active, created_at FROM participants WHERE id = $1`
	var p persistence.Participant
	if err := s.queryRow(ctx, query, id).Scan(&p.ID, &p.DisplayName, &p.Email, &p.Active, &p.CreatedAt); err != nil {
		return persistence.Participant{}, mapError(err)
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]persistence.Participant, error) {
	const query = `SELECT id, display_name, COALESCE(email, ''), active, created_at FROM participants ORDER BY id`
	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", mapError(err))
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (persistence.Participant, error) {
		var p persistence.Participant
		err := row.Scan(&p.ID, &p.DisplayName, &p.Email, &p.Active, &p.CreatedAt)
		return p, err
	})
}

// --- calendar ---

const blockColumns = `id, owner_id, title, start_at, end_at, kind, priority, is_flexible, COALESCE(meeting_id, ''), created_at`

func (s *Store) GetBlocks(ctx context.Context, ownerID string, from, to time.Time) ([]persistence.CalendarBlock, error) {
	query := `SELECT ` + blockColumns + `
FROM calendar_blocks
WHERE owner_id = $1 AND start_at < $2 AND end_at > $3
ORDER BY start_at, id`

	rows, err := s.query(ctx, query, ownerID, to, from)
	if err != nil {
		return nil, fmt.Errorf("get blocks: %w", mapError(err))
	}
	blocks, err := pgx.CollectRows(rows, scanBlock)
	if err != nil {
		return nil, fmt.Errorf("get blocks: %w", mapError(err))
	}
	return blocks, nil
}

func (s *Store) CreateBlock(ctx context.Context, block persistence.CalendarBlock) error {
	if err := persistence.ValidateBlock(block); err != nil {
		return err
	}
	const stmt = `
INSERT INTO calendar_blocks (id, owner_id, title, start_at, end_at, kind, priority, is_flexible, meeting_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)`

	_, err := s.exec(ctx, stmt,
		block.ID,
		block.OwnerID,
		block.Title,
		block.Start,
		block.End,
		string(block.Kind),
		block.Priority,
		block.IsFlexible,
		block.MeetingID,
		block.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create block: %w", mapError(err))
	}
	return nil
}

func (s *Store) DeleteBlock(ctx context.Context, id string) error {
	tag, err := s.exec(ctx, `DELETE FROM calendar_blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete block: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func scanBlock(row pgx.CollectableRow) (persistence.CalendarBlock, error) {
	var (
		b    persistence.CalendarBlock
		kind string
	)
	err := row.Scan(&b.ID, &b.OwnerID, &b.Title, &b.Start, &b.End, &kind, &b.Priority, &b.IsFlexible, &b.MeetingID, &b.CreatedAt)
	b.Kind = persistence.BlockKind(kind)
	return b, err
}

// --- meetings ---

const meetingColumns = `id, title, duration_minutes, requested_start, requested_end, committed_start, committed_end,
	status, COALESCE(idempotency_token, ''), participants, created_at, updated_at`

func (s *Store) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	if err := persistence.ValidateMeeting(meeting); err != nil {
		return err
	}
	participants := meeting.Participants
	if participants == nil {
		participants = []string{}
	}
	const stmt = `
INSERT INTO meetings (id, title, duration_minutes, requested_start, requested_end, committed_start, committed_end,
	status, idempotency_token, participants, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)`

	_, err := s.exec(ctx, stmt,
		meeting.ID,
		meeting.Title,
		meeting.DurationMinutes,
		meeting.RequestedStart,
		meeting.RequestedEnd,
		meeting.CommittedStart,
		meeting.CommittedEnd,
		string(meeting.Status),
		meeting.IdempotencyToken,
		participants,
		meeting.CreatedAt,
		meeting.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create meeting: %w", mapError(err))
	}
	return nil
}

func (s *Store) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	rows, err := s.query(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
	if err != nil {
		return persistence.Meeting{}, fmt.Errorf("get meeting: %w", mapError(err))
	}
	meeting, err := pgx.CollectExactlyOneRow(rows, scanMeeting)
	if err != nil {
		return persistence.Meeting{}, mapError(err)
	}
	return meeting, nil
}

func (s *Store) FindMeetingByToken(ctx context.Context, token string) (persistence.Meeting, error) {
	if token == "" {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	rows, err := s.query(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE idempotency_token = $1`, token)
	if err != nil {
		return persistence.Meeting{}, fmt.Errorf("find meeting by token: %w", mapError(err))
	}
	meeting, err := pgx.CollectExactlyOneRow(rows, scanMeeting)
	if err != nil {
		return persistence.Meeting{}, mapError(err)
	}
	return meeting, nil
}

func (s *Store) UpdateMeetingStatus(ctx context.Context, id string, status persistence.MeetingStatus, updatedAt time.Time) error {
	const stmt = `
UPDATE meetings
SET status = $1,
	updated_at = $2,
	idempotency_token = CASE WHEN $1 = 'FAILED' THEN NULL ELSE idempotency_token END
WHERE id = $3`

	tag, err := s.exec(ctx, stmt, string(status), updatedAt, id)
	if err != nil {
		return fmt.Errorf("update meeting status: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) ListMeetings(ctx context.Context) ([]persistence.Meeting, error) {
	rows, err := s.query(ctx, `SELECT `+meetingColumns+` FROM meetings ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", mapError(err))
	}
	return pgx.CollectRows(rows, scanMeeting)
}

func scanMeeting(row pgx.CollectableRow) (persistence.Meeting, error) {
	var (
		m      persistence.Meeting
		status string
	)
	err := row.Scan(&m.ID, &m.Title, &m.DurationMinutes, &m.RequestedStart, &m.RequestedEnd,
		&m.CommittedStart, &m.CommittedEnd, &status, &m.IdempotencyToken, &m.Participants, &m.CreatedAt, &m.UpdatedAt)
	m.Status = persistence.MeetingStatus(status)
	return m, err
}

// --- sessions ---

const sessionColumns = `id, fingerprint, state, title, candidates, COALESCE(meeting_id, ''), created_at, updated_at`

func (s *Store) SaveSession(ctx context.Context, session persistence.NegotiationSession) error {
	if session.ID == "" {
		return fmt.Errorf("session requires id: %w", persistence.ErrConstraintViolation)
	}
	candidates := session.Candidates
	if len(candidates) == 0 {
		candidates = []byte("[]")
	}
	const stmt = `
INSERT INTO negotiation_sessions (id, fingerprint, state, title, candidates, meeting_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
ON CONFLICT (id) DO UPDATE SET
	fingerprint = EXCLUDED.fingerprint,
	state = EXCLUDED.state,
	title = EXCLUDED.title,
	candidates = EXCLUDED.candidates,
	meeting_id = EXCLUDED.meeting_id,
	updated_at = EXCLUDED.updated_at`

	_, err := s.exec(ctx, stmt, session.ID, session.Fingerprint, session.State, session.Title,
		string(candidates), session.MeetingID, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", mapError(err))
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (persistence.NegotiationSession, error) {
	return s.scanSession(s.queryRow(ctx, `SELECT `+sessionColumns+` FROM negotiation_sessions WHERE id = $1`, id))
}

func (s *Store) FindLatestSession(ctx context.Context, fingerprint string) (persistence.NegotiationSession, error) {
	const query = `SELECT ` + sessionColumns + `
FROM negotiation_sessions
WHERE fingerprint = $1
ORDER BY updated_at DESC, created_at DESC
LIMIT 1`
	return s.scanSession(s.queryRow(ctx, query, fingerprint))
}

func (s *Store) scanSession(row pgx.Row) (persistence.NegotiationSession, error) {
	var (
		session    persistence.NegotiationSession
		candidates string
	)
	if err := row.Scan(&session.ID, &session.Fingerprint, &session.State, &session.Title,
		&candidates, &session.MeetingID, &session.CreatedAt, &session.UpdatedAt); err != nil {
		return persistence.NegotiationSession{}, mapError(err)
	}
	session.Candidates = []byte(candidates)
	return session, nil
}

// --- events ---

func (s *Store) AppendEvent(ctx context.Context, record persistence.EventRecord) error {
	const stmt = `
INSERT INTO negotiation_events (session_id, sequence, kind, payload, created_at)
VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.exec(ctx, stmt, record.SessionID, int64(record.Sequence), record.Kind, string(record.Payload), record.CreatedAt); err != nil {
		return fmt.Errorf("append event: %w", mapError(err))
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]persistence.EventRecord, error) {
	const query = `
SELECT session_id, sequence, kind, payload::text, created_at
FROM negotiation_events
WHERE session_id = $1
ORDER BY sequence`

	rows, err := s.query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", mapError(err))
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (persistence.EventRecord, error) {
		var (
			r        persistence.EventRecord
			sequence int64
			payload  string
		)
		err := row.Scan(&r.SessionID, &sequence, &r.Kind, &payload, &r.CreatedAt)
		r.Sequence = uint64(sequence)
		r.Payload = []byte(payload)
		return r, err
	})
}

func (s *Store) LastEventSequence(ctx context.Context, sessionID string) (uint64, error) {
	const query = `SELECT COALESCE(MAX(sequence), 0) FROM negotiation_events WHERE session_id = $1`

	var last int64
	if err := s.queryRow(ctx, query, sessionID).Scan(&last); err != nil {
		return 0, fmt.Errorf("last event sequence: %w", mapError(err))
	}
	return uint64(last), nil
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return s.pool.Exec(ctx, sql, args...)
}

func (s *Store) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return s.pool.QueryRow(ctx, sql, args...)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return s.pool.Query(ctx, sql, args...)
}
