package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

// SessionRepository implements persistence.SessionRepository for SQLite.
type SessionRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

const sessionColumns = `id, fingerprint, state, title, candidates, meeting_id, created_at, updated_at`

// SaveSession inserts or replaces a session snapshot.
func (r *SessionRepository) SaveSession(ctx context.Context, session persistence.NegotiationSession) error {
	if session.ID == "" {
		return fmt.Errorf("session requires id: %w", persistence.ErrConstraintViolation)
	}
	candidates := string(session.Candidates)
	if candidates == "" {
		candidates = "[]"
	}

	_, err := r.helper.Exec(ctx, `
		INSERT INTO negotiation_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			state = excluded.state,
			title = excluded.title,
			candidates = excluded.candidates,
			meeting_id = excluded.meeting_id,
			updated_at = excluded.updated_at`,
		session.ID,
		session.Fingerprint,
		session.State,
		session.Title,
		candidates,
		nullString(session.MeetingID),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, r.mapper.MapError(err))
	}
	return nil
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.NegotiationSession, error) {
	row := r.helper.QueryRow(ctx, `SELECT `+sessionColumns+` FROM negotiation_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		return persistence.NegotiationSession{}, r.mapper.MapError(err)
	}
	return session, nil
}

// FindLatestSession returns the most recently updated session for the fingerprint.
func (r *SessionRepository) FindLatestSession(ctx context.Context, fingerprint string) (persistence.NegotiationSession, error) {
	row := r.helper.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM negotiation_sessions
		WHERE fingerprint = ?
		ORDER BY updated_at DESC, created_at DESC
		LIMIT 1`, fingerprint)
	session, err := scanSession(row)
	if err != nil {
		return persistence.NegotiationSession{}, r.mapper.MapError(err)
	}
	return session, nil
}

func scanSession(row rowScanner) (persistence.NegotiationSession, error) {
	var (
		session              persistence.NegotiationSession
		candidates           string
		meetingID            sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&session.ID, &session.Fingerprint, &session.State, &session.Title,
		&candidates, &meetingID, &createdAt, &updatedAt); err != nil {
		return persistence.NegotiationSession{}, err
	}
	session.Candidates = []byte(candidates)
	session.MeetingID = meetingID.String

	var err error
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.NegotiationSession{}, fmt.Errorf("parse created_at: %w", err)
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.NegotiationSession{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return session, nil
}
