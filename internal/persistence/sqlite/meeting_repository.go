package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

// MeetingRepository implements persistence.MeetingRepository for SQLite.
type MeetingRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

const meetingColumns = `id, title, duration_minutes, requested_start, requested_end,
	committed_start, committed_end, status, idempotency_token, created_at, updated_at`

// CreateMeeting inserts a meeting and its participant list.
func (r *MeetingRepository) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	if err := persistence.ValidateMeeting(meeting); err != nil {
		return err
	}

	return r.pool.WithTransaction(ctx, func(ctx context.Context) error {
		_, err := r.helper.Exec(ctx, `INSERT INTO meetings (`+meetingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			meeting.ID,
			meeting.Title,
			meeting.DurationMinutes,
			formatTime(meeting.RequestedStart),
			formatTime(meeting.RequestedEnd),
			nullTime(meeting.CommittedStart),
			nullTime(meeting.CommittedEnd),
			string(meeting.Status),
			nullString(meeting.IdempotencyToken),
			formatTime(meeting.CreatedAt),
			formatTime(meeting.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("create meeting %s: %w", meeting.ID, r.mapper.MapError(err))
		}

		for position, participantID := range meeting.Participants {
			if _, err := r.helper.Exec(ctx, `
				INSERT INTO meeting_participants (meeting_id, participant_id, position)
				VALUES (?, ?, ?)`, meeting.ID, participantID, position); err != nil {
				return fmt.Errorf("add participant %s to meeting %s: %w", participantID, meeting.ID, r.mapper.MapError(err))
			}
		}
		return nil
	})
}

// GetMeeting retrieves a meeting by ID.
func (r *MeetingRepository) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	return r.getOne(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
}

// FindMeetingByToken returns the meeting holding the idempotency token.
func (r *MeetingRepository) FindMeetingByToken(ctx context.Context, token string) (persistence.Meeting, error) {
	if token == "" {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE idempotency_token = ?`, token)
}

// UpdateMeetingStatus sets the status. FAILED releases the idempotency token.
func (r *MeetingRepository) UpdateMeetingStatus(ctx context.Context, id string, status persistence.MeetingStatus, updatedAt time.Time) error {
	query := `UPDATE meetings SET status = ?, updated_at = ? WHERE id = ?`
	if status == persistence.MeetingStatusFailed {
		query = `UPDATE meetings SET status = ?, updated_at = ?, idempotency_token = NULL WHERE id = ?`
	}

	result, err := r.helper.Exec(ctx, query, string(status), formatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", id, r.mapper.MapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", id, err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListMeetings returns all meetings ordered by creation time.
func (r *MeetingRepository) ListMeetings(ctx context.Context) ([]persistence.Meeting, error) {
	rows, err := r.helper.Query(ctx, `SELECT `+meetingColumns+` FROM meetings ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", r.mapper.MapError(err))
	}

	var meetings []persistence.Meeting
	for rows.Next() {
		meeting, err := scanMeeting(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, meeting)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range meetings {
		if meetings[i].Participants, err = r.participants(ctx, meetings[i].ID); err != nil {
			return nil, err
		}
	}
	return meetings, nil
}

func (r *MeetingRepository) getOne(ctx context.Context, query string, arg any) (persistence.Meeting, error) {
	meeting, err := scanMeeting(r.helper.QueryRow(ctx, query, arg))
	if err != nil {
		return persistence.Meeting{}, r.mapper.MapError(err)
	}
	if meeting.Participants, err = r.participants(ctx, meeting.ID); err != nil {
		return persistence.Meeting{}, err
	}
	return meeting, nil
}

func (r *MeetingRepository) participants(ctx context.Context, meetingID string) ([]string, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT participant_id FROM meeting_participants
		WHERE meeting_id = ? ORDER BY position`, meetingID)
	if err != nil {
		return nil, fmt.Errorf("list participants of meeting %s: %w", meetingID, r.mapper.MapError(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanMeeting(row rowScanner) (persistence.Meeting, error) {
	var (
		meeting                      persistence.Meeting
		requestedStart, requestedEnd string
		committedStart, committedEnd sql.NullString
		status                       string
		token                        sql.NullString
		createdAt, updatedAt         string
	)
	if err := row.Scan(&meeting.ID, &meeting.Title, &meeting.DurationMinutes, &requestedStart, &requestedEnd,
		&committedStart, &committedEnd, &status, &token, &createdAt, &updatedAt); err != nil {
		return persistence.Meeting{}, err
	}
	meeting.Status = persistence.MeetingStatus(status)
	meeting.IdempotencyToken = token.String

	var err error
	if meeting.RequestedStart, err = parseTime(requestedStart); err != nil {
		return persistence.Meeting{}, fmt.Errorf("parse requested_start: %w", err)
	}
	if meeting.RequestedEnd, err = parseTime(requestedEnd); err != nil {
		return persistence.Meeting{}, fmt.Errorf("parse requested_end: %w", err)
	}
	if meeting.CommittedStart, err = parseNullTime(committedStart); err != nil {
		return persistence.Meeting{}, fmt.Errorf("parse committed_start: %w", err)
	}
	if meeting.CommittedEnd, err = parseNullTime(committedEnd); err != nil {
		return persistence.Meeting{}, fmt.Errorf("parse committed_end: %w", err)
	}
	if meeting.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Meeting{}, fmt.Errorf("parse created_at: %w", err)
	}
	if meeting.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Meeting{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return meeting, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
