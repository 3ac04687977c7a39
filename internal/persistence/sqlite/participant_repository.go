package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

// ParticipantRepository implements persistence.ParticipantRepository for SQLite.
type ParticipantRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// UpsertParticipant inserts a participant or updates its mutable fields.
func (r *ParticipantRepository) UpsertParticipant(ctx context.Context, participant persistence.Participant) error {
	if participant.ID == "" {
		return fmt.Errorf("participant requires id: %w", persistence.ErrConstraintViolation)
	}
	_, err := r.helper.Exec(ctx, `
		INSERT INTO participants (id, display_name, email, active, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			active = excluded.active`,
		participant.ID,
		participant.DisplayName,
		nullString(participant.Email),
		participant.Active,
		formatTime(participant.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert participant %s: %w", participant.ID, r.mapper.MapError(err))
	}
	return nil
}

// GetParticipant retrieves a participant by ID.
func (r *ParticipantRepository) GetParticipant(ctx context.Context, id string) (persistence.Participant, error) {
	row := r.helper.QueryRow(ctx, `
		SELECT id, display_name, email, active, created_at
		FROM participants WHERE id = ?`, id)
	participant, err := scanParticipant(row)
	if err != nil {
		return persistence.Participant{}, r.mapper.MapError(err)
	}
	return participant, nil
}

// ListParticipants returns every participant ordered by ID.
func (r *ParticipantRepository) ListParticipants(ctx context.Context) ([]persistence.Participant, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT id, display_name, email, active, created_at
		FROM participants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", r.mapper.MapError(err))
	}
	defer rows.Close()

	var participants []persistence.Participant
	for rows.Next() {
		participant, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, participant)
	}
	return participants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (persistence.Participant, error) {
	var (
		participant persistence.Participant
		email       sql.NullString
		createdAt   string
	)
	if err := row.Scan(&participant.ID, &participant.DisplayName, &email, &participant.Active, &createdAt); err != nil {
		return persistence.Participant{}, err
	}
	participant.Email = email.String

	var err error
	if participant.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Participant{}, fmt.Errorf("parse created_at: %w", err)
	}
	return participant, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
