package sqlite

import (
	"context"
	"fmt"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

// EventRepository implements persistence.EventRepository for SQLite.
type EventRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// AppendEvent stores one event. Busy databases are retried with backoff.
func (r *EventRepository) AppendEvent(ctx context.Context, record persistence.EventRecord) error {
	err := r.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, `
			INSERT INTO negotiation_events (session_id, sequence, kind, payload, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			record.SessionID,
			int64(record.Sequence),
			record.Kind,
			string(record.Payload),
			formatTime(record.CreatedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append event %s/%d: %w", record.SessionID, record.Sequence, r.mapper.MapError(err))
	}
	return nil
}

// ListEvents returns the session's events in sequence order.
func (r *EventRepository) ListEvents(ctx context.Context, sessionID string) ([]persistence.EventRecord, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT session_id, sequence, kind, payload, created_at
		FROM negotiation_events
		WHERE session_id = ?
		ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", sessionID, r.mapper.MapError(err))
	}
	defer rows.Close()

	var records []persistence.EventRecord
	for rows.Next() {
		var (
			record    persistence.EventRecord
			sequence  int64
			payload   string
			createdAt string
		)
		if err := rows.Scan(&record.SessionID, &sequence, &record.Kind, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		record.Sequence = uint64(sequence)
		record.Payload = []byte(payload)
		if record.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// LastEventSequence returns the highest stored sequence, zero for an unknown session.
func (r *EventRepository) LastEventSequence(ctx context.Context, sessionID string) (uint64, error) {
	var last int64
	err := r.helper.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0)
		FROM negotiation_events
		WHERE session_id = ?`, sessionID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("last event of %s: %w", sessionID, r.mapper.MapError(err))
	}
	return uint64(last), nil
}
