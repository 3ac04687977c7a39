package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

// CalendarRepository implements persistence.CalendarRepository for SQLite.
type CalendarRepository struct {
	helper *QueryHelper
	mapper *ErrorMapper
}

// GetBlocks returns the owner's blocks overlapping [from, to) ordered by start.
func (r *CalendarRepository) GetBlocks(ctx context.Context, ownerID string, from, to time.Time) ([]persistence.CalendarBlock, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT id, owner_id, title, start_at, end_at, kind, priority, is_flexible, meeting_id, created_at
		FROM calendar_blocks
		WHERE owner_id = ? AND start_at < ? AND end_at > ?
		ORDER BY start_at, id`,
		ownerID, formatTime(to), formatTime(from),
	)
	if err != nil {
		return nil, fmt.Errorf("query blocks for %s: %w", ownerID, r.mapper.MapError(err))
	}
	defer rows.Close()

	var blocks []persistence.CalendarBlock
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

// CreateBlock inserts a calendar block.
func (r *CalendarRepository) CreateBlock(ctx context.Context, block persistence.CalendarBlock) error {
	if err := persistence.ValidateBlock(block); err != nil {
		return err
	}
	_, err := r.helper.Exec(ctx, `
		INSERT INTO calendar_blocks (id, owner_id, title, start_at, end_at, kind, priority, is_flexible, meeting_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		block.ID,
		block.OwnerID,
		block.Title,
		formatTime(block.Start),
		formatTime(block.End),
		string(block.Kind),
		block.Priority,
		block.IsFlexible,
		nullString(block.MeetingID),
		formatTime(block.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create block %s: %w", block.ID, r.mapper.MapError(err))
	}
	return nil
}

// DeleteBlock removes a calendar block.
func (r *CalendarRepository) DeleteBlock(ctx context.Context, id string) error {
	result, err := r.helper.Exec(ctx, `DELETE FROM calendar_blocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete block %s: %w", id, r.mapper.MapError(err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete block %s: %w", id, err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func scanBlock(row rowScanner) (persistence.CalendarBlock, error) {
	var (
		block      persistence.CalendarBlock
		kind       string
		meetingID  sql.NullString
		start, end string
		createdAt  string
	)
	if err := row.Scan(&block.ID, &block.OwnerID, &block.Title, &start, &end, &kind,
		&block.Priority, &block.IsFlexible, &meetingID, &createdAt); err != nil {
		return persistence.CalendarBlock{}, err
	}
	block.Kind = persistence.BlockKind(kind)
	block.MeetingID = meetingID.String

	var err error
	if block.Start, err = parseTime(start); err != nil {
		return persistence.CalendarBlock{}, fmt.Errorf("parse start_at: %w", err)
	}
	if block.End, err = parseTime(end); err != nil {
		return persistence.CalendarBlock{}, fmt.Errorf("parse end_at: %w", err)
	}
	if block.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.CalendarBlock{}, fmt.Errorf("parse created_at: %w", err)
	}
	return block, nil
}
