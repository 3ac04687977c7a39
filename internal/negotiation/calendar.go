package negotiation

import (
	"context"
	"time"

	"github.com/example/negotiation-scheduler/internal/persistence"
	"github.com/example/negotiation-scheduler/internal/scheduler"
)

// calendarReader adapts the calendar repository to the search engine.
type calendarReader struct {
	repo persistence.CalendarRepository
}

func (c calendarReader) GetBlocks(ctx context.Context, participantID string, from, to time.Time) ([]scheduler.Block, error) {
	records, err := c.repo.GetBlocks(ctx, participantID, from, to)
	if err != nil {
		return nil, unavailable("get blocks", err)
	}
	blocks := make([]scheduler.Block, 0, len(records))
	for _, record := range records {
		blocks = append(blocks, blockFromRecord(record))
	}
	return blocks, nil
}
