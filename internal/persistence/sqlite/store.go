// Package sqlite implements persistence.Store on SQLite through the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"fmt"

	"github.com/example/negotiation-scheduler/internal/persistence"
)

// Store provides a SQLite-backed implementation of persistence.Store.
type Store struct {
	*ParticipantRepository
	*CalendarRepository
	*MeetingRepository
	*SessionRepository
	*EventRepository

	pool   *ConnectionPool
	helper *QueryHelper
	retry  *RetryHelper
}

var (
	_ persistence.Store      = (*Store)(nil)
	_ persistence.Transactor = (*Store)(nil)
)

// Open connects to the database described by config. Call Migrate before use.
func Open(ctx context.Context, config Config) (*Store, error) {
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, err
	}
	helper := NewQueryHelper(pool)
	mapper := NewErrorMapper()
	retry := NewRetryHelper(DefaultRetryConfig())

	return &Store{
		ParticipantRepository: &ParticipantRepository{helper: helper, mapper: mapper},
		CalendarRepository:    &CalendarRepository{helper: helper, mapper: mapper},
		MeetingRepository:     &MeetingRepository{pool: pool, helper: helper, mapper: mapper},
		SessionRepository:     &SessionRepository{helper: helper, mapper: mapper},
		EventRepository:       &EventRepository{helper: helper, mapper: mapper, retry: retry},
		pool:                  pool,
		helper:                helper,
		retry:                 retry,
	}, nil
}

// WithTx runs fn inside one transaction. Repository calls made with the
// context passed to fn join it.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.pool.WithTransaction(ctx, fn)
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("close sqlite store: %w", err)
	}
	return nil
}
