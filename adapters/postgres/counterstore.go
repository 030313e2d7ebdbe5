package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/artpar/fitgate/ports"
)

// CounterStore implements ports.CounterStore using PostgreSQL.
//
// Admission is decided by one conditional upsert: the INSERT path seeds a
// fresh window at count 1, the conflict path increments only while under
// the limit. Postgres locks the conflicting row for the duration of the
// statement, so concurrent callers (including callers in other server
// processes sharing the database) serialize on the row and can never both
// take the last slot. No application-level locks or retry loops needed.
type CounterStore struct {
	db *DB
}

// NewCounterStore creates a new Postgres counter store.
func NewCounterStore(db *DB) *CounterStore {
	return &CounterStore{db: db}
}

// IncrementIfUnder atomically increments the counter if below limit.
// A negative limit increments unconditionally.
func (s *CounterStore) IncrementIfUnder(ctx context.Context, keyID string, windowStart time.Time, limit int64) (int64, bool, error) {
	ws := windowStart.UTC().Unix()

	var count int64
	err := s.db.pool.QueryRow(ctx, `
		INSERT INTO usage_counters (key_id, window_start, count, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (key_id, window_start) DO UPDATE
		SET count = usage_counters.count + 1, updated_at = now()
		WHERE $3::bigint < 0 OR usage_counters.count < $3::bigint
		RETURNING count
	`, keyID, ws, limit).Scan(&count)

	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict row exists and is at the limit: denied, nothing changed.
		current, gerr := s.Get(ctx, keyID, windowStart)
		if gerr != nil {
			return 0, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment counter: %w", err)
	}
	return count, true, nil
}

// Decrement returns one reserved unit; no-op below zero or for missing rows.
func (s *CounterStore) Decrement(ctx context.Context, keyID string, windowStart time.Time) error {
	_, err := s.db.pool.Exec(ctx, `
		UPDATE usage_counters
		SET count = count - 1, updated_at = now()
		WHERE key_id = $1 AND window_start = $2 AND count > 0
	`, keyID, windowStart.UTC().Unix())
	if err != nil {
		return fmt.Errorf("decrement counter: %w", err)
	}
	return nil
}

// Get returns the current count; 0 if the row does not exist.
func (s *CounterStore) Get(ctx context.Context, keyID string, windowStart time.Time) (int64, error) {
	var count int64
	err := s.db.pool.QueryRow(ctx, `
		SELECT count FROM usage_counters WHERE key_id = $1 AND window_start = $2
	`, keyID, windowStart.UTC().Unix()).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
