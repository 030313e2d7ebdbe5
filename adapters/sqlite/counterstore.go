package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/fitgate/ports"
)

// CounterStore implements ports.CounterStore using SQLite.
//
// The conditional increment is a single UPDATE statement whose WHERE clause
// carries the limit check. SQLite executes each write statement under its
// global write lock, so the check and the increment can never interleave
// with another writer: the admission decision is serializable by
// construction.
type CounterStore struct {
	db *DB
}

// NewCounterStore creates a new SQLite counter store.
func NewCounterStore(db *DB) *CounterStore {
	return &CounterStore{db: db}
}

// IncrementIfUnder atomically increments the counter if below limit.
// A negative limit increments unconditionally.
func (s *CounterStore) IncrementIfUnder(ctx context.Context, keyID string, windowStart time.Time, limit int64) (int64, bool, error) {
	ws := windowStart.UTC().Unix()
	now := time.Now().UTC()

	// First hit of a window creates the row at zero; the increment below
	// decides admission for this call and all concurrent ones alike.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (key_id, window_start, count, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(key_id, window_start) DO NOTHING
	`, keyID, ws, now)
	if err != nil {
		return 0, false, fmt.Errorf("ensure counter row: %w", err)
	}

	// RETURNING reports this caller's own increment, so the count is not
	// polluted by concurrent writers that land between statements.
	var count int64
	err = s.db.QueryRowContext(ctx, `
		UPDATE usage_counters
		SET count = count + 1, updated_at = ?
		WHERE key_id = ? AND window_start = ? AND (? < 0 OR count < ?)
		RETURNING count
	`, now, keyID, ws, limit, limit).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		// The row is at the limit: denied, nothing changed.
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
	_, err := s.db.ExecContext(ctx, `
		UPDATE usage_counters
		SET count = count - 1, updated_at = ?
		WHERE key_id = ? AND window_start = ? AND count > 0
	`, time.Now().UTC(), keyID, windowStart.UTC().Unix())
	if err != nil {
		return fmt.Errorf("decrement counter: %w", err)
	}
	return nil
}

// Get returns the current count; 0 if the row does not exist.
func (s *CounterStore) Get(ctx context.Context, keyID string, windowStart time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM usage_counters WHERE key_id = ? AND window_start = ?
	`, keyID, windowStart.UTC().Unix()).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
