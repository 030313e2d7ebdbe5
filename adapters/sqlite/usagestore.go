package sqlite

import (
	"context"
	"time"

	"github.com/artpar/fitgate/domain/usage"
	"github.com/artpar/fitgate/ports"
)

// UsageStore implements ports.UsageStore using SQLite.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Record stores one usage event.
func (s *UsageStore) Record(ctx context.Context, e usage.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (key_id, tool, status, latency_ms, at)
		VALUES (?, ?, ?, ?, ?)
	`, e.KeyID, e.Tool, e.Status, e.LatencyMs, e.At.UTC())
	return err
}

// Recent returns the newest events for a key, newest first.
func (s *UsageStore) Recent(ctx context.Context, keyID string, limit int) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_id, tool, status, latency_ms, at
		FROM usage_events
		WHERE key_id = ?
		ORDER BY at DESC, id DESC
		LIMIT ?
	`, keyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var e usage.Event
		if err := rows.Scan(&e.ID, &e.KeyID, &e.Tool, &e.Status, &e.LatencyMs, &e.At); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Summary aggregates events for a key over [start, end] inclusive.
func (s *UsageStore) Summary(ctx context.Context, keyID string, start, end time.Time) (usage.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key_id, tool, status, latency_ms, at
		FROM usage_events
		WHERE key_id = ? AND at >= ? AND at <= ?
	`, keyID, start.UTC(), end.UTC())
	if err != nil {
		return usage.Summary{}, err
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		var e usage.Event
		if err := rows.Scan(&e.ID, &e.KeyID, &e.Tool, &e.Status, &e.LatencyMs, &e.At); err != nil {
			return usage.Summary{}, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return usage.Summary{}, err
	}
	return usage.Aggregate(keyID, start, end, events), nil
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
