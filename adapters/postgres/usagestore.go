package postgres

import (
	"context"
	"time"

	"github.com/artpar/fitgate/domain/usage"
	"github.com/artpar/fitgate/ports"
)

// UsageStore implements ports.UsageStore using PostgreSQL.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new Postgres usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// Record stores one usage event.
func (s *UsageStore) Record(ctx context.Context, e usage.Event) error {
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO usage_events (key_id, tool, status, latency_ms, at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.KeyID, e.Tool, e.Status, e.LatencyMs, e.At.UTC())
	return err
}

// Recent returns the newest events for a key, newest first.
func (s *UsageStore) Recent(ctx context.Context, keyID string, limit int) ([]usage.Event, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, key_id, tool, status, latency_ms, at
		FROM usage_events
		WHERE key_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2
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
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, key_id, tool, status, latency_ms, at
		FROM usage_events
		WHERE key_id = $1 AND at >= $2 AND at <= $3
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
