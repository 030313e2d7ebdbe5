package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/fitgate/domain/usage"
	"github.com/artpar/fitgate/ports"
)

// UsageStore is an in-memory implementation of ports.UsageStore.
type UsageStore struct {
	mu     sync.RWMutex
	nextID int64
	events []usage.Event
}

// NewUsageStore creates a new in-memory usage store.
func NewUsageStore() *UsageStore {
	return &UsageStore{}
}

// Record stores one usage event.
func (s *UsageStore) Record(ctx context.Context, e usage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	e.ID = s.nextID
	s.events = append(s.events, e)
	return nil
}

// Recent returns the newest events for a key, newest first.
func (s *UsageStore) Recent(ctx context.Context, keyID string, limit int) ([]usage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []usage.Event
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		if s.events[i].KeyID == keyID {
			result = append(result, s.events[i])
		}
	}
	return result, nil
}

// Summary aggregates events for a key over [start, end] inclusive.
func (s *UsageStore) Summary(ctx context.Context, keyID string, start, end time.Time) (usage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []usage.Event
	for _, e := range s.events {
		if e.KeyID == keyID && !e.At.Before(start) && !e.At.After(end) {
			matched = append(matched, e)
		}
	}
	return usage.Aggregate(keyID, start, end, matched), nil
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
