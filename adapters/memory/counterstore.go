package memory

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/fitgate/ports"
)

type counterKey struct {
	keyID  string
	window int64 // unix seconds of window start
}

// CounterStore is an in-memory implementation of ports.CounterStore.
// A single mutex serializes increments, which trivially satisfies the
// atomicity contract.
type CounterStore struct {
	mu     sync.Mutex
	counts map[counterKey]int64
}

// NewCounterStore creates a new in-memory counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{counts: make(map[counterKey]int64)}
}

// IncrementIfUnder atomically increments the counter if below limit.
func (s *CounterStore) IncrementIfUnder(ctx context.Context, keyID string, windowStart time.Time, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ck := counterKey{keyID: keyID, window: windowStart.UTC().Unix()}
	current := s.counts[ck]
	if limit >= 0 && current >= limit {
		return current, false, nil
	}
	s.counts[ck] = current + 1
	return current + 1, true, nil
}

// Decrement returns one reserved unit; no-op below zero or for missing rows.
func (s *CounterStore) Decrement(ctx context.Context, keyID string, windowStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ck := counterKey{keyID: keyID, window: windowStart.UTC().Unix()}
	if s.counts[ck] > 0 {
		s.counts[ck]--
	}
	return nil
}

// Get returns the current count; 0 if the row does not exist.
func (s *CounterStore) Get(ctx context.Context, keyID string, windowStart time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counts[counterKey{keyID: keyID, window: windowStart.UTC().Unix()}], nil
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
