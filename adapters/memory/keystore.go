// Package memory provides in-memory implementations of the storage ports.
// They back unit tests and serve as the behavioral reference the database
// engines are held to.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/ports"
)

// KeyStore is an in-memory implementation of ports.KeyStore.
type KeyStore struct {
	mu       sync.RWMutex
	keys     map[string]key.Key // by ID
	byPrefix map[string]string  // prefix -> ID
}

// NewKeyStore creates a new in-memory key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys:     make(map[string]key.Key),
		byPrefix: make(map[string]string),
	}
}

// GetByPrefix retrieves the key with the given public prefix.
func (s *KeyStore) GetByPrefix(ctx context.Context, prefix string) (key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPrefix[prefix]
	if !ok {
		return key.Key{}, ports.ErrNotFound
	}
	return s.keys[id], nil
}

// GetByID retrieves a key by ID.
func (s *KeyStore) GetByID(ctx context.Context, id string) (key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.keys[id]
	if !ok {
		return key.Key{}, ports.ErrNotFound
	}
	return k, nil
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[k.ID]; exists {
		return ports.ErrDuplicate
	}
	if _, exists := s.byPrefix[k.Prefix]; exists {
		return ports.ErrDuplicate
	}
	s.keys[k.ID] = k
	s.byPrefix[k.Prefix] = k.ID
	return nil
}

// SetStatus transitions a key's status.
func (s *KeyStore) SetStatus(ctx context.Context, id string, status key.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return ports.ErrNotFound
	}
	k.Status = status
	if status == key.StatusRevoked {
		k.RevokedAt = &at
	}
	s.keys[id] = k
	return nil
}

// UpdateLastUsed updates the last used timestamp.
func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok {
		return ports.ErrNotFound
	}
	k.LastUsedAt = &at
	s.keys[id] = k
	return nil
}

// ListByOwner returns all keys for a tenant, newest first.
func (s *KeyStore) ListByOwner(ctx context.Context, ownerID string) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []key.Key
	for _, k := range s.keys {
		if k.OwnerID == ownerID {
			result = append(result, k)
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// List returns all keys, newest first.
func (s *KeyStore) List(ctx context.Context) ([]key.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]key.Key, 0, len(s.keys))
	for _, k := range s.keys {
		result = append(result, k)
	}
	sortNewestFirst(result)
	return result, nil
}

func sortNewestFirst(keys []key.Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].ID > keys[j].ID
		}
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
