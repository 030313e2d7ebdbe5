// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/domain/usage"
)

// Shared sentinel errors. Stores return these regardless of engine so
// callers never have to import an adapter package to classify a failure.
var (
	// ErrNotFound signals a missing record.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate signals a uniqueness violation (key ID or prefix).
	ErrDuplicate = errors.New("duplicate record")

	// ErrIntegrity signals sealed material that failed authentication:
	// tampering or corruption. Callers must treat it as an invalid key,
	// never as a transient failure to retry.
	ErrIntegrity = errors.New("integrity check failed")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Random abstracts cryptographically secure randomness for testability.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Cipher seals and opens secret material with an authenticated cipher.
// Seal generates a fresh nonce internally on every call; there is
// deliberately no way for a caller to supply one.
type Cipher interface {
	// Seal encrypts plaintext and returns the ciphertext with its nonce.
	Seal(plaintext []byte) (key.Sealed, error)

	// Open decrypts sealed material. Tampered or corrupted input fails
	// with ErrIntegrity.
	Open(s key.Sealed) ([]byte, error)
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// KeyStore persists API keys. Keys are never physically deleted by the
// lifecycle; revocation is a status change.
type KeyStore interface {
	// GetByPrefix retrieves the key with the given public prefix.
	// Returns ErrNotFound if no key matches.
	GetByPrefix(ctx context.Context, prefix string) (key.Key, error)

	// GetByID retrieves a key by ID. Returns ErrNotFound if missing.
	GetByID(ctx context.Context, id string) (key.Key, error)

	// Create stores a new key. Returns ErrDuplicate if the ID or prefix
	// already exists.
	Create(ctx context.Context, k key.Key) error

	// SetStatus transitions a key's status. Revocation records the
	// timestamp; the store does not re-validate monotonicity, callers do.
	SetStatus(ctx context.Context, id string, status key.Status, at time.Time) error

	// UpdateLastUsed updates the last used timestamp.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error

	// ListByOwner returns all keys for a tenant, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]key.Key, error)

	// List returns all keys, newest first.
	List(ctx context.Context) ([]key.Key, error)
}

// CounterStore persists per-key, per-window usage counters. windowStart is
// always a UTC window boundary; implementations key rows on
// (keyID, windowStart) and must guarantee at most one live row per pair.
type CounterStore interface {
	// IncrementIfUnder atomically increments the counter for
	// (keyID, windowStart) if the current count is below limit, creating
	// the row on first use of a window. A negative limit increments
	// unconditionally. The conditional check and the increment are one
	// atomic operation at the storage layer: two concurrent callers can
	// never both take the last slot. Returns the count after the attempt
	// and whether the increment was admitted.
	IncrementIfUnder(ctx context.Context, keyID string, windowStart time.Time, limit int64) (newCount int64, admitted bool, err error)

	// Decrement returns one reserved unit for a rollback. Decrementing a
	// missing or zero counter is a no-op; a rollback racing a window
	// rollover simply has no observable effect.
	Decrement(ctx context.Context, keyID string, windowStart time.Time) error

	// Get returns the current count for (keyID, windowStart); 0 if the
	// row does not exist.
	Get(ctx context.Context, keyID string, windowStart time.Time) (int64, error)
}

// UsageStore persists per-call usage events for audit and analytics.
type UsageStore interface {
	// Record stores one usage event.
	Record(ctx context.Context, e usage.Event) error

	// Recent returns the newest events for a key, newest first.
	Recent(ctx context.Context, keyID string, limit int) ([]usage.Event, error)

	// Summary aggregates events for a key over [start, end], inclusive of
	// both bounds, so events recorded at the query instant are counted.
	Summary(ctx context.Context, keyID string, start, end time.Time) (usage.Summary, error)
}
