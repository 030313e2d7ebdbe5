package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/ports"
)

const keyColumns = `id, owner_id, prefix, secret_ciphertext, secret_nonce, tier, status,
	limit_override, label, created_at, expires_at, revoked_at, last_used_at`

// KeyStore implements ports.KeyStore using PostgreSQL.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new Postgres key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// GetByPrefix retrieves the key with the given public prefix.
func (s *KeyStore) GetByPrefix(ctx context.Context, prefix string) (key.Key, error) {
	row := s.db.pool.QueryRow(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE prefix = $1
	`, prefix)
	return scanKey(row)
}

// GetByID retrieves a key by ID.
func (s *KeyStore) GetByID(ctx context.Context, id string) (key.Key, error) {
	row := s.db.pool.QueryRow(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE id = $1
	`, id)
	return scanKey(row)
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	_, err := s.db.pool.Exec(ctx, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, k.ID, k.OwnerID, k.Prefix, k.Secret.Ciphertext, k.Secret.Nonce,
		string(k.Tier), string(k.Status), k.LimitOverride, k.Label,
		k.CreatedAt.UTC(), k.ExpiresAt, k.RevokedAt, k.LastUsedAt)
	return mapErr(err)
}

// SetStatus transitions a key's status, stamping revoked_at on revocation.
func (s *KeyStore) SetStatus(ctx context.Context, id string, status key.Status, at time.Time) error {
	query := `UPDATE api_keys SET status = $1 WHERE id = $2`
	args := []any{string(status), id}
	if status == key.StatusRevoked {
		query = `UPDATE api_keys SET status = $1, revoked_at = $2 WHERE id = $3`
		args = []any{string(status), at.UTC(), id}
	}

	ct, err := s.db.pool.Exec(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// UpdateLastUsed updates the last used timestamp.
func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	ct, err := s.db.pool.Exec(ctx, `
		UPDATE api_keys SET last_used_at = $1 WHERE id = $2
	`, at.UTC(), id)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// ListByOwner returns all keys for a tenant, newest first.
func (s *KeyStore) ListByOwner(ctx context.Context, ownerID string) ([]key.Key, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

// List returns all keys, newest first.
func (s *KeyStore) List(ctx context.Context) ([]key.Key, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanKeys(rows)
}

func scanKey(row pgx.Row) (key.Key, error) {
	var k key.Key
	var tier, status string

	err := row.Scan(
		&k.ID, &k.OwnerID, &k.Prefix, &k.Secret.Ciphertext, &k.Secret.Nonce,
		&tier, &status, &k.LimitOverride, &k.Label,
		&k.CreatedAt, &k.ExpiresAt, &k.RevokedAt, &k.LastUsedAt,
	)
	if err != nil {
		return key.Key{}, mapErr(err)
	}

	k.Tier = key.Tier(tier)
	k.Status = key.Status(status)
	return k, nil
}

func scanKeys(rows pgx.Rows) ([]key.Key, error) {
	var keys []key.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
