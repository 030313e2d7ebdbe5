package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/ports"
)

const keyColumns = `id, owner_id, prefix, secret_ciphertext, secret_nonce, tier, status,
	limit_override, label, created_at, expires_at, revoked_at, last_used_at`

// KeyStore implements ports.KeyStore using SQLite.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new SQLite key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// GetByPrefix retrieves the key with the given public prefix.
func (s *KeyStore) GetByPrefix(ctx context.Context, prefix string) (key.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE prefix = ?
	`, prefix)
	return scanKey(row)
}

// GetByID retrieves a key by ID.
func (s *KeyStore) GetByID(ctx context.Context, id string) (key.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE id = ?
	`, id)
	return scanKey(row)
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.OwnerID, k.Prefix, k.Secret.Ciphertext, k.Secret.Nonce,
		string(k.Tier), string(k.Status), k.LimitOverride, k.Label,
		k.CreatedAt.UTC(), nullTime(k.ExpiresAt), nullTime(k.RevokedAt), nullTime(k.LastUsedAt))
	return mapErr(err)
}

// SetStatus transitions a key's status, stamping revoked_at on revocation.
func (s *KeyStore) SetStatus(ctx context.Context, id string, status key.Status, at time.Time) error {
	var result sql.Result
	var err error
	if status == key.StatusRevoked {
		result, err = s.db.ExecContext(ctx, `
			UPDATE api_keys SET status = ?, revoked_at = ? WHERE id = ?
		`, string(status), at.UTC(), id)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE api_keys SET status = ? WHERE id = ?
		`, string(status), id)
	}
	if err != nil {
		return mapErr(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// UpdateLastUsed updates the last used timestamp.
func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = ? WHERE id = ?
	`, at.UTC(), id)
	if err != nil {
		return mapErr(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// ListByOwner returns all keys for a tenant, newest first.
func (s *KeyStore) ListByOwner(ctx context.Context, ownerID string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+keyColumns+`
		FROM api_keys
		WHERE owner_id = ?
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
	rows, err := s.db.QueryContext(ctx, `
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

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanKey(row scanner) (key.Key, error) {
	var k key.Key
	var tier, status string
	var expiresAt, revokedAt, lastUsedAt sql.NullTime

	err := row.Scan(
		&k.ID, &k.OwnerID, &k.Prefix, &k.Secret.Ciphertext, &k.Secret.Nonce,
		&tier, &status, &k.LimitOverride, &k.Label,
		&k.CreatedAt, &expiresAt, &revokedAt, &lastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return key.Key{}, ports.ErrNotFound
	}
	if err != nil {
		return key.Key{}, err
	}

	k.Tier = key.Tier(tier)
	k.Status = key.Status(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		k.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		k.RevokedAt = &t
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		k.LastUsedAt = &t
	}
	return k, nil
}

func scanKeys(rows *sql.Rows) ([]key.Key, error) {
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

// nullTime converts a *time.Time to sql.NullTime, normalizing to UTC.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
