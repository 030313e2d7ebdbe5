// Package app provides application services that orchestrate domain logic
// with storage and crypto ports.
package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/ports"
)

// AnomalyCounter counts data-integrity anomalies. prometheus.Counter
// satisfies it; a nil counter disables counting.
type AnomalyCounter interface {
	Inc()
}

// prefix collisions are a 1-in-2^32 event; retrying a couple of times is
// enough to make issuance failures from collisions unobservable.
const maxPrefixAttempts = 3

// KeyService is the key registry: issuance, verification, revocation and
// rotation of API keys.
type KeyService struct {
	keys      ports.KeyStore
	cipher    ports.Cipher
	random    ports.Random
	idGen     ports.IDGenerator
	clock     ports.Clock
	logger    zerolog.Logger
	anomalies AnomalyCounter
}

// KeyDeps contains dependencies for KeyService.
type KeyDeps struct {
	Keys      ports.KeyStore
	Cipher    ports.Cipher
	Random    ports.Random
	IDGen     ports.IDGenerator
	Clock     ports.Clock
	Logger    zerolog.Logger
	Anomalies AnomalyCounter // optional
}

// NewKeyService creates a new key service.
func NewKeyService(deps KeyDeps) *KeyService {
	return &KeyService{
		keys:      deps.Keys,
		cipher:    deps.Cipher,
		random:    deps.Random,
		idGen:     deps.IDGen,
		clock:     deps.Clock,
		logger:    deps.Logger,
		anomalies: deps.Anomalies,
	}
}

// IssueParams contains parameters for issuing a new key.
type IssueParams struct {
	OwnerID       string
	Tier          key.Tier
	Label         string
	TTL           time.Duration // 0 = never expires
	LimitOverride int64         // 0 = tier policy
}

// Issue creates a new API key and returns the one-time raw key. This is
// the only moment the plaintext secret exists outside the cipher boundary;
// it is never stored and never retrievable again.
func (s *KeyService) Issue(ctx context.Context, p IssueParams) (string, key.Key, error) {
	if p.OwnerID == "" {
		return "", key.Key{}, errors.New("owner id is required")
	}
	if !p.Tier.Valid() {
		return "", key.Key{}, fmt.Errorf("unknown tier %q", p.Tier)
	}

	now := s.clock.Now()

	var lastErr error
	for attempt := 0; attempt < maxPrefixAttempts; attempt++ {
		secret, err := s.random.Bytes(key.SecretLen)
		if err != nil {
			return "", key.Key{}, fmt.Errorf("generate secret: %w", err)
		}
		prefixBody, err := s.random.Bytes(key.PrefixHex / 2)
		if err != nil {
			return "", key.Key{}, fmt.Errorf("generate prefix: %w", err)
		}

		rawKey, prefix := key.Assemble(prefixBody, secret)

		sealed, err := s.cipher.Seal(secret)
		if err != nil {
			return "", key.Key{}, fmt.Errorf("seal secret: %w", err)
		}

		k := key.Key{
			ID:            s.idGen.New(),
			OwnerID:       p.OwnerID,
			Prefix:        prefix,
			Secret:        sealed,
			Tier:          p.Tier,
			Status:        key.StatusActive,
			LimitOverride: p.LimitOverride,
			Label:         p.Label,
			CreatedAt:     now,
		}
		if p.TTL > 0 {
			expires := now.Add(p.TTL)
			k.ExpiresAt = &expires
		}

		if err := s.keys.Create(ctx, k); err != nil {
			if errors.Is(err, ports.ErrDuplicate) {
				lastErr = err
				continue
			}
			return "", key.Key{}, fmt.Errorf("store key: %w", err)
		}

		s.logger.Info().
			Str("key_id", k.ID).
			Str("owner_id", k.OwnerID).
			Str("tier", string(k.Tier)).
			Msg("api key issued")
		return rawKey, k, nil
	}

	return "", key.Key{}, fmt.Errorf("store key: %w", lastErr)
}

// Verify resolves and checks a presented raw key. It returns the key and
// an empty reason on success, or a denial reason. Lookup miss, decrypt
// failure and secret mismatch all yield the same invalid_key reason so the
// response does not reveal whether the prefix exists. A non-nil error
// means storage was unavailable and authorization could not be determined.
func (s *KeyService) Verify(ctx context.Context, rawKey string) (key.Key, string, error) {
	prefix, presented, ok := key.Split(rawKey)
	if !ok {
		return key.Key{}, key.ReasonInvalid, nil
	}

	k, err := s.keys.GetByPrefix(ctx, prefix)
	if errors.Is(err, ports.ErrNotFound) {
		return key.Key{}, key.ReasonInvalid, nil
	}
	if err != nil {
		return key.Key{}, "", fmt.Errorf("lookup key: %w", err)
	}

	secret, err := s.cipher.Open(k.Secret)
	if err != nil {
		// A stored record that fails authentication is corruption or
		// tampering; deny as invalid but leave a trail for operators.
		s.logger.Error().
			Str("key_id", k.ID).
			Str("prefix", k.Prefix).
			Msg("sealed secret failed integrity check")
		if s.anomalies != nil {
			s.anomalies.Inc()
		}
		return key.Key{}, key.ReasonInvalid, nil
	}

	if subtle.ConstantTimeCompare(secret, presented) != 1 {
		return key.Key{}, key.ReasonInvalid, nil
	}

	now := s.clock.Now()
	if result := key.Validate(k, now); !result.Valid {
		return k, result.Reason, nil
	}

	if err := s.keys.UpdateLastUsed(ctx, k.ID, now); err != nil {
		// Best effort; the authorization itself is unaffected.
		s.logger.Warn().Err(err).Str("key_id", k.ID).Msg("update last used failed")
	}
	return k, key.ReasonValid, nil
}

// Get retrieves a key by ID.
func (s *KeyService) Get(ctx context.Context, id string) (key.Key, error) {
	return s.keys.GetByID(ctx, id)
}

// Revoke permanently disables a key. Revocation is terminal: there is no
// path back to active, only a new Issue. Revoking an already revoked key
// is a no-op.
func (s *KeyService) Revoke(ctx context.Context, id string) error {
	k, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if k.Status == key.StatusRevoked {
		return nil
	}

	if err := s.keys.SetStatus(ctx, id, key.StatusRevoked, s.clock.Now()); err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	s.logger.Info().Str("key_id", id).Str("owner_id", k.OwnerID).Msg("api key revoked")
	return nil
}

// Rotate replaces a key: a new key is issued with the same owner, tier,
// label and limit override, then the old key is revoked. Issuing first
// means a failure can leave two active keys but never zero; the caller
// retries the revoke half via Revoke.
func (s *KeyService) Rotate(ctx context.Context, id string) (string, key.Key, error) {
	old, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return "", key.Key{}, err
	}
	if old.Status == key.StatusRevoked {
		return "", key.Key{}, errors.New("cannot rotate a revoked key")
	}

	params := IssueParams{
		OwnerID:       old.OwnerID,
		Tier:          old.Tier,
		Label:         old.Label,
		LimitOverride: old.LimitOverride,
	}
	if old.ExpiresAt != nil {
		if ttl := old.ExpiresAt.Sub(s.clock.Now()); ttl > 0 {
			params.TTL = ttl
		}
	}

	rawKey, fresh, err := s.Issue(ctx, params)
	if err != nil {
		return "", key.Key{}, fmt.Errorf("issue replacement: %w", err)
	}

	if err := s.Revoke(ctx, id); err != nil {
		return "", key.Key{}, fmt.Errorf("revoke rotated key: %w", err)
	}

	s.logger.Info().
		Str("old_key_id", id).
		Str("new_key_id", fresh.ID).
		Msg("api key rotated")
	return rawKey, fresh, nil
}

// ListByOwner returns all keys for a tenant, newest first.
func (s *KeyService) ListByOwner(ctx context.Context, ownerID string) ([]key.Key, error) {
	return s.keys.ListByOwner(ctx, ownerID)
}

// List returns all keys, newest first.
func (s *KeyService) List(ctx context.Context) ([]key.Key, error) {
	return s.keys.List(ctx)
}
