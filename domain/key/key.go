// Package key provides API key value types and pure validation functions.
// This package has NO dependencies on I/O or external packages.
package key

import (
	"encoding/hex"
	"time"
)

// Tier is a named service level determining quota limits.
type Tier string

// Tiers, ordered from smallest to largest allowance.
const (
	TierTrial        Tier = "trial"
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierTrial, TierStarter, TierProfessional, TierEnterprise:
		return true
	}
	return false
}

// Status is the lifecycle state of a key. Transitions are one-way:
// active keys may become revoked, revoked keys never return.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Sealed holds encrypted secret material together with the nonce it was
// sealed under. The plaintext secret is never stored.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
}

// Key represents an API key (immutable value type). The raw secret is
// visible exactly once, at issuance; only its sealed form is retained.
type Key struct {
	ID            string
	OwnerID       string // tenant that owns the key
	Prefix        string // public lookup hint, unique system-wide
	Secret        Sealed
	Tier          Tier
	Status        Status
	LimitOverride int64 // per-key requests-per-window override; 0 = tier policy
	Label         string
	CreatedAt     time.Time
	ExpiresAt     *time.Time // nil = never expires
	RevokedAt     *time.Time // nil = not revoked
	LastUsedAt    *time.Time
}

// ValidationResult represents the outcome of key validation (value type).
type ValidationResult struct {
	Valid  bool
	Reason string // Populated only if Valid=false
}

// Reasons for validation failure.
const (
	ReasonValid   = ""
	ReasonInvalid = "invalid_key"
	ReasonExpired = "key_expired"
	ReasonRevoked = "key_revoked"
)

// Raw key layout: marker + hex prefix body + hex secret.
// Example: fg_1a2b3c4d<64 hex chars>, 75 characters total.
const (
	Marker    = "fg_"
	PrefixHex = 8  // hex chars of prefix body
	SecretLen = 32 // secret bytes (256 bits of entropy)
	prefixLen = len(Marker) + PrefixHex
	rawKeyLen = prefixLen + SecretLen*2
)

// Assemble builds the one-time raw key and its public prefix from freshly
// generated random material. The prefix body identifies the record for
// lookup and is not secret; the suffix is the secret.
// This is a PURE function.
func Assemble(prefixBody, secret []byte) (rawKey, prefix string) {
	prefix = Marker + hex.EncodeToString(prefixBody)
	return prefix + hex.EncodeToString(secret), prefix
}

// Split parses a presented raw key into its lookup prefix and secret bytes.
// Returns ok=false for anything that does not have the exact shape of an
// issued key; callers must treat that the same as an unknown key.
// This is a PURE function.
func Split(rawKey string) (prefix string, secret []byte, ok bool) {
	if len(rawKey) != rawKeyLen || rawKey[:len(Marker)] != Marker {
		return "", nil, false
	}
	secret, err := hex.DecodeString(rawKey[prefixLen:])
	if err != nil {
		return "", nil, false
	}
	return rawKey[:prefixLen], secret, true
}

// Validate checks if a key is usable at the given time. Revocation wins
// over expiry; expiry is enforced here, at verification time, so there is
// no window where an expired key is still accepted.
// This is a PURE function - no side effects, deterministic.
func Validate(k Key, now time.Time) ValidationResult {
	if k.Status == StatusRevoked || k.RevokedAt != nil {
		return ValidationResult{Reason: ReasonRevoked}
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return ValidationResult{Reason: ReasonExpired}
	}
	return ValidationResult{Valid: true}
}

// EffectiveLimit returns the per-window request limit for the key given the
// tier's configured limit. A per-key override takes precedence.
// This is a PURE function.
func EffectiveLimit(k Key, tierLimit int64) int64 {
	if k.LimitOverride > 0 {
		return k.LimitOverride
	}
	return tierLimit
}
