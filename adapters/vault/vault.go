// Package vault seals and opens API key secrets with an authenticated
// cipher (XChaCha20-Poly1305). The master key lives in process memory for
// the process lifetime and is never persisted or logged.
package vault

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/ports"
)

// KeySize is the required master key length: 32 bytes for a 256-bit cipher.
const KeySize = chacha20poly1305.KeySize

// DefaultKeyEnv is the environment variable the master key is read from,
// as 64 hex characters.
const DefaultKeyEnv = "FITGATE_MASTER_KEY"

// Vault implements ports.Cipher. Operations are stateless beyond the
// immutable key material and safe for concurrent use.
type Vault struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// New creates a Vault from raw master key material. A missing or
// wrong-length key is a configuration error: callers treat it as
// startup-fatal, never as a per-request condition.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(masterKey))
	}
	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// FromEnv creates a Vault from a hex-encoded master key in the named
// environment variable (DefaultKeyEnv if name is empty).
func FromEnv(name string) (*Vault, error) {
	if name == "" {
		name = DefaultKeyEnv
	}
	raw := os.Getenv(name)
	if raw == "" {
		return nil, fmt.Errorf("master key env %s is not set", name)
	}
	masterKey, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("master key env %s: not valid hex", name)
	}
	return New(masterKey)
}

// Seal encrypts plaintext under a fresh random nonce. The nonce is
// generated here; accepting a caller-supplied nonce would make reuse
// possible, so the API does not allow it.
func (v *Vault) Seal(plaintext []byte) (key.Sealed, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return key.Sealed{}, fmt.Errorf("generate nonce: %w", err)
	}
	return key.Sealed{
		Ciphertext: v.aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}, nil
}

// Open decrypts sealed material. Any tampering with ciphertext or nonce
// fails authentication and returns ports.ErrIntegrity.
func (v *Vault) Open(s key.Sealed) ([]byte, error) {
	if len(s.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ports.ErrIntegrity
	}
	plaintext, err := v.aead.Open(nil, s.Nonce, s.Ciphertext, nil)
	if err != nil {
		return nil, ports.ErrIntegrity
	}
	return plaintext, nil
}

// Ensure interface compliance.
var _ ports.Cipher = (*Vault)(nil)
