package vault_test

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/artpar/fitgate/adapters/vault"
	"github.com/artpar/fitgate/domain/key"
	"github.com/artpar/fitgate/ports"
)

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	masterKey := bytes.Repeat([]byte{0x42}, vault.KeySize)
	v, err := vault.New(masterKey)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return v
}

func TestSealOpenRoundTrip(t *testing.T) {
	v := testVault(t)

	plaintexts := [][]byte{
		{},
		[]byte("a"),
		[]byte("the quick brown fox"),
		bytes.Repeat([]byte{0xff}, 1024),
	}

	for _, pt := range plaintexts {
		sealed, err := v.Seal(pt)
		if err != nil {
			t.Fatalf("Seal(%d bytes) = %v", len(pt), err)
		}
		got, err := v.Open(sealed)
		if err != nil {
			t.Fatalf("Open(%d bytes) = %v", len(pt), err)
		}
		if !bytes.Equal(got, pt) {
			t.Errorf("round trip mismatch for %d-byte plaintext", len(pt))
		}
	}
}

func TestSealUsesFreshNonces(t *testing.T) {
	v := testVault(t)

	a, err := v.Seal([]byte("same plaintext"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Seal([]byte("same plaintext"))
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(a.Nonce, b.Nonce) {
		t.Error("two Seal calls produced the same nonce")
	}
	if bytes.Equal(a.Ciphertext, b.Ciphertext) {
		t.Error("two Seal calls produced the same ciphertext")
	}
}

func TestOpenDetectsSingleBitTamper(t *testing.T) {
	v := testVault(t)

	sealed, err := v.Seal([]byte("fitness data"))
	if err != nil {
		t.Fatal(err)
	}

	// Flip every bit position in ciphertext (includes the auth tag) and nonce.
	for i := 0; i < len(sealed.Ciphertext); i++ {
		for bit := 0; bit < 8; bit++ {
			mangled := key.Sealed{
				Ciphertext: append([]byte(nil), sealed.Ciphertext...),
				Nonce:      append([]byte(nil), sealed.Nonce...),
			}
			mangled.Ciphertext[i] ^= 1 << bit
			if _, err := v.Open(mangled); !errors.Is(err, ports.ErrIntegrity) {
				t.Fatalf("Open() with ciphertext bit %d.%d flipped = %v, want ErrIntegrity", i, bit, err)
			}
		}
	}
	for i := 0; i < len(sealed.Nonce); i++ {
		mangled := key.Sealed{
			Ciphertext: append([]byte(nil), sealed.Ciphertext...),
			Nonce:      append([]byte(nil), sealed.Nonce...),
		}
		mangled.Nonce[i] ^= 0x01
		if _, err := v.Open(mangled); !errors.Is(err, ports.ErrIntegrity) {
			t.Fatalf("Open() with nonce byte %d flipped = %v, want ErrIntegrity", i, err)
		}
	}
}

func TestOpenRejectsBadNonceLength(t *testing.T) {
	v := testVault(t)
	_, err := v.Open(key.Sealed{Ciphertext: []byte("junk"), Nonce: []byte("short")})
	if !errors.Is(err, ports.ErrIntegrity) {
		t.Errorf("Open() with short nonce = %v, want ErrIntegrity", err)
	}
}

func TestNewRejectsWrongKeyLength(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		if _, err := vault.New(bytes.Repeat([]byte{1}, n)); err == nil {
			t.Errorf("New(%d-byte key) = nil error, want error", n)
		}
	}
}

func TestFromEnv(t *testing.T) {
	const envName = "FITGATE_TEST_MASTER_KEY"

	t.Run("missing", func(t *testing.T) {
		t.Setenv(envName, "")
		if _, err := vault.FromEnv(envName); err == nil {
			t.Error("FromEnv() with unset env = nil error, want error")
		}
	})

	t.Run("not hex", func(t *testing.T) {
		t.Setenv(envName, "zz")
		if _, err := vault.FromEnv(envName); err == nil {
			t.Error("FromEnv() with non-hex value = nil error, want error")
		}
	})

	t.Run("wrong length", func(t *testing.T) {
		t.Setenv(envName, "deadbeef")
		if _, err := vault.FromEnv(envName); err == nil {
			t.Error("FromEnv() with short key = nil error, want error")
		}
	})

	t.Run("valid", func(t *testing.T) {
		t.Setenv(envName, hex.EncodeToString(bytes.Repeat([]byte{7}, vault.KeySize)))
		v, err := vault.FromEnv(envName)
		if err != nil {
			t.Fatalf("FromEnv() = %v", err)
		}
		sealed, err := v.Seal([]byte("x"))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := v.Open(sealed); err != nil {
			t.Errorf("Open() after FromEnv = %v", err)
		}
	})
}
