package envelope

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

func TestWrapUnwrap_RoundTrip(t *testing.T) {
	master, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}

	bundle, err := Wrap("246813", master)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}

	got, err := Unwrap("246813", bundle)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !bytes.Equal(got, master) {
		t.Error("unwrapped master key does not match original")
	}
}

func TestWrap_NonDeterministic(t *testing.T) {
	master, _ := GenerateMasterKey()

	a, err := Wrap("246813", master)
	if err != nil {
		t.Fatalf("first Wrap failed: %v", err)
	}
	b, err := Wrap("246813", master)
	if err != nil {
		t.Fatalf("second Wrap failed: %v", err)
	}

	if a.SaltB64 == b.SaltB64 {
		t.Error("salt reused across wraps")
	}
	if a.NonceB64 == b.NonceB64 {
		t.Error("nonce reused across wraps")
	}
	if a.CiphertextB64 == b.CiphertextB64 {
		t.Error("identical ciphertext across wraps")
	}
}

func TestWrap_DoesNotMutateMasterKey(t *testing.T) {
	master, _ := GenerateMasterKey()
	before := make([]byte, len(master))
	copy(before, master)

	if _, err := Wrap("246813", master); err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	if !bytes.Equal(master, before) {
		t.Error("Wrap mutated the master key")
	}
}

func TestUnwrap_WrongPin(t *testing.T) {
	master, _ := GenerateMasterKey()
	bundle, _ := Wrap("246813", master)

	if _, err := Unwrap("246814", bundle); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("expected ErrInvalidPin, got %v", err)
	}
}

// Flipping any single bit of ciphertext, salt or nonce must fail even for
// the correct PIN, with the same error as a wrong PIN.
func TestUnwrap_TamperSensitivity(t *testing.T) {
	master, _ := GenerateMasterKey()
	bundle, _ := Wrap("246813", master)

	flip := func(b64 string) string {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		raw[0] ^= 0x01
		return base64.StdEncoding.EncodeToString(raw)
	}

	cases := []struct {
		name   string
		mutate func(b Bundle) Bundle
	}{
		{"ciphertext", func(b Bundle) Bundle { b.CiphertextB64 = flip(b.CiphertextB64); return b }},
		{"salt", func(b Bundle) Bundle { b.SaltB64 = flip(b.SaltB64); return b }},
		{"nonce", func(b Bundle) Bundle { b.NonceB64 = flip(b.NonceB64); return b }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tampered := tc.mutate(*bundle)
			if _, err := Unwrap("246813", &tampered); !errors.Is(err, ErrInvalidPin) {
				t.Errorf("tampered %s: expected ErrInvalidPin, got %v", tc.name, err)
			}
		})
	}
}

func TestUnwrap_MalformedFields(t *testing.T) {
	master, _ := GenerateMasterKey()
	bundle, _ := Wrap("246813", master)

	bad := *bundle
	bad.SaltB64 = "!!not-base64!!"
	if _, err := Unwrap("246813", &bad); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("malformed salt: expected ErrInvalidPin, got %v", err)
	}

	short := *bundle
	short.NonceB64 = base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	if _, err := Unwrap("246813", &short); !errors.Is(err, ErrInvalidPin) {
		t.Errorf("short nonce: expected ErrInvalidPin, got %v", err)
	}
}

func TestUnwrap_UnsupportedVersion(t *testing.T) {
	master, _ := GenerateMasterKey()
	bundle, _ := Wrap("246813", master)
	bundle.Version = "v9"

	if _, err := Unwrap("246813", bundle); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

// Legacy v1 bundles (PBKDF2-SHA256) must remain readable after the Argon2id
// upgrade.
func TestUnwrap_LegacyV1Bundle(t *testing.T) {
	master, _ := GenerateMasterKey()

	salt := bytes.Repeat([]byte{0x5a}, SaltLen)
	nonce := bytes.Repeat([]byte{0xa5}, NonceLen)
	key := pbkdf2.Key([]byte("246813"), salt, pbkdf2Iterations, MasterKeyLen, sha256.New)
	aead, err := newGCM(key)
	if err != nil {
		t.Fatalf("newGCM failed: %v", err)
	}
	ciphertext := aead.Seal(nil, nonce, master, nil)

	legacy := &Bundle{
		Algo:          "AES-GCM",
		KDF:           "PBKDF2",
		Iterations:    pbkdf2Iterations,
		Digest:        "SHA-256",
		KeyLength:     MasterKeyLen,
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
		SaltB64:       base64.StdEncoding.EncodeToString(salt),
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
		Version:       VersionV1,
	}

	got, err := Unwrap("246813", legacy)
	if err != nil {
		t.Fatalf("Unwrap of v1 bundle failed: %v", err)
	}
	if !bytes.Equal(got, master) {
		t.Error("v1 unwrap returned wrong master key")
	}
}

// A v2 bundle written with non-default Argon2id costs must unwrap with its
// own stored parameters, not the current build's defaults.
func TestUnwrap_HonorsStoredArgon2Parameters(t *testing.T) {
	master, _ := GenerateMasterKey()

	salt := bytes.Repeat([]byte{0x3c}, SaltLen)
	nonce := bytes.Repeat([]byte{0xc3}, NonceLen)
	key := argon2.IDKey([]byte("246813"), salt, 1, 8*1024, 2, MasterKeyLen)
	aead, err := newGCM(key)
	if err != nil {
		t.Fatalf("newGCM failed: %v", err)
	}
	ciphertext := aead.Seal(nil, nonce, master, nil)

	bundle := &Bundle{
		Algo:          "AES-GCM",
		KDF:           "Argon2id",
		MemoryKiB:     8 * 1024,
		TimeCost:      1,
		Parallelism:   2,
		KeyLength:     MasterKeyLen,
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
		SaltB64:       base64.StdEncoding.EncodeToString(salt),
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
		Version:       VersionV2,
	}

	got, err := Unwrap("246813", bundle)
	if err != nil {
		t.Fatalf("Unwrap with stored parameters failed: %v", err)
	}
	if !bytes.Equal(got, master) {
		t.Error("unwrap with stored parameters returned wrong master key")
	}
}

func TestBundle_JSONRoundTrip(t *testing.T) {
	master, _ := GenerateMasterKey()
	bundle, _ := Wrap("246813", master)

	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded Bundle
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	got, err := Unwrap("246813", &decoded)
	if err != nil {
		t.Fatalf("Unwrap after JSON round trip failed: %v", err)
	}
	if !bytes.Equal(got, master) {
		t.Error("master key lost through JSON round trip")
	}
}

func TestWrap_RejectsBadKeyLength(t *testing.T) {
	if _, err := Wrap("246813", []byte("short")); err == nil {
		t.Error("expected error for short master key")
	}
}
