// Package envelope implements the credential protection core: it derives a
// symmetric key from the user's PIN and uses it to wrap (encrypt) the
// per-user master key into a versioned, self-describing bundle.
//
// The package is pure and stateless. It performs no I/O beyond reading the
// platform random source, and it never logs key material.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// MasterKeyLen is the length of the per-user master key.
	MasterKeyLen = 32
	// SaltLen is the length of the random KDF salt.
	SaltLen = 16
	// NonceLen is the AES-GCM nonce length.
	NonceLen = 12
)

// KDF parameters. V1 matches the original PBKDF2 deployment; V2 is the
// Argon2id upgrade tuned for mobile hardware.
const (
	pbkdf2Iterations = 10000

	argon2Time      = 3
	argon2MemoryKiB = 32 * 1024 // 32 MB
	argon2Threads   = 1
)

// Bundle schema versions. Unwrap dispatches on the version tag so legacy
// bundles stay readable after a parameter upgrade.
const (
	VersionV1 = "v1" // PBKDF2-SHA256
	VersionV2 = "v2" // Argon2id
)

var (
	// ErrInvalidPin is returned whenever a bundle cannot be opened,
	// whether the PIN is wrong or the bundle is corrupted. The two cases
	// are deliberately indistinguishable to avoid an oracle.
	ErrInvalidPin = errors.New("envelope: invalid PIN")

	// ErrEntropySource signals that the platform random source could not
	// be read. Fatal: retrying cannot succeed.
	ErrEntropySource = errors.New("envelope: secure random source unavailable")

	// ErrUnsupportedVersion is returned for bundles written by a newer
	// schema than this build understands. Independent of the PIN, so it
	// leaks nothing.
	ErrUnsupportedVersion = errors.New("envelope: unsupported bundle version")
)

// Bundle is the persisted encrypted form of a master key. It carries every
// parameter needed to reverse the wrap given the correct PIN, and is opaque
// ciphertext to anything that does not hold the PIN.
type Bundle struct {
	Algo          string `json:"algo"` // always "AES-GCM"
	KDF           string `json:"kdf"`  // "PBKDF2" or "Argon2id"
	Iterations    int    `json:"iterations,omitempty"`
	Digest        string `json:"digest,omitempty"` // "SHA-256" for PBKDF2
	MemoryKiB     int    `json:"memory_kib,omitempty"`
	TimeCost      int    `json:"time_cost,omitempty"`
	Parallelism   int    `json:"parallelism,omitempty"`
	KeyLength     int    `json:"key_length"`
	CiphertextB64 string `json:"ciphertext_b64"`
	SaltB64       string `json:"salt_b64"`
	NonceB64      string `json:"nonce_b64"`
	Version       string `json:"version"`
}

// GenerateMasterKey fills a fresh 32-byte master key from the platform
// random source.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropySource, err)
	}
	return key, nil
}

// Wrap derives a key from pin and a fresh salt, encrypts masterKey under
// AES-256-GCM with a fresh nonce, and returns the resulting bundle. The
// master key is not mutated. Every call consumes fresh randomness, so two
// wraps of the same inputs never share a salt, nonce or ciphertext.
func Wrap(pin string, masterKey []byte) (*Bundle, error) {
	if len(masterKey) != MasterKeyLen {
		return nil, fmt.Errorf("envelope: master key must be %d bytes", MasterKeyLen)
	}

	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropySource, err)
	}
	nonce := make([]byte, NonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEntropySource, err)
	}

	key := argon2.IDKey([]byte(pin), salt, argon2Time, argon2MemoryKiB, argon2Threads, MasterKeyLen)
	defer ZeroBytes(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, masterKey, nil)

	return &Bundle{
		Algo:          "AES-GCM",
		KDF:           "Argon2id",
		MemoryKiB:     argon2MemoryKiB,
		TimeCost:      argon2Time,
		Parallelism:   argon2Threads,
		KeyLength:     MasterKeyLen,
		CiphertextB64: base64.StdEncoding.EncodeToString(ciphertext),
		SaltB64:       base64.StdEncoding.EncodeToString(salt),
		NonceB64:      base64.StdEncoding.EncodeToString(nonce),
		Version:       VersionV2,
	}, nil
}

// Unwrap re-derives the key from pin and the bundle's stored parameters,
// then authenticated-decrypts the master key. Any failure to open the
// bundle, including malformed fields, reports ErrInvalidPin: a wrong PIN
// and a corrupted bundle must look identical to the caller.
func Unwrap(pin string, b *Bundle) ([]byte, error) {
	switch b.Version {
	case VersionV1, VersionV2:
	default:
		return nil, ErrUnsupportedVersion
	}

	salt, err := base64.StdEncoding.DecodeString(b.SaltB64)
	if err != nil || len(salt) != SaltLen {
		return nil, ErrInvalidPin
	}
	nonce, err := base64.StdEncoding.DecodeString(b.NonceB64)
	if err != nil || len(nonce) != NonceLen {
		return nil, ErrInvalidPin
	}
	ciphertext, err := base64.StdEncoding.DecodeString(b.CiphertextB64)
	if err != nil {
		return nil, ErrInvalidPin
	}

	key := deriveKey(pin, salt, b)
	defer ZeroBytes(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	masterKey, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPin
	}
	if len(masterKey) != MasterKeyLen {
		ZeroBytes(masterKey)
		return nil, ErrInvalidPin
	}
	return masterKey, nil
}

// deriveKey applies the bundle's KDF to the UTF-8 bytes of the PIN.
// Deterministic given identical inputs; the PIN length is fixed by policy so
// runtime does not vary with the PIN value.
func deriveKey(pin string, salt []byte, b *Bundle) []byte {
	if b.Version == VersionV1 {
		iterations := b.Iterations
		if iterations <= 0 {
			iterations = pbkdf2Iterations
		}
		return pbkdf2.Key([]byte(pin), salt, iterations, MasterKeyLen, sha256.New)
	}

	// The bundle is self-describing: honor its stored cost parameters and
	// fall back to the current defaults only when a field is absent.
	timeCost := uint32(argon2Time)
	if b.TimeCost > 0 {
		timeCost = uint32(b.TimeCost)
	}
	memory := uint32(argon2MemoryKiB)
	if b.MemoryKiB > 0 {
		memory = uint32(b.MemoryKiB)
	}
	threads := uint8(argon2Threads)
	if b.Parallelism > 0 && b.Parallelism < 256 {
		threads = uint8(b.Parallelism)
	}
	return argon2.IDKey([]byte(pin), salt, timeCost, memory, threads, MasterKeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}

// ZeroBytes overwrites b with zeros. Callers defer this over every buffer
// that held key material, including error paths.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
