package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/vaultkit/vaultkit/envelope"
)

const (
	itemKeyLen  = 32
	itemSaltLen = 16

	// Domain separation for per-item keys derived from the master key.
	itemKeyInfo = "vaultkit/item/v1"

	sharePbkdf2Iterations = 10_000
)

// ErrCorruptItem is returned when an item's payload fails authentication.
// Wrong key material and tampered ciphertext are indistinguishable.
var ErrCorruptItem = errors.New("vault: item payload corrupt or key mismatch")

// sealedBlob is one AES-GCM sealing of an item value, together with the
// salt its key was derived under.
type sealedBlob struct {
	ciphertext []byte
	nonce      []byte
	salt       []byte
}

// deriveItemKey expands the master key into a per-item key. Each item gets
// its own random salt so no two items share a data key.
func deriveItemKey(masterKey, salt []byte) ([]byte, error) {
	key := make([]byte, itemKeyLen)
	r := hkdf.New(sha256.New, masterKey, salt, []byte(itemKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive item key: %w", err)
	}
	return key, nil
}

// deriveShareKey stretches a share passphrase into a sealing key. The
// passphrase is low entropy, so it goes through PBKDF2 rather than HKDF.
func deriveShareKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, sharePbkdf2Iterations, itemKeyLen, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext under a key derived from base via derive, using a
// fresh salt and nonce.
func seal(derive func(salt []byte) ([]byte, error), plaintext []byte) (*sealedBlob, error) {
	salt := make([]byte, itemSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	key, err := derive(salt)
	if err != nil {
		return nil, err
	}
	defer envelope.ZeroBytes(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return &sealedBlob{
		ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		nonce:      nonce,
		salt:       salt,
	}, nil
}

// open decrypts a sealed blob with the key derived from its salt. Any
// failure is reported as ErrCorruptItem.
func open(derive func(salt []byte) ([]byte, error), blob *sealedBlob) ([]byte, error) {
	key, err := derive(blob.salt)
	if err != nil {
		return nil, err
	}
	defer envelope.ZeroBytes(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	if len(blob.nonce) != aead.NonceSize() {
		return nil, ErrCorruptItem
	}

	plaintext, err := aead.Open(nil, blob.nonce, blob.ciphertext, nil)
	if err != nil {
		return nil, ErrCorruptItem
	}
	return plaintext, nil
}
