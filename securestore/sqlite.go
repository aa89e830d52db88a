package securestore

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/chacha20poly1305"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists key-value pairs in a local SQLite database. Every
// value is sealed with XChaCha20-Poly1305 under a 32-byte storage key before
// it touches disk, so the database file itself is opaque.
type SQLiteStore struct {
	db    *sql.DB
	key   []byte // 32-byte storage key
	cache *plaintextCache
}

// sealedRecord is the CBOR-encoded on-disk value format.
type sealedRecord struct {
	Nonce      []byte `cbor:"1,keyasint"`
	Ciphertext []byte `cbor:"2,keyasint"`
	UpdatedAt  int64  `cbor:"3,keyasint"`
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for tests. The storage key must be 32 bytes.
func NewSQLiteStore(path string, key []byte) (*SQLiteStore, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("storage key must be %d bytes", chacha20poly1305.KeySize)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		db:    db,
		key:   key,
		cache: newPlaintextCache(100),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("secure store opened")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS secure_items (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Get retrieves and unseals the value for key.
func (s *SQLiteStore) Get(key string) ([]byte, error) {
	if cached, ok := s.cache.get(key); ok {
		return cached, nil
	}

	var blob []byte
	err := s.db.QueryRow("SELECT value FROM secure_items WHERE key = ?", key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	plaintext, err := s.unseal(blob)
	if err != nil {
		return nil, fmt.Errorf("unseal %q: %w", key, err)
	}

	s.cache.put(key, plaintext)
	return plaintext, nil
}

// Set seals value and writes it under key. The write replaces any previous
// value atomically.
func (s *SQLiteStore) Set(key string, value []byte) error {
	blob, err := s.seal(value)
	if err != nil {
		return fmt.Errorf("seal %q: %w", key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO secure_items (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, blob, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.cache.put(key, value)
	return nil
}

// Delete removes key from the store and the cache.
func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM secure_items WHERE key = ?", key); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.cache.delete(key)
	return nil
}

// Close closes the database and drops cached plaintext.
func (s *SQLiteStore) Close() error {
	s.cache.clear()
	return s.db.Close()
}

func (s *SQLiteStore) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	rec := sealedRecord{
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		UpdatedAt:  time.Now().Unix(),
	}
	return cbor.Marshal(rec)
}

func (s *SQLiteStore) unseal(blob []byte) ([]byte, error) {
	var rec sealedRecord
	if err := cbor.Unmarshal(blob, &rec); err != nil {
		return nil, fmt.Errorf("invalid record encoding: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(rec.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: %d", len(rec.Nonce))
	}

	return aead.Open(nil, rec.Nonce, rec.Ciphertext, nil)
}
