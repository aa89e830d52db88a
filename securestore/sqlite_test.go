package securestore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	key := make([]byte, 32)
	rand.Read(key)

	s, err := NewSQLiteStore(":memory:", key)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("SESSION_ID", []byte("token-abc")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get("SESSION_ID")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte("token-abc")) {
		t.Errorf("Get returned %q, want %q", got, "token-abc")
	}
}

func TestSQLiteStore_Overwrite(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("DEVICE_BIND", []byte("old")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set("DEVICE_BIND", []byte("new")); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}

	got, err := s.Get("DEVICE_BIND")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("expected overwritten value, got %q", got)
	}
}

func TestSQLiteStore_MissingKey(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Set("REFRESH_TOKEN", []byte("r1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Delete("REFRESH_TOKEN"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get("REFRESH_TOKEN"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting again must be a no-op.
	if err := s.Delete("REFRESH_TOKEN"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestSQLiteStore_ValuesSealedAtRest(t *testing.T) {
	s := newTestStore(t)

	secret := []byte("very-secret-value")
	if err := s.Set("k", secret); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var blob []byte
	if err := s.db.QueryRow("SELECT value FROM secure_items WHERE key = 'k'").Scan(&blob); err != nil {
		t.Fatalf("raw read failed: %v", err)
	}
	if bytes.Contains(blob, secret) {
		t.Error("plaintext leaked into the database blob")
	}
}

func TestSQLiteStore_WrongKeyCannotRead(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)

	s, err := NewSQLiteStore(":memory:", key)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if err := s.Set("k", []byte("v")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Swap the key and drop the cache: the read must fail to authenticate.
	rand.Read(s.key)
	s.cache.clear()

	if _, err := s.Get("k"); err == nil {
		t.Error("expected unseal failure with wrong storage key")
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	m := NewMemoryStore()

	v := []byte("abc")
	if err := m.Set("k", v); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	v[0] = 'X'

	got, err := m.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("stored value was aliased to caller slice: %q", got)
	}
}
