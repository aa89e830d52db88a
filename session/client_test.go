package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vaultkit/vaultkit/securestore"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *securestore.MemoryStore) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store := securestore.NewMemoryStore()
	client := New(Config{
		BaseURL:    srv.URL,
		AppVersion: "1.0.0-test",
		RetryBase:  time.Millisecond,
	}, store)
	return client, store
}

func TestDo_AttachesHeaders(t *testing.T) {
	var got http.Header
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))

	store.Set(securestore.KeySessionID, []byte("tok-1"))
	store.Set(securestore.KeyDeviceID, []byte("dev-42"))
	store.Set(securestore.KeyDeviceBind, []byte("bind-7"))

	if err := client.Do(context.Background(), http.MethodGet, "/ping", nil, nil); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	if auth := got.Get("Authorization"); auth != "Bearer tok-1" {
		t.Errorf("Authorization = %q", auth)
	}
	if id := got.Get("X-Device-Id"); id != "dev-42" {
		t.Errorf("X-Device-Id = %q", id)
	}
	if bind := got.Get("X-Device-Bind"); bind != "bind-7" {
		t.Errorf("X-Device-Bind = %q", bind)
	}
	if got.Get("X-Request-Id") == "" {
		t.Error("X-Request-Id missing")
	}
	if v := got.Get("X-App-Version"); v != "1.0.0-test" {
		t.Errorf("X-App-Version = %q", v)
	}
}

// N concurrent 401s must trigger exactly one refresh; every caller
// completes with the refreshed token.
func TestDo_RefreshCoalescing(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		time.Sleep(50 * time.Millisecond) // hold the refresh open so callers pile up
		json.NewEncoder(w).Encode(map[string]string{"accessToken": "fresh"})
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	client, store := newTestClient(t, mux)
	store.Set(securestore.KeySessionID, []byte("stale"))
	store.Set(securestore.KeyRefreshToken, []byte("refresh-1"))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Do(context.Background(), http.MethodGet, "/data", nil, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d failed: %v", i, err)
		}
	}
	if calls := refreshCalls.Load(); calls != 1 {
		t.Errorf("refresh called %d times, want 1", calls)
	}
}

func TestDo_RefreshFailureFailsAllCallers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusForbidden)
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	client, store := newTestClient(t, mux)
	store.Set(securestore.KeySessionID, []byte("stale"))
	store.Set(securestore.KeyRefreshToken, []byte("refresh-1"))

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Do(context.Background(), http.MethodGet, "/data", nil, nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrRefreshFailed) {
			t.Errorf("caller %d: expected ErrRefreshFailed, got %v", i, err)
		}
	}

	// The stale access token must be gone.
	if _, err := store.Get(securestore.KeySessionID); !errors.Is(err, securestore.ErrNotFound) {
		t.Errorf("stale access token still stored: %v", err)
	}
}

func TestDo_RetriesIdempotentOn5xx(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))

	if err := client.Do(context.Background(), http.MethodGet, "/flaky", nil, nil); err != nil {
		t.Fatalf("Do failed after retries: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestDo_NeverRetriesPost(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.Do(context.Background(), http.MethodPost, "/mutate", map[string]string{"a": "b"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadGateway {
		t.Errorf("unexpected error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("POST attempted %d times, want 1", got)
	}
}

func TestDo_NeverRetriesClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"code": "BAD_INPUT", "message": "nope"})
	}))

	err := client.Do(context.Background(), http.MethodGet, "/bad", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "BAD_INPUT" || apiErr.Status != http.StatusBadRequest {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("4xx retried: %d attempts", got)
	}
}

func TestIssue_PersistsTokens(t *testing.T) {
	client, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Tokens{AccessToken: "a1", RefreshToken: "r1", DeviceBind: "b1"})
	}))

	if err := client.Issue(context.Background(), Credentials{Pin: "246813"}); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	for key, want := range map[string]string{
		securestore.KeySessionID:    "a1",
		securestore.KeyRefreshToken: "r1",
		securestore.KeyDeviceBind:   "b1",
	} {
		got, err := store.Get(key)
		if err != nil {
			t.Errorf("%s not stored: %v", key, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestRefresh_RotatesRefreshToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"accessToken": "a2", "refreshToken": "r2"})
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer a2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	})

	client, store := newTestClient(t, mux)
	store.Set(securestore.KeySessionID, []byte("stale"))
	store.Set(securestore.KeyRefreshToken, []byte("r1"))

	if err := client.Do(context.Background(), http.MethodGet, "/data", nil, nil); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	got, _ := store.Get(securestore.KeyRefreshToken)
	if string(got) != "r2" {
		t.Errorf("refresh token not rotated: %q", got)
	}
}
