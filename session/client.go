// Package session issues, refreshes and attaches bearer tokens for the
// vault gateway. It owns the one place in the client where true mutual
// exclusion matters: at most one token refresh is ever in flight, no matter
// how many requests hit an expired session concurrently.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/vaultkit/vaultkit/securestore"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRetries   = 2
	defaultRetryBase = 300 * time.Millisecond
)

var (
	// ErrNoSession is returned when neither an access token nor a refresh
	// token is available.
	ErrNoSession = errors.New("session: not authenticated")

	// ErrRefreshFailed is returned to every caller that was waiting on a
	// failed token refresh.
	ErrRefreshFailed = errors.New("session: token refresh failed")
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Config holds client settings. Zero values fall back to defaults.
type Config struct {
	BaseURL    string
	AppVersion string
	Timeout    time.Duration
	MaxRetries int           // additional attempts for idempotent transient failures
	RetryBase  time.Duration // backoff base, doubled per attempt
}

// Client is the authenticated HTTP client for the vault gateway. Tokens and
// device-binding state live in the injected secure store, never in package
// globals.
type Client struct {
	http       *http.Client
	base       string
	appVersion string
	store      securestore.Store
	maxRetries int
	retryBase  time.Duration

	refreshGroup singleflight.Group
}

// New creates a client backed by the given secure store.
func New(cfg Config, store securestore.Store) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = defaultRetries
	}
	base := cfg.RetryBase
	if base == 0 {
		base = defaultRetryBase
	}

	return &Client{
		http:       &http.Client{Timeout: timeout},
		base:       cfg.BaseURL,
		appVersion: cfg.AppVersion,
		store:      store,
		maxRetries: retries,
		retryBase:  base,
	}
}

// Credentials are the inputs to Issue.
type Credentials struct {
	Pin       string `json:"pin"`
	Otp       string `json:"otp,omitempty"`
	Biometric bool   `json:"biometric,omitempty"`
}

// Tokens is the session state returned by the gateway on login.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	DeviceBind   string `json:"deviceBind,omitempty"`
}

// Issue logs in and persists the returned session state. The PIN inside
// credentials is the caller's responsibility to wipe.
func (c *Client) Issue(ctx context.Context, creds Credentials) error {
	var tokens Tokens
	if err := c.Do(ctx, http.MethodPost, "/auth/login", creds, &tokens); err != nil {
		return err
	}

	if err := c.store.Set(securestore.KeySessionID, []byte(tokens.AccessToken)); err != nil {
		return fmt.Errorf("persist access token: %w", err)
	}
	if tokens.RefreshToken != "" {
		if err := c.store.Set(securestore.KeyRefreshToken, []byte(tokens.RefreshToken)); err != nil {
			return fmt.Errorf("persist refresh token: %w", err)
		}
	}
	if tokens.DeviceBind != "" {
		if err := c.store.Set(securestore.KeyDeviceBind, []byte(tokens.DeviceBind)); err != nil {
			return fmt.Errorf("persist device binding: %w", err)
		}
	}

	log.Info().Msg("session issued")
	return nil
}

// Clear drops all session state. Used by logout and by terminal refresh
// failures.
func (c *Client) Clear() {
	c.store.Delete(securestore.KeySessionID)
	c.store.Delete(securestore.KeyRefreshToken)
}

// Do performs one gateway call. body (when non-nil) is JSON-encoded; a 2xx
// response is decoded into out (when non-nil). A 401 triggers exactly one
// coalesced refresh followed by a single replay. Transient failures
// (network errors, 5xx) are retried with exponential backoff for idempotent
// methods only.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	resp, err := c.execute(ctx, method, path, payload, true)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if _, err := c.refreshOnce(ctx); err != nil {
			return err
		}

		resp, err = c.execute(ctx, method, path, payload, false)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// execute runs the request with bounded retries on transient failures.
// Retries apply only to idempotent methods: a timed-out POST may have been
// applied server-side.
func (c *Client) execute(ctx context.Context, method, path string, payload []byte, allowRetry bool) (*http.Response, error) {
	retries := 0
	if allowRetry && isIdempotent(method) {
		retries = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := c.retryBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			log.Debug().Str("path", path).Int("attempt", attempt).Msg("retrying request")
		}

		req, err := c.newRequest(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request %s %s: %w", method, path, err)
			continue
		}
		if resp.StatusCode >= 500 && attempt < retries {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = &APIError{Status: resp.StatusCode, Code: fmt.Sprintf("HTTP_%d", resp.StatusCode)}
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// newRequest builds the request and attaches the bearer token plus the
// device-binding headers.
func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Version", c.appVersion)
	req.Header.Set("X-Request-Id", uuid.New().String())

	if token, err := c.store.Get(securestore.KeySessionID); err == nil && len(token) > 0 {
		req.Header.Set("Authorization", "Bearer "+string(token))
	}
	if deviceID, err := c.store.Get(securestore.KeyDeviceID); err == nil {
		req.Header.Set("X-Device-Id", string(deviceID))
	} else {
		req.Header.Set("X-Device-Id", "unknown")
	}
	if bind, err := c.store.Get(securestore.KeyDeviceBind); err == nil {
		req.Header.Set("X-Device-Bind", string(bind))
	}

	return req, nil
}

// refreshOnce coalesces concurrent refresh attempts into a single request.
// Every waiter gets the same result; on failure the stale access token is
// dropped so the next call fails fast to ErrNoSession.
func (c *Client) refreshOnce(ctx context.Context) (string, error) {
	token, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	refreshToken, err := c.store.Get(securestore.KeyRefreshToken)
	if err != nil || len(refreshToken) == 0 {
		return "", ErrNoSession
	}

	payload, _ := json.Marshal(map[string]string{"refresh": string(refreshToken)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.store.Delete(securestore.KeySessionID)
		log.Warn().Int("status", resp.StatusCode).Msg("token refresh rejected")
		return "", ErrRefreshFailed
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil || rr.AccessToken == "" {
		c.store.Delete(securestore.KeySessionID)
		return "", ErrRefreshFailed
	}

	if err := c.store.Set(securestore.KeySessionID, []byte(rr.AccessToken)); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}
	if rr.RefreshToken != "" {
		// Rotation: the gateway may hand back a replacement refresh token.
		if err := c.store.Set(securestore.KeyRefreshToken, []byte(rr.RefreshToken)); err != nil {
			return "", fmt.Errorf("persist rotated refresh token: %w", err)
		}
	}

	log.Info().Msg("session refreshed")
	return rr.AccessToken, nil
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
	}
	return apiErr
}
