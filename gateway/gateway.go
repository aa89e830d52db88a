// Package gateway wraps the vault server's collaborator contracts in typed
// calls: one-time codes, knowledge challenges, share tokens, device
// registration and account lifecycle. Wire shapes belong to the server; only
// the call contracts live here.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vaultkit/vaultkit/session"
)

// Channel is a one-time-code delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Client issues gateway calls through an authenticated session client.
type Client struct {
	api *session.Client
}

// New wraps a session client.
func New(api *session.Client) *Client {
	return &Client{api: api}
}

// --- One-time codes ---

// OtpChallenge is a server-issued code transaction, tied to one delivery
// channel.
type OtpChallenge struct {
	TransactionID string `json:"transactionId"`
	TTLSeconds    int    `json:"ttlSeconds"`
}

type sendCodeRequest struct {
	Type       Channel `json:"type"`
	Identifier string  `json:"identifier"`
}

// SendOneTimeCode asks the server to deliver a code over the given channel.
func (c *Client) SendOneTimeCode(ctx context.Context, channel Channel, identifier string) (*OtpChallenge, error) {
	var challenge OtpChallenge
	err := c.api.Do(ctx, http.MethodPost, "/auth/send-code", sendCodeRequest{Type: channel, Identifier: identifier}, &challenge)
	if err != nil {
		return nil, fmt.Errorf("send one-time code: %w", err)
	}

	log.Info().Str("channel", string(channel)).Int("ttl_seconds", challenge.TTLSeconds).Msg("one-time code sent")
	return &challenge, nil
}

type verifyCodeRequest struct {
	TransactionID string `json:"transactionId"`
	Code          string `json:"code"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// VerifyOneTimeCode submits the user-entered code for a transaction.
func (c *Client) VerifyOneTimeCode(ctx context.Context, transactionID, code string) (bool, error) {
	var res successResponse
	err := c.api.Do(ctx, http.MethodPost, "/auth/verify-code", verifyCodeRequest{TransactionID: transactionID, Code: code}, &res)
	if err != nil {
		return false, fmt.Errorf("verify one-time code: %w", err)
	}
	return res.Success, nil
}

// --- Knowledge challenges ---

// KbaCandidate is one knowledge-based challenge the server offers for the
// account (e.g. date of birth, postal code).
type KbaCandidate struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type kbaListResponse struct {
	Items []KbaCandidate `json:"items"`
}

// FetchKnowledgeCandidates lists the challenges available for the account.
// An empty list means the server does not direct a knowledge step.
func (c *Client) FetchKnowledgeCandidates(ctx context.Context) ([]KbaCandidate, error) {
	var res kbaListResponse
	if err := c.api.Do(ctx, http.MethodGet, "/auth/kba", nil, &res); err != nil {
		return nil, fmt.Errorf("fetch knowledge candidates: %w", err)
	}
	return res.Items, nil
}

type kbaVerifyRequest struct {
	Key    string `json:"key"`
	Answer string `json:"answer"`
}

// VerifyKnowledgeAnswer submits an answer; the server is authoritative on
// correctness.
func (c *Client) VerifyKnowledgeAnswer(ctx context.Context, key, answer string) (bool, error) {
	var res successResponse
	if err := c.api.Do(ctx, http.MethodPost, "/auth/kba/verify", kbaVerifyRequest{Key: key, Answer: answer}, &res); err != nil {
		return false, fmt.Errorf("verify knowledge answer: %w", err)
	}
	return res.Success, nil
}

// --- Share tokens ---

// ShareGrant is a short-lived token another user can redeem for one shared
// secret.
type ShareGrant struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SharePayload is the encrypted secret material moved through a share
// token. It is ciphertext end to end; the server never sees plaintext.
type SharePayload struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Salt       string `json:"salt"`
}

type issueShareRequest struct {
	SharePayload
	TTLSec int `json:"ttlSec"`
}

// IssueShareToken uploads an encrypted payload and mints a share token for
// it.
func (c *Client) IssueShareToken(ctx context.Context, payload SharePayload, ttl time.Duration) (*ShareGrant, error) {
	var grant ShareGrant
	req := issueShareRequest{SharePayload: payload, TTLSec: int(ttl.Seconds())}
	if err := c.api.Do(ctx, http.MethodPost, "/share/issue", req, &grant); err != nil {
		return nil, fmt.Errorf("issue share token: %w", err)
	}

	log.Info().Time("expires_at", grant.ExpiresAt).Msg("share token issued")
	return &grant, nil
}

type consumeShareRequest struct {
	Token string `json:"token"`
}

// ConsumeShareToken redeems a token for its encrypted payload. Tokens are
// single-use server-side.
func (c *Client) ConsumeShareToken(ctx context.Context, token string) (*SharePayload, error) {
	var payload SharePayload
	if err := c.api.Do(ctx, http.MethodPost, "/share/consume", consumeShareRequest{Token: token}, &payload); err != nil {
		return nil, fmt.Errorf("consume share token: %w", err)
	}
	return &payload, nil
}

// --- Devices ---

// Device is the server's record of a registered device binding.
type Device struct {
	ID         string `json:"id"`
	DeviceInfo string `json:"deviceInfo,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// RegisterDeviceRequest binds this installation to the account.
type RegisterDeviceRequest struct {
	DeviceID   string `json:"deviceId"`
	DeviceInfo string `json:"deviceInfo,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
}

// RegisterDevice registers this device with the account.
func (c *Client) RegisterDevice(ctx context.Context, req RegisterDeviceRequest) (*Device, error) {
	var dev Device
	if err := c.api.Do(ctx, http.MethodPost, "/devices", req, &dev); err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	return &dev, nil
}

// RemoveDevice unbinds a device, e.g. during device replacement.
func (c *Client) RemoveDevice(ctx context.Context, deviceID string) error {
	if err := c.api.Do(ctx, http.MethodDelete, "/devices/"+deviceID, nil, nil); err != nil {
		return fmt.Errorf("remove device: %w", err)
	}
	return nil
}

// --- Account lifecycle ---

// Logout invalidates the server session, then drops local session state
// regardless of the call's outcome.
func (c *Client) Logout(ctx context.Context) error {
	err := c.api.Do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.api.Clear()
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// DeleteAccount permanently deletes the account server-side. Callers gate
// this behind a DeleteAccount elevation.
func (c *Client) DeleteAccount(ctx context.Context) error {
	if err := c.api.Do(ctx, http.MethodDelete, "/users/me", nil, nil); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	c.api.Clear()
	return nil
}
