// Package vault stores and reveals user secrets. Every value is sealed on
// the device under a per-item key expanded from the master key; the server
// only ever holds ciphertext. Revealing a secret requires a fresh elevation
// ticket, whose verified PIN unwraps the master key for the duration of the
// operation.
package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vaultkit/vaultkit/envelope"
	"github.com/vaultkit/vaultkit/gateway"
	"github.com/vaultkit/vaultkit/stepup"
)

// ItemAPI is the server surface the vault needs. *gateway.Client satisfies
// it.
type ItemAPI interface {
	CreateItem(ctx context.Context, req gateway.CreateItemRequest) (string, error)
	ListItems(ctx context.Context, page, pageSize int) (*gateway.ItemPage, error)
	GetItem(ctx context.Context, id string) (*gateway.ItemDetail, error)
	RemoveItem(ctx context.Context, id string) error
}

// ShareAPI moves sealed payloads through single-use share tokens.
type ShareAPI interface {
	IssueShareToken(ctx context.Context, payload gateway.SharePayload, ttl time.Duration) (*gateway.ShareGrant, error)
	ConsumeShareToken(ctx context.Context, token string) (*gateway.SharePayload, error)
}

// Service is the device-side vault.
type Service struct {
	api     ItemAPI
	share   ShareAPI
	bundles stepup.BundleSource
}

// NewService builds a vault over the item API. share may be nil when
// sharing is not offered.
func NewService(api ItemAPI, share ShareAPI, bundles stepup.BundleSource) *Service {
	return &Service{api: api, share: share, bundles: bundles}
}

// Secret is one plaintext value entering or leaving the vault.
type Secret struct {
	Type  gateway.ItemType
	Title string
	Value []byte
}

// unwrapMaster verifies the PIN against the stored bundle and returns the
// master key. Callers must wipe the returned key.
func (s *Service) unwrapMaster(pin string) ([]byte, error) {
	bundle, err := s.bundles.CurrentBundle()
	if err != nil {
		return nil, err
	}
	return envelope.Unwrap(pin, bundle)
}

// Create seals the secret under a fresh per-item key and uploads it. The
// PIN proves the caller can produce the master key; a wrong PIN surfaces as
// envelope.ErrInvalidPin before anything leaves the device.
func (s *Service) Create(ctx context.Context, pin string, secret Secret) (string, error) {
	masterKey, err := s.unwrapMaster(pin)
	if err != nil {
		return "", err
	}
	defer envelope.ZeroBytes(masterKey)

	blob, err := seal(func(salt []byte) ([]byte, error) {
		return deriveItemKey(masterKey, salt)
	}, secret.Value)
	if err != nil {
		return "", fmt.Errorf("seal item: %w", err)
	}

	id, err := s.api.CreateItem(ctx, gateway.CreateItemRequest{
		Type:       secret.Type,
		Title:      secret.Title,
		Ciphertext: base64.StdEncoding.EncodeToString(blob.ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(blob.nonce),
		Salt:       base64.StdEncoding.EncodeToString(blob.salt),
	})
	if err != nil {
		return "", err
	}

	log.Info().Str("item_id", id).Str("type", string(secret.Type)).Msg("vault item created")
	return id, nil
}

// List fetches one page of item summaries. Listing never touches key
// material.
func (s *Service) List(ctx context.Context, page, pageSize int) (*gateway.ItemPage, error) {
	return s.api.ListItems(ctx, page, pageSize)
}

// Reveal consumes a reveal elevation ticket, fetches the item and decrypts
// it with the master key unwrapped by the ticket's PIN. The caller owns the
// returned plaintext and should wipe it when done.
func (s *Service) Reveal(ctx context.Context, ticket *stepup.Ticket, id string) (*Secret, error) {
	pin, err := ticket.Consume(stepup.PurposeRevealSecret)
	if err != nil {
		return nil, err
	}

	masterKey, err := s.unwrapMaster(pin)
	if err != nil {
		return nil, err
	}
	defer envelope.ZeroBytes(masterKey)

	detail, err := s.api.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	blob, err := decodeBlob(detail.Ciphertext, detail.Nonce, detail.Salt)
	if err != nil {
		return nil, err
	}

	value, err := open(func(salt []byte) ([]byte, error) {
		return deriveItemKey(masterKey, salt)
	}, blob)
	if err != nil {
		return nil, err
	}

	log.Info().Str("item_id", id).Msg("vault item revealed")
	return &Secret{Type: detail.Type, Title: detail.Title, Value: value}, nil
}

// Remove deletes an item server-side. The ciphertext is unrecoverable
// afterwards.
func (s *Service) Remove(ctx context.Context, id string) error {
	if err := s.api.RemoveItem(ctx, id); err != nil {
		return err
	}
	log.Info().Str("item_id", id).Msg("vault item removed")
	return nil
}

// Share reveals an item and re-seals it under a key stretched from the
// passphrase, then mints a single-use share token for the sealed payload.
// The recipient needs both the token and the passphrase; the server sees
// neither plaintext nor passphrase.
func (s *Service) Share(ctx context.Context, ticket *stepup.Ticket, id, passphrase string, ttl time.Duration) (*gateway.ShareGrant, error) {
	if s.share == nil {
		return nil, fmt.Errorf("vault: sharing not available")
	}

	secret, err := s.Reveal(ctx, ticket, id)
	if err != nil {
		return nil, err
	}
	defer envelope.ZeroBytes(secret.Value)

	blob, err := seal(func(salt []byte) ([]byte, error) {
		return deriveShareKey(passphrase, salt), nil
	}, secret.Value)
	if err != nil {
		return nil, fmt.Errorf("seal share payload: %w", err)
	}

	grant, err := s.share.IssueShareToken(ctx, gateway.SharePayload{
		Ciphertext: base64.StdEncoding.EncodeToString(blob.ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(blob.nonce),
		Salt:       base64.StdEncoding.EncodeToString(blob.salt),
	}, ttl)
	if err != nil {
		return nil, err
	}

	log.Info().Str("item_id", id).Time("expires_at", grant.ExpiresAt).Msg("vault item shared")
	return grant, nil
}

// Receive consumes a share token and decrypts its payload with the
// passphrase agreed out of band.
func (s *Service) Receive(ctx context.Context, token, passphrase string) ([]byte, error) {
	if s.share == nil {
		return nil, fmt.Errorf("vault: sharing not available")
	}

	payload, err := s.share.ConsumeShareToken(ctx, token)
	if err != nil {
		return nil, err
	}

	blob, err := decodeBlob(payload.Ciphertext, payload.Nonce, payload.Salt)
	if err != nil {
		return nil, err
	}

	return open(func(salt []byte) ([]byte, error) {
		return deriveShareKey(passphrase, salt), nil
	}, blob)
}

func decodeBlob(ciphertext, nonce, salt string) (*sealedBlob, error) {
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrCorruptItem
	}
	n, err := base64.StdEncoding.DecodeString(nonce)
	if err != nil {
		return nil, ErrCorruptItem
	}
	s, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, ErrCorruptItem
	}
	return &sealedBlob{ciphertext: ct, nonce: n, salt: s}, nil
}
