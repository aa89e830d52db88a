package stepup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vaultkit/vaultkit/envelope"
	"github.com/vaultkit/vaultkit/gateway"
	"github.com/vaultkit/vaultkit/securestore"
)

// OtpService issues and verifies one-time codes. *gateway.Client satisfies
// it.
type OtpService interface {
	SendOneTimeCode(ctx context.Context, channel gateway.Channel, identifier string) (*gateway.OtpChallenge, error)
	VerifyOneTimeCode(ctx context.Context, transactionID, code string) (bool, error)
}

// KbaService serves knowledge-based challenges. *gateway.Client satisfies
// it.
type KbaService interface {
	FetchKnowledgeCandidates(ctx context.Context) ([]gateway.KbaCandidate, error)
	VerifyKnowledgeAnswer(ctx context.Context, key, answer string) (bool, error)
}

// BundleSource loads the user's current envelope bundle so the orchestrator
// can verify a PIN by unwrapping it.
type BundleSource interface {
	CurrentBundle() (*envelope.Bundle, error)
}

// StoreBundleSource reads the bundle from a secure store under the
// well-known envelope key.
type StoreBundleSource struct {
	Store securestore.Store
}

// CurrentBundle loads and decodes the persisted bundle.
func (s StoreBundleSource) CurrentBundle() (*envelope.Bundle, error) {
	raw, err := s.Store.Get(securestore.KeyEnvelope)
	if err != nil {
		return nil, fmt.Errorf("load envelope bundle: %w", err)
	}
	var b envelope.Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode envelope bundle: %w", err)
	}
	return &b, nil
}
