// Package biometric is a thin boundary adapter over the platform biometric
// prompt. It normalizes the platform's many outcome codes into a small
// result type and performs no retries of its own; cooldown and fallback
// decisions belong to the caller.
package biometric

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reason classifies a rejected biometric prompt.
type Reason string

const (
	NoEnrolledBiometric Reason = "no_enrolled_biometric"
	UserCanceled        Reason = "user_canceled"
	LockedOut           Reason = "locked_out"
	PlatformError       Reason = "platform_error"
)

// Outcome is the normalized result of one biometric prompt.
type Outcome struct {
	Approved      bool
	Reason        Reason        // set when not approved
	FallbackToPin bool          // the caller may satisfy the step with a PIN instead
	RetryAfter    time.Duration // cooldown when Reason is LockedOut
}

// Gate prompts the user for a biometric proof. Implementations must never
// block indefinitely; the platform prompt enforces a bounded lifetime and
// ctx cancellation abandons the wait.
type Gate interface {
	Prompt(ctx context.Context, reason string) Outcome
}

// PlatformPrompter is what the app shell implements on top of the OS
// biometric API. Raw platform codes are normalized by PlatformGate.
type PlatformPrompter interface {
	HasEnrolledBiometric() bool
	Authenticate(ctx context.Context, reason string) (success bool, platformCode string, err error)
}

// PlatformGate adapts a PlatformPrompter into a Gate.
type PlatformGate struct {
	prompter PlatformPrompter
}

// NewPlatformGate wraps a platform prompter.
func NewPlatformGate(p PlatformPrompter) *PlatformGate {
	return &PlatformGate{prompter: p}
}

// lockoutCooldown matches the platform's temporary lockout window.
const lockoutCooldown = 30 * time.Second

// Prompt runs one biometric prompt and normalizes the result.
func (g *PlatformGate) Prompt(ctx context.Context, reason string) Outcome {
	if !g.prompter.HasEnrolledBiometric() {
		return Outcome{Reason: NoEnrolledBiometric, FallbackToPin: true}
	}

	success, code, err := g.prompter.Authenticate(ctx, reason)
	if err != nil {
		log.Warn().Err(err).Msg("biometric prompt failed")
		return Outcome{Reason: PlatformError, FallbackToPin: true}
	}
	if success {
		return Outcome{Approved: true}
	}

	switch code {
	case "user_cancel", "system_cancel", "app_cancel":
		return Outcome{Reason: UserCanceled}
	case "lockout", "lockout_permanent":
		return Outcome{Reason: LockedOut, FallbackToPin: true, RetryAfter: lockoutCooldown}
	case "not_enrolled", "not_available":
		return Outcome{Reason: NoEnrolledBiometric, FallbackToPin: true}
	default:
		log.Debug().Str("platform_code", code).Msg("unrecognized biometric rejection")
		return Outcome{Reason: PlatformError, FallbackToPin: true}
	}
}

// UnsupportedGate is the gate for platforms without biometric hardware.
// Every prompt reports no enrolled biometric with PIN fallback allowed.
type UnsupportedGate struct{}

// Prompt always rejects with NoEnrolledBiometric.
func (UnsupportedGate) Prompt(ctx context.Context, reason string) Outcome {
	return Outcome{Reason: NoEnrolledBiometric, FallbackToPin: true}
}
