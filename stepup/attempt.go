package stepup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vaultkit/vaultkit/envelope"
	"github.com/vaultkit/vaultkit/gateway"
	"github.com/vaultkit/vaultkit/identity"
)

var (
	// ErrBadState is returned when an entry point is called outside the
	// state it is valid in.
	ErrBadState = errors.New("stepup: not valid in current state")

	// ErrCanceled is returned when the attempt was canceled while an
	// asynchronous step was in flight.
	ErrCanceled = errors.New("stepup: attempt canceled")

	// ErrInvalidIdentity is returned for identity strings that are not a
	// plausible email address or phone number. Detected locally; no
	// network call is made.
	ErrInvalidIdentity = errors.New("stepup: invalid identity format")

	// ErrResendCooldown is returned when a one-time code is requested for
	// a channel still inside its resend cooldown.
	ErrResendCooldown = errors.New("stepup: resend cooldown active")

	// ErrOtpExpired is returned when a code is submitted after the
	// challenge's expiry. Rejected locally without a network round trip.
	ErrOtpExpired = errors.New("stepup: one-time code expired")

	// ErrOtpInvalid is returned when the server rejects the submitted
	// code.
	ErrOtpInvalid = errors.New("stepup: one-time code invalid")

	// ErrPinRequired is returned when the factor step needs a PIN and
	// none was supplied.
	ErrPinRequired = errors.New("stepup: pin required")

	// ErrPinInvalid is returned when the PIN fails to unwrap the stored
	// envelope bundle.
	ErrPinInvalid = errors.New("stepup: invalid pin")

	// ErrBiometricRejected is returned when the biometric factor failed
	// and PIN fallback is not allowed.
	ErrBiometricRejected = errors.New("stepup: biometric rejected")

	// ErrKnowledgeRejected is returned when the server rejects a
	// knowledge answer.
	ErrKnowledgeRejected = errors.New("stepup: knowledge answer rejected")

	// ErrLockedOut is returned while the PIN failure lockout window is
	// active.
	ErrLockedOut = errors.New("stepup: too many failed pin attempts")
)

const maxKbaFailures = 3

// Attempt is one elevation attempt for one purpose. All entry points are
// safe for concurrent use with Cancel; the factor sequence itself is driven
// by a single flow.
type Attempt struct {
	mu    sync.Mutex
	coord *Coordinator

	purpose Purpose
	state   State
	failure FailureReason

	channel    gateway.Channel
	identifier string

	txnID         string
	otpExpiresAt  time.Time
	otpFailures   int
	resendOffered bool

	biometricOK bool
	pin         []byte

	candidates  []gateway.KbaCandidate
	kbaFailures int

	ticket *Ticket
}

func (a *Attempt) now() time.Time { return a.coord.now() }

// Purpose returns the purpose this attempt elevates for.
func (a *Attempt) Purpose() Purpose { return a.purpose }

// State returns the current orchestrator state.
func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Failure returns the reason of the most recent failure, if any.
func (a *Attempt) Failure() FailureReason {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failure
}

// Ticket returns the elevation ticket once the attempt reached Elevated.
func (a *Attempt) Ticket() *Ticket {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ticket
}

// Candidates returns the server-directed knowledge challenges while in
// KnowledgeDirected.
func (a *Attempt) Candidates() []gateway.KbaCandidate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.candidates
}

// OtpRemaining is the time left until the pending challenge expires,
// recomputed from the absolute expiry so process suspension cannot skew it.
func (a *Attempt) OtpRemaining() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateOtpPending {
		return 0
	}
	if d := a.otpExpiresAt.Sub(a.now()); d > 0 {
		return d
	}
	return 0
}

// ResendRemaining is the time left on the channel's resend cooldown.
func (a *Attempt) ResendRemaining() time.Duration {
	return a.coord.channels.cooldownRemaining(a.channel, a.now())
}

// ResendOffered reports whether the orchestrator is offering a resend after
// repeated expiry failures. It never triggers the resend itself.
func (a *Attempt) ResendOffered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resendOffered
}

// SubmitIdentity validates the identity string for the chosen channel and
// requests a one-time code. A syntactically implausible identity fails the
// attempt locally without any network call.
func (a *Attempt) SubmitIdentity(ctx context.Context, channel gateway.Channel, value string) error {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return ErrBadState
	}

	if !plausibleIdentity(channel, value) {
		a.failLocked(ReasonInvalidIdentityFormat)
		a.mu.Unlock()
		a.coord.release(a)
		return ErrInvalidIdentity
	}

	a.state = StateAwaitingIdentity
	a.channel = channel
	a.identifier = value
	a.mu.Unlock()

	return a.sendCode(ctx)
}

// ResendCode issues a fresh one-time code on the attempt's channel,
// invalidating the previous challenge. Subject to the per-channel cooldown.
func (a *Attempt) ResendCode(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateOtpPending && a.state != StateAwaitingIdentity {
		a.mu.Unlock()
		return ErrBadState
	}
	a.mu.Unlock()

	return a.sendCode(ctx)
}

// sendCode performs the network issue and records the new challenge. The
// lock is not held across the call so Cancel stays responsive.
func (a *Attempt) sendCode(ctx context.Context) error {
	if wait := a.coord.channels.cooldownRemaining(a.channel, a.now()); wait > 0 {
		return fmt.Errorf("%w: %s remaining", ErrResendCooldown, wait.Round(time.Second))
	}

	challenge, err := a.coord.otp.SendOneTimeCode(ctx, a.channel, a.identifier)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateCanceled {
		return ErrCanceled
	}
	if err != nil {
		// Transport failure: recoverable by resubmission, the attempt
		// stays where it is.
		return fmt.Errorf("request one-time code: %w", err)
	}

	ttl := time.Duration(challenge.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = a.coord.cfg.OtpTTL
	}

	now := a.now()
	a.txnID = challenge.TransactionID
	a.otpExpiresAt = now.Add(ttl)
	a.otpFailures = 0
	a.resendOffered = false
	a.state = StateOtpPending

	// At most one active challenge per channel: registering the new
	// transaction invalidates whatever was pending on this channel.
	a.coord.channels.activate(a.channel, a.txnID, now.Add(a.coord.cfg.ResendCooldown))

	log.Info().
		Str("purpose", string(a.purpose)).
		Str("channel", string(a.channel)).
		Time("expires_at", a.otpExpiresAt).
		Msg("one-time code issued")
	return nil
}

// SubmitCode verifies the user-entered one-time code. An expired or
// superseded challenge is rejected locally without a network round trip;
// a wrong code is rejected by the server. Both leave the attempt in
// OtpPending so the user can retry or resend.
func (a *Attempt) SubmitCode(ctx context.Context, code string) error {
	a.mu.Lock()
	if a.state != StateOtpPending {
		a.mu.Unlock()
		return ErrBadState
	}

	now := a.now()
	if now.After(a.otpExpiresAt) || !a.coord.channels.isActive(a.channel, a.txnID) {
		a.failure = ReasonOtpInvalidOrExpired
		a.otpFailures++
		if a.otpFailures >= 2 {
			a.resendOffered = true
		}
		a.mu.Unlock()
		return ErrOtpExpired
	}
	txnID := a.txnID
	a.mu.Unlock()

	ok, err := a.coord.otp.VerifyOneTimeCode(ctx, txnID, code)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateCanceled {
		return ErrCanceled
	}
	if err != nil {
		return fmt.Errorf("verify one-time code: %w", err)
	}
	if !ok {
		a.failure = ReasonOtpInvalidOrExpired
		a.otpFailures++
		if a.otpFailures >= 2 {
			a.resendOffered = true
		}
		return ErrOtpInvalid
	}

	a.coord.channels.clear(a.channel, txnID)
	a.state = StateOtpVerified
	a.failure = ""
	log.Info().Str("purpose", string(a.purpose)).Msg("one-time code verified")
	return nil
}

// SubmitPinOrBiometric runs the possession-of-device factor. When a
// biometric gate is configured it is tried first; a rejection with fallback
// allowed degrades to the PIN, a rejection without fallback is terminal.
// The PIN is verified by unwrapping the stored envelope bundle, so success
// also proves the PIN can protect a future re-wrap.
func (a *Attempt) SubmitPinOrBiometric(ctx context.Context, pin string) error {
	a.mu.Lock()
	if a.state != StateOtpVerified && a.state != StatePinOrBiometricPending {
		a.mu.Unlock()
		return ErrBadState
	}
	a.state = StatePinOrBiometricPending
	alreadyApproved := a.biometricOK
	a.mu.Unlock()

	if remaining := a.coord.lockoutRemaining(); remaining > 0 {
		a.fail(ReasonPinLockout)
		return fmt.Errorf("%w: %s remaining", ErrLockedOut, remaining.Round(time.Second))
	}

	pinSatisfied := false

	if a.coord.gate != nil && !alreadyApproved {
		outcome := a.coord.gate.Prompt(ctx, "Confirm it's you")

		a.mu.Lock()
		if a.state == StateCanceled {
			a.mu.Unlock()
			return ErrCanceled
		}
		a.biometricOK = outcome.Approved
		a.mu.Unlock()

		if !outcome.Approved && !outcome.FallbackToPin {
			a.fail(ReasonBiometricRejected)
			return ErrBiometricRejected
		}
	}

	if pin != "" {
		ok, err := a.verifyPin(pin)
		if err != nil {
			return err
		}
		if !ok {
			locked := a.coord.recordPinFailure()

			a.mu.Lock()
			a.failure = ReasonPinInvalid
			a.mu.Unlock()

			if locked {
				a.fail(ReasonPinLockout)
				return ErrLockedOut
			}
			return ErrPinInvalid
		}
		pinSatisfied = true
		a.coord.resetPinFailures()
	}

	a.mu.Lock()
	biometricOK := a.biometricOK
	a.mu.Unlock()

	if !pinSatisfied {
		// Biometric alone satisfies this step only for login; every
		// other purpose needs the verified PIN inside the ticket.
		if !biometricOK || a.purpose != PurposeLogin {
			return ErrPinRequired
		}
	}

	if pinSatisfied {
		a.mu.Lock()
		a.pin = []byte(pin)
		a.mu.Unlock()
	}

	return a.directKnowledgeOrElevate(ctx)
}

// directKnowledgeOrElevate asks the server for knowledge candidates when
// the purpose calls for them, otherwise issues the ticket.
func (a *Attempt) directKnowledgeOrElevate(ctx context.Context) error {
	if !a.purpose.knowledgeDirected() || a.coord.kba == nil {
		a.elevate()
		return nil
	}

	candidates, err := a.coord.kba.FetchKnowledgeCandidates(ctx)

	a.mu.Lock()
	if a.state == StateCanceled {
		a.mu.Unlock()
		return ErrCanceled
	}
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("fetch knowledge candidates: %w", err)
	}
	if len(candidates) == 0 {
		a.mu.Unlock()
		a.elevate()
		return nil
	}

	a.candidates = candidates
	a.state = StateKnowledgeDirected
	a.mu.Unlock()

	log.Info().Str("purpose", string(a.purpose)).Int("candidates", len(candidates)).Msg("knowledge challenge directed")
	return nil
}

// SubmitKnowledgeAnswer verifies one knowledge answer with the server.
// Repeated rejections terminate the attempt.
func (a *Attempt) SubmitKnowledgeAnswer(ctx context.Context, key, answer string) error {
	a.mu.Lock()
	if a.state != StateKnowledgeDirected {
		a.mu.Unlock()
		return ErrBadState
	}
	a.mu.Unlock()

	ok, err := a.coord.kba.VerifyKnowledgeAnswer(ctx, key, answer)

	a.mu.Lock()
	if a.state == StateCanceled {
		a.mu.Unlock()
		return ErrCanceled
	}
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("verify knowledge answer: %w", err)
	}
	if !ok {
		a.kbaFailures++
		a.failure = ReasonKnowledgeRejected
		terminal := a.kbaFailures >= maxKbaFailures
		a.mu.Unlock()

		if terminal {
			a.fail(ReasonKnowledgeRejected)
		}
		return ErrKnowledgeRejected
	}
	a.mu.Unlock()

	a.elevate()
	return nil
}

// Cancel terminates the attempt from any state. It releases the held PIN
// and invalidates an unconsumed ticket; it has no other side effects.
func (a *Attempt) Cancel() {
	a.mu.Lock()
	if a.state == StateCanceled {
		a.mu.Unlock()
		return
	}
	a.state = StateCanceled
	a.failure = ""
	envelope.ZeroBytes(a.pin)
	a.pin = nil
	ticket := a.ticket
	a.mu.Unlock()

	if ticket != nil {
		ticket.invalidate()
	}
	a.coord.release(a)
	log.Info().Str("purpose", string(a.purpose)).Msg("elevation attempt canceled")
}

// elevate issues the single-use ticket and ends the attempt.
func (a *Attempt) elevate() {
	a.mu.Lock()
	pin := string(a.pin)
	envelope.ZeroBytes(a.pin)
	a.pin = nil

	a.ticket = newTicket(a.purpose, pin, a.coord.cfg.TicketTTL, a.coord.now)
	a.state = StateElevated
	a.failure = ""
	a.mu.Unlock()

	// The attempt keeps its purpose slot: the next Begin for this purpose
	// cancels it, which invalidates the ticket if it was never consumed.
	// Only one live elevation can exist per purpose.

	log.Info().
		Str("purpose", string(a.purpose)).
		Str("ticket_id", a.ticket.ID()).
		Time("expires_at", a.ticket.ExpiresAt()).
		Msg("elevation granted")
}

// fail records a terminal failure and releases held secrets.
func (a *Attempt) fail(reason FailureReason) {
	a.mu.Lock()
	a.failLocked(reason)
	a.mu.Unlock()
	a.coord.release(a)
}

func (a *Attempt) failLocked(reason FailureReason) {
	a.state = StateFailed
	a.failure = reason
	envelope.ZeroBytes(a.pin)
	a.pin = nil
	log.Warn().Str("purpose", string(a.purpose)).Str("reason", string(reason)).Msg("elevation attempt failed")
}

// verifyPin checks the PIN by unwrapping the current envelope bundle. The
// unwrapped master key is wiped immediately; only the verdict leaves this
// function.
func (a *Attempt) verifyPin(pin string) (bool, error) {
	bundle, err := a.coord.bundles.CurrentBundle()
	if err != nil {
		return false, err
	}

	masterKey, err := envelope.Unwrap(pin, bundle)
	if err != nil {
		if errors.Is(err, envelope.ErrInvalidPin) {
			return false, nil
		}
		return false, err
	}
	envelope.ZeroBytes(masterKey)
	return true, nil
}

func plausibleIdentity(channel gateway.Channel, value string) bool {
	switch channel {
	case gateway.ChannelEmail:
		return identity.IsEmail(value)
	case gateway.ChannelSMS:
		return identity.IsPhone(value)
	}
	return false
}
