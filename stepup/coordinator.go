package stepup

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vaultkit/vaultkit/biometric"
	"github.com/vaultkit/vaultkit/gateway"
)

// Config carries the orchestrator's timing and lockout knobs.
type Config struct {
	// OtpTTL is the challenge validity used when the server response
	// omits one.
	OtpTTL time.Duration

	// ResendCooldown is the minimum wall-clock gap between code issues on
	// one channel.
	ResendCooldown time.Duration

	// TicketTTL is the validity window of an elevation ticket.
	TicketTTL time.Duration

	// BackgroundGrace is how long the app may stay backgrounded before
	// in-flight PIN entry state is invalidated.
	BackgroundGrace time.Duration

	// MaxPinFailures is the number of consecutive wrong PINs that trigger
	// the lockout.
	MaxPinFailures int

	// PinLockout is how long PIN submission stays blocked after the
	// failure threshold is hit.
	PinLockout time.Duration
}

// DefaultConfig returns the production timing parameters.
func DefaultConfig() Config {
	return Config{
		OtpTTL:          5 * time.Minute,
		ResendCooldown:  30 * time.Second,
		TicketTTL:       2 * time.Minute,
		BackgroundGrace: time.Minute,
		MaxPinFailures:  5,
		PinLockout:      5 * time.Minute,
	}
}

// Coordinator owns the elevation attempts of one device. It enforces the
// cross-attempt rules the individual attempt cannot see: one in-flight
// attempt per purpose, one active challenge per channel, and the shared PIN
// failure lockout.
type Coordinator struct {
	cfg     Config
	otp     OtpService
	kba     KbaService
	gate    biometric.Gate
	bundles BundleSource
	now     func() time.Time

	channels *challengeRegistry

	mu           sync.Mutex
	attempts     map[Purpose]*Attempt
	pinFailures  int
	lockedUntil  time.Time
	backgroundAt time.Time
}

// New builds a coordinator. gate may be nil on devices without biometric
// hardware; kba may be nil when the server does not serve knowledge
// challenges.
func New(otp OtpService, kba KbaService, gate biometric.Gate, bundles BundleSource, cfg Config) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		otp:      otp,
		kba:      kba,
		gate:     gate,
		bundles:  bundles,
		now:      time.Now,
		channels: newChallengeRegistry(),
		attempts: make(map[Purpose]*Attempt),
	}
}

// Begin starts an elevation attempt for purpose. A prior in-flight attempt
// for the same purpose is canceled first, so at most one attempt per
// purpose exists at a time.
func (c *Coordinator) Begin(purpose Purpose) (*Attempt, error) {
	if !purpose.valid() {
		return nil, fmt.Errorf("stepup: unknown purpose %q", purpose)
	}
	if remaining := c.lockoutRemaining(); remaining > 0 {
		return nil, fmt.Errorf("%w: %s remaining", ErrLockedOut, remaining.Round(time.Second))
	}

	c.mu.Lock()
	prior := c.attempts[purpose]
	c.mu.Unlock()

	if prior != nil {
		prior.Cancel()
	}

	a := &Attempt{coord: c, purpose: purpose, state: StateIdle}

	c.mu.Lock()
	c.attempts[purpose] = a
	c.mu.Unlock()

	log.Info().Str("purpose", string(purpose)).Msg("elevation attempt started")
	return a, nil
}

// EnterBackground marks the app as backgrounded.
func (c *Coordinator) EnterBackground() {
	c.mu.Lock()
	c.backgroundAt = c.now()
	c.mu.Unlock()
}

// EnterForeground ends a background period. Attempts that were holding
// secret entry state longer than the grace window are failed and their
// secrets wiped; a short interruption is forgiven.
func (c *Coordinator) EnterForeground() {
	c.mu.Lock()
	since := c.backgroundAt
	c.backgroundAt = time.Time{}
	var stale []*Attempt
	if !since.IsZero() && c.now().Sub(since) > c.cfg.BackgroundGrace {
		for _, a := range c.attempts {
			stale = append(stale, a)
		}
	}
	c.mu.Unlock()

	for _, a := range stale {
		a.mu.Lock()
		sensitive := a.state == StatePinOrBiometricPending || a.state == StateKnowledgeDirected
		a.mu.Unlock()
		if sensitive {
			a.fail(ReasonBackgroundTimeout)
		}
	}
}

// lockoutRemaining reports how long the PIN lockout still has to run.
func (c *Coordinator) lockoutRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d := c.lockedUntil.Sub(c.now()); d > 0 {
		return d
	}
	return 0
}

// recordPinFailure counts one wrong PIN and reports whether the lockout
// threshold was just crossed. The counter spans attempts; only a correct
// PIN resets it.
func (c *Coordinator) recordPinFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pinFailures++
	if c.pinFailures < c.cfg.MaxPinFailures {
		return false
	}
	c.pinFailures = 0
	c.lockedUntil = c.now().Add(c.cfg.PinLockout)
	log.Warn().Time("locked_until", c.lockedUntil).Msg("pin failure threshold reached")
	return true
}

func (c *Coordinator) resetPinFailures() {
	c.mu.Lock()
	c.pinFailures = 0
	c.mu.Unlock()
}

// release frees an attempt's purpose slot once it reached a terminal state.
func (c *Coordinator) release(a *Attempt) {
	c.mu.Lock()
	if c.attempts[a.purpose] == a {
		delete(c.attempts, a.purpose)
	}
	c.mu.Unlock()
}

// challengeRegistry tracks the single active one-time code challenge per
// channel and the per-channel issue cooldown. It is shared by every attempt
// so a new challenge on a channel supersedes the old one no matter which
// attempt issued it.
type challengeRegistry struct {
	mu     sync.Mutex
	active map[gateway.Channel]string
	nextAt map[gateway.Channel]time.Time
}

func newChallengeRegistry() *challengeRegistry {
	return &challengeRegistry{
		active: make(map[gateway.Channel]string),
		nextAt: make(map[gateway.Channel]time.Time),
	}
}

func (r *challengeRegistry) cooldownRemaining(channel gateway.Channel, now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d := r.nextAt[channel].Sub(now); d > 0 {
		return d
	}
	return 0
}

func (r *challengeRegistry) activate(channel gateway.Channel, txnID string, nextIssueAt time.Time) {
	r.mu.Lock()
	r.active[channel] = txnID
	r.nextAt[channel] = nextIssueAt
	r.mu.Unlock()
}

func (r *challengeRegistry) isActive(channel gateway.Channel, txnID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return txnID != "" && r.active[channel] == txnID
}

func (r *challengeRegistry) clear(channel gateway.Channel, txnID string) {
	r.mu.Lock()
	if r.active[channel] == txnID {
		delete(r.active, channel)
	}
	r.mu.Unlock()
}
