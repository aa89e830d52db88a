package stepup

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaultkit/vaultkit/envelope"
)

var (
	// ErrTicketConsumed is returned when a ticket is presented a second
	// time. Tickets authorize exactly one operation.
	ErrTicketConsumed = errors.New("stepup: elevation ticket already consumed")

	// ErrTicketExpired is returned when a ticket outlived its validity
	// window before being consumed.
	ErrTicketExpired = errors.New("stepup: elevation ticket expired")

	// ErrTicketPurpose is returned when a ticket is presented for an
	// operation other than the one it was issued for.
	ErrTicketPurpose = errors.New("stepup: elevation ticket issued for a different purpose")
)

// Ticket is the single-operation elevation receipt produced when every
// required factor succeeded. It lives only in memory and cannot survive a
// process restart.
type Ticket struct {
	mu        sync.Mutex
	id        string
	purpose   Purpose
	expiresAt time.Time
	pin       []byte
	consumed  bool
	now       func() time.Time
}

func newTicket(purpose Purpose, pin string, ttl time.Duration, now func() time.Time) *Ticket {
	return &Ticket{
		id:        uuid.New().String(),
		purpose:   purpose,
		expiresAt: now().Add(ttl),
		pin:       []byte(pin),
		now:       now,
	}
}

// ID is the ticket's opaque identifier, safe to log.
func (t *Ticket) ID() string { return t.id }

// Purpose is the operation this ticket authorizes.
func (t *Ticket) Purpose() Purpose { return t.purpose }

// ExpiresAt is the absolute end of the ticket's validity window.
func (t *Ticket) ExpiresAt() time.Time { return t.expiresAt }

// Consume hands the ticket to one operation. It returns the PIN verified
// during elevation (empty when the flow was satisfied biometrically) and
// burns the ticket: a second call fails regardless of expiry. The caller
// must not retain the PIN beyond the operation.
func (t *Ticket) Consume(purpose Purpose) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.consumed {
		return "", ErrTicketConsumed
	}
	if purpose != t.purpose {
		return "", ErrTicketPurpose
	}

	t.consumed = true
	if t.now().After(t.expiresAt) {
		envelope.ZeroBytes(t.pin)
		t.pin = nil
		return "", ErrTicketExpired
	}

	pin := string(t.pin)
	envelope.ZeroBytes(t.pin)
	t.pin = nil
	return pin, nil
}

// invalidate burns the ticket without handing out the PIN.
func (t *Ticket) invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consumed = true
	envelope.ZeroBytes(t.pin)
	t.pin = nil
}
