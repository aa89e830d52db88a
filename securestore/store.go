// Package securestore provides the local secure-storage capability consumed
// by the rest of the vault client. Callers see an opaque get/set/delete
// key-value surface; the only guarantee is that a single-key write is atomic.
package securestore

import "errors"

// Well-known keys used by the session and device layers. Values are opaque
// to this package.
const (
	KeySessionID    = "SESSION_ID"
	KeyRefreshToken = "REFRESH_TOKEN"
	KeyDeviceBind   = "DEVICE_BIND"
	KeyDeviceID     = "DEVICE_ID"
	KeyUserID       = "USER_ID"
	KeyEnvelope     = "ENVELOPE_BUNDLE"
)

var (
	// ErrNotFound is returned when no value exists for a key.
	ErrNotFound = errors.New("securestore: key not found")

	// ErrUnavailable signals that the backing store cannot be reached at
	// all. This is fatal for the current operation: retrying without
	// operator intervention cannot succeed.
	ErrUnavailable = errors.New("securestore: storage unavailable")
)

// Store is the storage capability injected into the session client, the
// step-up coordinator and the vault service. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}
