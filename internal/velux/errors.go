package velux

import "errors"

// Domain-specific errors for gateway operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when a command is issued outside the
	// Connected state.
	ErrNotConnected = errors.New("velux: not connected")

	// ErrConnectionFailed is returned when dialing or the TLS handshake fails.
	ErrConnectionFailed = errors.New("velux: connection failed")

	// ErrAuthFailed is returned when the gateway rejects the password.
	ErrAuthFailed = errors.New("velux: authentication failed")

	// ErrFingerprintMismatch is returned when the gateway certificate does
	// not match the pinned SHA-256 fingerprint.
	ErrFingerprintMismatch = errors.New("velux: certificate fingerprint mismatch")

	// ErrUnknownNode is returned for commands addressed to a node the
	// session has not discovered.
	ErrUnknownNode = errors.New("velux: unknown node")

	// ErrDeviceError is returned when the gateway refuses a command or the
	// actuator reports an error status.
	ErrDeviceError = errors.New("velux: device error")

	// ErrClosed is returned when operating on a closed session.
	ErrClosed = errors.New("velux: session closed")

	// ErrTimeout is returned when the gateway does not confirm a request
	// in time.
	ErrTimeout = errors.New("velux: request timed out")

	// ErrBadFrame is returned for malformed frames (length, checksum,
	// protocol ID).
	ErrBadFrame = errors.New("velux: malformed frame")
)
