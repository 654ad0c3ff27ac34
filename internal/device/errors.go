package device

import "errors"

// Domain-specific errors for registry operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound is returned when a node or scene ID has no registry entry.
	ErrNotFound = errors.New("device: not found")

	// ErrClosed is returned when operating on a closed registry.
	ErrClosed = errors.New("device: registry closed")

	// ErrInvalidNodeID is returned for node IDs outside [0, 199].
	ErrInvalidNodeID = errors.New("device: node ID out of range")
)
