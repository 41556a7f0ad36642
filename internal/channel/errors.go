package channel

import "errors"

// Domain-specific errors for the value channel.
var (
	// ErrInvalidMapping is returned when a mapping file entry is malformed.
	ErrInvalidMapping = errors.New("channel: invalid mapping")

	// ErrInvalidPayload is returned when an inbound message cannot be decoded.
	ErrInvalidPayload = errors.New("channel: invalid payload")

	// ErrNoResource is returned when an inbound message targets a path
	// that has no real resource.
	ErrNoResource = errors.New("channel: resource does not exist")

	// ErrAlreadyRunning is returned when Run is called on a running bridge.
	ErrAlreadyRunning = errors.New("channel: bridge already running")
)
