package pattern

import "errors"

// Domain errors for the pattern package.
var (
	// ErrInvalidDescriptor is returned when a pattern definition is malformed.
	ErrInvalidDescriptor = errors.New("pattern: invalid descriptor")

	// ErrUnknownPattern is returned when a pattern name is not in the catalog.
	ErrUnknownPattern = errors.New("pattern: unknown pattern")

	// ErrInvalidListener is returned for nil listeners or listeners that
	// cannot serve as a registry key.
	ErrInvalidListener = errors.New("pattern: invalid listener")

	// ErrAnchorType is returned when a resource is not of the pattern's anchor type.
	ErrAnchorType = errors.New("pattern: resource does not match anchor type")

	// ErrClosed is returned when registering a demand after Close.
	ErrClosed = errors.New("pattern: manager closed")
)
