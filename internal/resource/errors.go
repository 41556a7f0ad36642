package resource

import (
	"errors"
	"fmt"
)

// Domain errors for the resource package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, resource.ErrNotMaterialized) {
//	    // handle virtual resource
//	}
var (
	// ErrAlreadyExists is returned when a path or slot is already taken by a real resource.
	ErrAlreadyExists = errors.New("resource: already exists")

	// ErrNotFound is returned when navigating to a path that is neither real nor a declared slot.
	ErrNotFound = errors.New("resource: not found")

	// ErrTypeMismatch is returned for schema-incompatible assignments, references or materialization.
	ErrTypeMismatch = errors.New("resource: type mismatch")

	// ErrNotMaterialized is returned when an operation requires a real resource but the handle is virtual.
	ErrNotMaterialized = errors.New("resource: cannot activate non-existent resource")

	// ErrGraphCycle is returned when a reference would create a delegation cycle.
	ErrGraphCycle = errors.New("resource: reference cycle")

	// ErrAccessDenied is returned when priority arbitration or the permission gate rejects an operation.
	ErrAccessDenied = errors.New("resource: access denied")

	// ErrInvalidName is returned when a resource name does not match the name syntax.
	ErrInvalidName = errors.New("resource: invalid name")

	// ErrInvalidType is returned when a type definition is malformed or references unknown types.
	ErrInvalidType = errors.New("resource: invalid type")

	// ErrInvalidValue is returned when a payload value cannot be coerced to the declared kind.
	ErrInvalidValue = errors.New("resource: invalid value")
)

// Error describes a failed graph operation on a specific path.
// It unwraps to one of the sentinel errors above.
type Error struct {
	Op   string // Operation name (create, delete, activate, ...)
	Path string // Location path the operation was applied to
	Err  error  // Underlying error
}

// Error returns a human-readable representation of this error.
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// opError builds an *Error for op on path.
func opError(op, path string, err error) error {
	return &Error{Op: op, Path: path, Err: err}
}
