package schema

import "errors"

var (
	// ErrInvalidDefinition is returned when a definition file fails to parse or validate.
	ErrInvalidDefinition = errors.New("schema: invalid definition")

	// ErrUnresolvedType is returned when a type or pattern names a type that
	// is neither built in nor defined in the loaded files.
	ErrUnresolvedType = errors.New("schema: unresolved type")
)
