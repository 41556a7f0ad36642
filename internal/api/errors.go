package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/nerrad567/gray-logic-resgraph/internal/auth"
	"github.com/nerrad567/gray-logic-resgraph/internal/pattern"
	"github.com/nerrad567/gray-logic-resgraph/internal/resource"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnavailable    = "unavailable"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeGraphError maps resource, pattern and auth errors to a response.
// Gate vetoes wrap both resource.ErrAccessDenied and an auth error, so the
// auth errors are checked first.
func writeGraphError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, auth.ErrOutOfScope):
		writeForbidden(w, err.Error())
	case errors.Is(err, resource.ErrNotFound), errors.Is(err, pattern.ErrUnknownPattern):
		writeNotFound(w, err.Error())
	case errors.Is(err, resource.ErrAlreadyExists), errors.Is(err, resource.ErrAccessDenied):
		writeConflict(w, err.Error())
	case errors.Is(err, resource.ErrTypeMismatch),
		errors.Is(err, resource.ErrInvalidName),
		errors.Is(err, resource.ErrInvalidType),
		errors.Is(err, resource.ErrInvalidValue),
		errors.Is(err, resource.ErrGraphCycle),
		errors.Is(err, resource.ErrNotMaterialized),
		errors.Is(err, pattern.ErrAnchorType):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, pattern.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
