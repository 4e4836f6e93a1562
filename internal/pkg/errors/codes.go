package errors

import (
	"fmt"
	"net/http"
)

// Error codes. Messages are English; clients switch on Code.
const (
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeGuardRejected          = "GUARD_REJECTED"
	CodeForbidden              = "FORBIDDEN"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeNotFound               = "NOT_FOUND"
	CodeInvalidRequestField    = "INVALID_REQUEST_FIELD"
	CodeInternal               = "INTERNAL_ERROR"
)

// InvalidTransition reports that transition is not defined for state on the
// named machine. Never retried.
func InvalidTransition(machine, state, transition string) *AppError {
	return Wrap(ErrInvalidTransition, CodeInvalidTransition,
		fmt.Sprintf("%s: transition %q is not allowed from %s", machine, transition, state),
		http.StatusConflict,
	).WithParams(map[string]interface{}{
		"machine":    machine,
		"state":      state,
		"transition": transition,
	})
}

// GuardRejected reports a failed business precondition.
func GuardRejected(reason string) *AppError {
	return Wrap(ErrGuardRejected, CodeGuardRejected, reason, http.StatusUnprocessableEntity)
}

// GuardRejectedf is GuardRejected with formatting.
func GuardRejectedf(format string, args ...interface{}) *AppError {
	return GuardRejected(fmt.Sprintf(format, args...))
}

// Forbidden reports an actor that may not perform the operation.
func Forbidden(message string) *AppError {
	return Wrap(ErrForbidden, CodeForbidden, message, http.StatusForbidden)
}

// ConcurrentModification reports an optimistic lock failure. Safe to retry
// the whole command from a fresh load.
func ConcurrentModification(aggregate, id string) *AppError {
	return Wrap(ErrConcurrentModification, CodeConcurrentModification,
		fmt.Sprintf("%s %s was modified concurrently", aggregate, id),
		http.StatusConflict,
	).WithParams(map[string]interface{}{
		"aggregate": aggregate,
		"id":        id,
	})
}

// NotFound reports a missing aggregate or child entity.
func NotFound(kind, id string) *AppError {
	return Wrap(ErrNotFound, CodeNotFound,
		fmt.Sprintf("%s %s not found", kind, id),
		http.StatusNotFound,
	).WithParams(map[string]interface{}{
		"kind": kind,
		"id":   id,
	})
}

// InvalidRequestField reports a malformed or missing request field.
func InvalidRequestField(field, message string) *AppError {
	return Wrap(ErrBadRequest, CodeInvalidRequestField, message, http.StatusBadRequest).
		WithParams(map[string]interface{}{"field": field})
}
