package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Stable identifiers surfaced to clients alongside a
// human-readable message.
const (
	KindAuthRequired   = "auth_required"
	KindAccessDenied   = "access_denied"
	KindNotFound       = "not_found"
	KindValidation     = "validation"
	KindConflict       = "conflict"
	KindTransientStore = "transient_store"
)

// Error is the structured error returned by core operations.
type Error struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds a structured error with the given kind.
func NewError(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// ErrAuthRequired reports a request with no valid identity attached.
func ErrAuthRequired(message string) *Error { return NewError(KindAuthRequired, message) }

// ErrAccessDenied reports an authenticated caller that is not a member of
// the target conversation.
func ErrAccessDenied(message string) *Error { return NewError(KindAccessDenied, message) }

// ErrNotFound reports a missing conversation, user or message.
func ErrNotFound(message string) *Error { return NewError(KindNotFound, message) }

// ErrValidation reports malformed input rejected before any mutation.
func ErrValidation(message string) *Error { return NewError(KindValidation, message) }

// ErrConflict reports a duplicate direct conversation or a taken public name.
func ErrConflict(message string) *Error { return NewError(KindConflict, message) }

// ErrTransientStore reports an unavailable persistence layer.
func ErrTransientStore(message string) *Error { return NewError(KindTransientStore, message) }

// KindOf extracts the error kind, defaulting to transient_store for
// unclassified failures.
func KindOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransientStore
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindAccessDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
