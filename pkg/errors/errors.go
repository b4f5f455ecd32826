package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target carries the same code, so cloned and wrapped
// errors still match their predefined sentinel.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var t *Error
	if !errors.As(target, &t) || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound     = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden    = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict     = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation   = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal     = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss    = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	// ErrInvalidTransition is returned when a session lifecycle operation does not
	// apply to the current state. Fatal to the calling operation only.
	ErrInvalidTransition = New("INVALID_TRANSITION", http.StatusConflict, "invalid session transition")
	// ErrRosterLoad signals an unusable roster; callers may retry or continue degraded.
	ErrRosterLoad = New("ROSTER_LOAD_ERROR", http.StatusUnprocessableEntity, "class roster could not be loaded")
	// ErrSessionPersist is a retryable failure writing session state to the system of record.
	ErrSessionPersist = New("SESSION_PERSIST_FAILED", http.StatusServiceUnavailable, "failed to persist session state")
	// ErrPollTransient is always recovered inside the polling loop.
	ErrPollTransient = New("POLL_TRANSIENT", http.StatusBadGateway, "biometric source unavailable")
	// ErrWriteConflict is reported when a concurrent writer won the race for an attendance row.
	ErrWriteConflict = New("WRITE_CONFLICT", http.StatusConflict, "attendance write conflict")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Retryable reports whether err is worth retrying by the caller as-is.
func Retryable(err error) bool {
	return errors.Is(err, ErrSessionPersist) || errors.Is(err, ErrRosterLoad) || errors.Is(err, ErrPollTransient)
}
