package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and fallback logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: a normalizer plugin timing out, a busy database.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates concurrent modification of the same profile.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassStale indicates a pass whose inputs changed before it could commit.
	ErrorClassStale ErrorClass = "stale"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, unknown profile.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Profile is the profile being reconciled, if applicable.
	Profile string `json:"profile,omitempty"`

	// Module is the module id involved, if applicable.
	Module ModuleID `json:"module,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Profile != "" && e.Module != "":
		msg += fmt.Sprintf(" (profile=%s, module=%s)", e.Profile, e.Module)
	case e.Profile != "":
		msg += fmt.Sprintf(" (profile=%s)", e.Profile)
	case e.Module != "":
		msg += fmt.Sprintf(" (module=%s)", e.Module)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewStaleError creates an error for a pass discarded because its inputs changed.
func NewStaleError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassStale, Message: message, Err: err, Code: ErrCodeStalePass}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithProfile adds profile context to an error.
func (e *EngineError) WithProfile(profileID string) *EngineError {
	e.Profile = profileID
	return e
}

// WithModule adds module context to an error.
func (e *EngineError) WithModule(id ModuleID) *EngineError {
	e.Module = id
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool { return hasClass(err, ErrorClassTransient) }

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool { return hasClass(err, ErrorClassConflict) }

// IsStale returns true if the error reports a discarded stale pass.
func IsStale(err error) bool { return hasClass(err, ErrorClassStale) }

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool { return hasClass(err, ErrorClassPermanent) }

// IsRetryable returns true if the error can be retried.
// Transient, conflict and stale errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err) || IsStale(err)
}

// ErrorCode extracts the code of an EngineError, or "" for other errors.
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeNormalizerFailed = "NORMALIZER_FAILED"
	ErrCodeValidatorFailed  = "VALIDATOR_FAILED"
	ErrCodeStalePass        = "STALE_PASS"
	ErrCodeProfileInactive  = "PROFILE_INACTIVE"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeStoreFailed      = "STORE_FAILED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
