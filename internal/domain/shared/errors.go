// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidID     = errors.New("invalid ID")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrInvalidFormat = errors.New("invalid format")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrExpired         = errors.New("expired")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")

	// Storage errors
	ErrStorage            = errors.New("storage error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "study", "auth", "store"
	Op      string // Operation that failed, e.g., "Restore", "Login"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching. A wrapped DomainError also matches the
// template it was derived from (same Domain, Op and Kind).
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		if e == t {
			return true
		}
		if t.Err == nil && e.Domain == t.Domain && e.Op == t.Op && e.Kind == t.Kind {
			return true
		}
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// Wrap returns a copy of a template error carrying the underlying cause.
// The copy still matches the template with errors.Is().
func (e *DomainError) Wrap(err error) *DomainError {
	return &DomainError{
		Domain:  e.Domain,
		Op:      e.Op,
		Kind:    e.Kind,
		Message: e.Message,
		Err:     err,
	}
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Storage errors. The tracker recovers from all three locally.
var (
	ErrStorageRead   = NewDomainError("store", "Get", ErrStorage, "storage read failed")
	ErrStorageWrite  = NewDomainError("store", "Set", ErrStorage, "storage write failed")
	ErrCorruptRecord = NewDomainError("store", "Decode", ErrInvalidFormat, "corrupt stats record")
	ErrStoreOpen     = NewDomainError("store", "Open", ErrServiceUnavailable, "store unavailable")
)

// Study session errors
var (
	ErrNoIdentity     = NewDomainError("study", "InitializeSession", ErrUnauthorized, "no authenticated identity")
	ErrNotActive      = NewDomainError("study", "CheckState", ErrInvalidState, "no active study session")
	ErrUnknownFeature = NewDomainError("study", "Navigate", ErrNotFound, "unknown feature")
)

// Identity and auth errors
var (
	ErrInvalidCredentials = NewDomainError("auth", "Login", ErrUnauthorized, "invalid email or password")
	ErrAccountExists      = NewDomainError("auth", "Register", ErrAlreadyExists, "account already exists")
	ErrInvalidToken       = NewDomainError("auth", "Verify", ErrUnauthorized, "invalid or expired token")
	ErrInvalidEmail       = NewDomainError("auth", "Validate", ErrInvalidInput, "invalid email address")
	ErrWeakPassword       = NewDomainError("auth", "Validate", ErrInvalidInput, "password must be at least 8 characters")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsUnauthorized checks if the error is an authorization error.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue)
}

// IsStorage checks if the error came from the persistence layer.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrCorruptRecord)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
