// Package errors provides centralized error definitions and error handling utilities
// for selfvisor. It defines the sentinel errors of the orchestrator's error
// taxonomy, typed errors that carry user and worker context, and
// classification helpers used at the front-end boundary.
//
// # Error Types
//
// Sentinel errors identify the category of a failure:
//   - ErrNotFound: no credential record for the referenced user
//   - ErrNoActiveWorker: no running worker for the referenced user
//   - ErrValidation: malformed input (code format, contact identity mismatch)
//   - ErrSpawn: the external worker could not be launched
//   - ErrStaleNotification: an exit notification for a replaced or removed worker
//   - ErrSchema: a credential file with an unknown or unsupported shape
//
// Typed errors wrap a sentinel and add context:
//   - UserError: an operation on a specific user failed
//   - ValidationError: a specific field failed validation
//   - SpawnError: launching a worker failed
//
// # Usage
//
//	err := errors.NewUserError("read credentials", 42, errors.ErrNotFound)
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
//	var verr *errors.ValidationError
//	if errors.As(err, &verr) { fmt.Println(verr.Field) }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Credential-related sentinel errors
var (
	// ErrNotFound indicates that no credential record exists for a user.
	ErrNotFound = New("credential record not found")
	// ErrAlreadyExists indicates that a credential record already exists.
	ErrAlreadyExists = New("credential record already exists")
	// ErrSchema indicates that a credential file has an unsupported shape.
	ErrSchema = New("credential record schema mismatch")
)

// Worker-related sentinel errors
var (
	// ErrNoActiveWorker indicates that no worker is running for a user.
	ErrNoActiveWorker = New("no active worker")
	// ErrSpawn indicates that the worker process could not be launched.
	ErrSpawn = New("worker spawn failed")
	// ErrStaleNotification indicates an exit notification for a worker that
	// is no longer the active one for its user.
	ErrStaleNotification = New("stale exit notification")
)

// General sentinel errors
var (
	// ErrValidation indicates that input validation failed.
	ErrValidation = New("validation failed")
	// ErrShuttingDown indicates that the service no longer accepts work.
	ErrShuttingDown = New("service is shutting down")
)

// -----------------------------------------------------------------------------
// Typed Errors
// -----------------------------------------------------------------------------

// UserError represents a failed operation on behalf of one user.
//
// Example:
//
//	err := errors.NewUserError("update credentials", 42, errors.ErrNotFound)
//	fmt.Println(err) // "user error [user=42, op=update credentials]: credential record not found"
type UserError struct {
	Op     string
	UserID int64
	cause  error
}

// NewUserError creates a new UserError.
func NewUserError(op string, userID int64, cause error) *UserError {
	return &UserError{Op: op, UserID: userID, cause: cause}
}

// Error returns the formatted error message.
func (e *UserError) Error() string {
	prefix := fmt.Sprintf("user error [user=%d, op=%s]", e.UserID, e.Op)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Unwrap returns the underlying error.
func (e *UserError) Unwrap() error {
	return e.cause
}

// ValidationError represents invalid input for a named field.
//
// Example:
//
//	err := errors.NewValidationError("code", "must contain exactly 5 digits")
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error [field=%s]: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation or another *ValidationError.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// SpawnError represents a failure to launch a worker process.
type SpawnError struct {
	UserID  int64
	Command string
	cause   error
}

// NewSpawnError creates a new SpawnError.
func NewSpawnError(userID int64, command string, cause error) *SpawnError {
	return &SpawnError{UserID: userID, Command: command, cause: cause}
}

// Error returns the formatted error message.
func (e *SpawnError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("user=%d", e.UserID))
	if e.Command != "" {
		parts = append(parts, fmt.Sprintf("command=%s", e.Command))
	}
	prefix := fmt.Sprintf("spawn error [%s]", strings.Join(parts, ", "))
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

// Unwrap returns the underlying error.
func (e *SpawnError) Unwrap() error {
	return e.cause
}

// Is reports whether target is ErrSpawn.
func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawn
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsNotFound reports whether err means the referenced user has no record
// or no active worker.
func IsNotFound(err error) bool {
	return Is(err, ErrNotFound) || Is(err, ErrNoActiveWorker)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	return Is(err, ErrValidation)
}

// IsUserFacing reports whether the message of err may be shown to an end
// user verbatim. Internal failures (I/O, schema) are not user facing.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return IsNotFound(err) || IsValidation(err) || Is(err, ErrShuttingDown)
}
