package devicekit

import (
	"errors"
	"fmt"
)

// Sentinel errors for devicekit operations.
var (
	// ErrNotFound is returned when a device, plant or association does not exist.
	ErrNotFound = errors.New("devicekit: not found")

	// ErrForbidden is returned when the caller's role on a device is below the required one.
	ErrForbidden = errors.New("devicekit: forbidden")

	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("devicekit: conflict")

	// ErrAssociationExists is returned when a (user, device) association already exists.
	ErrAssociationExists = fmt.Errorf("%w: association already exists", ErrConflict)

	// ErrUnauthenticated is returned when the identity resolver rejects a credential.
	ErrUnauthenticated = errors.New("devicekit: unauthenticated")

	// ErrInvalidRole is returned when a role string is not one of viewer, editor or owner.
	ErrInvalidRole = errors.New("devicekit: invalid role")

	// ErrInvalidInput is returned when request data fails validation.
	ErrInvalidInput = errors.New("devicekit: invalid input")

	// ErrPhotosDisabled is returned by photo operations when no PhotoStore is configured.
	ErrPhotosDisabled = errors.New("devicekit: photo storage not configured")

	// ErrDatabaseError wraps PostgresStore failures that map to no other sentinel.
	ErrDatabaseError = errors.New("devicekit: database error")
)

// Error wraps a sentinel error with additional context.
type Error struct {
	Err          error  // Underlying sentinel error
	Message      string // Additional context
	UserID       string // User involved (if applicable)
	DeviceID     string // Device involved (if applicable)
	PlantID      string // Plant involved (if applicable)
	RequiredRole Role   // Minimum role that was required (Forbidden only)
	Cause        error  // Store error that triggered this one, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying errors for errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// NewError creates a new Error with context.
func NewError(err error, message string) *Error {
	return &Error{
		Err:     err,
		Message: message,
	}
}

// WithUser adds user information to the error.
func (e *Error) WithUser(userID string) *Error {
	e.UserID = userID
	return e
}

// WithDevice adds device information to the error.
func (e *Error) WithDevice(deviceID string) *Error {
	e.DeviceID = deviceID
	return e
}

// WithPlant adds plant information to the error.
func (e *Error) WithPlant(plantID string) *Error {
	e.PlantID = plantID
	return e
}

// WithRequiredRole records the minimum role a denied request needed.
func (e *Error) WithRequiredRole(role Role) *Error {
	e.RequiredRole = role
	return e
}

// WithCause attaches the underlying store error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// IsNotFound checks if an error reports a missing device, plant or association.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsForbidden checks if an error is an authorization denial.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsConflict checks if an error is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnauthenticated checks if an error is an authentication failure.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsInvalidInput checks if an error is caused by bad caller input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidRole)
}
