// Package common defines sentinel errors and small helpers shared by the
// declaro client packages. Callers should match errors with errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Validation errors (field-level details travel in models.ValidationError).
	ErrValidation = errors.New("validation error")

	// Auth errors.
	ErrorUnauthorized     = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already in use")
	ErrUserNotFound       = errors.New("user not found")

	// Two-factor challenge errors.
	ErrNoPendingVerification = errors.New("no pending verification")
	ErrVerificationExpired   = errors.New("verification code expired, please log in again")
	ErrIncorrectCode         = errors.New("incorrect verification code")

	// Declaration errors.
	ErrTrackingCodeExhausted = errors.New("could not generate a unique tracking code")
	ErrUnknownAction         = errors.New("unknown activity action")

	// Local cache errors.
	ErrCorruptedCache = errors.New("corrupted cache entry")
)
