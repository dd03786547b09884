package identity

import (
	"errors"
	"time"
)

var (
	// ErrUserNotFound is returned when no user matches a lookup.
	ErrUserNotFound = errors.New("user not found")

	// ErrHandleTaken is returned when a registration reuses an existing handle.
	ErrHandleTaken = errors.New("handle already taken")

	// ErrInvalidHandle is returned for handles outside [a-z0-9_.]{3,30}.
	ErrInvalidHandle = errors.New("handle must be 3-30 characters of a-z, 0-9, '_' or '.'")

	// ErrWeakPIN is returned for PINs shorter than four digits or containing non-digits.
	ErrWeakPIN = errors.New("PIN must be at least 4 digits")

	// ErrInvalidCredentials hides whether the handle or the PIN was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User represents a registered wallet owner.
type User struct {
	ID           string
	Handle       string
	DisplayName  string
	PINHash      []byte
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Registration is the input to Register.
type Registration struct {
	Handle      string
	DisplayName string
	PIN         string
}

// Credentials request structure.
type Credentials struct {
	Handle string
	PIN    string
}
