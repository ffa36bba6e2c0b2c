// Package usecase implements the business logic for the account feature.
package usecase

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUserNotFound is returned when no account matches the lookup key.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateUser is returned when the email or username is already taken.
	ErrDuplicateUser = errors.New("email or username already exists")

	// ErrDuplicateUserRace is returned when the pre-check passed but the unique
	// index rejected the write. It wraps ErrDuplicateUser.
	ErrDuplicateUserRace = fmt.Errorf("%w: concurrent registration", ErrDuplicateUser)

	// ErrAuthFailed is returned for every sign-in failure. It never says which check failed.
	ErrAuthFailed = errors.New("invalid credentials")

	// ErrTokenExpired is returned when an authentic token is past its lifetime.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned when a token is malformed, tampered with, or issued for another purpose.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrAlreadyConfirmed is returned when the email of the account was confirmed before.
	ErrAlreadyConfirmed = errors.New("email already confirmed")

	// ErrDeliveryFailed is returned when the notification gateway did not accept a message.
	ErrDeliveryFailed = errors.New("email delivery failed")

	// ErrRateLimited is returned when confirmation emails are requested too often.
	ErrRateLimited = errors.New("too many requests")

	// ErrDuplicateKey is returned by the store when a unique constraint rejects a write.
	ErrDuplicateKey = errors.New("duplicate key")
)

// ValidationError carries per-field messages for rejected input.
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
