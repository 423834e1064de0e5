package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Token lifecycle errors
	ErrExpired           = errors.New("token expired")
	ErrSubjectMismatch   = errors.New("token does not belong to subject")
	ErrAlreadyConsumed   = errors.New("token already consumed")
	ErrAlreadyActive     = errors.New("account is already active")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Account state errors
	ErrEmailNotVerified = errors.New("email address not verified")

	// ErrAccountNotFound marks a failed identity lookup. It also matches ErrNotFound.
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)
)

// RateLimitedError is returned when a subject has exhausted its issuance budget.
// It matches ErrRateLimitExceeded with errors.Is.
type RateLimitedError struct {
	HoursRemaining int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %d hours", e.HoursRemaining)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
