package models

import (
	"time"
)

// TokenKind discriminates the two token flows
type TokenKind string

const (
	TokenKindEmailVerification TokenKind = "email_verification"
	TokenKindPasswordReset     TokenKind = "password_reset"
)

// Valid reports whether k is a known token kind
func (k TokenKind) Valid() bool {
	return k == TokenKindEmailVerification || k == TokenKindPasswordReset
}

// Token represents one issued verification or reset code
type Token struct {
	ID         string     `json:"id"`
	Kind       TokenKind  `json:"kind"`
	SubjectKey string     `json:"subject_key"`
	Code       string     `json:"-"` // Plain code, only populated on issue
	CodeHash   string     `json:"-"` // Never expose code hash
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// IsExpired checks whether the token is outside its validity window at now.
// A token created exactly validity ago is expired.
func (t *Token) IsExpired(now time.Time, validity time.Duration) bool {
	return !t.CreatedAt.After(now.Add(-validity))
}

// IsUsable checks if the token is active and still inside its validity window
func (t *Token) IsUsable(now time.Time, validity time.Duration) bool {
	return t.Active && !t.IsExpired(now, validity)
}
