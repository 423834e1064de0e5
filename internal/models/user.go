package models

import (
	"time"
)

// Account is the identity a token subject resolves to
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Domain       string    `json:"domain"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// PasswordChangedAt is set by a password reset; older refresh tokens stop working
	PasswordChangedAt *time.Time `json:"-"`
}

// AccountRef identifies an account either by id or by email. ID wins when both are set.
type AccountRef struct {
	ID    string
	Email string
}

// IsZero reports whether neither id nor email is set
func (r AccountRef) IsZero() bool {
	return r.ID == "" && r.Email == ""
}
