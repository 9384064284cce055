package models

import (
	"strings"
	"time"
)

// RoleAdmin is the only role the site knows about.
const RoleAdmin = "admin"

// User represents an account allowed into the administrative surface.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // never sent to the client
	Name         string    `json:"name" db:"name"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"-" db:"created_at"`
	UpdatedAt    time.Time `json:"-" db:"updated_at"`
}

// Session binds an opaque token to a user until ExpiresAt. Only the token
// hash is persisted; Token is filled in when the session is issued.
type Session struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Token     string    `json:"-" db:"-"`
	TokenHash string    `json:"-" db:"token_hash"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// ValidAt reports whether the session is still usable at t.
func (s *Session) ValidAt(t time.Time) bool {
	return s.ExpiresAt.After(t)
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
