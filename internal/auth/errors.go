package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password. Callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrSessionNotFound is returned for absent, expired and dangling sessions alike.
	ErrSessionNotFound = errors.New("session not found")

	ErrUserNotFound = errors.New("user not found")
)

// ValidationError carries field level messages that are safe to show.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// RateLimitError means the caller exhausted its attempts for the window.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many login attempts, retry after %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// RetryAfter is the whole number of seconds until ResetAt, at least 1.
func (e *RateLimitError) RetryAfter(now time.Time) int {
	d := e.ResetAt.Sub(now)
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// InternalError wraps failures of storage or hashing. Only the operation
// name and cause are logged; clients get a generic message.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

func internal(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}
