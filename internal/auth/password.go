package auth

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// dummyPassword seeds the hash used to equalise the cost of failed logins
// for unknown emails.
const dummyPassword = "showcase-login-placeholder"

// MaxPasswordBytes is the longest input bcrypt reads. Longer passwords are
// rejected rather than silently truncated.
const MaxPasswordBytes = 72

// PasswordHasher hashes and verifies admin passwords with bcrypt. Work runs
// behind a semaphore so a burst of logins occupies at most `workers` CPUs.
type PasswordHasher struct {
	cost    int
	sem     *semaphore.Weighted
	dummy   []byte
	compare func(hashed, plaintext []byte) error
}

// NewPasswordHasher builds a hasher. workers <= 0 means GOMAXPROCS.
func NewPasswordHasher(cost, workers int) (*PasswordHasher, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	return &PasswordHasher{
		cost:    cost,
		sem:     semaphore.NewWeighted(int64(workers)),
		dummy:   dummy,
		compare: bcrypt.CompareHashAndPassword,
	}, nil
}

// Hash returns a bcrypt digest with a fresh salt.
func (h *PasswordHasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches digest. A malformed digest is a
// mismatch that still costs one comparison at the configured cost. The
// error is non-nil only when ctx ends while waiting for a worker slot.
func (h *PasswordHasher) Verify(ctx context.Context, plaintext, digest string) (bool, error) {
	if _, err := bcrypt.Cost([]byte(digest)); err != nil {
		_, err := h.compareHash(ctx, h.dummy, plaintext)
		return false, err
	}
	return h.compareHash(ctx, []byte(digest), plaintext)
}

// VerifyDummy spends the same work as Verify against a hash nobody owns.
func (h *PasswordHasher) VerifyDummy(ctx context.Context, plaintext string) error {
	_, err := h.compareHash(ctx, h.dummy, plaintext)
	return err
}

// NeedsRehash reports whether digest was made at a cost other than the
// configured one. Malformed digests are left alone.
func (h *PasswordHasher) NeedsRehash(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	return err == nil && cost != h.cost
}

func (h *PasswordHasher) compareHash(ctx context.Context, digest []byte, plaintext string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	return h.compare(digest, []byte(plaintext)) == nil, nil
}
