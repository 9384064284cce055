package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MediSynth-io/showcase/internal/config"
	"github.com/MediSynth-io/showcase/internal/database"
	"github.com/MediSynth-io/showcase/internal/logging"
	"github.com/MediSynth-io/showcase/internal/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "correct-pw"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(config.Database{Type: database.TypeSQLite, Path: ":memory:"}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	h, err := NewPasswordHasher(bcrypt.MinCost, 4)
	require.NoError(t, err)
	return h
}

func seedAdmin(t *testing.T, users *SQLUserStore, hasher *PasswordHasher) *models.User {
	t.Helper()
	hash, err := hasher.Hash(context.Background(), testAdminPassword)
	require.NoError(t, err)
	u := &models.User{Email: testAdminEmail, PasswordHash: hash, Name: "Admin"}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
