package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MediSynth-io/showcase/internal/database"
	"github.com/MediSynth-io/showcase/internal/models"
	"github.com/google/uuid"
)

// DefaultSessionTTL is how long an issued session stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionStore owns the sessions table.
type SessionStore interface {
	// Create issues a session for userID. The session is committed before
	// Create returns.
	Create(ctx context.Context, userID string) (*models.Session, error)
	// Lookup resolves a token to its user. Absent, expired and dangling
	// sessions all yield ErrSessionNotFound.
	Lookup(ctx context.Context, token string) (*models.User, error)
	// Destroy removes the session. Unknown tokens are not an error.
	Destroy(ctx context.Context, token string) error
}

type SQLSessionStore struct {
	db  *database.DB
	ttl time.Duration
	now func() time.Time
}

func NewSessionStore(db *database.DB, ttl time.Duration) *SQLSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SQLSessionStore{db: db, ttl: ttl, now: time.Now}
}

// maxTokenAttempts bounds retries on a token hash collision.
const maxTokenAttempts = 3

func (s *SQLSessionStore) Create(ctx context.Context, userID string) (*models.Session, error) {
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		token, err := generateSessionToken()
		if err != nil {
			return nil, err
		}

		now := s.now().UTC()
		sess := &models.Session{
			ID:        uuid.NewString(),
			UserID:    userID,
			Token:     token,
			TokenHash: hashSessionToken(token),
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}

		_, err = s.db.ExecContext(ctx, s.db.Rebind(
			"INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)"),
			sess.ID, sess.UserID, sess.TokenHash, models.UnixMilli(sess.CreatedAt), models.UnixMilli(sess.ExpiresAt),
		)
		if err == nil {
			return sess, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("insert session: %w", err)
		}
	}
	return nil, errors.New("insert session: could not allocate a unique token")
}

func (s *SQLSessionStore) Lookup(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	var (
		u                models.User
		created, updated int64
		expiresAt        int64
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT u.id, u.email, u.password_hash, u.name, u.role, u.created_at, u.updated_at, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = ?`),
		hashSessionToken(token),
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &created, &updated, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	sess := models.Session{UserID: u.ID, ExpiresAt: models.FromUnixMilli(expiresAt)}
	if !sess.ValidAt(s.now()) {
		return nil, ErrSessionNotFound
	}

	u.CreatedAt = models.FromUnixMilli(created)
	u.UpdatedAt = models.FromUnixMilli(updated)
	return &u, nil
}

func (s *SQLSessionStore) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM sessions WHERE token_hash = ?"), hashSessionToken(token))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes expired rows. Expired rows are never served either
// way; this only keeps the table small.
func (s *SQLSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM sessions WHERE expires_at <= ?"), models.UnixMilli(s.now()))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}

// RunCleanup deletes expired sessions every interval until ctx is done.
func (s *SQLSessionStore) RunCleanup(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.DeleteExpired(ctx)
			if err != nil {
				logger.Warn("session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}
