package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MediSynth-io/showcase/internal/database"
	"github.com/MediSynth-io/showcase/internal/models"
	"github.com/google/uuid"
)

var ErrEmailAlreadyTaken = errors.New("email already taken")

// UserStore is the part of the identity store used during login.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// UpdatePasswordHash stores a re-hashed password for id.
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}

// SQLUserStore implements UserStore and the small amount of account
// management needed to seed an admin.
type SQLUserStore struct {
	db  *database.DB
	now func() time.Time
}

func NewUserStore(db *database.DB) *SQLUserStore {
	return &SQLUserStore{db: db, now: time.Now}
}

const selectUser = "SELECT id, email, password_hash, name, role, created_at, updated_at FROM users"

func (s *SQLUserStore) scanOne(row *sql.Row) (*models.User, error) {
	var (
		u                models.User
		created, updated int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = models.FromUnixMilli(created)
	u.UpdatedAt = models.FromUnixMilli(updated)
	return &u, nil
}

// GetByEmail looks up a user by normalized email.
func (s *SQLUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(selectUser+" WHERE email = ?"), models.NormalizeEmail(email))
	u, err := s.scanOne(row)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, err
}

// Create inserts a new user. ID, timestamps and email normalisation are
// filled in here.
func (s *SQLUserStore) Create(ctx context.Context, u *models.User) error {
	now := s.now().UTC()
	u.ID = uuid.NewString()
	u.Email = models.NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = models.RoleAdmin
	}
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"INSERT INTO users (id, email, password_hash, name, role, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)"),
		u.ID, u.Email, u.PasswordHash, u.Name, u.Role, models.UnixMilli(now), models.UnixMilli(now),
	)
	if database.IsUniqueViolation(err) {
		return ErrEmailAlreadyTaken
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UpdateCredentials replaces the password hash and display name.
func (s *SQLUserStore) UpdateCredentials(ctx context.Context, id, passwordHash, name string) error {
	return s.update(ctx, "UPDATE users SET password_hash = ?, name = ?, updated_at = ? WHERE id = ?",
		passwordHash, name, models.UnixMilli(s.now()), id)
}

func (s *SQLUserStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	return s.update(ctx, "UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, models.UnixMilli(s.now()), id)
}

func (s *SQLUserStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
