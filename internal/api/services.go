package api

import (
	"fmt"
	"log/slog"

	"github.com/MediSynth-io/showcase/internal/auth"
	"github.com/MediSynth-io/showcase/internal/config"
	"github.com/MediSynth-io/showcase/internal/database"
)

// Services holds the auth components the API is built from.
type Services struct {
	Hasher    *auth.PasswordHasher
	Users     *auth.SQLUserStore
	Sessions  *auth.SQLSessionStore
	Limiter   auth.RateLimiter
	Identity  *auth.IdentityResolver
	Gate      *auth.Gate
	Validator *auth.SessionValidator
}

// NewServices wires the auth components for cfg on top of db.
func NewServices(cfg config.Config, db *database.DB, logger *slog.Logger) (*Services, error) {
	hasher, err := auth.NewPasswordHasher(cfg.Auth.BcryptCost, cfg.Auth.HashWorkers)
	if err != nil {
		return nil, err
	}

	identity, err := auth.NewIdentityResolver(cfg.Auth.TrustedProxies)
	if err != nil {
		return nil, err
	}

	rl := cfg.Auth.RateLimit
	var limiter auth.RateLimiter
	switch rl.Backend {
	case config.RateLimitDatabase:
		limiter = auth.NewSQLLimiter(db, rl.Window, rl.MaxAttempts)
	case config.RateLimitMemory, "":
		limiter = auth.NewMemoryLimiter(rl.Window, rl.MaxAttempts)
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %q", rl.Backend)
	}

	authLogger := logger.With("component", "auth")
	users := auth.NewUserStore(db)
	sessions := auth.NewSessionStore(db, cfg.Auth.SessionTTL)

	return &Services{
		Hasher:    hasher,
		Users:     users,
		Sessions:  sessions,
		Limiter:   limiter,
		Identity:  identity,
		Gate:      auth.NewGate(limiter, users, sessions, hasher, authLogger),
		Validator: auth.NewSessionValidator(sessions, authLogger),
	}, nil
}
