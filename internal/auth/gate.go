package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/MediSynth-io/showcase/internal/models"
	"github.com/go-playground/validator/v10"
)

// LoginResult is what a successful login hands back to the transport.
type LoginResult struct {
	User    *models.User
	Session *models.Session
}

// Gate runs the login sequence: rate limit, input validation, credential
// check, session issue. Every failure below the rate limit is counted.
type Gate struct {
	limiter  RateLimiter
	users    UserStore
	sessions SessionStore
	hasher   *PasswordHasher
	validate *validator.Validate
	logger   *slog.Logger
}

func NewGate(limiter RateLimiter, users UserStore, sessions SessionStore, hasher *PasswordHasher, logger *slog.Logger) *Gate {
	return &Gate{
		limiter:  limiter,
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		validate: newValidator(),
		logger:   logger,
	}
}

// Login authenticates req on behalf of the client identified by identity.
// A nil req stands for a body that could not be decoded.
//
// Errors are one of *RateLimitError, *ValidationError,
// ErrInvalidCredentials or *InternalError.
func (g *Gate) Login(ctx context.Context, identity string, req *LoginRequest) (*LoginResult, error) {
	decision, err := g.limiter.Check(ctx, identity)
	if err != nil {
		return nil, internal("check rate limit", err)
	}
	if !decision.Allowed {
		g.logger.Warn("login rate limited", "client", identity, "attempts", decision.Count, "reset_at", decision.ResetAt)
		return nil, &RateLimitError{ResetAt: decision.ResetAt}
	}

	if req == nil {
		return nil, &ValidationError{Fields: map[string]string{"body": "body must be a JSON object"}}
	}
	in := LoginRequest{Email: strings.TrimSpace(req.Email), Password: req.Password}
	if err := validateStruct(g.validate, &in); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, verr
		}
		return nil, internal("validate login", err)
	}

	user, err := g.users.GetByEmail(ctx, in.Email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		// Spend the same bcrypt work as a real mismatch.
		if err := g.hasher.VerifyDummy(ctx, in.Password); err != nil {
			return nil, internal("verify password", err)
		}
		g.logger.Info("login failed", "client", identity)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, internal("load user", err)
	}

	ok, err := g.hasher.Verify(ctx, in.Password, user.PasswordHash)
	if err != nil {
		return nil, internal("verify password", err)
	}
	if !ok {
		g.logger.Info("login failed", "client", identity)
		return nil, ErrInvalidCredentials
	}
	if g.hasher.NeedsRehash(user.PasswordHash) {
		g.rehash(ctx, user, in.Password)
	}

	sess, err := g.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, internal("create session", err)
	}

	g.logger.Info("login succeeded", "client", identity, "user_id", user.ID)
	return &LoginResult{User: user, Session: sess}, nil
}

// rehash moves the stored hash to the configured cost so a known email
// costs the same to check as an unknown one. Failures leave the old hash in
// place and do not fail the login.
func (g *Gate) rehash(ctx context.Context, user *models.User, password string) {
	digest, err := g.hasher.Hash(ctx, password)
	if err != nil {
		g.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := g.users.UpdatePasswordHash(ctx, user.ID, digest); err != nil {
		g.logger.Warn("password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = digest
	g.logger.Info("password rehashed", "user_id", user.ID)
}

// Logout destroys the session behind token. Unknown tokens are fine.
func (g *Gate) Logout(ctx context.Context, token string) error {
	if err := g.sessions.Destroy(ctx, token); err != nil {
		return internal("destroy session", err)
	}
	return nil
}
