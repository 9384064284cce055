package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MediSynth-io/showcase/internal/models"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const userContextKey contextKey = "user"

// SessionValidator is the check every protected handler relies on.
type SessionValidator struct {
	sessions SessionStore
	logger   *slog.Logger
}

func NewSessionValidator(sessions SessionStore, logger *slog.Logger) *SessionValidator {
	return &SessionValidator{sessions: sessions, logger: logger}
}

// VerifySession resolves the session cookie on r to its user. It never
// fails loudly: a missing cookie, an unknown or expired token and a store
// error all come back as (nil, false). Store errors are logged.
func (v *SessionValidator) VerifySession(r *http.Request) (*models.User, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}

	user, err := v.sessions.Lookup(r.Context(), c.Value)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			v.logger.Error("session lookup failed",
				"request_id", middleware.GetReqID(r.Context()),
				"error", err,
			)
		}
		return nil, false
	}
	return user, true
}

// RequireSession rejects requests without a valid session with 401 and
// otherwise puts the user in the request context.
func (v *SessionValidator) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := v.VerifySession(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext returns the user stored by RequireSession.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok
}
