package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MediSynth-io/showcase/internal/models"
	"github.com/go-chi/chi/v5/middleware"
)

// maxLoginBody caps the login request body.
const maxLoginBody = 16 << 10

type errorResponse struct {
	Error string `json:"error"`
}

type validationResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

type rateLimitResponse struct {
	Error   string `json:"error"`
	ResetAt string `json:"resetAt"`
}

type userResponse struct {
	User *models.User `json:"user"`
}

type logoutResponse struct {
	Success bool `json:"success"`
}

// Handler serves the /auth endpoints.
type Handler struct {
	gate          *Gate
	validator     *SessionValidator
	identity      *IdentityResolver
	secureCookies bool
	logger        *slog.Logger
	now           func() time.Time
}

func NewHandler(gate *Gate, validator *SessionValidator, identity *IdentityResolver, secureCookies bool, logger *slog.Logger) *Handler {
	return &Handler{
		gate:          gate,
		validator:     validator,
		identity:      identity,
		secureCookies: secureCookies,
		logger:        logger,
		now:           time.Now,
	}
}

// LoginHandler handles POST /auth/login.
func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	var req LoginRequest
	in := &req
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Still goes through the gate so the attempt is counted.
		in = nil
	}

	res, err := h.gate.Login(r.Context(), h.identity.Resolve(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	setSessionCookie(w, res.Session, h.secureCookies)
	writeJSON(w, http.StatusOK, userResponse{User: res.User})
}

// LogoutHandler handles POST /auth/logout. It always succeeds from the
// client's point of view.
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		if err := h.gate.Logout(r.Context(), c.Value); err != nil {
			h.logger.Error("logout failed",
				"request_id", middleware.GetReqID(r.Context()),
				"error", err,
			)
		}
	}
	clearSessionCookie(w, h.secureCookies)
	writeJSON(w, http.StatusOK, logoutResponse{Success: true})
}

// SessionHandler handles GET /auth/session.
func (h *Handler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := h.validator.VerifySession(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, userResponse{})
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		rlErr  *RateLimitError
		valErr *ValidationError
	)
	switch {
	case errors.As(err, &rlErr):
		w.Header().Set("Retry-After", strconv.Itoa(rlErr.RetryAfter(h.now())))
		writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
			Error:   "too many login attempts",
			ResetAt: rlErr.ResetAt.UTC().Format(time.RFC3339),
		})
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, validationResponse{Error: "validation failed", Fields: valErr.Fields})
	case errors.Is(err, ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: ErrInvalidCredentials.Error()})
	default:
		h.logger.Error("auth request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
