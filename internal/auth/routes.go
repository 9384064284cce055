package auth

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes sets up the authentication routes
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/login", h.LoginHandler)
	r.Post("/logout", h.LogoutHandler)
	r.Get("/session", h.SessionHandler)
}
