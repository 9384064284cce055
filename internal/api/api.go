package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/MediSynth-io/showcase/internal/auth"
	"github.com/MediSynth-io/showcase/internal/config"
	"github.com/MediSynth-io/showcase/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

const shutdownTimeout = 15 * time.Second

type Api struct {
	Config   config.Config
	Router   *chi.Mux
	services *Services
	logger   *slog.Logger
}

func NewApi(cfg config.Config, services *Services, logger *slog.Logger) (*Api, error) {
	if cfg.APIPort == 0 {
		return nil, errors.New("Must have at least a port to start API")
	}
	if services == nil {
		return nil, errors.New("api: services are required")
	}

	api := &Api{
		Config:   cfg,
		Router:   chi.NewRouter(),
		services: services,
		logger:   logger,
	}
	api.setupRoutes()
	return api, nil
}

func (api *Api) setupRoutes() {
	r := api.Router

	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(api.logger))
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Heartbeat("/heartbeat"))

	if n := api.Config.Auth.RequestsPerMinute; n > 0 {
		r.Use(httprate.Limit(n, time.Minute,
			httprate.WithKeyFuncs(api.clientKey),
			httprate.WithLimitHandler(tooManyRequests),
		))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	handler := auth.NewHandler(
		api.services.Gate,
		api.services.Validator,
		api.services.Identity,
		api.Config.Domains.Secure,
		api.logger.With("component", "auth"),
	)
	r.Route("/auth", func(r chi.Router) {
		auth.RegisterRoutes(r, handler)
	})
}

// clientKey keys the coarse request limit by the same client identity the
// login limiter uses.
func (api *Api) clientKey(r *http.Request) (string, error) {
	return api.services.Identity.Resolve(r), nil
}

// Protected mounts routes that require a valid admin session. Handlers can
// read the user with auth.UserFromContext.
func (api *Api) Protected(fn func(r chi.Router)) {
	api.Router.Group(func(r chi.Router) {
		r.Use(api.services.Validator.RequireSession)
		fn(r)
	})
}

// Serve listens on the configured port until ctx is cancelled.
func (api *Api) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", api.Config.APIPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return api.ServeListener(ctx, ln)
}

// ServeListener serves on ln and runs the session cleanup and limiter
// sweep loops alongside. It shuts the server down gracefully when ctx ends.
func (api *Api) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           api.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go api.services.Sessions.RunCleanup(bgCtx, api.Config.Auth.CleanupInterval, api.logger)
	go auth.RunSweeper(bgCtx, api.services.Limiter, api.Config.Auth.RateLimit.SweepInterval, api.logger)

	errCh := make(chan error, 1)
	go func() {
		api.logger.Info("starting API server", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	api.logger.Info("shutting down API server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
