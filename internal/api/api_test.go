package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MediSynth-io/showcase/internal/auth"
	"github.com/MediSynth-io/showcase/internal/config"
	"github.com/MediSynth-io/showcase/internal/database"
	"github.com/MediSynth-io/showcase/internal/logging"
	"github.com/MediSynth-io/showcase/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.APIPort = 8081
	cfg.Database = config.Database{Type: database.TypeSQLite, Path: ":memory:"}
	cfg.CORS.AllowedOrigins = []string{"https://showcase.example"}
	cfg.Auth = config.Auth{
		SessionTTL:        7 * 24 * time.Hour,
		BcryptCost:        bcrypt.MinCost,
		AllowWeakHashing:  true,
		HashWorkers:       2,
		CleanupInterval:   time.Hour,
		RequestsPerMinute: 1000,
		RateLimit: config.RateLimit{
			Backend:       config.RateLimitMemory,
			Window:        15 * time.Minute,
			MaxAttempts:   5,
			SweepInterval: 5 * time.Minute,
		},
	}
	return cfg
}

func setupTestAPI(t *testing.T, cfg config.Config) *Api {
	t.Helper()
	db, err := database.Open(cfg.Database, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	services, err := NewServices(cfg, db, logging.Discard())
	require.NoError(t, err)

	hash, err := services.Hasher.Hash(context.Background(), "correct-pw")
	require.NoError(t, err)
	require.NoError(t, services.Users.Create(context.Background(), &models.User{
		Email:        "admin@example.com",
		PasswordHash: hash,
		Name:         "Admin",
	}))

	api, err := NewApi(cfg, services, logging.Discard())
	require.NoError(t, err)
	return api
}

func serve(api *Api, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)
	return rr
}

func TestNewApi(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		api := setupTestAPI(t, testConfig())
		assert.Equal(t, 8081, api.Config.APIPort)
		assert.NotNil(t, api.Router)
	})

	t.Run("InvalidConfigZeroPort", func(t *testing.T) {
		cfg := testConfig()
		cfg.APIPort = 0
		_, err := NewApi(cfg, &Services{}, logging.Discard())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Must have at least a port to start API")
	})

	t.Run("MissingServices", func(t *testing.T) {
		_, err := NewApi(testConfig(), nil, logging.Discard())
		assert.Error(t, err)
	})
}

func TestNewServices_LimiterBackend(t *testing.T) {
	db, err := database.Open(config.Database{Type: database.TypeSQLite, Path: ":memory:"}, logging.Discard())
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	services, err := NewServices(cfg, db, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &auth.MemoryLimiter{}, services.Limiter)

	cfg.Auth.RateLimit.Backend = config.RateLimitDatabase
	services, err = NewServices(cfg, db, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &auth.SQLLimiter{}, services.Limiter)

	cfg.Auth.RateLimit.Backend = "redis"
	_, err = NewServices(cfg, db, logging.Discard())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Auth.TrustedProxies = []string{"not-a-cidr/99"}
	_, err = NewServices(cfg, db, logging.Discard())
	assert.Error(t, err)
}

func TestHeartbeat(t *testing.T) {
	api := setupTestAPI(t, testConfig())

	rr := serve(api, http.MethodGet, "/heartbeat", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestNotFound(t *testing.T) {
	api := setupTestAPI(t, testConfig())

	rr := serve(api, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rr.Body.String())

	rr = serve(api, http.MethodGet, "/auth/login", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestAuthRoutesAndProtected(t *testing.T) {
	api := setupTestAPI(t, testConfig())
	api.Protected(func(r chi.Router) {
		r.Get("/admin/pages", func(w http.ResponseWriter, r *http.Request) {
			user, _ := auth.UserFromContext(r.Context())
			writeJSON(w, http.StatusOK, map[string]string{"editor": user.Email})
		})
	})

	rr := serve(api, http.MethodGet, "/admin/pages", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(api, http.MethodPost, "/auth/login", `{"email":"Admin@Example.com","password":"correct-pw"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)

	rr = serve(api, http.MethodGet, "/admin/pages", "", cookie)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"editor":"admin@example.com"}`, rr.Body.String())

	rr = serve(api, http.MethodPost, "/auth/logout", "", cookie)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = serve(api, http.MethodGet, "/admin/pages", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(api, http.MethodGet, "/auth/session", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"user":null}`, rr.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	api := setupTestAPI(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://showcase.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)

	assert.Equal(t, "https://showcase.example", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr = httptest.NewRecorder()
	api.Router.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestCap(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.RequestsPerMinute = 3
	api := setupTestAPI(t, cfg)

	for i := 0; i < 3; i++ {
		rr := serve(api, http.MethodGet, "/auth/session", "")
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}

	rr := serve(api, http.MethodGet, "/auth/session", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "too many requests", body["error"])

	// Health checks stay outside the cap.
	rr = serve(api, http.MethodGet, "/heartbeat", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServeListener_GracefulShutdown(t *testing.T) {
	api := setupTestAPI(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.ServeListener(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/heartbeat"
	assert.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
