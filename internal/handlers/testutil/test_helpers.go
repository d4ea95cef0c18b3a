package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/charlesng35/postboard/internal/api"
	"github.com/charlesng35/postboard/internal/app"
	iauth "github.com/charlesng35/postboard/internal/auth"
	"github.com/charlesng35/postboard/internal/cache"
	sharedtestutil "github.com/charlesng35/postboard/internal/database/testutil"
	"github.com/charlesng35/postboard/internal/models"
	"github.com/charlesng35/postboard/internal/services"
	"github.com/charlesng35/postboard/pkg/response"
)

// DefaultPassword satisfies the registration password rules.
const DefaultPassword = "correct-horse-battery"

// Env encapsulates a fully-wired API instance backed by an in-memory database and an
// in-process Redis for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Redis  *miniredis.Miniredis
	Store  cache.Store
	Config *app.Config
	Auth   *iauth.Service
	Router *gin.Engine
	Resets *ResetOutbox
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(cfg *app.Config)

// WithMaxLoginAttempts lowers the lockout threshold.
func WithMaxLoginAttempts(attempts int) EnvOption {
	return func(cfg *app.Config) { cfg.Auth.Login.MaxAttempts = attempts }
}

// WithRateLimit enables the general API limiter with the supplied quotas.
func WithRateLimit(max, authMax int) EnvOption {
	return func(cfg *app.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.Max = max
		cfg.RateLimit.AuthMax = authMax
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewRedisClientFrom(client, "")
	t.Cleanup(func() { _ = store.Close() })

	cfg := &app.Config{
		Server: app.ServerConfig{CORSOrigins: []string{"*"}},
		Cache:  app.CacheConfig{DefaultTTL: 5 * time.Minute},
		Auth: app.AuthConfig{
			JWT:           app.JWTSettings{Secret: "handler-suite-secret-at-least-32-bytes!", Issuer: "handler-suite"},
			Session:       app.SessionSettings{TTL: time.Hour},
			Login:         app.LoginSettings{MaxAttempts: 5, AttemptWindow: 15 * time.Minute, TrackIP: true},
			PasswordReset: app.PasswordResetSettings{TokenTTL: time.Hour},
			BcryptCost:    bcrypt.MinCost,
		},
		RateLimit: app.RateLimitConfig{Enabled: false, Window: time.Minute, Max: 1000, AuthMax: 1000},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	aside := cache.NewAside(store, cfg.Cache.DefaultTTL)
	users, err := services.NewUserService(db, aside)
	require.NoError(t, err)
	posts, err := services.NewPostService(db, aside)
	require.NoError(t, err)

	tokens, err := iauth.NewTokenCodec(cfg.Auth.TokenConfig())
	require.NoError(t, err)

	outbox := &ResetOutbox{}
	serviceCfg := cfg.Auth.ServiceConfig()
	serviceCfg.Delivery = outbox
	authSvc, err := iauth.NewService(users, store, tokens, serviceCfg)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		Config: cfg,
		DB:     db,
		Store:  store,
		Auth:   authSvc,
		Users:  users,
		Posts:  posts,
	})
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Redis:  mr,
		Store:  store,
		Config: cfg,
		Auth:   authSvc,
		Router: router,
		Resets: outbox,
	}
}

// ResetOutbox captures password reset tokens instead of delivering them.
type ResetOutbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

// DeliverPasswordReset implements auth.ResetDelivery.
func (o *ResetOutbox) DeliverPasswordReset(_ context.Context, user models.PublicUser, token string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tokens == nil {
		o.tokens = make(map[string]string)
	}
	o.tokens[user.Email] = token
	return nil
}

// Token returns the last reset token issued for the email address.
func (o *ResetOutbox) Token(email string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	token, ok := o.tokens[email]
	return token, ok
}

// UserPayload captures the public user fields returned from the API.
type UserPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AuthPayload mirrors the register and login response payload.
type AuthPayload struct {
	User      UserPayload `json:"user"`
	Token     string      `json:"token"`
	SessionID string      `json:"sessionId"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// UniqueEmail returns a fresh address for the test.
func UniqueEmail() string {
	return "user-" + uuid.NewString()[:8] + "@example.com"
}

// Register creates an account through the API and returns the issued session.
func (e *Env) Register(name, email, password string) AuthPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())
	return e.decodeAuth(w)
}

// Login authenticates with email and password and returns the issued session.
func (e *Env) Login(email, password string) AuthPayload {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
	return e.decodeAuth(w)
}

func (e *Env) decodeAuth(w *httptest.ResponseRecorder) AuthPayload {
	e.T.Helper()

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result AuthPayload
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Token)
	require.NotEmpty(e.T, result.SessionID)
	require.NotEmpty(e.T, result.User.ID)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
