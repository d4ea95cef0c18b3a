package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/postboard/internal/app"
	iauth "github.com/charlesng35/postboard/internal/auth"
	"github.com/charlesng35/postboard/internal/cache"
	testutil "github.com/charlesng35/postboard/internal/database/testutil"
	"github.com/charlesng35/postboard/internal/services"
)

func newTestDependencies(t *testing.T, rateLimit app.RateLimitConfig) Dependencies {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	mr := miniredis.RunT(t)
	store := cache.NewRedisClientFrom(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = store.Close() })

	cfg := &app.Config{
		Server: app.ServerConfig{CORSOrigins: []string{"*"}},
		Auth: app.AuthConfig{
			JWT:        app.JWTSettings{Secret: "router-test-secret-with-32-bytes!!!", Issuer: "test"},
			BcryptCost: 4,
		},
		RateLimit: rateLimit,
	}

	aside := cache.NewAside(store, time.Minute)
	users, err := services.NewUserService(db, aside)
	require.NoError(t, err)
	posts, err := services.NewPostService(db, aside)
	require.NoError(t, err)
	tokens, err := iauth.NewTokenCodec(cfg.Auth.TokenConfig())
	require.NoError(t, err)
	authSvc, err := iauth.NewService(users, store, tokens, cfg.Auth.ServiceConfig())
	require.NoError(t, err)

	return Dependencies{Config: cfg, DB: db, Store: store, Auth: authSvc, Users: users, Posts: posts}
}

func serve(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	require.Error(t, err)

	deps := newTestDependencies(t, app.RateLimitConfig{})
	deps.Auth = nil
	_, err = NewRouter(deps)
	require.ErrorContains(t, err, "auth service")
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	router, err := NewRouter(newTestDependencies(t, app.RateLimitConfig{}))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "").Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/posts", "").Code)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodPost, "/api/auth/logout"},
		{http.MethodGet, "/api/auth/sessions"},
		{http.MethodGet, "/api/users"},
		{http.MethodPost, "/api/posts"},
		{http.MethodDelete, "/api/posts/some-id"},
	} {
		w := serve(router, route.method, route.path, "")
		require.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, err := NewRouter(newTestDependencies(t, app.RateLimitConfig{}))
	require.NoError(t, err)

	w := serve(router, http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router, err := NewRouter(newTestDependencies(t, app.RateLimitConfig{}))
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "").Code)

	w := serve(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "postboard_api_latency_seconds")
}

func TestRouter_CredentialEndpointsHaveStricterLimit(t *testing.T) {
	router, err := NewRouter(newTestDependencies(t, app.RateLimitConfig{
		Enabled: true,
		Window:  time.Minute,
		Max:     100,
		AuthMax: 2,
	}))
	require.NoError(t, err)

	body := `{"email":"nobody@example.com","password":"whatever"}`
	// The headers describe the credential quota, which runs out first.
	for i := 0; i < 2; i++ {
		w := serve(router, http.MethodPost, "/api/auth/login", body)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		require.Equal(t, strconv.Itoa(1-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := serve(router, http.MethodPost, "/api/auth/login", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// Other endpoints only count against the general quota.
	w = serve(router, http.MethodGet, "/api/posts", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "96", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRouter_RateLimitDisabled(t *testing.T) {
	router, err := NewRouter(newTestDependencies(t, app.RateLimitConfig{Enabled: false, Window: time.Minute, Max: 1, AuthMax: 1}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		w := serve(router, http.MethodGet, "/api/posts", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRouter_LocalRateLimitKeepsCountersOutOfTheStore(t *testing.T) {
	deps := newTestDependencies(t, app.RateLimitConfig{Enabled: true, Local: true, Window: time.Minute, Max: 2, AuthMax: 2})
	router, err := NewRouter(deps)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/api/posts", "").Code)
	}
	w := serve(router, http.MethodGet, "/api/posts", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	keys, err := deps.Store.Keys(context.Background(), "ratelimit:*")
	require.NoError(t, err)
	require.Empty(t, keys)
}
