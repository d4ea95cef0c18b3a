package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/postboard/internal/cache"
)

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("store down")
}

func newRateLimitedRouter(store RateStore, limit int, window time.Duration) *gin.Engine {
	r := gin.New()
	r.Use(RateLimit(store, RateLimitConfig{Max: limit, Window: window}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func ping(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMemoryRateStore(func() time.Time { return now })
	r := newRateLimitedRouter(store, 2, time.Minute)

	for i := 0; i < 2; i++ {
		w := ping(r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := ping(r)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, "60", w.Header().Get("Retry-After"))
	require.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")

	now = now.Add(time.Minute)
	w = ping(r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitNestedReportsTightestQuota(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	outer := newMemoryRateStore(clock)
	inner := newMemoryRateStore(clock)

	r := gin.New()
	r.Use(RateLimit(outer, RateLimitConfig{Max: 3, Window: time.Minute}))
	group := r.Group("", RateLimit(inner, RateLimitConfig{Max: 10, Window: time.Minute, Scope: "auth"}))
	group.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// The outer quota is the smaller one, so the inner limiter leaves its headers alone.
	w := ping(r)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "2", w.Header().Get("X-RateLimit-Remaining"))

	// Once an inner limiter has fewer requests left, it takes over the headers.
	r2 := gin.New()
	r2.Use(RateLimit(newMemoryRateStore(clock), RateLimitConfig{Max: 100, Window: time.Minute}))
	tight := r2.Group("", RateLimit(newMemoryRateStore(clock), RateLimitConfig{Max: 1, Window: time.Minute, Scope: "auth"}))
	tight.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w = ping(r2)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitSharedStore(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := cache.NewRedisClientFrom(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	t.Cleanup(func() { _ = client.Close() })

	// Two routers stand in for two instances sharing one Redis.
	first := newRateLimitedRouter(NewStoreRateStore(client), 1, time.Minute)
	second := newRateLimitedRouter(NewStoreRateStore(client), 1, time.Minute)

	require.Equal(t, http.StatusOK, ping(first).Code)
	require.Equal(t, http.StatusTooManyRequests, ping(second).Code)
	require.True(t, mr.Exists("postboard:ratelimit:api:192.0.2.1"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := newRateLimitedRouter(failingRateStore{}, 1, time.Minute)
	for i := 0; i < 3; i++ {
		w := ping(r)
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := newRateLimitedRouter(nil, 1, time.Minute)
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, ping(r).Code)
	}
}
