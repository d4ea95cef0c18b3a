package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/logger"
	"github.com/charlesng35/postboard/pkg/metrics"
	"github.com/charlesng35/postboard/pkg/response"
)

// RateLimitConfig describes a fixed-window limit applied per client IP.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// Scope separates counters of differently limited route groups.
	Scope string
}

// RateLimit limits requests per client IP within a fixed window. When the store fails the
// request is let through.
func RateLimit(store RateStore, cfg RateLimitConfig) gin.HandlerFunc {
	if store == nil || cfg.Max <= 0 || cfg.Window <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	scope := cfg.Scope
	if scope == "" {
		scope = "api"
	}
	log := logger.WithModule("ratelimit")

	return func(c *gin.Context) {
		key := "ratelimit:" + scope + ":" + c.ClientIP()

		count, ttl, err := store.Increment(c.Request.Context(), key, cfg.Window)
		if err != nil {
			metrics.StoreFailures.WithLabelValues("rate_limit").Inc()
			log.Warn("rate limit store unavailable; allowing request", zap.Error(err))
			c.Next()
			return
		}

		resetIn := int(math.Ceil(ttl.Seconds()))
		if resetIn < 1 {
			resetIn = 1
		}
		remaining := max(0, cfg.Max-count)
		// Nested limiters share the headers; they describe whichever has fewer requests left.
		if isTighterLimit(c, remaining) {
			c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
			c.Header("X-RateLimit-Reset", strconv.Itoa(resetIn))
		}

		if count > cfg.Max {
			metrics.RateLimited.Inc()
			c.Header("Retry-After", strconv.Itoa(resetIn))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}

// isTighterLimit reports whether remaining is below what an enclosing limiter already
// put in the headers. It is true when no limiter has set them yet.
func isTighterLimit(c *gin.Context, remaining int) bool {
	current := c.Writer.Header().Get("X-RateLimit-Remaining")
	if current == "" {
		return true
	}
	reported, err := strconv.Atoi(current)
	if err != nil {
		return true
	}
	return remaining < reported
}
