package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by operation (login|register|change_password) and result.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postboard_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"operation", "result"},
	)

	// LoginLockouts counts identities placed into a temporary lockout.
	LoginLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postboard_login_lockouts_total",
			Help: "Number of login lockouts triggered",
		},
	)

	// SessionEvents counts session lifecycle transitions (created|revoked|expired).
	SessionEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postboard_session_events_total",
			Help: "Session lifecycle events",
		},
		[]string{"event"},
	)

	// CacheLookups records cache-aside lookups by result (hit|miss|error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postboard_cache_lookups_total",
			Help: "Cache-aside lookups by result",
		},
		[]string{"result"},
	)

	// StoreFailures counts fast-store failures that were tolerated (fail open).
	StoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postboard_store_failures_total",
			Help: "Tolerated fast store failures by component",
		},
		[]string{"component"},
	)

	// RateLimited counts requests rejected by the API rate limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postboard_rate_limited_total",
			Help: "Requests rejected by the API rate limiter",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postboard_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
