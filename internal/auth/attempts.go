package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/pkg/logger"
	"github.com/charlesng35/postboard/pkg/metrics"
)

const (
	// DefaultMaxLoginAttempts is the number of failures tolerated within one window.
	DefaultMaxLoginAttempts = 5
	// DefaultAttemptWindow is both the sliding failure window and the lockout duration.
	DefaultAttemptWindow = 15 * time.Minute

	loginAttemptKeyPrefix = "auth:login_attempts:"
	loginLockoutKeyPrefix = "auth:login_lockout:"
)

// AttemptConfig describes tunable behaviour for the LoginAttemptTracker.
type AttemptConfig struct {
	MaxAttempts int
	Window      time.Duration
	Clock       func() time.Time
}

// lockoutRecord is written once an identity reaches the failure limit.
type lockoutRecord struct {
	LastAttempt  time.Time `json:"lastAttempt"`
	BlockedUntil time.Time `json:"blockedUntil"`
}

// LoginAttemptTracker throttles repeated login failures per identity. Each identity
// (an email, optionally an IP address) is tracked and locked out independently, and a
// request is refused when any of its identities is locked.
//
// Failures are counted with the store's atomic increment, and every failure pushes the
// counter expiry one window ahead, so the count restarts once no failure has happened
// for a whole window. Reaching the limit writes a lockout record next to the counter.
//
// Store failures never block a login: the tracker logs them and lets the request
// through, while authentication itself still fails closed.
type LoginAttemptTracker struct {
	store  cache.Store
	limit  int
	window time.Duration
	now    func() time.Time
	log    *zap.Logger
}

// NewLoginAttemptTracker builds a tracker with sane defaults.
func NewLoginAttemptTracker(store cache.Store, cfg AttemptConfig) (*LoginAttemptTracker, error) {
	if store == nil {
		return nil, errors.New("login attempts: store is required")
	}

	limit := cfg.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxLoginAttempts
	}

	window := cfg.Window
	if window <= 0 {
		window = DefaultAttemptWindow
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &LoginAttemptTracker{
		store:  store,
		limit:  limit,
		window: window,
		now:    clock,
		log:    logger.WithModule("login-attempts"),
	}, nil
}

// EmailIdentity returns the tracking identity for an email address.
func EmailIdentity(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	return "email:" + email
}

// IPIdentity returns the tracking identity for a client address. IPv6 colons are
// replaced so the address survives key normalisation intact.
func IPIdentity(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	return "ip:" + strings.ReplaceAll(ip, ":", "-")
}

// UserIdentity returns the tracking identity for an authenticated account.
func UserIdentity(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ""
	}
	return "user:" + userID
}

// Check refuses the attempt with a *RateLimitedError when any identity is locked out.
func (t *LoginAttemptTracker) Check(ctx context.Context, identities ...string) error {
	var retryAfter time.Duration

	for _, identity := range identities {
		if identity == "" {
			continue
		}
		now := t.now()

		lockout, err := t.loadLockout(ctx, identity)
		if err != nil {
			t.failOpen("check", identity, err)
			continue
		}
		if lockout != nil {
			if now.Before(lockout.BlockedUntil) {
				retryAfter = maxDuration(retryAfter, lockout.BlockedUntil.Sub(now))
				continue
			}
			// The lockout has run its course; the identity starts over.
			t.reset(ctx, identity)
			continue
		}

		// A counter already at the limit without a lockout (a lowered limit, or a
		// lockout write that never landed) is locked now.
		count, err := t.count(ctx, identity)
		if err != nil {
			t.failOpen("check", identity, err)
			continue
		}
		if count >= int64(t.limit) {
			t.lock(ctx, identity, now)
			retryAfter = maxDuration(retryAfter, t.window)
		}
	}

	if retryAfter > 0 {
		return &RateLimitedError{RetryAfter: retryAfter}
	}
	return nil
}

// RecordFailure counts a failed attempt for every identity and locks the identity as
// soon as its count reaches the limit.
func (t *LoginAttemptTracker) RecordFailure(ctx context.Context, identities ...string) {
	for _, identity := range identities {
		if identity == "" {
			continue
		}
		key := attemptKey(identity)

		count, _, err := t.store.IncrementWithTTL(ctx, key, t.window)
		if err != nil {
			t.failOpen("record failure", identity, err)
			continue
		}
		if err := t.store.Expire(ctx, key, t.window); err != nil {
			t.failOpen("record failure", identity, err)
		}

		if count >= int64(t.limit) {
			t.lock(ctx, identity, t.now())
		}
	}
}

// RecordSuccess clears the attempt history of every identity.
func (t *LoginAttemptTracker) RecordSuccess(ctx context.Context, identities ...string) {
	for _, identity := range identities {
		if identity == "" {
			continue
		}
		t.reset(ctx, identity)
	}
}

func (t *LoginAttemptTracker) count(ctx context.Context, identity string) (int64, error) {
	raw, found, err := t.store.Get(ctx, attemptKey(identity))
	if err != nil || !found {
		return 0, err
	}
	count, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		t.log.Warn("discarding corrupt attempt counter", zap.String("identity", identity), zap.Error(err))
		return 0, nil
	}
	return count, nil
}

func (t *LoginAttemptTracker) loadLockout(ctx context.Context, identity string) (*lockoutRecord, error) {
	raw, found, err := t.store.Get(ctx, lockoutKey(identity))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var record lockoutRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		t.log.Warn("discarding corrupt lockout record", zap.String("identity", identity), zap.Error(err))
		return nil, nil
	}
	return &record, nil
}

// lock writes the lockout record and drops the counter, which the lockout supersedes.
func (t *LoginAttemptTracker) lock(ctx context.Context, identity string, now time.Time) {
	record := lockoutRecord{LastAttempt: now, BlockedUntil: now.Add(t.window)}
	payload, err := json.Marshal(record)
	if err == nil {
		err = t.store.Set(ctx, lockoutKey(identity), payload, t.window)
	}
	if err != nil {
		t.failOpen("lock", identity, err)
		return
	}
	if err := t.store.Delete(ctx, attemptKey(identity)); err != nil {
		t.failOpen("lock", identity, err)
	}

	metrics.LoginLockouts.Inc()
	t.log.Info("identity locked out", zap.String("identity", identity), zap.Time("until", record.BlockedUntil))
}

func (t *LoginAttemptTracker) reset(ctx context.Context, identity string) {
	if err := t.store.Delete(ctx, attemptKey(identity), lockoutKey(identity)); err != nil {
		t.failOpen("reset", identity, err)
	}
}

func (t *LoginAttemptTracker) failOpen(op, identity string, err error) {
	metrics.StoreFailures.WithLabelValues("login_attempts").Inc()
	t.log.Warn("login attempt store unavailable; allowing request",
		zap.String("op", op),
		zap.String("identity", identity),
		zap.Error(err),
	)
}

func attemptKey(identity string) string {
	return loginAttemptKeyPrefix + identity
}

func lockoutKey(identity string) string {
	return loginLockoutKeyPrefix + identity
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
