package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable marks a failure to reach the backing store. Absent keys are never reported with it.
var ErrUnavailable = errors.New("cache: store unavailable")

// Store is the fast key/value capability shared across the application: per-key TTLs,
// atomic counters, pattern listing and set membership.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Ping(ctx context.Context) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
