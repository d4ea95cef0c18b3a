package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/postboard/pkg/logger"
	"github.com/charlesng35/postboard/pkg/metrics"
)

// DefaultTTL is used when neither the caller nor the layer configures a TTL.
const DefaultTTL = 5 * time.Minute

// asideNamespace keeps cache-aside entries apart from sessions and counters sharing the store.
const asideNamespace = "cache:"

// Aside is a read-through cache over a Store. Contents are only as fresh as the last
// invalidation; entries are always safe to drop.
type Aside struct {
	store Store
	ttl   time.Duration
	group singleflight.Group
	log   *zap.Logger
}

// NewAside constructs the cache-aside layer. A nil store yields a nil layer, which every
// helper treats as "cache disabled".
func NewAside(store Store, defaultTTL time.Duration) *Aside {
	if store == nil {
		return nil
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Aside{
		store: store,
		ttl:   defaultTTL,
		log:   logger.WithModule("cache"),
	}
}

// Get decodes the cached value for key into dest and reports whether it was present.
func (a *Aside) Get(ctx context.Context, key string, dest any) (bool, error) {
	if a == nil {
		return false, nil
	}
	raw, found, err := a.store.Get(ctx, a.namespaced(key))
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A payload that no longer decodes is treated as a miss and dropped.
		_ = a.store.Delete(ctx, a.namespaced(key))
		return false, fmt.Errorf("cache: decode %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key. A non-positive ttl uses the layer default.
func (a *Aside) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if a == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %q: %w", key, err)
	}
	if ttl <= 0 {
		ttl = a.ttl
	}
	return a.store.Set(ctx, a.namespaced(key), payload, ttl)
}

// Delete removes a single key.
func (a *Aside) Delete(ctx context.Context, key string) error {
	if a == nil {
		return nil
	}
	return a.store.Delete(ctx, a.namespaced(key))
}

// DeletePattern removes every key matching a glob pattern and returns how many were removed.
func (a *Aside) DeletePattern(ctx context.Context, pattern string) (int, error) {
	if a == nil {
		return 0, nil
	}
	keys, err := a.store.Keys(ctx, a.namespaced(pattern))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := a.store.Delete(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Clear drops every cache-aside entry. Sessions and counters in the same store are untouched.
func (a *Aside) Clear(ctx context.Context) (int, error) {
	return a.DeletePattern(ctx, "*")
}

// InvalidateUserCache drops user lists and single-user entries.
func (a *Aside) InvalidateUserCache(ctx context.Context) error {
	return a.invalidatePrefixes(ctx, PrefixUsers, PrefixUser)
}

// InvalidatePostCache drops post lists and single-post entries.
func (a *Aside) InvalidatePostCache(ctx context.Context) error {
	return a.invalidatePrefixes(ctx, PrefixPosts, PrefixPost)
}

// InvalidateAllCache drops every cache-aside entry.
func (a *Aside) InvalidateAllCache(ctx context.Context) error {
	_, err := a.Clear(ctx)
	return err
}

func (a *Aside) invalidatePrefixes(ctx context.Context, prefixes ...string) error {
	if a == nil {
		return nil
	}
	var errs error
	for _, prefix := range prefixes {
		removed, err := a.DeletePattern(ctx, prefix+":*")
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		a.log.Debug("cache invalidated", zap.String("prefix", prefix), zap.Int("keys", removed))
	}
	return errs
}

func (a *Aside) namespaced(key string) string {
	key = strings.TrimPrefix(key, asideNamespace)
	return asideNamespace + key
}

// Remember returns the cached value for key, or runs producer, caches its result and returns it.
// Concurrent misses for the same key within this process share one producer call; misses in
// other processes may still run their own.
func Remember[T any](ctx context.Context, a *Aside, key string, ttl time.Duration, producer func(context.Context) (T, error)) (T, error) {
	if a == nil {
		return producer(ctx)
	}

	var cached T
	found, err := a.Get(ctx, key, &cached)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		a.log.Warn("cache read failed; using source", zap.String("key", key), zap.Error(err))
	case found:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	default:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	value, err, _ := a.group.Do(key, func() (any, error) {
		// Callers sharing this flight must not inherit the first caller's cancellation.
		shared := context.WithoutCancel(ctx)
		produced, err := producer(shared)
		if err != nil {
			return nil, err
		}
		if err := a.Set(shared, key, produced, ttl); err != nil {
			a.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return produced, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	result, ok := value.(T)
	if !ok {
		var zero T
		return zero, errors.New("cache: shared result has unexpected type")
	}
	return result, nil
}
