package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures the connection parameters for the Redis-backed Store.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
	PoolSize int
	Prefix   string
}

const (
	defaultRedisTimeout = 2 * time.Second
	defaultKeyPrefix    = "postboard:"
	scanBatchSize       = 200
)

// RedisClient implements Store on top of go-redis. It owns a single connection pool and
// never retries a failed command; callers decide how to degrade.
type RedisClient struct {
	client *redis.Client
	prefix string
}

// NewRedisClient creates a new Redis client. It eagerly pings the server so that
// misconfiguration is surfaced during application startup.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   -1,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := NewRedisClientFrom(redis.NewClient(opts), cfg.Prefix)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisClientFrom wraps an existing go-redis client. An empty prefix selects the default namespace.
func NewRedisClientFrom(client *redis.Client, prefix string) *RedisClient {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisClient{client: client, prefix: prefix}
}

// Close releases the connection pool.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// Ping checks connectivity.
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Get retrieves the value associated with a key.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}
	return value, true, nil
}

// Set stores a value with PX expiry semantics. A non-positive ttl stores the key without expiry.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefixed(key), value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Delete removes one or more keys, ignoring missing keys.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, c.prefixed(key))
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

// Keys lists keys matching a glob pattern using SCAN so the server is never blocked.
// Returned keys are relative to the client prefix.
func (c *RedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	match := c.prefixed(pattern)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, match, scanBatchSize).Result()
		if err != nil {
			return nil, unavailable("scan", err)
		}
		for _, key := range batch {
			keys = append(keys, strings.TrimPrefix(key, c.prefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return keys, nil
}

// SetAdd adds members to a set.
func (c *RedisClient) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.client.SAdd(ctx, c.prefixed(key), toArgs(members)...).Err(); err != nil {
		return unavailable("sadd", err)
	}
	return nil
}

// SetRemove removes members from a set.
func (c *RedisClient) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.client.SRem(ctx, c.prefixed(key), toArgs(members)...).Err(); err != nil {
		return unavailable("srem", err)
	}
	return nil
}

// SetMembers returns every member of a set; a missing set is empty.
func (c *RedisClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.client.SMembers(ctx, c.prefixed(key)).Result()
	if err != nil {
		return nil, unavailable("smembers", err)
	}
	return members, nil
}

// IncrementWithTTL increments the supplied key and ensures the TTL is set to the requested window.
// It returns the current count and the remaining time-to-live.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	prefixedKey := c.prefixed(key)

	count, err := c.client.Incr(ctx, prefixedKey).Result()
	if err != nil {
		return 0, 0, unavailable("incr", err)
	}

	ttl, err := c.client.PTTL(ctx, prefixedKey).Result()
	if err != nil {
		return count, window, nil
	}

	// A counter without expiry (first hit, or an earlier PEXPIRE that never landed) gets the window.
	if count == 1 || ttl < 0 {
		if err := c.client.PExpire(ctx, prefixedKey, window).Err(); err != nil {
			return 0, 0, unavailable("pexpire", err)
		}
		return count, window, nil
	}
	return count, ttl, nil
}

// Expire sets a TTL on an existing key.
func (c *RedisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.PExpire(ctx, c.prefixed(key), ttl).Err(); err != nil {
		return unavailable("pexpire", err)
	}
	return nil
}

func (c *RedisClient) prefixed(key string) string {
	normalized := normalizeKey(key)
	if strings.HasPrefix(normalized, c.prefix) {
		return normalized
	}
	return normalizeKey(c.prefix + normalized)
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// normalizeKey collapses repeated separators so "a::b" and "a:b" address the same key.
func normalizeKey(key string) string {
	if key == "" {
		return key
	}
	var builder strings.Builder
	builder.Grow(len(key))
	prevColon := false
	for i := 0; i < len(key); i++ {
		ch := key[i]
		if ch == ':' {
			if prevColon {
				continue
			}
			prevColon = true
		} else {
			prevColon = false
		}
		builder.WriteByte(ch)
	}
	return builder.String()
}
