package cache

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/postboard/internal/models"
)

var errDatabaseStoreNotInitialised = errors.New("cache: database store not initialised")

// DatabaseStore implements the cache Store interface using the primary SQL database.
// It is the fallback when Redis is disabled or unreachable at startup.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// IncrementWithTTL atomically increments a counter for the supplied key.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errDatabaseStoreNotInitialised
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	expiry := now.Add(window)

	var count int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		// Acquire row-level lock
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(keyEquals(key)).Take(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			count = 1
			entry = models.CacheEntry{
				Key:       key,
				Value:     []byte("1"),
				ExpiresAt: expiry,
			}
			return tx.Create(&entry).Error
		}
		if err != nil {
			return err
		}

		if isExpired(entry.ExpiresAt, now) {
			count = 1
			entry.Value = []byte("1")
			entry.ExpiresAt = expiry
		} else {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = current + 1
			entry.Value = []byte(strconv.FormatInt(count, 10))
			if entry.ExpiresAt.IsZero() {
				entry.ExpiresAt = expiry
			}
		}

		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, unavailable("incr", err)
	}

	var entry models.CacheEntry
	if err := s.db.WithContext(ctx).Select("expires_at").Where(keyEquals(key)).Take(&entry).Error; err != nil {
		return count, window, nil
	}
	return count, entry.ExpiresAt.Sub(now), nil
}

// Set upserts the value for a given key with expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}

	expiry := time.Time{}
	if ttl > 0 {
		expiry = s.now().Add(ttl)
	}

	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: expiry,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
	if err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errDatabaseStoreNotInitialised
	}

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where(keyEquals(key)).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get", err)
	}

	if isExpired(entry.ExpiresAt, s.now()) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Delete removes keys from the store, including set-valued keys.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if len(keys) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(map[string]any{"key": keys}).Delete(&models.CacheEntry{}).Error; err != nil {
			return err
		}
		return tx.Where(map[string]any{"key": keys}).Delete(&models.CacheSetMember{}).Error
	})
	if err != nil {
		return unavailable("del", err)
	}
	return nil
}

// Keys lists live keys matching a glob pattern ('*' and '?').
func (s *DatabaseStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s == nil {
		return nil, errDatabaseStoreNotInitialised
	}

	like := globToLike(pattern)
	now := s.now()

	var entryKeys []string
	if err := s.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Where(keyLike(like)).
		Where("expires_at = ? OR expires_at > ?", time.Time{}, now).
		Pluck("key", &entryKeys).Error; err != nil {
		return nil, unavailable("keys", err)
	}

	var setKeys []string
	if err := s.db.WithContext(ctx).Model(&models.CacheSetMember{}).
		Distinct("key").
		Where(keyLike(like)).
		Where("expires_at = ? OR expires_at > ?", time.Time{}, now).
		Pluck("key", &setKeys).Error; err != nil {
		return nil, unavailable("keys", err)
	}

	seen := make(map[string]struct{}, len(entryKeys)+len(setKeys))
	keys := make([]string, 0, len(entryKeys)+len(setKeys))
	for _, key := range append(entryKeys, setKeys...) {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// SetAdd adds members to a set. New members inherit the TTL already applied to the set.
func (s *DatabaseStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if len(members) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CacheSetMember
		expiry := time.Time{}
		err := tx.Where(keyEquals(key)).Order("expires_at DESC").Take(&existing).Error
		switch {
		case err == nil && !isExpired(existing.ExpiresAt, s.now()):
			expiry = existing.ExpiresAt
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		rows := make([]models.CacheSetMember, 0, len(members))
		for _, member := range members {
			rows = append(rows, models.CacheSetMember{Key: key, Member: member, ExpiresAt: expiry})
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}, {Name: "member"}},
			DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
		}).Create(&rows).Error
	})
	if err != nil {
		return unavailable("sadd", err)
	}
	return nil
}

// SetRemove removes members from a set.
func (s *DatabaseStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if len(members) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where(map[string]any{"key": key, "member": members}).
		Delete(&models.CacheSetMember{}).Error; err != nil {
		return unavailable("srem", err)
	}
	return nil
}

// SetMembers returns the live members of a set.
func (s *DatabaseStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	if s == nil {
		return nil, errDatabaseStoreNotInitialised
	}

	var members []string
	if err := s.db.WithContext(ctx).Model(&models.CacheSetMember{}).
		Where(keyEquals(key)).
		Where("expires_at = ? OR expires_at > ?", time.Time{}, s.now()).
		Order("member").
		Pluck("member", &members).Error; err != nil {
		return nil, unavailable("smembers", err)
	}
	return members, nil
}

// Expire applies a TTL to a key, whether it holds a value or a set.
func (s *DatabaseStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}

	expiry := s.now().Add(ttl)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CacheEntry{}).Where(keyEquals(key)).
			Update("expires_at", expiry).Error; err != nil {
			return err
		}
		return tx.Model(&models.CacheSetMember{}).Where(keyEquals(key)).
			Update("expires_at", expiry).Error
	})
	if err != nil {
		return unavailable("expire", err)
	}
	return nil
}

// Ping checks that the database connection is usable.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	if s == nil {
		return errDatabaseStoreNotInitialised
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// PurgeExpired deletes entries and set members whose TTL has elapsed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errDatabaseStoreNotInitialised
	}

	now := s.now()
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("expires_at <> ? AND expires_at <= ?", time.Time{}, now).Delete(&models.CacheEntry{})
		if result.Error != nil {
			return result.Error
		}
		removed += result.RowsAffected

		result = tx.Where("expires_at <> ? AND expires_at <= ?", time.Time{}, now).Delete(&models.CacheSetMember{})
		if result.Error != nil {
			return result.Error
		}
		removed += result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func isExpired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}

// key is a reserved word in some dialects, so conditions on it go through quoted clauses.
var keyColumn = clause.Column{Name: "key"}

func keyEquals(key string) clause.Expression {
	return clause.Eq{Column: keyColumn, Value: key}
}

func keyLike(pattern string) clause.Expression {
	return clause.Expr{SQL: "? LIKE ? ESCAPE '!'", Vars: []any{keyColumn, pattern}}
}

// globToLike translates a Redis-style glob into a LIKE pattern escaped with '!'.
func globToLike(pattern string) string {
	var builder strings.Builder
	builder.Grow(len(pattern))
	for _, ch := range pattern {
		switch ch {
		case '!', '%', '_':
			builder.WriteRune('!')
			builder.WriteRune(ch)
		case '*':
			builder.WriteRune('%')
		case '?':
			builder.WriteRune('_')
		default:
			builder.WriteRune(ch)
		}
	}
	return builder.String()
}
