package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/postboard/internal/database/testutil"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestDatabaseStore(t *testing.T) (*DatabaseStore, *fakeClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store.now = clock.Now
	return store, clock
}

func TestDatabaseStoreGetSetExpiry(t *testing.T) {
	store, clock := newTestDatabaseStore(t)
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Set(ctx, "greeting", []byte("hello"), time.Minute))
	require.NoError(t, store.Set(ctx, "greeting", []byte("hello again"), time.Minute))

	value, found, err := store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello again", string(value))

	clock.Advance(time.Minute)
	_, found, err = store.Get(ctx, "greeting")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStoreSetWithoutTTLNeverExpires(t *testing.T) {
	store, clock := newTestDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "forever", []byte("1"), 0))
	clock.Advance(365 * 24 * time.Hour)

	_, found, err := store.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, found)
}

func TestDatabaseStoreKeysMatchesGlob(t *testing.T) {
	store, clock := newTestDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "users:list", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "user:1", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "user_1", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "posts:list", []byte("x"), time.Second))
	require.NoError(t, store.SetAdd(ctx, "users:index", "a"))

	keys, err := store.Keys(ctx, "users:*")
	require.NoError(t, err)
	require.Equal(t, []string{"users:index", "users:list"}, keys)

	// '_' is literal, not a single-character wildcard.
	keys, err = store.Keys(ctx, "user_*")
	require.NoError(t, err)
	require.Equal(t, []string{"user_1"}, keys)

	clock.Advance(2 * time.Second)
	keys, err = store.Keys(ctx, "posts:*")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestDatabaseStoreSets(t *testing.T) {
	store, clock := newTestDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetAdd(ctx, "index", "b", "a"))
	require.NoError(t, store.SetAdd(ctx, "index", "a"))
	require.NoError(t, store.Expire(ctx, "index", time.Minute))
	require.NoError(t, store.SetAdd(ctx, "index", "c"))

	members, err := store.SetMembers(ctx, "index")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, members)

	require.NoError(t, store.SetRemove(ctx, "index", "b"))
	members, err = store.SetMembers(ctx, "index")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, members)

	clock.Advance(time.Minute)
	members, err = store.SetMembers(ctx, "index")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	store, clock := newTestDatabaseStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "hits", 10*time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, 10*time.Second, ttl)

	clock.Advance(3 * time.Second)
	count, ttl, err = store.IncrementWithTTL(ctx, "hits", 10*time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Equal(t, 7*time.Second, ttl)

	clock.Advance(7 * time.Second)
	count, _, err = store.IncrementWithTTL(ctx, "hits", 10*time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDatabaseStoreDeleteAndPurge(t *testing.T) {
	store, clock := newTestDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, store.Set(ctx, "b", []byte("1"), 0))
	require.NoError(t, store.SetAdd(ctx, "s", "x"))
	require.NoError(t, store.Expire(ctx, "s", time.Second))

	require.NoError(t, store.Delete(ctx, "b"))
	_, found, err := store.Get(ctx, "b")
	require.NoError(t, err)
	require.False(t, found)

	clock.Advance(2 * time.Second)
	removed, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	require.NoError(t, store.Ping(ctx))
}

func TestGlobToLike(t *testing.T) {
	require.Equal(t, "users:%", globToLike("users:*"))
	require.Equal(t, "a_b", globToLike("a?b"))
	require.Equal(t, "100!%!_!!", globToLike("100%_!"))
}
