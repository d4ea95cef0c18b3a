package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/internal/database/testutil"
	"github.com/charlesng35/postboard/internal/models"
	"github.com/charlesng35/postboard/pkg/crypto"
)

type serviceEnv struct {
	db    *gorm.DB
	mr    *miniredis.Miniredis
	aside *cache.Aside
	users *UserService
	posts *PostService
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	mr := miniredis.RunT(t)
	client := cache.NewRedisClientFrom(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "")
	t.Cleanup(func() { _ = client.Close() })
	aside := cache.NewAside(client, time.Minute)

	users, err := NewUserService(db, aside)
	require.NoError(t, err)
	posts, err := NewPostService(db, aside)
	require.NoError(t, err)

	return &serviceEnv{db: db, mr: mr, aside: aside, users: users, posts: posts}
}

func (e *serviceEnv) mustCreateUser(t *testing.T, name, email string) *models.User {
	t.Helper()
	hashed, err := crypto.HashPasswordWithCost("correct horse battery", 4)
	require.NoError(t, err)
	user, err := e.users.CreateUser(context.Background(), &models.User{Name: name, Email: email, Password: hashed})
	require.NoError(t, err)
	return user
}

func (e *serviceEnv) cachedKeys(t *testing.T, prefix string) []string {
	t.Helper()
	var matched []string
	for _, key := range e.mr.Keys() {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, key)
		}
	}
	return matched
}

func ptr[T any](v T) *T {
	return &v
}
