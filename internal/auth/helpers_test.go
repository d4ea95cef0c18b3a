package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/internal/models"
	apperrors "github.com/charlesng35/postboard/pkg/errors"
)

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// memoryUsers is an in-memory UserStore.
type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
	err   error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[string]*models.User)}
}

func (m *memoryUsers) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, user := range m.users {
		if user.Email == email {
			cpy := *user
			return &cpy, nil
		}
	}
	return nil, nil
}

func (m *memoryUsers) FindUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	user, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cpy := *user
	return &cpy, nil
}

func (m *memoryUsers) CreateUser(_ context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return nil, apperrors.ErrConflict
		}
	}
	cpy := *user
	cpy.ID = uuid.NewString()
	cpy.CreatedAt = time.Now()
	cpy.UpdatedAt = cpy.CreatedAt
	m.users[cpy.ID] = &cpy
	out := cpy
	return &out, nil
}

func (m *memoryUsers) UpdateUser(_ context.Context, id string, updates map[string]any) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	user, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	for key, value := range updates {
		switch key {
		case "password":
			user.Password = value.(string)
		case "name":
			user.Name = value.(string)
		case "last_login_at":
			at := value.(time.Time)
			user.LastLoginAt = &at
		case "last_login_ip":
			user.LastLoginIP = value.(string)
		}
	}
	cpy := *user
	return &cpy, nil
}

type capturedReset struct {
	user  models.PublicUser
	token string
}

type captureDelivery struct {
	mu         sync.Mutex
	deliveries []capturedReset
}

func (d *captureDelivery) DeliverPasswordReset(_ context.Context, user models.PublicUser, token string, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, capturedReset{user: user, token: token})
	return nil
}

func (d *captureDelivery) last(t *testing.T) capturedReset {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.deliveries)
	return d.deliveries[len(d.deliveries)-1]
}

type testEnv struct {
	svc      *Service
	users    *memoryUsers
	store    *cache.RedisClient
	redis    *miniredis.Miniredis
	clock    *testClock
	delivery *captureDelivery
}

func newTestEnv(t *testing.T, mutate ...func(*ServiceConfig)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := cache.NewRedisClient(cache.RedisConfig{Address: mr.Addr(), Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := newTestClock()
	tokens, err := NewTokenCodec(TokenConfig{
		Secret: "test-secret",
		Issuer: "postboard",
		TTL:    time.Hour,
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	delivery := &captureDelivery{}
	cfg := ServiceConfig{
		SessionTTL:         time.Hour,
		MaxLoginAttempts:   5,
		LoginAttemptWindow: 15 * time.Minute,
		ResetTokenTTL:      30 * time.Minute,
		TrackIPAttempts:    true,
		Hasher:             BcryptHasher{Cost: 4},
		Delivery:           delivery,
		Clock:              clock.Now,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	users := newMemoryUsers()
	svc, err := NewService(users, store, tokens, cfg)
	require.NoError(t, err)

	return &testEnv{svc: svc, users: users, store: store, redis: mr, clock: clock, delivery: delivery}
}

func (e *testEnv) register(t *testing.T, email, password string) *AuthResult {
	t.Helper()
	result, err := e.svc.Register(context.Background(), RegisterInput{
		Name:     "Test User",
		Email:    email,
		Password: password,
	}, ClientInfo{IPAddress: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	return result
}

var errStoreDown = errors.New("store down")
