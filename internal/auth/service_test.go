package auth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/charlesng35/postboard/pkg/errors"
)

func TestRegisterReturnsUserTokenAndSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Register(ctx, RegisterInput{
		Name:     "John Doe",
		Email:    "john@example.com",
		Password: "password123",
	}, ClientInfo{IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	require.Equal(t, "John Doe", result.User.Name)
	require.Equal(t, "john@example.com", result.User.Email)
	require.NotEmpty(t, result.Token)
	require.NotEmpty(t, result.SessionID)

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "password")
	require.Contains(t, string(raw), `"sessionId"`)

	stored, err := env.users.FindUserByEmail(ctx, "john@example.com")
	require.NoError(t, err)
	require.NotEqual(t, "password123", stored.Password)

	_, err = env.svc.Register(ctx, RegisterInput{
		Name:     "John Again",
		Email:    "JOHN@example.com ",
		Password: "password123",
	}, ClientInfo{})
	require.ErrorIs(t, err, ErrEmailTaken)
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestRegisterRequiresFields(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Register(context.Background(), RegisterInput{Email: "a@example.com"}, ClientInfo{})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestLoginCreatesDistinctSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registered := env.register(t, "jane@example.com", "password123")

	result, err := env.svc.Login(ctx, LoginInput{Email: "Jane@Example.com", Password: "password123"}, ClientInfo{IPAddress: "10.0.0.2"})
	require.NoError(t, err)
	require.NotEqual(t, registered.SessionID, result.SessionID)
	require.Equal(t, registered.User.ID, result.User.ID)
	require.NotNil(t, result.User.LastLoginAt)

	record, err := env.svc.VerifySession(ctx, result.Token)
	require.NoError(t, err)
	require.Equal(t, registered.User.ID, record.UserID)
	require.Equal(t, "10.0.0.2", record.IPAddress)
}

func TestLoginRejectsWrongPasswordAndUnknownEmailAlike(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "jane@example.com", "password123")

	_, wrongPassword := env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "nope"}, ClientInfo{})
	_, unknownEmail := env.svc.Login(ctx, LoginInput{Email: "ghost@example.com", Password: "nope"}, ClientInfo{})

	require.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	require.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestVerifySessionFailsAfterLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	result := env.register(t, "jane@example.com", "password123")

	record, err := env.svc.VerifySession(ctx, result.Token)
	require.NoError(t, err)
	require.Equal(t, result.User.ID, record.UserID)

	require.NoError(t, env.svc.Logout(ctx, result.SessionID))
	require.NoError(t, env.svc.Logout(ctx, result.SessionID))

	_, err = env.svc.VerifySession(ctx, result.Token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestVerifySessionRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.VerifySession(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifySessionRejectsExpiredToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *ServiceConfig) { cfg.SessionTTL = 10 * time.Minute })
	ctx := context.Background()
	result := env.register(t, "jane@example.com", "password123")

	env.clock.Advance(11 * time.Minute)

	_, err := env.svc.VerifySession(ctx, result.Token)
	require.ErrorIs(t, err, ErrInvalidToken)

	record, err := env.svc.Sessions().Verify(ctx, result.SessionID)
	require.NoError(t, err)
	require.Nil(t, record)
	require.False(t, env.redis.Exists("postboard:auth:session:"+result.SessionID))
}

func TestVerifySessionMismatchedUserDoesNotExtendSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	result := env.register(t, "jane@example.com", "password123")

	before, err := env.svc.Sessions().Get(ctx, result.SessionID)
	require.NoError(t, err)
	ttlBefore := env.redis.TTL("postboard:auth:session:" + result.SessionID)

	env.clock.Advance(20 * time.Minute)
	forged, _, err := env.svc.tokens.Mint("someone-else", result.SessionID, time.Hour)
	require.NoError(t, err)

	_, err = env.svc.VerifySession(ctx, forged)
	require.ErrorIs(t, err, ErrSessionNotFound)

	after, err := env.svc.Sessions().Get(ctx, result.SessionID)
	require.NoError(t, err)
	require.True(t, before.LastActivity.Equal(after.LastActivity))
	require.Equal(t, ttlBefore, env.redis.TTL("postboard:auth:session:"+result.SessionID))

	// The owner's own token still slides the session forward.
	record, err := env.svc.VerifySession(ctx, result.Token)
	require.NoError(t, err)
	require.True(t, record.LastActivity.After(before.LastActivity))
}

func TestVerifySessionFailsClosedWhenStoreDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	result := env.register(t, "jane@example.com", "password123")

	env.redis.Close()

	_, err := env.svc.VerifySession(ctx, result.Token)
	require.ErrorIs(t, err, ErrInfrastructure)
	require.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestLoginLockoutAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "jane@example.com", "password123")

	for i := 0; i < 5; i++ {
		_, err := env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "wrong"}, ClientInfo{IPAddress: "10.0.0.9"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "password123"}, ClientInfo{IPAddress: "10.0.0.9"})
	var limited *RateLimitedError
	require.True(t, errors.As(err, &limited))
	require.Equal(t, 15*60, limited.RetryAfterSeconds())
	require.ErrorIs(t, err, apperrors.ErrRateLimit)

	env.clock.Advance(10 * time.Minute)
	_, err = env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "password123"}, ClientInfo{IPAddress: "10.0.0.9"})
	require.True(t, errors.As(err, &limited))
	require.Equal(t, 5*60, limited.RetryAfterSeconds())

	env.clock.Advance(5*time.Minute + time.Second)
	result, err := env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "password123"}, ClientInfo{IPAddress: "10.0.0.9"})
	require.NoError(t, err)
	require.NotEmpty(t, result.Token)
}

func TestLoginLockoutHoldsUnderParallelGuesses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "jane@example.com", "password123")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		guesses int
	)
	for round := 0; round < 3; round++ {
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "wrong"}, ClientInfo{IPAddress: "10.0.0.9"})
				if errors.Is(err, ErrInvalidCredentials) {
					mu.Lock()
					guesses++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
	}

	// Once the first burst is counted the lock holds, so later bursts never reach the password.
	require.LessOrEqual(t, guesses, 40)
	require.True(t, env.redis.Exists("postboard:auth:login_lockout:email:jane@example.com"))

	_, err := env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "password123"}, ClientInfo{IPAddress: "10.0.0.9"})
	var limited *RateLimitedError
	require.True(t, errors.As(err, &limited))
}

func TestLoginThrottleFailsOpenButSessionFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "jane@example.com", "password123")

	for i := 0; i < 5; i++ {
		_, err := env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "wrong"}, ClientInfo{})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Once the store is gone the throttle cannot be consulted, but issuing a session
	// still requires the store, so the login fails as infrastructure, not as a lockout.
	env.redis.Close()
	_, err := env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "password123"}, ClientInfo{})
	require.ErrorIs(t, err, ErrInfrastructure)
	var limited *RateLimitedError
	require.False(t, errors.As(err, &limited))
}

func TestRefreshSessionKeepsSessionID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	result := env.register(t, "jane@example.com", "password123")

	env.clock.Advance(30 * time.Minute)

	refreshed, err := env.svc.RefreshSession(ctx, result.SessionID)
	require.NoError(t, err)
	require.Equal(t, result.SessionID, refreshed.SessionID)
	require.NotEqual(t, result.Token, refreshed.Token)
	require.True(t, refreshed.ExpiresAt.After(result.ExpiresAt))

	record, err := env.svc.VerifySession(ctx, refreshed.Token)
	require.NoError(t, err)
	require.Equal(t, result.SessionID, record.SessionID)

	require.NoError(t, env.svc.Logout(ctx, result.SessionID))
	_, err = env.svc.RefreshSession(ctx, result.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokeAllOtherSessionsKeepsCurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	registered := env.register(t, "jane@example.com", "password123")
	userID := registered.User.ID

	var others []*AuthResult
	for i := 0; i < 2; i++ {
		env.clock.Advance(time.Minute)
		result, err := env.svc.Login(ctx, LoginInput{Email: "jane@example.com", Password: "password123"}, ClientInfo{})
		require.NoError(t, err)
		others = append(others, result)
	}

	sessions, err := env.svc.GetAllUserSessions(ctx, userID, registered.SessionID)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, others[1].SessionID, sessions[0].SessionID)
	require.True(t, sessions[2].IsCurrent)

	revoked, err := env.svc.RevokeAllOtherSessions(ctx, userID, registered.SessionID)
	require.NoError(t, err)
	require.Equal(t, 2, revoked)

	sessions, err = env.svc.GetAllUserSessions(ctx, userID, registered.SessionID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.True(t, sessions[0].IsCurrent)
	require.Equal(t, registered.SessionID, sessions[0].SessionID)

	for _, other := range others {
		_, err := env.svc.VerifySession(ctx, other.Token)
		require.ErrorIs(t, err, ErrSessionNotFound)
	}
}

func TestSessionManagementRequiresOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	jane := env.register(t, "jane@example.com", "password123")
	john := env.register(t, "john@example.com", "password123")

	err := env.svc.RevokeSession(ctx, john.User.ID, jane.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = env.svc.GetCurrentSession(ctx, john.User.ID, jane.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = env.svc.RevokeAllOtherSessions(ctx, john.User.ID, jane.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = env.svc.VerifySession(ctx, jane.Token)
	require.NoError(t, err)

	current, err := env.svc.GetCurrentSession(ctx, jane.User.ID, jane.SessionID)
	require.NoError(t, err)
	require.True(t, current.IsCurrent)

	require.NoError(t, env.svc.RevokeSession(ctx, jane.User.ID, jane.SessionID))
	require.ErrorIs(t, env.svc.RevokeSession(ctx, jane.User.ID, jane.SessionID), ErrSessionNotFound)
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	result := env.register(t, "jane@example.com", "password123")

	user, err := env.svc.CurrentUser(ctx, result.User.ID)
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", user.Email)

	_, err = env.svc.CurrentUser(ctx, "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	env.users.err = errStoreDown
	_, err = env.svc.CurrentUser(ctx, result.User.ID)
	require.ErrorIs(t, err, ErrInfrastructure)
	require.ErrorIs(t, err, errStoreDown)
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	env := newTestEnv(t)

	_, err := NewService(nil, env.store, env.svc.tokens, ServiceConfig{})
	require.Error(t, err)
	_, err = NewService(env.users, nil, env.svc.tokens, ServiceConfig{})
	require.Error(t, err)
	_, err = NewService(env.users, env.store, nil, ServiceConfig{})
	require.Error(t, err)
}
