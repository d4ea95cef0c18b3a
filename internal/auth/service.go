package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/postboard/internal/cache"
	"github.com/charlesng35/postboard/internal/models"
	apperrors "github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/logger"
	"github.com/charlesng35/postboard/pkg/metrics"
)

// UserStore is the relational capability the auth service relies on. Lookups return
// (nil, nil) when no user matches; CreateUser reports a duplicate email with an error
// matching apperrors.ErrConflict.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	UpdateUser(ctx context.Context, id string, updates map[string]any) (*models.User, error)
}

// ServiceConfig describes tunable behaviour for the auth Service.
type ServiceConfig struct {
	SessionTTL         time.Duration
	MaxLoginAttempts   int
	LoginAttemptWindow time.Duration
	ResetTokenTTL      time.Duration
	// TrackIPAttempts adds the client address as a second throttling identity.
	TrackIPAttempts bool

	Hasher   PasswordHasher
	Delivery ResetDelivery
	Clock    func() time.Time
}

// RegisterInput captures the details required to register a new user.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput carries login credentials.
type LoginInput struct {
	Email    string
	Password string
}

// ClientInfo describes where a request came from.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// TokenResult is a bearer token bound to a session.
type TokenResult struct {
	Token     string    `json:"token"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthResult is returned by register and login. It never carries credential material.
type AuthResult struct {
	User models.PublicUser `json:"user"`
	TokenResult
}

// Service composes the token codec, session store and login-attempt tracker with the
// user store to implement the session lifecycle.
type Service struct {
	users    UserStore
	store    cache.Store
	tokens   *TokenCodec
	sessions *SessionStore
	attempts *LoginAttemptTracker
	hasher   PasswordHasher
	delivery ResetDelivery

	sessionTTL time.Duration
	resetTTL   time.Duration
	trackIP    bool
	now        func() time.Time
	log        *zap.Logger

	dummyOnce   sync.Once
	dummyDigest string
}

// NewService wires the auth service over the user store and the shared fast store.
func NewService(users UserStore, store cache.Store, tokens *TokenCodec, cfg ServiceConfig) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth service: user store is required")
	}
	if store == nil {
		return nil, errors.New("auth service: fast store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth service: token codec is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	sessions, err := NewSessionStore(store, SessionStoreConfig{TTL: cfg.SessionTTL, Clock: clock})
	if err != nil {
		return nil, err
	}

	attempts, err := NewLoginAttemptTracker(store, AttemptConfig{
		MaxAttempts: cfg.MaxLoginAttempts,
		Window:      cfg.LoginAttemptWindow,
		Clock:       clock,
	})
	if err != nil {
		return nil, err
	}

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	resetTTL := cfg.ResetTokenTTL
	if resetTTL <= 0 {
		resetTTL = DefaultResetTokenTTL
	}

	log := logger.WithModule("auth")
	delivery := cfg.Delivery
	if delivery == nil {
		delivery = LogResetDelivery{Logger: log}
	}

	return &Service{
		users:      users,
		store:      store,
		tokens:     tokens,
		sessions:   sessions,
		attempts:   attempts,
		hasher:     hasher,
		delivery:   delivery,
		sessionTTL: sessions.TTL(),
		resetTTL:   resetTTL,
		trackIP:    cfg.TrackIPAttempts,
		now:        clock,
		log:        log,
	}, nil
}

// Sessions exposes the underlying session store for housekeeping.
func (s *Service) Sessions() *SessionStore {
	return s.sessions
}

// Register creates a user, opens a first session and returns a token for it.
func (s *Service) Register(ctx context.Context, input RegisterInput, client ClientInfo) (*AuthResult, error) {
	name := strings.TrimSpace(input.Name)
	email := normalizeEmail(input.Email)
	if name == "" || email == "" || input.Password == "" {
		return nil, apperrors.NewBadRequest("Name, email and password are required")
	}

	existing, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, infrastructure("find user", err)
	}
	if existing != nil {
		metrics.AuthAttempts.WithLabelValues("register", "conflict").Inc()
		return nil, ErrEmailTaken
	}

	digest, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	user, err := s.users.CreateUser(ctx, &models.User{Name: name, Email: email, Password: digest})
	if err != nil {
		// A concurrent registration can win the race past the lookup above.
		if errors.Is(err, apperrors.ErrConflict) {
			metrics.AuthAttempts.WithLabelValues("register", "conflict").Inc()
			return nil, ErrEmailTaken
		}
		return nil, infrastructure("create user", err)
	}

	result, err := s.issue(ctx, user, client)
	if err != nil {
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("register", "success").Inc()
	s.log.Info("user registered", zap.String("user_id", user.ID))
	return result, nil
}

// Login authenticates credentials and opens a new session. An unknown email and a
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, input LoginInput, client ClientInfo) (*AuthResult, error) {
	email := normalizeEmail(input.Email)
	identities := s.identities(email, client.IPAddress)

	if err := s.attempts.Check(ctx, identities...); err != nil {
		metrics.AuthAttempts.WithLabelValues("login", "rate_limited").Inc()
		return nil, err
	}

	if email == "" || input.Password == "" {
		s.attempts.RecordFailure(ctx, identities...)
		metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, infrastructure("find user", err)
	}

	digest := s.dummyPasswordDigest()
	if user != nil {
		digest = user.Password
	}
	// The digest comparison always runs so response timing does not reveal unknown emails.
	if !s.hasher.Verify(input.Password, digest) || user == nil {
		s.attempts.RecordFailure(ctx, identities...)
		metrics.AuthAttempts.WithLabelValues("login", "failure").Inc()
		return nil, ErrInvalidCredentials
	}

	s.attempts.RecordSuccess(ctx, identities...)

	now := s.now()
	if _, err := s.users.UpdateUser(ctx, user.ID, map[string]any{
		"last_login_at": now,
		"last_login_ip": strings.TrimSpace(client.IPAddress),
	}); err != nil {
		s.log.Warn("record last login failed", zap.String("user_id", user.ID), zap.Error(err))
	} else {
		user.LastLoginAt = &now
	}

	result, err := s.issue(ctx, user, client)
	if err != nil {
		return nil, err
	}

	metrics.AuthAttempts.WithLabelValues("login", "success").Inc()
	return result, nil
}

// Logout revokes the session. Logging out of an absent session succeeds.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	record, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	_, err = s.sessions.Revoke(ctx, record.SessionID, record.UserID)
	return err
}

// VerifySession resolves a bearer token to its live session, sliding the session expiry.
// Store failures are returned as ErrInfrastructure so authentication fails closed.
func (s *Service) VerifySession(ctx context.Context, token string) (*SessionRecord, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	// Ownership is checked read-only so a mismatched token never extends the session.
	existing, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.UserID != claims.UserID {
		return nil, ErrSessionNotFound
	}

	record, err := s.sessions.Verify(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrSessionNotFound
	}
	return record, nil
}

// RefreshSession mints a new token for an existing session without rotating its ID.
func (s *Service) RefreshSession(ctx context.Context, sessionID string) (*TokenResult, error) {
	record, err := s.sessions.Verify(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrSessionNotFound
	}

	token, expiresAt, err := s.tokens.Mint(record.UserID, record.SessionID, s.sessionTTL)
	if err != nil {
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	return &TokenResult{Token: token, SessionID: record.SessionID, ExpiresAt: expiresAt}, nil
}

// CurrentUser returns the public view of the authenticated user.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*models.PublicUser, error) {
	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return nil, infrastructure("find user", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	public := user.Public()
	return &public, nil
}

// GetAllUserSessions lists the user's live sessions, flagging the caller's own.
func (s *Service) GetAllUserSessions(ctx context.Context, userID, currentSessionID string) ([]SessionRecord, error) {
	return s.sessions.ListActive(ctx, userID, currentSessionID)
}

// GetCurrentSession returns the caller's session.
func (s *Service) GetCurrentSession(ctx context.Context, userID, sessionID string) (*SessionRecord, error) {
	record, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	record.IsCurrent = true
	return record, nil
}

// RevokeSession revokes one of the caller's sessions. Sessions owned by someone else
// are reported as not found.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return err
	}
	revoked, err := s.sessions.Revoke(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !revoked {
		return ErrSessionNotFound
	}
	return nil
}

// RevokeAllOtherSessions revokes every session of the caller except the current one.
func (s *Service) RevokeAllOtherSessions(ctx context.Context, userID, currentSessionID string) (int, error) {
	if _, err := s.ownedSession(ctx, userID, currentSessionID); err != nil {
		return 0, err
	}
	return s.sessions.RevokeAllExcept(ctx, currentSessionID, userID)
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*SessionRecord, error) {
	record, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return record, nil
}

func (s *Service) issue(ctx context.Context, user *models.User, client ClientInfo) (*AuthResult, error) {
	record, err := s.sessions.Create(ctx, SessionSubject{UserID: user.ID, Email: user.Email}, SessionMetadata{
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.Mint(user.ID, record.SessionID, s.sessionTTL)
	if err != nil {
		if _, revokeErr := s.sessions.Revoke(ctx, record.SessionID, user.ID); revokeErr != nil {
			s.log.Warn("revoke orphaned session failed", zap.Error(revokeErr))
		}
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}

	return &AuthResult{
		User: user.Public(),
		TokenResult: TokenResult{
			Token:     token,
			SessionID: record.SessionID,
			ExpiresAt: expiresAt,
		},
	}, nil
}

func (s *Service) identities(email, ip string) []string {
	identities := []string{EmailIdentity(email)}
	if s.trackIP {
		identities = append(identities, IPIdentity(ip))
	}
	return identities
}

func (s *Service) dummyPasswordDigest() string {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash("postboard-unknown-user")
		if err != nil {
			s.log.Warn("prepare dummy digest failed", zap.Error(err))
			return
		}
		s.dummyDigest = digest
	})
	return s.dummyDigest
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
