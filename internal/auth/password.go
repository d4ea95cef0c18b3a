package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/postboard/internal/models"
	"github.com/charlesng35/postboard/pkg/crypto"
	apperrors "github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/metrics"
)

// DefaultResetTokenTTL is the fallback lifetime of a password reset token.
const DefaultResetTokenTTL = time.Hour

const (
	resetTokenKeyPrefix = "auth:password_reset:"
	resetUserKeyPrefix  = "auth:password_reset_user:"
	resetTokenBytes     = 32
)

// PasswordHasher is the opaque hashing capability used for credentials.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// BcryptHasher hashes with bcrypt at the configured cost.
type BcryptHasher struct {
	Cost int
}

// Hash returns the bcrypt digest of plaintext.
func (h BcryptHasher) Hash(plaintext string) (string, error) {
	return crypto.HashPasswordWithCost(plaintext, h.Cost)
}

// Verify reports whether plaintext matches digest.
func (h BcryptHasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return crypto.VerifyPassword(digest, plaintext)
}

// ResetDelivery hands a freshly issued reset token to the user, e.g. by email.
type ResetDelivery interface {
	DeliverPasswordReset(ctx context.Context, user models.PublicUser, token string, expiresAt time.Time) error
}

// LogResetDelivery records that a reset was issued without exposing the token.
type LogResetDelivery struct {
	Logger *zap.Logger
}

// DeliverPasswordReset implements ResetDelivery.
func (d LogResetDelivery) DeliverPasswordReset(_ context.Context, user models.PublicUser, _ string, expiresAt time.Time) error {
	if d.Logger != nil {
		d.Logger.Info("password reset issued", zap.String("user_id", user.ID), zap.Time("expires_at", expiresAt))
	}
	return nil
}

type resetRecord struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// ChangePassword replaces the user's password after checking the current one and
// revokes every other session. It returns how many sessions were revoked. Wrong current
// passwords count against the account like failed logins.
func (s *Service) ChangePassword(ctx context.Context, userID, currentSessionID, currentPassword, newPassword string) (int, error) {
	if newPassword == "" {
		return 0, apperrors.NewBadRequest("New password is required")
	}

	identity := UserIdentity(userID)
	if err := s.attempts.Check(ctx, identity); err != nil {
		metrics.AuthAttempts.WithLabelValues("change_password", "rate_limited").Inc()
		return 0, err
	}

	user, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		return 0, infrastructure("find user", err)
	}
	if user == nil {
		return 0, ErrUserNotFound
	}
	if !s.hasher.Verify(currentPassword, user.Password) {
		s.attempts.RecordFailure(ctx, identity)
		metrics.AuthAttempts.WithLabelValues("change_password", "failure").Inc()
		return 0, ErrInvalidCredentials.WithMessage("Current password is incorrect")
	}
	s.attempts.RecordSuccess(ctx, identity)

	if err := s.storePassword(ctx, user.ID, newPassword); err != nil {
		return 0, err
	}

	revoked, err := s.sessions.RevokeAllExcept(ctx, currentSessionID, user.ID)
	if err != nil {
		return 0, err
	}
	s.log.Info("password changed", zap.String("user_id", user.ID), zap.Int("revoked_sessions", revoked))
	return revoked, nil
}

// RequestPasswordReset issues a single-use reset token for the email. Unknown emails
// succeed silently so the endpoint cannot be used to discover accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return apperrors.NewBadRequest("Email is required")
	}

	user, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		return infrastructure("find user", err)
	}
	if user == nil {
		return nil
	}

	token, err := crypto.GenerateToken(resetTokenBytes)
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("generate reset token: %w", err))
	}
	hashed := crypto.HashToken(token)

	// Only the latest token for a user stays valid.
	userKey := resetUserKeyPrefix + user.ID
	previous, found, err := s.store.Get(ctx, userKey)
	if err != nil {
		return infrastructure("load reset token", err)
	}
	if found {
		if err := s.store.Delete(ctx, resetTokenKeyPrefix+string(previous)); err != nil {
			return infrastructure("delete reset token", err)
		}
	}

	payload, err := json.Marshal(resetRecord{UserID: user.ID, Email: user.Email})
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(err)
	}
	if err := s.store.Set(ctx, resetTokenKeyPrefix+hashed, payload, s.resetTTL); err != nil {
		return infrastructure("save reset token", err)
	}
	if err := s.store.Set(ctx, userKey, []byte(hashed), s.resetTTL); err != nil {
		return infrastructure("save reset token", err)
	}

	expiresAt := s.now().Add(s.resetTTL)
	if err := s.delivery.DeliverPasswordReset(ctx, user.Public(), token, expiresAt); err != nil {
		s.log.Warn("deliver password reset failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	return nil
}

// ResetPassword consumes a reset token, stores the new password, revokes every session
// of the user and clears their login-attempt history.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidResetToken
	}
	if newPassword == "" {
		return apperrors.NewBadRequest("New password is required")
	}

	key := resetTokenKeyPrefix + crypto.HashToken(token)
	raw, found, err := s.store.Get(ctx, key)
	if err != nil {
		return infrastructure("load reset token", err)
	}
	if !found {
		return ErrInvalidResetToken
	}

	var record resetRecord
	if err := json.Unmarshal(raw, &record); err != nil || record.UserID == "" {
		_ = s.store.Delete(ctx, key)
		return ErrInvalidResetToken
	}

	// Consume before use so a token can never be replayed.
	if err := s.store.Delete(ctx, key, resetUserKeyPrefix+record.UserID); err != nil {
		return infrastructure("consume reset token", err)
	}

	user, err := s.users.FindUserByID(ctx, record.UserID)
	if err != nil {
		return infrastructure("find user", err)
	}
	if user == nil {
		return ErrInvalidResetToken
	}

	if err := s.storePassword(ctx, user.ID, newPassword); err != nil {
		return err
	}

	revoked, err := s.sessions.RevokeAll(ctx, user.ID)
	if err != nil {
		return err
	}
	s.attempts.RecordSuccess(ctx, EmailIdentity(user.Email), UserIdentity(user.ID))

	s.log.Info("password reset completed", zap.String("user_id", user.ID), zap.Int("revoked_sessions", revoked))
	return nil
}

func (s *Service) storePassword(ctx context.Context, userID, password string) error {
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(err)
	}
	updated, err := s.users.UpdateUser(ctx, userID, map[string]any{"password": digest})
	if err != nil {
		return infrastructure("update password", err)
	}
	if updated == nil {
		return ErrUserNotFound
	}
	return nil
}
