package auth

import (
	"fmt"
	"math"
	"net/http"
	"time"

	apperrors "github.com/charlesng35/postboard/pkg/errors"
)

// Errors surfaced by the auth service. All of them render as safe client messages; the
// infrastructure error keeps the underlying cause in Internal for logging only.
var (
	ErrEmailTaken         = apperrors.ErrConflict.WithMessage("An account with this email already exists")
	ErrInvalidCredentials = apperrors.ErrInvalidCredentials
	ErrInvalidToken       = apperrors.New("INVALID_TOKEN", "Invalid or expired token", http.StatusUnauthorized)
	ErrSessionNotFound    = apperrors.New("SESSION_NOT_FOUND", "Session not found or expired", http.StatusUnauthorized)
	ErrInfrastructure     = apperrors.ErrServiceUnavailable
	ErrInvalidResetToken  = apperrors.New("INVALID_RESET_TOKEN", "Password reset token is invalid or has expired", http.StatusBadRequest)
	ErrUserNotFound       = apperrors.ErrNotFound.WithMessage("User not found")
)

// RateLimitedError is returned while an identity is locked out after repeated failures.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("auth: too many attempts, retry after %ds", e.RetryAfterSeconds())
}

// Unwrap maps the lockout onto the shared rate-limit AppError so it renders as a 429.
func (e *RateLimitedError) Unwrap() error {
	return apperrors.ErrRateLimit.WithMessage(
		fmt.Sprintf("Too many login attempts. Try again in %d seconds", e.RetryAfterSeconds()),
	)
}

// RetryAfterSeconds rounds the remaining lockout up to whole seconds, never below one.
func (e *RateLimitedError) RetryAfterSeconds() int {
	if e == nil || e.RetryAfter <= 0 {
		return 1
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

func infrastructure(op string, err error) error {
	return ErrInfrastructure.WithInternal(fmt.Errorf("auth: %s: %w", op, err))
}
