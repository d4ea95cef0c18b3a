package app

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/charlesng35/postboard/internal/auth"
)

// TokenConfig converts AuthConfig into the parameters expected by the token codec.
// Tokens live exactly as long as the session they reference.
func (c AuthConfig) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Secret: c.JWT.Secret,
		Issuer: strings.TrimSpace(c.JWT.Issuer),
		TTL:    c.sessionTTL(),
	}
}

// ServiceConfig converts AuthConfig into auth Service parameters.
func (c AuthConfig) ServiceConfig() auth.ServiceConfig {
	return auth.ServiceConfig{
		SessionTTL:         c.sessionTTL(),
		MaxLoginAttempts:   c.Login.MaxAttempts,
		LoginAttemptWindow: c.Login.AttemptWindow,
		ResetTokenTTL:      c.PasswordReset.TokenTTL,
		TrackIPAttempts:    c.Login.TrackIP,
		Hasher:             auth.BcryptHasher{Cost: c.bcryptCost()},
	}
}

func (c AuthConfig) sessionTTL() time.Duration {
	if c.Session.TTL <= 0 {
		return auth.DefaultSessionTTL
	}
	return c.Session.TTL
}

func (c AuthConfig) bcryptCost() int {
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return c.BcryptCost
}
