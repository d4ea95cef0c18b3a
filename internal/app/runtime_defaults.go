package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/postboard/pkg/crypto"
)

const (
	jwtSecretBytes = 48
	// minJWTSecretLength guards against trivially guessable HS256 keys.
	minJWTSecretLength = 32
)

// ApplyRuntimeDefaults ensures critical secrets are populated even when no configuration file is supplied.
// It returns a map describing which keys were generated so callers can log the event without exposing values.
// A generated secret lives only as long as the process, so tokens do not survive a restart.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	secret := strings.TrimSpace(cfg.Auth.JWT.Secret)
	if secret == "" {
		value, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = value
		generated["auth.jwt.secret"] = true
	} else if len(secret) < minJWTSecretLength {
		return nil, fmt.Errorf("auth.jwt.secret must be at least %d characters", minJWTSecretLength)
	}

	return generated, nil
}
