package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL defines the fallback validity period for bearer tokens.
const DefaultTokenTTL = 24 * time.Hour

// TokenConfig bundles the configuration required to build a TokenCodec.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Clock  func() time.Time
}

// Claims represents the custom claims embedded in issued tokens.
type Claims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies the bearer tokens that reference server-side sessions.
// Tokens carry no authority of their own; the session record they point at does.
type TokenCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCodec constructs a TokenCodec when provided with the required configuration.
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: secret must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenCodec{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// TTL reports the default lifetime applied by Mint.
func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

// Mint issues a signed token bound to the supplied session. A non-positive ttl uses the codec default.
func (c *TokenCodec) Mint(userID, sessionID string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return "", time.Time{}, errors.New("token: user id and session id are required")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	now := c.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}

	return signed, expiresAt, nil
}

// Verify parses and validates a signed token. Every failure, whether structural,
// cryptographic or temporal, is reported as ErrInvalidToken; the cause stays internal.
func (c *TokenCodec) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken.WithInternal(errors.New("token: empty"))
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken.WithInternal(fmt.Errorf("token: parse: %w", err))
	}

	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrInvalidToken.WithInternal(errors.New("token: invalid issuer"))
	}

	if claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken.WithInternal(errors.New("token: missing subject claims"))
	}

	return &claims, nil
}
