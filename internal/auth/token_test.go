package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewTokenCodecRequiresSecret(t *testing.T) {
	_, err := NewTokenCodec(TokenConfig{})
	require.Error(t, err)
	require.EqualError(t, err, "token: secret must be provided")
}

func TestMintAndVerify(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	codec, err := NewTokenCodec(TokenConfig{
		Secret: "super-secret",
		Issuer: "postboard",
		TTL:    time.Hour,
		Clock:  now,
	})
	require.NoError(t, err)

	token, expiresAt, err := codec.Mint("user-123", "session-456", 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, expiresAt.Equal(current.Add(time.Hour)))

	claims, err := codec.Verify(token)
	require.NoError(t, err)

	require.Equal(t, "user-123", claims.UserID)
	require.Equal(t, "session-456", claims.SessionID)
	require.Equal(t, "postboard", claims.Issuer)
	require.True(t, claims.IssuedAt.Time.Equal(current))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestMintHonoursExplicitTTL(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	codec, err := NewTokenCodec(TokenConfig{Secret: "s", Clock: func() time.Time { return current }})
	require.NoError(t, err)
	require.Equal(t, DefaultTokenTTL, codec.TTL())

	_, expiresAt, err := codec.Mint("u", "s", 90*time.Second)
	require.NoError(t, err)
	require.True(t, expiresAt.Equal(current.Add(90*time.Second)))
}

func TestMintRequiresIdentifiers(t *testing.T) {
	codec, err := NewTokenCodec(TokenConfig{Secret: "s"})
	require.NoError(t, err)

	_, _, err = codec.Mint("", "session", 0)
	require.Error(t, err)
	_, _, err = codec.Mint("user", " ", 0)
	require.Error(t, err)
}

func TestVerifyInvalidSignature(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC) }

	issuer, err := NewTokenCodec(TokenConfig{Secret: "issuer-secret", TTL: time.Minute, Clock: now})
	require.NoError(t, err)

	token, _, err := issuer.Mint("user-123", "session-1", 0)
	require.NoError(t, err)

	verifier, err := NewTokenCodec(TokenConfig{Secret: "other-secret", TTL: time.Minute, Clock: now})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
}

func TestVerifyExpired(t *testing.T) {
	current := time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	codec, err := NewTokenCodec(TokenConfig{Secret: "secret", TTL: time.Minute, Clock: now})
	require.NoError(t, err)

	token, _, err := codec.Mint("user-123", "session-1", 0)
	require.NoError(t, err)

	// Move time forward beyond expiry.
	current = current.Add(2 * time.Minute)

	_, err = codec.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestVerifyRejectsTamperedAndMalformedTokens(t *testing.T) {
	codec, err := NewTokenCodec(TokenConfig{Secret: "secret", Issuer: "postboard"})
	require.NoError(t, err)

	token, _, err := codec.Mint("user-123", "session-1", 0)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for _, candidate := range []string{"", "not-a-token", tampered} {
		_, err := codec.Verify(candidate)
		require.ErrorIs(t, err, ErrInvalidToken, candidate)
	}

	other, err := NewTokenCodec(TokenConfig{Secret: "secret", Issuer: "someone-else"})
	require.NoError(t, err)
	foreign, _, err := other.Mint("user-123", "session-1", 0)
	require.NoError(t, err)
	_, err = codec.Verify(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	codec, err := NewTokenCodec(TokenConfig{Secret: "secret"})
	require.NoError(t, err)

	claims := &Claims{
		UserID:    "user-123",
		SessionID: "session-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = codec.Verify(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}
