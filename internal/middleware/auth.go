package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/postboard/internal/auth"
	"github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/response"
)

const (
	CtxSessionKey   = "authSession"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
)

// SessionVerifier resolves a bearer token into a live session.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*iauth.SessionRecord, error)
}

// Auth enforces bearer-token authentication against the session store.
func Auth(verifier SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		session, err := verifier.VerifySession(c.Request.Context(), token)
		if err != nil {
			if appErr := errors.FromError(err); appErr.StatusCode == http.StatusUnauthorized {
				c.Header("WWW-Authenticate", "Bearer")
			}
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(CtxSessionKey, session)
		c.Set(CtxUserIDKey, session.UserID)
		c.Set(CtxSessionIDKey, session.SessionID)

		c.Next()
	}
}

// UserID returns the authenticated user's ID, or "" on public routes.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserIDKey)
}

// SessionID returns the authenticated session's ID, or "" on public routes.
func SessionID(c *gin.Context) string {
	return c.GetString(CtxSessionIDKey)
}

func bearerToken(header string) (string, bool) {
	if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// OptionalAuth identifies the caller when a bearer token is supplied and lets anonymous
// requests through. A supplied but invalid token is still rejected.
func OptionalAuth(verifier SessionVerifier) gin.HandlerFunc {
	required := Auth(verifier)
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		required(c)
	}
}
