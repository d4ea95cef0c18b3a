package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/postboard/internal/auth"
	"github.com/charlesng35/postboard/internal/middleware"
	"github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/logger"
	"github.com/charlesng35/postboard/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func clientInfo(c *gin.Context) iauth.ClientInfo {
	return iauth.ClientInfo{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// currentIdentity returns the authenticated user and session, writing a 401 when absent.
func currentIdentity(c *gin.Context) (userID, sessionID string, ok bool) {
	userID = middleware.UserID(c)
	sessionID = middleware.SessionID(c)
	if userID == "" || sessionID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", "", false
	}
	return userID, sessionID, true
}

// respondError renders err and logs the internal cause of server-side failures.
func respondError(c *gin.Context, err error) {
	appErr := errors.FromError(err)
	if appErr.StatusCode >= http.StatusInternalServerError {
		logger.WithModule("http").Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.String("code", appErr.Code),
			zap.Error(err),
		)
	}
	response.Error(c, err)
}
