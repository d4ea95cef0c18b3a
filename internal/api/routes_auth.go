package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/postboard/internal/handlers"
)

type authRouteDeps struct {
	Handler     *handlers.AuthHandler
	RequireAuth gin.HandlerFunc
	// CredentialLimit guards the endpoints that accept credentials or reset tokens.
	CredentialLimit gin.HandlerFunc
}

func registerAuthRoutes(api *gin.RouterGroup, deps authRouteDeps) {
	auth := api.Group("/auth")
	{
		auth.POST("/register", deps.CredentialLimit, deps.Handler.Register)
		auth.POST("/login", deps.CredentialLimit, deps.Handler.Login)
		auth.POST("/password/forgot", deps.CredentialLimit, deps.Handler.ForgotPassword)
		auth.POST("/password/reset", deps.CredentialLimit, deps.Handler.ResetPassword)
	}

	authed := auth.Group("")
	authed.Use(deps.RequireAuth)
	{
		authed.POST("/logout", deps.Handler.Logout)
		authed.POST("/refresh", deps.Handler.Refresh)
		authed.GET("/me", deps.Handler.Me)
		authed.POST("/password/change", deps.CredentialLimit, deps.Handler.ChangePassword)

		authed.GET("/sessions", deps.Handler.ListSessions)
		authed.GET("/sessions/current", deps.Handler.CurrentSession)
		authed.DELETE("/sessions/:id", deps.Handler.RevokeSession)
		authed.DELETE("/sessions", deps.Handler.RevokeOtherSessions)
	}
}
