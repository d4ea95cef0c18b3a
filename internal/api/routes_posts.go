package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/postboard/internal/handlers"
)

func registerPostRoutes(api *gin.RouterGroup, posts *handlers.PostHandler, requireAuth, optionalAuth gin.HandlerFunc) {
	group := api.Group("/posts")

	// Published posts are public; a valid token additionally reveals the caller's drafts.
	group.GET("", optionalAuth, posts.List)
	group.GET("/:id", optionalAuth, posts.Get)

	group.POST("", requireAuth, posts.Create)
	group.PATCH("/:id", requireAuth, posts.Update)
	group.DELETE("/:id", requireAuth, posts.Delete)
}
