package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/postboard/internal/handlers"
)

func registerUserRoutes(api *gin.RouterGroup, users *handlers.UserHandler, posts *handlers.PostHandler, requireAuth gin.HandlerFunc) {
	group := api.Group("/users")
	group.Use(requireAuth)
	{
		group.GET("", users.List)
		group.GET("/:id", users.Get)
		group.PATCH("/:id", users.Update)
		group.DELETE("/:id", users.Delete)
		group.GET("/:id/posts", posts.ListByAuthor)
	}
}
