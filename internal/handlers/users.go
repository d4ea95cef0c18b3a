package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/postboard/internal/middleware"
	"github.com/charlesng35/postboard/internal/services"
	"github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/logger"
	"github.com/charlesng35/postboard/pkg/response"
)

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID string) (int, error)
}

// UserHandler exposes user profiles.
type UserHandler struct {
	users    *services.UserService
	sessions SessionRevoker
}

type updateUserRequest struct {
	Name  *string `json:"name" validate:"omitempty,notblank,max=100"`
	Email *string `json:"email" validate:"omitempty,email,max=255"`
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users *services.UserService, sessions SessionRevoker) (*UserHandler, error) {
	if users == nil || sessions == nil {
		return nil, errors.ErrInternalServer.WithMessage("user handler dependencies are required")
	}
	return &UserHandler{users: users, sessions: sessions}, nil
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	var query listQuery
	if !bindQuery(c, &query) {
		return
	}

	page, err := h.users.List(requestContext(c), query.options())
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, page.Users, response.NewMeta(page.Page, page.PerPage, page.Total))
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.users.Get(requestContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PATCH /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var req updateUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Update(requestContext(c), middleware.UserID(c), c.Param("id"), services.UpdateUserInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// DELETE /api/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	ctx := requestContext(c)
	id := c.Param("id")

	if err := h.users.Delete(ctx, middleware.UserID(c), id); err != nil {
		respondError(c, err)
		return
	}

	// The account is already deleted; sessions that could not be revoked expire with their TTL.
	revoked, err := h.sessions.RevokeAll(ctx, id)
	if err != nil {
		logger.WithModule("users").Warn("revoke sessions of deleted user failed", zap.String("user_id", id), zap.Error(err))
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": id, "revoked_sessions": revoked})
}
