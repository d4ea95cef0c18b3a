package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/postboard/internal/auth"
	"github.com/charlesng35/postboard/pkg/errors"
	"github.com/charlesng35/postboard/pkg/response"
)

// AuthHandler exposes registration, login and session management.
type AuthHandler struct {
	auth *iauth.Service
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(svc *iauth.Service) (*AuthHandler, error) {
	if svc == nil {
		return nil, errors.ErrInternalServer.WithMessage("auth service is required")
	}
	return &AuthHandler{auth: svc}, nil
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.auth.Register(requestContext(c), iauth.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	}, clientInfo(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.auth.Login(requestContext(c), iauth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, clientInfo(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	_, sessionID, ok := currentIdentity(c)
	if !ok {
		return
	}
	if err := h.auth.Logout(requestContext(c), sessionID); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Logged out"})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	_, sessionID, ok := currentIdentity(c)
	if !ok {
		return
	}
	result, err := h.auth.RefreshSession(requestContext(c), sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, _, ok := currentIdentity(c)
	if !ok {
		return
	}
	user, err := h.auth.CurrentUser(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// GET /api/auth/sessions
func (h *AuthHandler) ListSessions(c *gin.Context) {
	userID, sessionID, ok := currentIdentity(c)
	if !ok {
		return
	}
	sessions, err := h.auth.GetAllUserSessions(requestContext(c), userID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, sessions)
}

// GET /api/auth/sessions/current
func (h *AuthHandler) CurrentSession(c *gin.Context) {
	userID, sessionID, ok := currentIdentity(c)
	if !ok {
		return
	}
	session, err := h.auth.GetCurrentSession(requestContext(c), userID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// DELETE /api/auth/sessions/:id
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	userID, _, ok := currentIdentity(c)
	if !ok {
		return
	}
	target := c.Param("id")
	if err := h.auth.RevokeSession(requestContext(c), userID, target); err != nil {
		// The caller's own session is fine; only the target is missing.
		if stderrors.Is(err, iauth.ErrSessionNotFound) {
			response.Error(c, errors.ErrNotFound.WithMessage("Session not found"))
			return
		}
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": target})
}

// DELETE /api/auth/sessions
func (h *AuthHandler) RevokeOtherSessions(c *gin.Context) {
	userID, sessionID, ok := currentIdentity(c)
	if !ok {
		return
	}
	revoked, err := h.auth.RevokeAllOtherSessions(requestContext(c), userID, sessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked_count": revoked})
}

// POST /api/auth/password/change
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	userID, sessionID, ok := currentIdentity(c)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	revoked, err := h.auth.ChangePassword(requestContext(c), userID, sessionID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked_count": revoked})
}

// POST /api/auth/password/forgot
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.auth.RequestPasswordReset(requestContext(c), req.Email); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{
		"message": "If an account exists for this email, a reset link has been sent",
	})
}

// POST /api/auth/password/reset
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if err := h.auth.ResetPassword(requestContext(c), req.Token, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Password has been reset"})
}
