package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/infrastructure/auth"
	"github.com/llmlb/llmlb/internal/interfaces/http/middleware"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// Auth serves /api/auth/* (spec.md §6).
type Auth struct {
	svc         *auth.Service
	users       repository.UserRepository
	apiKeys     repository.APIKeyRepository
	invitations repository.InvitationRepository
}

// NewAuth constructs an Auth handler.
func NewAuth(svc *auth.Service, users repository.UserRepository, apiKeys repository.APIKeyRepository, invitations repository.InvitationRepository) *Auth {
	return &Auth{svc: svc, users: users, apiKeys: apiKeys, invitations: invitations}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/auth/login.
func (h *Auth) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("invalid request body"))
		return
	}

	token, _, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		middleware.AbortWithError(c, apperr.Authentication("Unauthorized"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// Me handles GET /api/auth/me.
func (h *Auth) Me(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		middleware.AbortWithError(c, apperr.Authentication("Unauthorized"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    principal.UserID,
		"api_key_id": principal.APIKeyID,
		"role":       principal.Role,
	})
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// CreateUser handles POST /api/auth/users (Admin).
func (h *Auth) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("invalid request body"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	role := entity.Role(req.Role)
	if role != entity.RoleAdmin && role != entity.RoleUser {
		middleware.AbortWithError(c, apperr.UnprocessableEntity("unknown role"))
		return
	}

	u := &entity.User{ID: uuid.NewString(), Username: req.Username, PasswordHash: hash, Role: role, CreatedAt: time.Now().UTC()}
	if err := h.users.Create(c.Request.Context(), u); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	u.PasswordHash = ""
	c.JSON(http.StatusCreated, u)
}

// ListUsers handles GET /api/auth/users (Admin).
func (h *Auth) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	for _, u := range users {
		u.PasswordHash = ""
	}
	c.JSON(http.StatusOK, users)
}

// DeleteUser handles DELETE /api/auth/users/{id} (Admin).
func (h *Auth) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("id")); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Label  string `json:"label"`
}

// CreateAPIKey handles POST /api/auth/apikeys (Admin). The plaintext key
// is returned exactly once.
func (h *Auth) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("invalid request body"))
		return
	}

	plaintext, err := h.svc.IssueAPIKey(c.Request.Context(), req.UserID, req.Label, uuid.NewString())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"api_key": plaintext})
}

// ListAPIKeys handles GET /api/auth/apikeys (Admin).
func (h *Auth) ListAPIKeys(c *gin.Context) {
	keys, err := h.apiKeys.ListForUser(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

// RevokeAPIKey handles DELETE /api/auth/apikeys/{id} (Admin).
func (h *Auth) RevokeAPIKey(c *gin.Context) {
	if err := h.apiKeys.Revoke(c.Request.Context(), c.Param("id")); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type createInvitationRequest struct {
	Role      string `json:"role"`
	ExpiresIn string `json:"expires_in"`
}

// CreateInvitation handles POST /api/auth/invitations (Admin).
func (h *Auth) CreateInvitation(c *gin.Context) {
	var req createInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("invalid request body"))
		return
	}

	ttl := 24 * time.Hour
	if req.ExpiresIn != "" {
		if parsed, err := time.ParseDuration(req.ExpiresIn); err == nil {
			ttl = parsed
		}
	}

	role := entity.Role(req.Role)
	if role != entity.RoleAdmin && role != entity.RoleUser {
		middleware.AbortWithError(c, apperr.UnprocessableEntity("unknown role"))
		return
	}

	inv := &entity.Invitation{
		ID:        uuid.NewString(),
		Token:     uuid.NewString(),
		Role:      role,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := h.invitations.Create(c.Request.Context(), inv); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}
