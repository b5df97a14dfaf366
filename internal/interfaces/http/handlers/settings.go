package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/interfaces/http/middleware"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// Settings serves the admin-writable key/value settings table (spec.md
// §3: "Any key writable by admin").
type Settings struct {
	repo repository.SettingsRepository
}

// NewSettings constructs a Settings handler.
func NewSettings(repo repository.SettingsRepository) *Settings {
	return &Settings{repo: repo}
}

// List handles GET /api/settings: stored values layered over the
// recognized defaults.
func (h *Settings) List(c *gin.Context) {
	out := entity.DefaultSettings()
	stored, err := h.repo.All(c.Request.Context())
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	for k, v := range stored {
		out[k] = v
	}
	c.JSON(http.StatusOK, out)
}

type putSettingRequest struct {
	Value string `json:"value"`
}

// Put handles PUT /api/settings/{key}.
func (h *Settings) Put(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		middleware.AbortWithError(c, apperr.Validation("setting key is required"))
		return
	}
	var req putSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.repo.Set(c.Request.Context(), key, req.Value); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": req.Value})
}
