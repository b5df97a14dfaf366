package handlers

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/llmlb/llmlb/internal/infrastructure/gate"
	"github.com/llmlb/llmlb/internal/infrastructure/update"
	"github.com/llmlb/llmlb/internal/interfaces/http/middleware"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// System serves /api/version, /api/system, and /api/system/update/*
// (spec.md §6).
type System struct {
	version string
	gate    *gate.Gate
	updates *update.Manager
}

// NewSystem constructs a System handler.
func NewSystem(version string, g *gate.Gate, updates *update.Manager) *System {
	return &System{version: version, gate: g, updates: updates}
}

// Version handles GET /api/version (public).
func (h *System) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": h.version})
}

// System handles GET /api/system (public).
func (h *System) System(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":   h.version,
		"pid":       os.Getpid(),
		"in_flight": h.gate.InFlight(),
		"update":    h.updates.State(),
	})
}

// UpdateCheck handles POST /api/system/update/check (Admin, rate-limited).
func (h *System) UpdateCheck(c *gin.Context) {
	state, err := h.updates.CheckNow(c.Request.Context())
	if err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Code == apperr.CodeRateLimited {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": gin.H{"code": 429}})
			return
		}
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// UpdateApply handles POST /api/system/update/apply (Admin, 202).
func (h *System) UpdateApply(c *gin.Context) {
	if err := h.updates.ApplyNormal(c.Request.Context()); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.updates.State())
}

// UpdateApplyForce handles POST /api/system/update/apply/force (Admin,
// 202 or 409).
func (h *System) UpdateApplyForce(c *gin.Context) {
	if err := h.updates.ApplyForce(c.Request.Context()); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.updates.State())
}

// UpdateRollback handles POST /api/system/update/rollback (Admin), valid
// only from a Failed state with a kept backup.
func (h *System) UpdateRollback(c *gin.Context) {
	if err := h.updates.Rollback(c.Request.Context()); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.updates.State())
}

// UpdateHistory handles GET /api/system/update/history (Admin): the
// persisted update-history.json ring.
func (h *System) UpdateHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.updates.History())
}
