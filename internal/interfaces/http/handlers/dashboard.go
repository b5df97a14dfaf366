package handlers

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
	"github.com/llmlb/llmlb/internal/interfaces/http/middleware"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// Dashboard serves /api/dashboard/* (spec.md §6).
type Dashboard struct {
	reg      *registry.Registry
	history  repository.HistoryRepository
	settings repository.SettingsRepository
}

// NewDashboard constructs a Dashboard handler.
func NewDashboard(reg *registry.Registry, history repository.HistoryRepository, settings repository.SettingsRepository) *Dashboard {
	return &Dashboard{reg: reg, history: history, settings: settings}
}

// Endpoints handles GET /api/dashboard/endpoints.
func (h *Dashboard) Endpoints(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, e := range h.reg.List() {
		models, _ := h.reg.ModelsForEndpoint(c.Request.Context(), e.ID)
		out = append(out, gin.H{
			"endpoint":    e.Redacted(),
			"model_count": len(models),
		})
	}
	c.JSON(http.StatusOK, out)
}

const heatmapScanLimit = 10000

// ClientsHeatmap handles GET /api/dashboard/clients/heatmap.
func (h *Dashboard) ClientsHeatmap(c *gin.Context) {
	records, err := h.history.List(c.Request.Context(), heatmapScanLimit, 0)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	counts := make(map[string]int)
	for _, r := range records {
		if r.ClientIP == "" {
			continue
		}
		counts[r.ClientIP]++
	}

	threshold := h.ipAlertThreshold(c)
	out := make([]gin.H, 0, len(counts))
	for ip, count := range counts {
		out = append(out, gin.H{"client_ip": ip, "request_count": count, "alert": count >= threshold})
	}
	c.JSON(http.StatusOK, out)
}

// ipAlertThreshold reads the admin-writable ip_alert_threshold setting,
// falling back to its recognized default (spec.md §3 Settings).
func (h *Dashboard) ipAlertThreshold(c *gin.Context) int {
	fallback, _ := strconv.Atoi(entity.DefaultSettings()["ip_alert_threshold"])
	if h.settings == nil {
		return fallback
	}
	raw, ok, err := h.settings.Get(c.Request.Context(), "ip_alert_threshold")
	if err != nil || !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// ClientDetail handles GET /api/dashboard/clients/{ip}/detail.
func (h *Dashboard) ClientDetail(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	records, err := h.history.ListByClientIP(c.Request.Context(), c.Param("ip"), limit)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// RequestResponses handles GET /api/dashboard/request-responses.
func (h *Dashboard) RequestResponses(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	offset := queryInt(c, "offset", 0)
	records, err := h.history.List(c.Request.Context(), limit, offset)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// RequestResponseDetail handles GET /api/dashboard/request-responses/{id}.
func (h *Dashboard) RequestResponseDetail(c *gin.Context) {
	record, err := h.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// ExportRequestResponses handles GET
// /api/dashboard/request-responses/export?format=json|csv.
func (h *Dashboard) ExportRequestResponses(c *gin.Context) {
	records, err := h.history.List(c.Request.Context(), heatmapScanLimit, 0)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	format := c.DefaultQuery("format", "json")
	switch format {
	case "json":
		c.JSON(http.StatusOK, records)
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="request-responses.csv"`)
		w := csv.NewWriter(c.Writer)
		_ = w.Write([]string{"id", "timestamp", "kind", "model", "endpoint_name", "client_ip", "duration_ms", "success"})
		for _, r := range records {
			_ = w.Write([]string{
				r.ID, r.Timestamp.Format("2006-01-02T15:04:05Z07:00"), string(r.Kind), r.Model,
				r.EndpointName, r.ClientIP, strconv.FormatInt(r.DurationMs, 10), strconv.FormatBool(r.Outcome.Success),
			})
		}
		w.Flush()
	default:
		middleware.AbortWithError(c, apperr.Validation("format must be json or csv"))
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
