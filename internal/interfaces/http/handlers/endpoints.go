package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/valueobject"
	"github.com/llmlb/llmlb/internal/infrastructure/detect"
	"github.com/llmlb/llmlb/internal/infrastructure/download"
	"github.com/llmlb/llmlb/internal/infrastructure/health"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
	"github.com/llmlb/llmlb/internal/interfaces/http/middleware"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// Endpoints serves /api/endpoints* (spec.md §6).
type Endpoints struct {
	reg      *registry.Registry
	detector *detect.Detector
	checker  *health.Checker
	download *download.Coordinator
}

// NewEndpoints constructs an Endpoints handler.
func NewEndpoints(reg *registry.Registry, detector *detect.Detector, checker *health.Checker, dl *download.Coordinator) *Endpoints {
	return &Endpoints{reg: reg, detector: detector, checker: checker, download: dl}
}

type createEndpointRequest struct {
	Name         string   `json:"name"`
	BaseURL      string   `json:"base_url"`
	APIKey       string   `json:"api_key"`
	TypeHint     *string  `json:"endpoint_type"`
	Capabilities []string `json:"capabilities"`
}

// Create handles POST /api/endpoints.
func (h *Endpoints) Create(c *gin.Context) {
	var req createEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("invalid request body"))
		return
	}

	caps, err := parseCapabilities(req.Capabilities)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	var typeHint *entity.EndpointType
	if req.TypeHint != nil {
		t := entity.EndpointType(*req.TypeHint)
		if !knownEndpointType(t) {
			middleware.AbortWithError(c, apperr.UnprocessableEntity("unknown endpoint type: "+*req.TypeHint))
			return
		}
		typeHint = &t
	}

	e, err := h.reg.Create(c.Request.Context(), req.Name, req.BaseURL, req.APIKey, typeHint, caps)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	if typeHint == nil {
		result, derr := h.detector.Detect(c.Request.Context(), e.BaseURL, e.APIKey)
		if derr == nil {
			_, _ = h.reg.Update(c.Request.Context(), e.ID, func(target *entity.Endpoint) error {
				target.ApplyDetection(result.Type, result.Reason, time.Now().UTC())
				return nil
			})
			e, _ = h.reg.Get(e.ID)
		}
	}

	// The probe loop outlives this request, so it must not inherit the
	// request context's cancellation.
	h.checker.StartFor(context.WithoutCancel(c.Request.Context()), e.ID)
	c.JSON(http.StatusCreated, e.Redacted())
}

// List handles GET /api/endpoints.
func (h *Endpoints) List(c *gin.Context) {
	out := make([]entity.Endpoint, 0)
	for _, e := range h.reg.List() {
		out = append(out, e.Redacted())
	}
	c.JSON(http.StatusOK, out)
}

// Get handles GET /api/endpoints/{id}.
func (h *Endpoints) Get(c *gin.Context) {
	e, err := h.reg.Get(c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, e.Redacted())
}

type updateEndpointRequest struct {
	Name                    *string  `json:"name"`
	BaseURL                 *string  `json:"base_url"`
	APIKey                  *string  `json:"api_key"`
	HealthCheckIntervalSecs *int     `json:"health_check_interval_secs"`
	InferenceTimeoutSecs    *int     `json:"inference_timeout_secs"`
	Capabilities            []string `json:"capabilities"`
	Notes                   *string  `json:"notes"`
}

// Update handles PUT /api/endpoints/{id}.
func (h *Endpoints) Update(c *gin.Context) {
	var req updateEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("invalid request body"))
		return
	}

	var caps valueobject.CapabilitySet
	if req.Capabilities != nil {
		parsed, err := parseCapabilities(req.Capabilities)
		if err != nil {
			middleware.AbortWithError(c, err)
			return
		}
		set, err := valueobject.NewCapabilitySet(parsed)
		if err != nil {
			middleware.AbortWithError(c, apperr.UnprocessableEntity(err.Error()))
			return
		}
		caps = set
	}

	e, err := h.reg.Update(c.Request.Context(), c.Param("id"), func(target *entity.Endpoint) error {
		if req.Name != nil {
			target.Name = *req.Name
		}
		if req.BaseURL != nil {
			target.BaseURL = *req.BaseURL
		}
		if req.APIKey != nil {
			target.APIKey = *req.APIKey
		}
		if req.HealthCheckIntervalSecs != nil {
			target.HealthCheckIntervalSecs = *req.HealthCheckIntervalSecs
		}
		if req.InferenceTimeoutSecs != nil {
			target.InferenceTimeoutSecs = *req.InferenceTimeoutSecs
		}
		if caps != nil {
			target.Capabilities = caps
		}
		if req.Notes != nil {
			target.Notes = *req.Notes
		}
		return nil
	})
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, e.Redacted())
}

// Delete handles DELETE /api/endpoints/{id}.
func (h *Endpoints) Delete(c *gin.Context) {
	id := c.Param("id")
	h.checker.StopFor(id)
	h.download.CancelForEndpoint(c.Request.Context(), id)
	if err := h.reg.Delete(c.Request.Context(), id); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Test handles POST /api/endpoints/{id}/test.
func (h *Endpoints) Test(c *gin.Context) {
	e, err := h.reg.Test(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	models, _ := h.reg.ModelsForEndpoint(c.Request.Context(), e.ID)
	c.JSON(http.StatusOK, gin.H{
		"success":    e.Status == entity.EndpointStatusOnline,
		"latency_ms": e.LatencyMs,
		"error":      e.LastError,
		"endpoint_info": gin.H{
			"model_count": len(models),
		},
	})
}

// Sync handles POST /api/endpoints/{id}/sync.
func (h *Endpoints) Sync(c *gin.Context) {
	models, err := h.reg.SyncModels(c.Request.Context(), c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, models)
}

type downloadModelRequest struct {
	Model string `json:"model"`
}

// Download handles POST /api/endpoints/{id}/download (xLLM only, 202).
func (h *Endpoints) Download(c *gin.Context) {
	var req downloadModelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Model == "" {
		middleware.AbortWithError(c, apperr.Validation("request must include a model field"))
		return
	}

	e, err := h.reg.Get(c.Param("id"))
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	task, err := h.download.Start(c.Request.Context(), e, req.Model)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, task)
}

// DownloadProgress handles GET /api/endpoints/{id}/download/progress.
func (h *Endpoints) DownloadProgress(c *gin.Context) {
	taskID := c.Query("task_id")
	if taskID == "" {
		middleware.AbortWithError(c, apperr.Validation("task_id query parameter is required"))
		return
	}
	task, err := h.download.Progress(c.Request.Context(), taskID)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func parseCapabilities(raw []string) ([]valueobject.Capability, error) {
	out := make([]valueobject.Capability, 0, len(raw))
	for _, c := range raw {
		parsed := valueobject.Capability(c)
		if !parsed.IsValid() {
			return nil, apperr.UnprocessableEntity("unknown capability: " + c)
		}
		out = append(out, parsed)
	}
	return out, nil
}

func knownEndpointType(t entity.EndpointType) bool {
	switch t {
	case entity.EndpointTypeXllm, entity.EndpointTypeOllama, entity.EndpointTypeVllm,
		entity.EndpointTypeLmStudio, entity.EndpointTypeOpenaiCompatible:
		return true
	}
	return false
}
