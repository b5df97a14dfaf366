package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
)

// Models serves GET /v1/models (spec.md §6).
type Models struct {
	reg *registry.Registry
}

// NewModels constructs a Models handler.
func NewModels(reg *registry.Registry) *Models { return &Models{reg: reg} }

type modelListEntry struct {
	ID            string   `json:"id"`
	Object        string   `json:"object"`
	OwnedBy       string   `json:"owned_by"`
	SupportedAPIs []string `json:"supported_apis,omitempty"`
}

// List aggregates EndpointModel across every Online endpoint (spec.md
// §4.1/§6).
func (m *Models) List(c *gin.Context) {
	ctx := c.Request.Context()
	var data []modelListEntry
	seen := make(map[string]bool)

	for _, e := range m.reg.List() {
		if e.Status != entity.EndpointStatusOnline {
			continue
		}
		models, err := m.reg.ModelsForEndpoint(ctx, e.ID)
		if err != nil {
			continue
		}
		for _, mdl := range models {
			if seen[mdl.ModelID] {
				continue
			}
			seen[mdl.ModelID] = true
			entry := modelListEntry{ID: mdl.ModelID, Object: "model", OwnedBy: e.Name}
			if mdl.SupportsResponsesAPI {
				entry.SupportedAPIs = []string{"responses"}
			}
			data = append(data, entry)
		}
	}

	if data == nil {
		data = []modelListEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
