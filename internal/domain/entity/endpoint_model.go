package entity

import (
	"time"

	"github.com/llmlb/llmlb/internal/domain/valueobject"
)

// EndpointModel associates a model identifier with an endpoint that can
// serve it (spec.md §3). Removed whenever its endpoint is deleted.
type EndpointModel struct {
	EndpointID   string
	ModelID      string
	ContextLength *int64
	SizeBytes     *int64
	Quantization  string
	Family        string
	ParameterSize string

	Capabilities         valueobject.CapabilitySet
	SupportsResponsesAPI bool
	LastSyncedAt         time.Time
}
