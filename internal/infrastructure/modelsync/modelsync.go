// Package modelsync implements the "sync_models" operation (spec.md
// §4.1): fetching each backend's native model listing and mapping it into
// entity.EndpointModel rows. One fetch-and-map strategy per backend kind,
// dispatched the same way the detect package dispatches its probe chain.
package modelsync

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/valueobject"
	"github.com/llmlb/llmlb/internal/infrastructure/detect"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// Syncer satisfies registry.ModelSyncer, fetching the live model list for
// an endpoint in whatever shape its backend kind natively exposes.
type Syncer struct {
	client *http.Client
}

// New constructs a Syncer with a bounded-timeout HTTP client.
func New() *Syncer {
	return &Syncer{client: &http.Client{Timeout: 15 * time.Second}}
}

// SyncModels dispatches to the fetcher for e.EndpointType. Backend kinds
// without model-metadata support (spec.md §4.2's capability matrix) get
// the plain OpenAI listing; metadata-capable kinds use their native
// enumeration endpoint.
func (s *Syncer) SyncModels(ctx context.Context, e *entity.Endpoint) ([]*entity.EndpointModel, error) {
	if !detect.CapabilitiesFor(e.EndpointType).SupportsModelMeta {
		return s.syncOpenAICompatible(ctx, e)
	}
	switch e.EndpointType {
	case entity.EndpointTypeOllama:
		return s.syncOllama(ctx, e)
	case entity.EndpointTypeLmStudio:
		return s.syncLMStudio(ctx, e)
	case entity.EndpointTypeXllm:
		// xLLM serves its metadata through the OpenAI-shaped listing,
		// including per-model supported_apis.
		return s.syncOpenAICompatible(ctx, e)
	default:
		return nil, apperr.Internal("unknown endpoint type for model sync")
	}
}

func (s *Syncer) get(ctx context.Context, e *entity.Endpoint, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.BadGateway("model sync request failed: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, apperr.BadGateway("model sync returned unexpected status")
	}
	return resp, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			Family            string `json:"family"`
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
		Size int64 `json:"size"`
	} `json:"models"`
}

func (s *Syncer) syncOllama(ctx context.Context, e *entity.Endpoint) ([]*entity.EndpointModel, error) {
	resp, err := s.get(ctx, e, "/api/tags")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.BadGateway("malformed ollama tags response")
	}

	caps := baseCapabilities(e.EndpointType)
	now := time.Now().UTC()
	out := make([]*entity.EndpointModel, 0, len(body.Models))
	for _, m := range body.Models {
		size := m.Size
		out = append(out, &entity.EndpointModel{
			EndpointID:    e.ID,
			ModelID:       m.Name,
			SizeBytes:     &size,
			Quantization:  m.Details.QuantizationLevel,
			Family:        m.Details.Family,
			ParameterSize: m.Details.ParameterSize,
			Capabilities:  caps,
			LastSyncedAt:  now,
		})
	}
	return out, nil
}

type lmStudioModelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Quantization  string `json:"quantization"`
		MaxContextLen *int64 `json:"max_context_length"`
	} `json:"data"`
}

func (s *Syncer) syncLMStudio(ctx context.Context, e *entity.Endpoint) ([]*entity.EndpointModel, error) {
	resp, err := s.get(ctx, e, "/api/v0/models")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body lmStudioModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.BadGateway("malformed lm studio models response")
	}

	caps := baseCapabilities(e.EndpointType)
	now := time.Now().UTC()
	out := make([]*entity.EndpointModel, 0, len(body.Data))
	for _, m := range body.Data {
		out = append(out, &entity.EndpointModel{
			EndpointID:    e.ID,
			ModelID:       m.ID,
			ContextLength: m.MaxContextLen,
			Quantization:  m.Quantization,
			Capabilities:  caps,
			LastSyncedAt:  now,
		})
	}
	return out, nil
}

type openaiModelsResponse struct {
	Data []struct {
		ID            string   `json:"id"`
		SupportedAPIs []string `json:"supported_apis"`
	} `json:"data"`
}

func (s *Syncer) syncOpenAICompatible(ctx context.Context, e *entity.Endpoint) ([]*entity.EndpointModel, error) {
	resp, err := s.get(ctx, e, "/v1/models")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body openaiModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.BadGateway("malformed models response")
	}

	caps := baseCapabilities(e.EndpointType)
	now := time.Now().UTC()
	out := make([]*entity.EndpointModel, 0, len(body.Data))
	for _, m := range body.Data {
		out = append(out, &entity.EndpointModel{
			EndpointID:           e.ID,
			ModelID:              m.ID,
			Capabilities:         caps,
			SupportsResponsesAPI: advertisesResponses(m.SupportedAPIs),
			LastSyncedAt:         now,
		})
	}
	return out, nil
}

// advertisesResponses reports whether a model's supported_apis entry
// names the Responses API (spec.md §4.2: support is advertised, never
// assumed from the backend kind).
func advertisesResponses(apis []string) bool {
	for _, api := range apis {
		if api == "responses" {
			return true
		}
	}
	return false
}

// baseCapabilities is the capability set assumed for every synced model in
// the absence of per-model metadata; a manual edit can refine it later.
func baseCapabilities(entity.EndpointType) valueobject.CapabilitySet {
	return valueobject.CapabilitySet{valueobject.CapabilityChatCompletion: true}
}
