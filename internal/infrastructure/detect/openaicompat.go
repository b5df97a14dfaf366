package detect

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// openaiCompatibleProbe is the catch-all at the bottom of the priority
// chain (spec.md §4.2): any backend whose GET /v1/models answers 2xx
// with a model array is treated as a generic OpenAI-compatible server.
type openaiCompatibleProbe struct{}

func (openaiCompatibleProbe) endpointType() entity.EndpointType {
	return entity.EndpointTypeOpenaiCompatible
}

type openaiCompatModelsResponse struct {
	Data []json.RawMessage `json:"data"`
}

func (openaiCompatibleProbe) detect(ctx context.Context, client *http.Client, baseURL, apiKey string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false, "", err
	}
	authHeader(req, apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, "", nil
	}
	var body openaiCompatModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Data == nil {
		return false, "", nil
	}
	return true, "OpenAI-compatible fallback", nil
}
