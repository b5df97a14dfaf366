package detect

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// lmStudioProbe detects LM Studio via its extended /api/v0/models
// endpoint, a superset of the OpenAI models listing that only LM Studio
// serves. It is probed before the generic OpenaiCompatible fallback.
type lmStudioProbe struct{}

func (lmStudioProbe) endpointType() entity.EndpointType { return entity.EndpointTypeLmStudio }

type lmStudioModelsResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"data"`
}

func (lmStudioProbe) detect(ctx context.Context, client *http.Client, baseURL, apiKey string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v0/models", nil)
	if err != nil {
		return false, "", err
	}
	authHeader(req, apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, "", nil
	}
	var body lmStudioModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, "", nil
	}
	return true, "GET /api/v0/models succeeded (LM Studio extended listing)", nil
}
