package detect

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// ollamaProbe detects Ollama via its native /api/tags listing, which
// predates Ollama's later OpenAI-compatible surface and is a more
// specific signal than probing /v1/models. The "models" key must be
// present: a generic JSON 200 from some other service's /api/tags must
// not classify as Ollama.
type ollamaProbe struct{}

func (ollamaProbe) endpointType() entity.EndpointType { return entity.EndpointTypeOllama }

func (ollamaProbe) detect(ctx context.Context, client *http.Client, baseURL, apiKey string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
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
	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, "", nil
	}
	raw, ok := body["models"]
	if !ok {
		return false, "", nil
	}
	var models []json.RawMessage
	if err := json.Unmarshal(raw, &models); err != nil {
		return false, "", nil
	}
	return true, "Ollama: /api/tags returned models", nil
}
