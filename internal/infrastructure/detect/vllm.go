package detect

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// vllmProbe detects vLLM from its /v1/models listing: either the Server
// response header names vllm, or a listed model's owned_by does. Both
// signals survive deployments that hide vLLM behind a generic reverse
// proxy only partially.
type vllmProbe struct{}

func (vllmProbe) endpointType() entity.EndpointType { return entity.EndpointTypeVllm }

type vllmModelsResponse struct {
	Data []struct {
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

func (vllmProbe) detect(ctx context.Context, client *http.Client, baseURL, apiKey string) (bool, string, error) {
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

	if resp.StatusCode != http.StatusOK {
		return false, "", nil
	}

	if server := resp.Header.Get("Server"); strings.Contains(strings.ToLower(server), "vllm") {
		return true, "vLLM: Server header " + server, nil
	}

	var body vllmModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, "", nil
	}
	for _, m := range body.Data {
		if strings.Contains(strings.ToLower(m.OwnedBy), "vllm") {
			return true, "vLLM: owned_by " + m.OwnedBy, nil
		}
	}
	return false, "", nil
}
