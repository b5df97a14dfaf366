package detect

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// xllmProbe detects the xLLM backend kind via its distinguishing
// /api/system endpoint, which no other supported backend exposes.
// xLLM is the top detection priority because it is the only backend
// this balancer can also drive model downloads against.
type xllmProbe struct{}

func (xllmProbe) endpointType() entity.EndpointType { return entity.EndpointTypeXllm }

type xllmSystemResponse struct {
	XllmVersion string `json:"xllm_version"`
}

func (xllmProbe) detect(ctx context.Context, client *http.Client, baseURL, apiKey string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/system", nil)
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
	var body xllmSystemResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, "", nil
	}
	if body.XllmVersion == "" {
		return false, "", nil
	}
	return true, "xLLM: /api/system xllm_version=" + body.XllmVersion, nil
}
