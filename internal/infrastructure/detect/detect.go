// Package detect implements Endpoint Type Detection (spec.md §4.2): a
// fixed priority chain of HTTP probes that classifies a backend as one
// of the closed set of entity.EndpointType values. Detection never runs
// for endpoints registered with an explicit manual type hint.
package detect

import (
	"context"
	"net/http"
	"time"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// Result is the outcome of running the detection chain against a
// backend.
type Result struct {
	Type   entity.EndpointType
	Reason string
}

// probe is implemented by each candidate backend kind, tried in the
// priority order Detector.Detect walks.
type probe interface {
	endpointType() entity.EndpointType
	detect(ctx context.Context, client *http.Client, baseURL, apiKey string) (matched bool, reason string, err error)
}

// Detector runs the priority chain xLLM > Ollama > LMStudio > vLLM >
// OpenaiCompatible (spec.md §4.2). OpenaiCompatible is the last resort:
// it matches any server whose /v1/models answers 2xx with a data array.
type Detector struct {
	client *http.Client
	chain  []probe
}

// New constructs a Detector with the default probe chain and a
// conservative per-probe timeout; the overall detection call should
// still be bounded by the caller's context.
func New() *Detector {
	return &Detector{
		client: &http.Client{Timeout: 10 * time.Second},
		chain: []probe{
			xllmProbe{},
			ollamaProbe{},
			lmStudioProbe{},
			vllmProbe{},
			openaiCompatibleProbe{},
		},
	}
}

// Detect runs the priority chain and returns the first match. When no
// probe matches, it returns a zero Result together with the last
// transport-level error seen, or with a nil error if every probe got an
// answer that simply did not match.
func (d *Detector) Detect(ctx context.Context, baseURL, apiKey string) (Result, error) {
	var lastErr error
	for _, p := range d.chain {
		matched, reason, err := p.detect(ctx, d.client, baseURL, apiKey)
		if err != nil {
			lastErr = err
			continue
		}
		if matched {
			return Result{Type: p.endpointType(), Reason: reason}, nil
		}
	}
	return Result{}, lastErr
}

// CapabilityMatrix reports the fixed per-type capability defaults
// (spec.md §4.2): which backend kinds support model download and
// model-metadata sync. Responses API support is never type-based; it is
// advertised per model via supported_apis and derived at sync time.
type CapabilityMatrix struct {
	SupportsDownload  bool
	SupportsModelMeta bool
}

var capabilityMatrix = map[entity.EndpointType]CapabilityMatrix{
	entity.EndpointTypeXllm:             {SupportsDownload: true, SupportsModelMeta: true},
	entity.EndpointTypeOllama:           {SupportsDownload: false, SupportsModelMeta: true},
	entity.EndpointTypeVllm:             {SupportsDownload: false, SupportsModelMeta: false},
	entity.EndpointTypeLmStudio:         {SupportsDownload: false, SupportsModelMeta: true},
	entity.EndpointTypeOpenaiCompatible: {SupportsDownload: false, SupportsModelMeta: false},
}

// CapabilitiesFor returns the capability defaults for an endpoint type.
func CapabilitiesFor(t entity.EndpointType) CapabilityMatrix {
	return capabilityMatrix[t]
}

func authHeader(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
