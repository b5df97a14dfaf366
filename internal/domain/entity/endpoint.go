package entity

import (
	"net/url"
	"time"

	"github.com/llmlb/llmlb/internal/domain/valueobject"
)

// EndpointType is the closed set of backend kinds this balancer fronts,
// modeled as a tagged variant rather than runtime polymorphism — the set
// never grows at runtime.
type EndpointType string

const (
	EndpointTypeXllm             EndpointType = "xllm"
	EndpointTypeOllama           EndpointType = "ollama"
	EndpointTypeVllm             EndpointType = "vllm"
	EndpointTypeLmStudio         EndpointType = "lm_studio"
	EndpointTypeOpenaiCompatible EndpointType = "openai_compatible"
)

// EndpointTypeSource records whether EndpointType was detected or set by an
// administrator.
type EndpointTypeSource string

const (
	EndpointTypeSourceManual   EndpointTypeSource = "manual"
	EndpointTypeSourceDetected EndpointTypeSource = "detected"
)

// EndpointStatus is the health FSM state (spec.md §4.3).
type EndpointStatus string

const (
	EndpointStatusPending EndpointStatus = "pending"
	EndpointStatusOnline  EndpointStatus = "online"
	EndpointStatusOffline EndpointStatus = "offline"
	EndpointStatusError   EndpointStatus = "error"
)

// Endpoint is a configured backend inference server.
type Endpoint struct {
	ID       string
	Name     string
	BaseURL  string
	APIKey   string // never serialized outbound

	EndpointType          EndpointType
	EndpointTypeSource     EndpointTypeSource
	EndpointTypeReason     string
	EndpointTypeDetectedAt *time.Time

	Status       EndpointStatus
	LatencyMs    *int64
	ErrorCount   int
	LastSeen     *time.Time
	LastError    string
	RegisteredAt time.Time

	HealthCheckIntervalSecs int
	InferenceTimeoutSecs    int

	Capabilities         valueobject.CapabilitySet
	SupportsResponsesAPI bool

	Notes string
}

// NewEndpoint validates and constructs a new Endpoint in the Pending state.
// Callers are responsible for uniqueness checks against the registry; this
// constructor only validates the single entity's shape.
func NewEndpoint(id, name, baseURL, apiKey string, typeHint *EndpointType, caps []valueobject.Capability) (*Endpoint, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, ErrInvalidBaseURL
	}

	capSet, err := valueobject.NewCapabilitySet(caps)
	if err != nil {
		return nil, err
	}

	e := &Endpoint{
		ID:                      id,
		Name:                    name,
		BaseURL:                 baseURL,
		APIKey:                  apiKey,
		Status:                  EndpointStatusPending,
		RegisteredAt:            time.Now().UTC(),
		HealthCheckIntervalSecs: 30,
		InferenceTimeoutSecs:    120,
		Capabilities:            capSet,
	}
	if typeHint != nil {
		e.EndpointType = *typeHint
		e.EndpointTypeSource = EndpointTypeSourceManual
	}
	return e, nil
}

// ApplyDetection records a type-detection result (spec.md §4.2).
func (e *Endpoint) ApplyDetection(t EndpointType, reason string, at time.Time) {
	e.EndpointType = t
	e.EndpointTypeSource = EndpointTypeSourceDetected
	e.EndpointTypeReason = reason
	e.EndpointTypeDetectedAt = &at
}

// RecordProbeSuccess updates status/latency bookkeeping on a successful
// health probe or synchronous test (spec.md §4.3).
func (e *Endpoint) RecordProbeSuccess(latency time.Duration, at time.Time) {
	e.Status = EndpointStatusOnline
	ms := latency.Milliseconds()
	e.LatencyMs = &ms
	e.ErrorCount = 0
	e.LastError = ""
	e.LastSeen = &at
}

// offlineAfterConsecutiveFailures is how many probe failures in a row it
// takes to move an Online endpoint to Offline. A single blip keeps the
// endpoint routable; Pending and Offline endpoints have no standing to
// protect and go (or stay) Offline on the first failure.
const offlineAfterConsecutiveFailures = 2

// RecordProbeFailure updates status/latency bookkeeping on a failed probe.
// isAuthOrMalformed distinguishes a non-transport failure (→ Error) from a
// plain connectivity failure (→ Offline), per spec.md §4.3's FSM.
func (e *Endpoint) RecordProbeFailure(reason string, isAuthOrMalformed bool, at time.Time) {
	e.ErrorCount++
	e.LastError = reason
	e.LatencyMs = nil
	switch {
	case isAuthOrMalformed:
		e.Status = EndpointStatusError
	case e.Status == EndpointStatusOnline && e.ErrorCount < offlineAfterConsecutiveFailures:
		// Online survives the first failure; consecutive failures take it
		// down.
	default:
		e.Status = EndpointStatusOffline
	}
}

// RecordTransportFailure notes a failed proxy forward without moving the
// health FSM: status transitions belong to the prober (spec.md §4.3), a
// single mid-request transport error only bumps the failure bookkeeping.
func (e *Endpoint) RecordTransportFailure(reason string, at time.Time) {
	e.ErrorCount++
	e.LastError = reason
}

// Clone returns an independent deep copy. The registry hands out clones
// rather than pointers into its cache so readers never race a mutation
// happening under the registry's write lock.
func (e *Endpoint) Clone() *Endpoint {
	out := *e
	if e.LatencyMs != nil {
		v := *e.LatencyMs
		out.LatencyMs = &v
	}
	if e.LastSeen != nil {
		v := *e.LastSeen
		out.LastSeen = &v
	}
	if e.EndpointTypeDetectedAt != nil {
		v := *e.EndpointTypeDetectedAt
		out.EndpointTypeDetectedAt = &v
	}
	if e.Capabilities != nil {
		caps := make(valueobject.CapabilitySet, len(e.Capabilities))
		for c, ok := range e.Capabilities {
			caps[c] = ok
		}
		out.Capabilities = caps
	}
	return &out
}

// Redacted returns an independent copy with APIKey cleared, safe to
// serialize outbound. It deep-copies like Clone so event-bus payloads
// never share state with the registry cache.
func (e Endpoint) Redacted() Endpoint {
	out := e.Clone()
	out.APIKey = ""
	return *out
}
