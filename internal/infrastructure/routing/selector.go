// Package routing implements Routing & Selection (spec.md §4.4): given a
// model name and a required capability, pick the lowest-latency Online
// endpoint that hosts that model. There is no teacher analogue for this
// algorithm — it is new code written in the teacher's idiom (small
// pure functions, explicit error returns, no hidden global state).
package routing

import (
	"context"
	"sort"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/valueobject"
	"github.com/llmlb/llmlb/internal/infrastructure/registry"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// Selector picks an endpoint to serve an inference request.
type Selector struct {
	reg *registry.Registry
}

// New constructs a Selector bound to reg.
func New(reg *registry.Registry) *Selector {
	return &Selector{reg: reg}
}

// Select returns the lowest-latency Online endpoint that hosts model
// and supports capability. requireResponsesAPI additionally filters
// for SupportsResponsesAPI (spec.md §4.4: the Responses API shape is
// not something every backend offers).
//
// Selection never round-robins: a lower-latency endpoint is always
// preferred over a higher-latency one on every call, even back to
// back, so the same backend can legitimately win every request in a
// burst (spec.md §8's literal latency-ordered-selection scenario).
func (s *Selector) Select(ctx context.Context, modelRaw string, capability valueobject.Capability, requireResponsesAPI bool) (*entity.Endpoint, error) {
	name, err := valueobject.ParseModelName(modelRaw)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	candidates, err := s.reg.CandidatesForModel(ctx, name.String())
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperr.ServiceUnavailable("no endpoints host model "+name.String(), 30)
	}

	capable := filter(candidates, func(e *entity.Endpoint) bool {
		if e.Status != entity.EndpointStatusOnline {
			return false
		}
		if !e.Capabilities.Has(capability) {
			return false
		}
		if requireResponsesAPI && !e.SupportsResponsesAPI {
			return false
		}
		return true
	})
	if len(capable) == 0 {
		return nil, apperr.ServiceUnavailable("no capable endpoints for model "+name.String(), 30)
	}

	sortByLatencyAscendingNullLast(capable)
	return capable[0], nil
}

func filter(in []*entity.Endpoint, pred func(*entity.Endpoint) bool) []*entity.Endpoint {
	out := make([]*entity.Endpoint, 0, len(in))
	for _, e := range in {
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// sortByLatencyAscendingNullLast sorts ascending by LatencyMs with nil
// treated as greater than any measured value, and ties broken stably
// by input order (spec.md §8: [100,None,10,50,None] -> [10,50,100,None,None]).
func sortByLatencyAscendingNullLast(endpoints []*entity.Endpoint) {
	sort.SliceStable(endpoints, func(i, j int) bool {
		a, b := endpoints[i].LatencyMs, endpoints[j].LatencyMs
		if a == nil && b == nil {
			return false
		}
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return *a < *b
	})
}
