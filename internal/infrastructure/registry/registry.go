// Package registry implements the Endpoint Registry (spec.md §4.1): an
// in-memory, RWMutex-guarded cache of Endpoint aggregates backed by
// EndpointRepository for durability. Every mutating operation persists
// before it publishes, so a dashboard subscriber never observes an event
// for a state the database doesn't yet hold (spec.md §5's linearizable
// "mutation → persistence → event" ordering).
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/domain/valueobject"
	"github.com/llmlb/llmlb/internal/infrastructure/eventbus"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// Prober performs a synchronous health/connectivity check of an endpoint,
// used by the "test" operation. The health checker's detector/prober
// implementation satisfies this; kept as an interface here so registry
// never imports the detect or health packages.
type Prober interface {
	Probe(ctx context.Context, e *entity.Endpoint) (latency time.Duration, isAuthOrMalformed bool, err error)
}

// ModelSyncer fetches the current model list from a live backend, used by
// the "sync_models" operation.
type ModelSyncer interface {
	SyncModels(ctx context.Context, e *entity.Endpoint) ([]*entity.EndpointModel, error)
}

// Registry is the process-wide Endpoint cache and mutation gateway.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*entity.Endpoint
	repo  repository.EndpointRepository
	bus   *eventbus.Bus
	prober Prober
	syncer ModelSyncer
	logger *zap.Logger
}

// New constructs a Registry with an empty cache; call Load to fill it
// from repo. prober and
// syncer may be nil until the health subsystem wires itself in; Test and
// SyncModels return apperr.Internal if called before that happens.
func New(repo repository.EndpointRepository, bus *eventbus.Bus, logger *zap.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]*entity.Endpoint),
		repo:   repo,
		bus:    bus,
		logger: logger,
	}
}

// SetProber wires the health subsystem's synchronous prober in after
// construction, avoiding an import cycle between registry and health.
func (r *Registry) SetProber(p Prober) { r.prober = p }

// SetModelSyncer wires the model-sync client (modelsync.Syncer) in.
func (r *Registry) SetModelSyncer(s ModelSyncer) { r.syncer = s }

// Load populates the in-memory cache from the repository. Call once at
// startup before serving traffic.
func (r *Registry) Load(ctx context.Context) error {
	endpoints, err := r.repo.List(ctx, repository.EndpointFilter{})
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range endpoints {
		r.byID[e.ID] = e
	}
	return nil
}

// Create registers a new endpoint. Name uniqueness is case-sensitive
// (spec.md §3).
func (r *Registry) Create(ctx context.Context, name, baseURL, apiKey string, typeHint *entity.EndpointType, caps []valueobject.Capability) (*entity.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if existing.Name == name {
			return nil, apperr.Conflict("an endpoint named " + name + " already exists")
		}
	}

	e, err := entity.NewEndpoint(uuid.NewString(), name, baseURL, apiKey, typeHint, caps)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	if err := r.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	r.byID[e.ID] = e

	r.bus.Publish(eventbus.DashboardEvent{Type: eventbus.EventNodeRegistered, Payload: e.Redacted()})
	return e.Clone(), nil
}

// Get returns a copy of the endpoint by ID from the in-memory cache. The
// registry never hands out pointers into its own map (spec.md §9: "value
// copies, never shared mutable references").
func (r *Registry) Get(id string) (*entity.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("endpoint not found")
	}
	return e.Clone(), nil
}

// List returns copies of all cached endpoints, oldest registration first.
func (r *Registry) List() []*entity.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Endpoint, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out
}

// Update applies a mutator to the endpoint under lock, persists, and
// publishes EndpointStatusChanged.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*entity.Endpoint) error) (*entity.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("endpoint not found")
	}

	// Mutate a scratch copy so a rejected rename (or a failed persistence
	// write) leaves the cache untouched.
	scratch := e.Clone()
	if err := mutate(scratch); err != nil {
		return nil, err
	}
	if scratch.Name != e.Name {
		for _, other := range r.byID {
			if other.ID != id && other.Name == scratch.Name {
				return nil, apperr.Conflict("an endpoint named " + scratch.Name + " already exists")
			}
		}
	}
	if err := r.repo.Update(ctx, scratch); err != nil {
		return nil, err
	}
	r.byID[id] = scratch
	e = scratch

	r.bus.Publish(eventbus.DashboardEvent{Type: eventbus.EventEndpointStatusChanged, Payload: e.Redacted()})
	return e.Clone(), nil
}

// Delete removes an endpoint and its model associations.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; !ok {
		return apperr.NotFound("endpoint not found")
	}
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	delete(r.byID, id)

	r.bus.Publish(eventbus.DashboardEvent{Type: eventbus.EventNodeRemoved, Payload: id})
	return nil
}

// Test runs a synchronous probe against the endpoint and updates its
// status in place, same as a health-check tick would.
func (r *Registry) Test(ctx context.Context, id string) (*entity.Endpoint, error) {
	if r.prober == nil {
		return nil, apperr.Internal("health prober not configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("endpoint not found")
	}

	latency, isAuthOrMalformed, err := r.prober.Probe(ctx, e)
	now := time.Now().UTC()
	if err != nil {
		e.RecordProbeFailure(err.Error(), isAuthOrMalformed, now)
	} else {
		e.RecordProbeSuccess(latency, now)
	}
	if uerr := r.repo.Update(ctx, e); uerr != nil {
		return nil, uerr
	}
	r.bus.Publish(eventbus.DashboardEvent{Type: eventbus.EventEndpointStatusChanged, Payload: e.Redacted()})
	return e.Clone(), nil
}

// SyncModels refreshes the endpoint's model list from the live backend.
func (r *Registry) SyncModels(ctx context.Context, id string) ([]*entity.EndpointModel, error) {
	if r.syncer == nil {
		return nil, apperr.Internal("model syncer not configured")
	}
	r.mu.RLock()
	cached, ok := r.byID[id]
	var e *entity.Endpoint
	if ok {
		e = cached.Clone()
	}
	r.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("endpoint not found")
	}

	models, err := r.syncer.SyncModels(ctx, e)
	if err != nil {
		return nil, apperr.BadGateway("failed to sync models: " + err.Error())
	}
	if err := r.repo.UpsertModels(ctx, id, models); err != nil {
		return nil, err
	}

	// Derive the endpoint's capability set from what its models report
	// (spec.md §4.1: sync "writes EndpointModel rows and derives capability
	// set").
	derived := make(valueobject.CapabilitySet)
	responses := false
	for _, m := range models {
		for c := range m.Capabilities {
			derived[c] = true
		}
		if m.SupportsResponsesAPI {
			responses = true
		}
	}
	if responses {
		derived[valueobject.CapabilityResponsesAPI] = true
	}
	if _, uerr := r.Update(ctx, id, func(target *entity.Endpoint) error {
		for c := range derived {
			if target.Capabilities == nil {
				target.Capabilities = make(valueobject.CapabilitySet)
			}
			target.Capabilities[c] = true
		}
		target.SupportsResponsesAPI = target.SupportsResponsesAPI || responses
		return nil
	}); uerr != nil {
		return nil, uerr
	}
	return models, nil
}

// ModelsForEndpoint lists the currently known models hosted by an
// endpoint.
func (r *Registry) ModelsForEndpoint(ctx context.Context, id string) ([]*entity.EndpointModel, error) {
	return r.repo.ModelsForEndpoint(ctx, id)
}

// CandidatesForModel returns every cached endpoint known to host the
// requested model (full base[:quantization] form), in no particular
// order. Routing applies status/capability filtering and latency ordering
// on top of this (spec.md §4.4).
func (r *Registry) CandidatesForModel(ctx context.Context, model string) ([]*entity.Endpoint, error) {
	ids, err := r.repo.EndpointsForModel(ctx, model)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Endpoint, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.byID[id]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}
