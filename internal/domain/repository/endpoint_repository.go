package repository

import (
	"context"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// EndpointFilter narrows EndpointRepository.List results.
type EndpointFilter struct {
	Status     *entity.EndpointStatus
	Type       *entity.EndpointType
	Capability string
}

// EndpointRepository persists Endpoint aggregates. The in-memory registry
// (internal/infrastructure/registry) sits in front of this for hot-path reads.
type EndpointRepository interface {
	Create(ctx context.Context, e *entity.Endpoint) error
	Get(ctx context.Context, id string) (*entity.Endpoint, error)
	GetByName(ctx context.Context, name string) (*entity.Endpoint, error)
	List(ctx context.Context, filter EndpointFilter) ([]*entity.Endpoint, error)
	Update(ctx context.Context, e *entity.Endpoint) error
	Delete(ctx context.Context, id string) error

	UpsertModels(ctx context.Context, endpointID string, models []*entity.EndpointModel) error
	ModelsForEndpoint(ctx context.Context, endpointID string) ([]*entity.EndpointModel, error)
	EndpointsForModel(ctx context.Context, modelID string) ([]string, error)
}
