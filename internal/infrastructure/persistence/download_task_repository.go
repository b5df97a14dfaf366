package persistence

import (
	"context"
	"sync"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// InMemoryDownloadTaskRepository tracks xLLM download tasks for the
// lifetime of the process only (spec.md Non-goals: "no persistent
// queuing across restarts").
type InMemoryDownloadTaskRepository struct {
	mu    sync.RWMutex
	byID  map[string]*entity.DownloadTask
}

// NewInMemoryDownloadTaskRepository constructs an empty repository.
func NewInMemoryDownloadTaskRepository() repository.DownloadTaskRepository {
	return &InMemoryDownloadTaskRepository{byID: make(map[string]*entity.DownloadTask)}
}

func (r *InMemoryDownloadTaskRepository) Save(ctx context.Context, t *entity.DownloadTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.TaskID] = t
	return nil
}

func (r *InMemoryDownloadTaskRepository) Get(ctx context.Context, taskID string) (*entity.DownloadTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[taskID]
	if !ok {
		return nil, apperr.NotFound("download task not found")
	}
	return t, nil
}

func (r *InMemoryDownloadTaskRepository) ListForEndpoint(ctx context.Context, endpointID string) ([]*entity.DownloadTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.DownloadTask, 0)
	for _, t := range r.byID {
		if t.EndpointID == endpointID {
			out = append(out, t)
		}
	}
	return out, nil
}
