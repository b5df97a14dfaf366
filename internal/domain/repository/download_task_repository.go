package repository

import (
	"context"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// DownloadTaskRepository tracks in-flight xLLM model download tasks
// in-memory; tasks do not survive a restart (spec.md Non-goals: "no
// persistent queuing across restarts").
type DownloadTaskRepository interface {
	Save(ctx context.Context, t *entity.DownloadTask) error
	Get(ctx context.Context, taskID string) (*entity.DownloadTask, error)
	ListForEndpoint(ctx context.Context, endpointID string) ([]*entity.DownloadTask, error)
}
