package repository

import (
	"context"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// HistoryRepository persists RequestRecord rows written by the recorder's
// single background writer goroutine (spec.md §4.7).
type HistoryRepository interface {
	Save(ctx context.Context, r *entity.RequestRecord) error
	Get(ctx context.Context, id string) (*entity.RequestRecord, error)
	List(ctx context.Context, limit, offset int) ([]*entity.RequestRecord, error)
	ListByClientIP(ctx context.Context, ip string, limit int) ([]*entity.RequestRecord, error)
}
