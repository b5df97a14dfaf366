package repository

import (
	"context"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// AuditRepository appends to and reads back the hash-chained audit log
// (spec.md §4.9). Entries are never mutated or deleted once written.
type AuditRepository interface {
	Append(ctx context.Context, e *entity.AuditEntry) error
	Last(ctx context.Context) (*entity.AuditEntry, error)
	List(ctx context.Context, limit, offset int) ([]*entity.AuditEntry, error)
	All(ctx context.Context) ([]*entity.AuditEntry, error)
}
