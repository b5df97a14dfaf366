package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/infrastructure/persistence/models"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// GormAuditRepository is the gorm-backed implementation of
// repository.AuditRepository. Append is the only mutation this
// implementation performs; Seq is assigned by the audit writer before the
// hash is computed and gives the chain its total order (spec.md §5).
type GormAuditRepository struct {
	db *gorm.DB
}

// NewGormAuditRepository constructs a GormAuditRepository.
func NewGormAuditRepository(db *gorm.DB) repository.AuditRepository {
	return &GormAuditRepository{db: db}
}

func (r *GormAuditRepository) Append(ctx context.Context, e *entity.AuditEntry) error {
	model := &models.AuditEntryModel{
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
		UserID:    e.Actor.UserID,
		APIKeyID:  e.Actor.APIKeyID,
		Action:    e.Action,
		Resource:  e.Resource,
		IP:        e.IP,
		Outcome:   e.Outcome,
		Detail:    e.Detail,
		PrevHash:  e.PrevHash,
		Hash:      e.Hash,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return apperr.InternalWithCause("append audit entry", err)
	}
	return nil
}

func (r *GormAuditRepository) Last(ctx context.Context) (*entity.AuditEntry, error) {
	var model models.AuditEntryModel
	if err := r.db.WithContext(ctx).Order("seq desc").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, apperr.InternalWithCause("get last audit entry", err)
	}
	return toAuditEntity(&model), nil
}

func (r *GormAuditRepository) List(ctx context.Context, limit, offset int) ([]*entity.AuditEntry, error) {
	var rows []models.AuditEntryModel
	if err := r.db.WithContext(ctx).Order("seq desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, apperr.InternalWithCause("list audit entries", err)
	}
	return toAuditEntities(rows), nil
}

func (r *GormAuditRepository) All(ctx context.Context) ([]*entity.AuditEntry, error) {
	var rows []models.AuditEntryModel
	if err := r.db.WithContext(ctx).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, apperr.InternalWithCause("list all audit entries", err)
	}
	return toAuditEntities(rows), nil
}

func toAuditEntity(m *models.AuditEntryModel) *entity.AuditEntry {
	return &entity.AuditEntry{
		Seq:       m.Seq,
		Timestamp: m.Timestamp,
		Actor:     entity.AuditActor{UserID: m.UserID, APIKeyID: m.APIKeyID},
		Action:    m.Action,
		Resource:  m.Resource,
		IP:        m.IP,
		Outcome:   m.Outcome,
		Detail:    m.Detail,
		PrevHash:  m.PrevHash,
		Hash:      m.Hash,
	}
}

func toAuditEntities(rows []models.AuditEntryModel) []*entity.AuditEntry {
	out := make([]*entity.AuditEntry, 0, len(rows))
	for i := range rows {
		out = append(out, toAuditEntity(&rows[i]))
	}
	return out
}
