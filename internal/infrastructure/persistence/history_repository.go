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

// GormHistoryRepository is the gorm-backed implementation of
// repository.HistoryRepository.
type GormHistoryRepository struct {
	db *gorm.DB
}

// NewGormHistoryRepository constructs a GormHistoryRepository.
func NewGormHistoryRepository(db *gorm.DB) repository.HistoryRepository {
	return &GormHistoryRepository{db: db}
}

func (r *GormHistoryRepository) Save(ctx context.Context, rec *entity.RequestRecord) error {
	model := toRequestRecordModel(rec)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return apperr.InternalWithCause("save request record", err)
	}
	return nil
}

func (r *GormHistoryRepository) Get(ctx context.Context, id string) (*entity.RequestRecord, error) {
	var model models.RequestRecordModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("request record not found")
		}
		return nil, apperr.InternalWithCause("get request record", err)
	}
	return toRequestRecordEntity(&model), nil
}

func (r *GormHistoryRepository) List(ctx context.Context, limit, offset int) ([]*entity.RequestRecord, error) {
	var rows []models.RequestRecordModel
	if err := r.db.WithContext(ctx).Order("timestamp desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, apperr.InternalWithCause("list request records", err)
	}
	return toRequestRecordEntities(rows), nil
}

func (r *GormHistoryRepository) ListByClientIP(ctx context.Context, ip string, limit int) ([]*entity.RequestRecord, error) {
	var rows []models.RequestRecordModel
	if err := r.db.WithContext(ctx).Where("client_ip = ?", ip).Order("timestamp desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, apperr.InternalWithCause("list request records by client ip", err)
	}
	return toRequestRecordEntities(rows), nil
}

func toRequestRecordModel(r *entity.RequestRecord) *models.RequestRecordModel {
	return &models.RequestRecordModel{
		ID:           r.ID,
		Timestamp:    r.Timestamp,
		Kind:         string(r.Kind),
		Model:        r.Model,
		EndpointID:   r.EndpointID,
		EndpointName: r.EndpointName,
		EndpointIP:   r.EndpointIP,
		ClientIP:     r.ClientIP,
		RequestBody:  r.RequestBody,
		ResponseBody: r.ResponseBody,
		DurationMs:   r.DurationMs,
		Success:      r.Outcome.Success,
		ErrorMessage: r.Outcome.Message,
		CompletedAt:  r.CompletedAt,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.TotalTokens,
		APIKeyID:     r.APIKeyID,
	}
}

func toRequestRecordEntity(m *models.RequestRecordModel) *entity.RequestRecord {
	return &entity.RequestRecord{
		ID:           m.ID,
		Timestamp:    m.Timestamp,
		Kind:         entity.RequestKind(m.Kind),
		Model:        m.Model,
		EndpointID:   m.EndpointID,
		EndpointName: m.EndpointName,
		EndpointIP:   m.EndpointIP,
		ClientIP:     m.ClientIP,
		RequestBody:  m.RequestBody,
		ResponseBody: m.ResponseBody,
		DurationMs:   m.DurationMs,
		Outcome:      entity.RequestOutcome{Success: m.Success, Message: m.ErrorMessage},
		CompletedAt:  m.CompletedAt,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		TotalTokens:  m.TotalTokens,
		APIKeyID:     m.APIKeyID,
	}
}

func toRequestRecordEntities(rows []models.RequestRecordModel) []*entity.RequestRecord {
	out := make([]*entity.RequestRecord, 0, len(rows))
	for i := range rows {
		out = append(out, toRequestRecordEntity(&rows[i]))
	}
	return out
}
