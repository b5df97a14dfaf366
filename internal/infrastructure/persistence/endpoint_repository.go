package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/domain/valueobject"
	"github.com/llmlb/llmlb/internal/infrastructure/persistence/models"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// GormEndpointRepository is the gorm-backed implementation of
// repository.EndpointRepository.
type GormEndpointRepository struct {
	db *gorm.DB
}

// NewGormEndpointRepository constructs a GormEndpointRepository.
func NewGormEndpointRepository(db *gorm.DB) repository.EndpointRepository {
	return &GormEndpointRepository{db: db}
}

func (r *GormEndpointRepository) Create(ctx context.Context, e *entity.Endpoint) error {
	model, err := toEndpointModel(e)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueConstraintErr(err) {
			return apperr.Conflict("endpoint name already exists: " + e.Name)
		}
		return apperr.InternalWithCause("create endpoint", err)
	}
	return nil
}

func (r *GormEndpointRepository) Get(ctx context.Context, id string) (*entity.Endpoint, error) {
	var model models.EndpointModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("endpoint not found")
		}
		return nil, apperr.InternalWithCause("get endpoint", err)
	}
	return toEndpointEntity(&model)
}

func (r *GormEndpointRepository) GetByName(ctx context.Context, name string) (*entity.Endpoint, error) {
	var model models.EndpointModel
	if err := r.db.WithContext(ctx).First(&model, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("endpoint not found")
		}
		return nil, apperr.InternalWithCause("get endpoint by name", err)
	}
	return toEndpointEntity(&model)
}

func (r *GormEndpointRepository) List(ctx context.Context, filter repository.EndpointFilter) ([]*entity.Endpoint, error) {
	q := r.db.WithContext(ctx).Model(&models.EndpointModel{})
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}
	if filter.Type != nil {
		q = q.Where("endpoint_type = ?", string(*filter.Type))
	}

	var rows []models.EndpointModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperr.InternalWithCause("list endpoints", err)
	}

	out := make([]*entity.Endpoint, 0, len(rows))
	for i := range rows {
		e, err := toEndpointEntity(&rows[i])
		if err != nil {
			return nil, err
		}
		if filter.Capability != "" && !e.Capabilities.Has(valueobject.Capability(filter.Capability)) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *GormEndpointRepository) Update(ctx context.Context, e *entity.Endpoint) error {
	model, err := toEndpointModel(e)
	if err != nil {
		return err
	}
	// Select("*") forces zero values through: a successful probe clears
	// error_count and last_error, which a plain struct Updates would skip.
	result := r.db.WithContext(ctx).Model(&models.EndpointModel{}).Where("id = ?", e.ID).Select("*").Updates(model)
	if result.Error != nil {
		if isUniqueConstraintErr(result.Error) {
			return apperr.Conflict("endpoint name already exists: " + e.Name)
		}
		return apperr.InternalWithCause("update endpoint", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("endpoint not found")
	}
	return nil
}

func (r *GormEndpointRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.EndpointModel{}, "id = ?", id)
		if result.Error != nil {
			return apperr.InternalWithCause("delete endpoint", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.NotFound("endpoint not found")
		}
		if err := tx.Delete(&models.EndpointModelAssocModel{}, "endpoint_id = ?", id).Error; err != nil {
			return apperr.InternalWithCause("cascade delete endpoint models", err)
		}
		return nil
	})
}

func (r *GormEndpointRepository) UpsertModels(ctx context.Context, endpointID string, modelsList []*entity.EndpointModel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.EndpointModelAssocModel{}, "endpoint_id = ?", endpointID).Error; err != nil {
			return apperr.InternalWithCause("clear endpoint models", err)
		}
		for _, m := range modelsList {
			row := toEndpointModelAssoc(m)
			if err := tx.Create(row).Error; err != nil {
				return apperr.InternalWithCause("save endpoint model", err)
			}
		}
		return nil
	})
}

func (r *GormEndpointRepository) ModelsForEndpoint(ctx context.Context, endpointID string) ([]*entity.EndpointModel, error) {
	var rows []models.EndpointModelAssocModel
	if err := r.db.WithContext(ctx).Where("endpoint_id = ?", endpointID).Find(&rows).Error; err != nil {
		return nil, apperr.InternalWithCause("list endpoint models", err)
	}
	out := make([]*entity.EndpointModel, 0, len(rows))
	for i := range rows {
		out = append(out, toEndpointModelEntity(&rows[i]))
	}
	return out, nil
}

// EndpointsForModel matches the requested model against stored rows: an
// exact hit always counts, and a request without a quantization suffix
// also matches every quantized variant of the same base (spec.md §4.4's
// base[:quantization] rules; a suffixed request is carried to the backend
// unchanged and only matches its exact row).
func (r *GormEndpointRepository) EndpointsForModel(ctx context.Context, modelID string) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&models.EndpointModelAssocModel{}).
		Where("model_id = ? OR model_id LIKE ?", modelID, modelID+":%").
		Distinct().Pluck("endpoint_id", &ids).Error; err != nil {
		return nil, apperr.InternalWithCause("list endpoints for model", err)
	}
	return ids, nil
}

func isUniqueConstraintErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

func toEndpointModel(e *entity.Endpoint) (*models.EndpointModel, error) {
	capsJSON, err := json.Marshal(e.Capabilities.Slice())
	if err != nil {
		return nil, apperr.InternalWithCause("marshal capabilities", err)
	}
	return &models.EndpointModel{
		ID:                      e.ID,
		Name:                    e.Name,
		BaseURL:                 e.BaseURL,
		APIKey:                  e.APIKey,
		EndpointType:            string(e.EndpointType),
		EndpointTypeSource:      string(e.EndpointTypeSource),
		EndpointTypeReason:      e.EndpointTypeReason,
		EndpointTypeDetectedAt:  e.EndpointTypeDetectedAt,
		Status:                  string(e.Status),
		LatencyMs:               e.LatencyMs,
		ErrorCount:              e.ErrorCount,
		LastSeen:                e.LastSeen,
		LastError:               e.LastError,
		RegisteredAt:            e.RegisteredAt,
		HealthCheckIntervalSecs: e.HealthCheckIntervalSecs,
		InferenceTimeoutSecs:    e.InferenceTimeoutSecs,
		Capabilities:            string(capsJSON),
		SupportsResponsesAPI:    e.SupportsResponsesAPI,
		Notes:                   e.Notes,
	}, nil
}

func toEndpointEntity(m *models.EndpointModel) (*entity.Endpoint, error) {
	var capNames []valueobject.Capability
	if m.Capabilities != "" {
		if err := json.Unmarshal([]byte(m.Capabilities), &capNames); err != nil {
			return nil, apperr.InternalWithCause("unmarshal capabilities", err)
		}
	}
	capSet, err := valueobject.NewCapabilitySet(capNames)
	if err != nil {
		return nil, apperr.InternalWithCause("reconstruct capabilities", err)
	}

	return &entity.Endpoint{
		ID:                      m.ID,
		Name:                    m.Name,
		BaseURL:                 m.BaseURL,
		APIKey:                  m.APIKey,
		EndpointType:            entity.EndpointType(m.EndpointType),
		EndpointTypeSource:      entity.EndpointTypeSource(m.EndpointTypeSource),
		EndpointTypeReason:      m.EndpointTypeReason,
		EndpointTypeDetectedAt:  m.EndpointTypeDetectedAt,
		Status:                  entity.EndpointStatus(m.Status),
		LatencyMs:               m.LatencyMs,
		ErrorCount:              m.ErrorCount,
		LastSeen:                m.LastSeen,
		LastError:               m.LastError,
		RegisteredAt:            m.RegisteredAt,
		HealthCheckIntervalSecs: m.HealthCheckIntervalSecs,
		InferenceTimeoutSecs:    m.InferenceTimeoutSecs,
		Capabilities:            capSet,
		SupportsResponsesAPI:    m.SupportsResponsesAPI,
		Notes:                   m.Notes,
	}, nil
}

func toEndpointModelAssoc(e *entity.EndpointModel) *models.EndpointModelAssocModel {
	capsJSON, _ := json.Marshal(e.Capabilities.Slice())
	synced := e.LastSyncedAt
	if synced.IsZero() {
		synced = time.Now().UTC()
	}
	return &models.EndpointModelAssocModel{
		EndpointID:           e.EndpointID,
		ModelID:              e.ModelID,
		ContextLength:        e.ContextLength,
		SizeBytes:            e.SizeBytes,
		Quantization:         e.Quantization,
		Family:               e.Family,
		ParameterSize:        e.ParameterSize,
		Capabilities:         string(capsJSON),
		SupportsResponsesAPI: e.SupportsResponsesAPI,
		LastSyncedAt:         synced,
	}
}

func toEndpointModelEntity(m *models.EndpointModelAssocModel) *entity.EndpointModel {
	var capNames []valueobject.Capability
	if m.Capabilities != "" {
		_ = json.Unmarshal([]byte(m.Capabilities), &capNames)
	}
	capSet, _ := valueobject.NewCapabilitySet(capNames)
	return &entity.EndpointModel{
		EndpointID:           m.EndpointID,
		ModelID:              m.ModelID,
		ContextLength:        m.ContextLength,
		SizeBytes:            m.SizeBytes,
		Quantization:         m.Quantization,
		Family:               m.Family,
		ParameterSize:        m.ParameterSize,
		Capabilities:         capSet,
		SupportsResponsesAPI: m.SupportsResponsesAPI,
		LastSyncedAt:         m.LastSyncedAt,
	}
}
