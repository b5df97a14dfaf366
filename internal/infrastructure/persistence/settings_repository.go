package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/internal/infrastructure/persistence/models"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// GormSettingsRepository is the gorm-backed implementation of
// repository.SettingsRepository.
type GormSettingsRepository struct {
	db *gorm.DB
}

// NewGormSettingsRepository constructs a GormSettingsRepository.
func NewGormSettingsRepository(db *gorm.DB) repository.SettingsRepository {
	return &GormSettingsRepository{db: db}
}

func (r *GormSettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	var row models.SettingModel
	if err := r.db.WithContext(ctx).First(&row, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, apperr.InternalWithCause("get setting", err)
	}
	return row.Value, true, nil
}

func (r *GormSettingsRepository) Set(ctx context.Context, key, value string) error {
	row := models.SettingModel{Key: key, Value: value}
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return apperr.InternalWithCause("set setting", err)
	}
	return nil
}

func (r *GormSettingsRepository) All(ctx context.Context) (map[string]string, error) {
	var rows []models.SettingModel
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, apperr.InternalWithCause("list settings", err)
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}
