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

// GormUserRepository is the gorm-backed implementation of
// repository.UserRepository.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository constructs a GormUserRepository.
func NewGormUserRepository(db *gorm.DB) repository.UserRepository {
	return &GormUserRepository{db: db}
}

func (r *GormUserRepository) Create(ctx context.Context, u *entity.User) error {
	model := &models.UserModel{
		ID: u.ID, Username: u.Username, PasswordHash: u.PasswordHash,
		Role: string(u.Role), CreatedAt: u.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return apperr.InternalWithCause("create user", err)
	}
	return nil
}

func (r *GormUserRepository) Get(ctx context.Context, id string) (*entity.User, error) {
	var m models.UserModel
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.InternalWithCause("get user", err)
	}
	return toUserEntity(&m), nil
}

func (r *GormUserRepository) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	var m models.UserModel
	if err := r.db.WithContext(ctx).First(&m, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user not found")
		}
		return nil, apperr.InternalWithCause("get user by username", err)
	}
	return toUserEntity(&m), nil
}

func (r *GormUserRepository) List(ctx context.Context) ([]*entity.User, error) {
	var rows []models.UserModel
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, apperr.InternalWithCause("list users", err)
	}
	out := make([]*entity.User, 0, len(rows))
	for i := range rows {
		out = append(out, toUserEntity(&rows[i]))
	}
	return out, nil
}

func (r *GormUserRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&models.UserModel{}, "id = ?", id)
	if result.Error != nil {
		return apperr.InternalWithCause("delete user", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

func toUserEntity(m *models.UserModel) *entity.User {
	return &entity.User{
		ID: m.ID, Username: m.Username, PasswordHash: m.PasswordHash,
		Role: entity.Role(m.Role), CreatedAt: m.CreatedAt,
	}
}

// GormAPIKeyRepository is the gorm-backed implementation of
// repository.APIKeyRepository.
type GormAPIKeyRepository struct {
	db *gorm.DB
}

// NewGormAPIKeyRepository constructs a GormAPIKeyRepository.
func NewGormAPIKeyRepository(db *gorm.DB) repository.APIKeyRepository {
	return &GormAPIKeyRepository{db: db}
}

func (r *GormAPIKeyRepository) Create(ctx context.Context, k *entity.APIKey) error {
	model := &models.APIKeyModel{
		ID: k.ID, UserID: k.UserID, KeyHash: k.KeyHash, Label: k.Label,
		CreatedAt: k.CreatedAt, RevokedAt: k.RevokedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return apperr.InternalWithCause("create api key", err)
	}
	return nil
}

func (r *GormAPIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*entity.APIKey, error) {
	var m models.APIKeyModel
	if err := r.db.WithContext(ctx).First(&m, "key_hash = ?", keyHash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("api key not found")
		}
		return nil, apperr.InternalWithCause("get api key", err)
	}
	return &entity.APIKey{
		ID: m.ID, UserID: m.UserID, KeyHash: m.KeyHash, Label: m.Label,
		CreatedAt: m.CreatedAt, RevokedAt: m.RevokedAt,
	}, nil
}

func (r *GormAPIKeyRepository) ListForUser(ctx context.Context, userID string) ([]*entity.APIKey, error) {
	var rows []models.APIKeyModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, apperr.InternalWithCause("list api keys", err)
	}
	out := make([]*entity.APIKey, 0, len(rows))
	for _, m := range rows {
		out = append(out, &entity.APIKey{
			ID: m.ID, UserID: m.UserID, KeyHash: m.KeyHash, Label: m.Label,
			CreatedAt: m.CreatedAt, RevokedAt: m.RevokedAt,
		})
	}
	return out, nil
}

func (r *GormAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.APIKeyModel{}).Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", gorm.Expr("CURRENT_TIMESTAMP"))
	if result.Error != nil {
		return apperr.InternalWithCause("revoke api key", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("api key not found or already revoked")
	}
	return nil
}

// GormInvitationRepository is the gorm-backed implementation of
// repository.InvitationRepository.
type GormInvitationRepository struct {
	db *gorm.DB
}

// NewGormInvitationRepository constructs a GormInvitationRepository.
func NewGormInvitationRepository(db *gorm.DB) repository.InvitationRepository {
	return &GormInvitationRepository{db: db}
}

func (r *GormInvitationRepository) Create(ctx context.Context, inv *entity.Invitation) error {
	model := &models.InvitationModel{
		ID: inv.ID, Token: inv.Token, Role: string(inv.Role),
		ExpiresAt: inv.ExpiresAt, UsedAt: inv.UsedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return apperr.InternalWithCause("create invitation", err)
	}
	return nil
}

func (r *GormInvitationRepository) GetByToken(ctx context.Context, token string) (*entity.Invitation, error) {
	var m models.InvitationModel
	if err := r.db.WithContext(ctx).First(&m, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("invitation not found")
		}
		return nil, apperr.InternalWithCause("get invitation", err)
	}
	return &entity.Invitation{
		ID: m.ID, Token: m.Token, Role: entity.Role(m.Role),
		ExpiresAt: m.ExpiresAt, UsedAt: m.UsedAt,
	}, nil
}

func (r *GormInvitationRepository) MarkUsed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.InvitationModel{}).Where("id = ?", id).
		Update("used_at", gorm.Expr("CURRENT_TIMESTAMP"))
	if result.Error != nil {
		return apperr.InternalWithCause("mark invitation used", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("invitation not found")
	}
	return nil
}
