package repository

import (
	"context"

	"github.com/llmlb/llmlb/internal/domain/entity"
)

// UserRepository persists the accounts the auth adapter authenticates
// against.
type UserRepository interface {
	Create(ctx context.Context, u *entity.User) error
	Get(ctx context.Context, id string) (*entity.User, error)
	GetByUsername(ctx context.Context, username string) (*entity.User, error)
	List(ctx context.Context) ([]*entity.User, error)
	Delete(ctx context.Context, id string) error
}

// APIKeyRepository persists issued API keys.
type APIKeyRepository interface {
	Create(ctx context.Context, k *entity.APIKey) error
	GetByHash(ctx context.Context, keyHash string) (*entity.APIKey, error)
	ListForUser(ctx context.Context, userID string) ([]*entity.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// InvitationRepository persists outstanding invitations.
type InvitationRepository interface {
	Create(ctx context.Context, inv *entity.Invitation) error
	GetByToken(ctx context.Context, token string) (*entity.Invitation, error)
	MarkUsed(ctx context.Context, id string) error
}
