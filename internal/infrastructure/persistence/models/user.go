package models

import "time"

// UserModel is the gorm row for entity.User.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:128"`
	PasswordHash string `gorm:"size:255"`
	Role         string `gorm:"size:16"`
	CreatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

// APIKeyModel is the gorm row for entity.APIKey.
type APIKeyModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;index"`
	KeyHash   string `gorm:"uniqueIndex;size:255"`
	Label     string `gorm:"size:255"`
	CreatedAt time.Time
	RevokedAt *time.Time
}

func (APIKeyModel) TableName() string { return "api_keys" }

// InvitationModel is the gorm row for entity.Invitation.
type InvitationModel struct {
	ID        string `gorm:"primaryKey"`
	Token     string `gorm:"uniqueIndex;size:128"`
	Role      string `gorm:"size:16"`
	ExpiresAt time.Time
	UsedAt    *time.Time
}

func (InvitationModel) TableName() string { return "invitations" }
