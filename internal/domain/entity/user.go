package entity

import "time"

// Role gates access to Admin-only operations (registry mutation, update
// apply/rollback, dashboard WS, auth CRUD).
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is an administrator or API consumer account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// APIKey is a bearer credential mapped back to a User for request
// attribution (RequestRecord.APIKeyID, AuditEntry.Actor.APIKeyID).
type APIKey struct {
	ID        string
	UserID    string
	KeyHash   string
	Label     string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the key has been revoked.
func (k APIKey) Revoked() bool { return k.RevokedAt != nil }

// Invitation is a single-use token that lets a new user register with a
// pre-assigned role.
type Invitation struct {
	ID        string
	Token     string
	Role      Role
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Expired reports whether the invitation can no longer be redeemed.
func (i Invitation) Expired(now time.Time) bool {
	return i.UsedAt != nil || now.After(i.ExpiresAt)
}

// Principal is the resolved identity of an inbound request, produced by
// the auth adapter (internal/infrastructure/auth) from either a JWT or an API key.
type Principal struct {
	UserID   string
	APIKeyID string
	Role     Role
}

// IsAdmin reports whether the principal may perform Admin-gated actions.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }
