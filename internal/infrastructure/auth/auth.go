// Package auth adapts the external "identify caller, return role + key-id"
// capability spec.md §1 scopes out of the core: JWT issuance/verification
// for the dashboard session and API-key hashing/lookup for programmatic
// callers. Password hashing follows vasic-digital-SuperAgent's
// golang.org/x/crypto/bcrypt convention; JWT follows the lestrrat-go/jwx/v3
// API already present in the teacher's dependency surface.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/llmlb/llmlb/internal/domain/entity"
	"github.com/llmlb/llmlb/internal/domain/repository"
	"github.com/llmlb/llmlb/pkg/apperr"
)

// ErrInvalidCredentials is returned by Login on a bad username/password.
var ErrInvalidCredentials = errors.New("auth: invalid username or password")

const (
	claimRole    = "role"
	defaultTTL   = 24 * time.Hour
	apiKeyPrefix = "llmlb_"
)

// Service issues and verifies JWTs and API keys, resolving either into an
// entity.Principal for the HTTP middleware.
type Service struct {
	secret  []byte
	ttl     time.Duration
	users   repository.UserRepository
	apiKeys repository.APIKeyRepository
}

// New constructs a Service. secret is used as-is as the JWT signing key;
// neither New nor config.Load rejects an empty secret.
func New(secret string, users repository.UserRepository, apiKeys repository.APIKeyRepository) *Service {
	return &Service{secret: []byte(secret), ttl: defaultTTL, users: users, apiKeys: apiKeys}
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", apperr.InternalWithCause("hash password", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether plaintext matches the stored bcrypt hash.
func CheckPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// Login verifies username/password and issues a signed JWT good for ttl.
func (s *Service) Login(ctx context.Context, username, password string) (string, *entity.User, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if !CheckPassword(u.PasswordHash, password) {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.issueJWT(u)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

func (s *Service) issueJWT(u *entity.User) (string, error) {
	now := time.Now().UTC()
	tok, err := jwt.NewBuilder().
		Subject(u.ID).
		Claim(claimRole, string(u.Role)).
		IssuedAt(now).
		Expiration(now.Add(s.ttl)).
		Build()
	if err != nil {
		return "", apperr.InternalWithCause("build jwt", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), s.secret))
	if err != nil {
		return "", apperr.InternalWithCause("sign jwt", err)
	}
	return string(signed), nil
}

// VerifyJWT parses and validates a bearer token, returning the resolved
// Principal.
func (s *Service) VerifyJWT(tokenString string) (entity.Principal, error) {
	tok, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256(), s.secret), jwt.WithValidate(true))
	if err != nil {
		return entity.Principal{}, apperr.Authentication("invalid or expired token")
	}
	sub, _ := tok.Subject()
	var roleStr string
	_ = tok.Get(claimRole, &roleStr)
	return entity.Principal{UserID: sub, Role: entity.Role(roleStr)}, nil
}

// IssueAPIKey generates a new random API key for userID, persists only its
// hash, and returns the plaintext key (shown to the caller exactly once).
func (s *Service) IssueAPIKey(ctx context.Context, userID, label, id string) (plaintext string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", apperr.InternalWithCause("generate api key", err)
	}
	plaintext = apiKeyPrefix + hex.EncodeToString(raw)
	hash := HashAPIKey(plaintext)

	key := &entity.APIKey{ID: id, UserID: userID, KeyHash: hash, Label: label, CreatedAt: time.Now().UTC()}
	if err := s.apiKeys.Create(ctx, key); err != nil {
		return "", err
	}
	return plaintext, nil
}

// HashAPIKey derives the lookup hash for a plaintext API key. SHA-256 (not
// bcrypt) is used here because API keys are high-entropy random tokens, not
// low-entropy passwords — a fast deterministic hash lets GetByHash query by
// equality instead of scanning every row through bcrypt.
func HashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey resolves a plaintext API key to its Principal, rejecting
// revoked keys.
func (s *Service) VerifyAPIKey(ctx context.Context, plaintext string) (entity.Principal, error) {
	key, err := s.apiKeys.GetByHash(ctx, HashAPIKey(plaintext))
	if err != nil {
		return entity.Principal{}, apperr.Authentication("invalid API key")
	}
	if key.Revoked() {
		return entity.Principal{}, apperr.Authentication("API key has been revoked")
	}
	u, err := s.users.Get(ctx, key.UserID)
	if err != nil {
		return entity.Principal{}, apperr.Authentication("invalid API key")
	}
	return entity.Principal{UserID: u.ID, APIKeyID: key.ID, Role: u.Role}, nil
}
