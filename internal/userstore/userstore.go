// Package userstore persists user accounts and API keys and backs the auth
// resolver's directory lookups.
package userstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fedmem/federated-memory/internal/model"
	"github.com/fedmem/federated-memory/internal/security"
)

// GormUsers is the Postgres-backed user directory.
type GormUsers struct {
	db *gorm.DB
}

func NewGormUsers(db *gorm.DB) *GormUsers {
	return &GormUsers{db: db}
}

// Create inserts a user, minting an opaque token when none is given.
func (s *GormUsers) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.OpaqueToken == "" {
		token, err := NewOpaqueToken()
		if err != nil {
			return err
		}
		user.OpaqueToken = token
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return s.db.WithContext(ctx).Create(user).Error
}

func (s *GormUsers) GetByOpaqueToken(ctx context.Context, token string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("opaque_token = ?", token).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByAPIKeyHash resolves an unexpired API key to its user.
func (s *GormUsers) GetByAPIKeyHash(ctx context.Context, keyHash string) (*model.User, error) {
	var key model.APIKey
	err := s.db.WithContext(ctx).
		Where("key_hash = ? AND (expires_at IS NULL OR expires_at > ?)", keyHash, time.Now().UTC()).
		Take(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, key.UserID)
}

func (s *GormUsers) GetByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateAPIKey stores the hash of a freshly minted key for a user.
func (s *GormUsers) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(key).Error
}

// NewOpaqueToken mints a URL-safe token satisfying the URL-token shape.
func NewOpaqueToken() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

var _ security.UserDirectory = (*GormUsers)(nil)
