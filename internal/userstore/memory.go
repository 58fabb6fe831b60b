package userstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fedmem/federated-memory/internal/model"
	"github.com/fedmem/federated-memory/internal/security"
)

// MemoryUsers is an in-process user directory for tests.
type MemoryUsers struct {
	mu    sync.RWMutex
	users map[string]model.User
	keys  map[string]model.APIKey
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: map[string]model.User{}, keys: map[string]model.APIKey{}}
}

func (s *MemoryUsers) Create(_ context.Context, user *model.User) error {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryUsers) GetByOpaqueToken(_ context.Context, token string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.OpaqueToken == token {
			cp := user
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryUsers) GetByAPIKeyHash(ctx context.Context, keyHash string) (*model.User, error) {
	s.mu.RLock()
	key, ok := s.keys[keyHash]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if key.ExpiresAt != nil && key.ExpiresAt.Before(time.Now().UTC()) {
		return nil, nil
	}
	return s.GetByID(ctx, key.UserID)
}

func (s *MemoryUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[id]; ok {
		cp := user
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryUsers) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.KeyHash] = *key
	return nil
}

var _ security.UserDirectory = (*MemoryUsers)(nil)
