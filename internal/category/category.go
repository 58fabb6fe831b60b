// Package category implements the per-user category registry.
package category

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/model"
)

// Store persists user-defined categories. Names are unique per user.
type Store interface {
	Register(ctx context.Context, userID, name, description string) (*model.Category, error)
	List(ctx context.Context, userID string) ([]model.Category, error)
}

// GormStore is the Postgres-backed category registry.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Register(ctx context.Context, userID, name, description string) (*model.Category, error) {
	name = normalize(name)
	if name == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "category name is required")
	}
	cat := &model.Category{
		ID:          uuid.New(),
		UserID:      userID,
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	// Re-registering an existing name refreshes its description.
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description"}),
	}).Create(cat).Error
	if err != nil {
		return nil, err
	}
	var stored model.Category
	if err := s.db.WithContext(ctx).Where("user_id = ? AND name = ?", userID, name).Take(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return cat, nil
		}
		return nil, err
	}
	return &stored, nil
}

func (s *GormStore) List(ctx context.Context, userID string) ([]model.Category, error) {
	var cats []model.Category
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name ASC").
		Find(&cats).Error
	return cats, err
}

// MemoryStore is the in-process category registry for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	cats map[string]map[string]model.Category
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cats: map[string]map[string]model.Category{}}
}

func (s *MemoryStore) Register(_ context.Context, userID, name, description string) (*model.Category, error) {
	name = normalize(name)
	if name == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "category name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cats[userID] == nil {
		s.cats[userID] = map[string]model.Category{}
	}
	cat, ok := s.cats[userID][name]
	if !ok {
		cat = model.Category{ID: uuid.New(), UserID: userID, Name: name, CreatedAt: time.Now().UTC()}
	}
	cat.Description = description
	s.cats[userID][name] = cat
	return &cat, nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]model.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Category
	for _, cat := range s.cats[userID] {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
