package relationship

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fedmem/federated-memory/internal/model"
)

// GormStore persists relationships in the memory_relationships table.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, rel *model.Relationship) error {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(rel).Error
}

func (s *GormStore) ListForMemory(ctx context.Context, userID string, memoryID uuid.UUID) ([]model.Relationship, error) {
	var rels []model.Relationship
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND (source_memory_id = ? OR target_memory_id = ?)", userID, memoryID, memoryID).
		Order("created_at DESC, id ASC").
		Find(&rels).Error
	return rels, err
}

func (s *GormStore) List(ctx context.Context, userID string, limit, offset int) ([]model.Relationship, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rels []model.Relationship
	err := q.Find(&rels).Error
	return rels, err
}

func (s *GormStore) DeleteForMemory(ctx context.Context, userID string, memoryID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND (source_memory_id = ? OR target_memory_id = ?)", userID, memoryID, memoryID).
		Delete(&model.Relationship{}).Error
}

func (s *GormStore) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("user_id = ? AND id = ?", userID, id).
		Delete(&model.Relationship{}).Error
}

var _ Store = (*GormStore)(nil)
