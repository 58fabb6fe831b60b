package relationship

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fedmem/federated-memory/internal/model"
)

// MemoryStore is the in-process Store used in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rels map[uuid.UUID]model.Relationship
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rels: map[uuid.UUID]model.Relationship{}}
}

func (s *MemoryStore) Create(_ context.Context, rel *model.Relationship) error {
	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rels[rel.ID] = *rel
	return nil
}

func (s *MemoryStore) ListForMemory(_ context.Context, userID string, memoryID uuid.UUID) ([]model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Relationship
	for _, rel := range s.rels {
		if rel.UserID == userID && (rel.SourceMemoryID == memoryID || rel.TargetMemoryID == memoryID) {
			out = append(out, rel)
		}
	}
	sortRels(out)
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, limit, offset int) ([]model.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Relationship
	for _, rel := range s.rels {
		if rel.UserID == userID {
			out = append(out, rel)
		}
	}
	sortRels(out)
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteForMemory(_ context.Context, userID string, memoryID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rel := range s.rels {
		if rel.UserID == userID && (rel.SourceMemoryID == memoryID || rel.TargetMemoryID == memoryID) {
			delete(s.rels, id)
		}
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rel, ok := s.rels[id]; ok && rel.UserID == userID {
		delete(s.rels, id)
	}
	return nil
}

func sortRels(rels []model.Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		if !rels[i].CreatedAt.Equal(rels[j].CreatedAt) {
			return rels[i].CreatedAt.After(rels[j].CreatedAt)
		}
		return rels[i].ID.String() < rels[j].ID.String()
	})
}

var _ Store = (*MemoryStore)(nil)
