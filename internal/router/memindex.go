package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fedmem/federated-memory/internal/embedding"
	"github.com/fedmem/federated-memory/internal/model"
	"github.com/fedmem/federated-memory/internal/module"
)

type indexKey struct {
	moduleID string
	remoteID uuid.UUID
}

// MemoryIndex is the in-process IndexStore used in tests.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[indexKey]model.IndexEntry
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: map[indexKey]model.IndexEntry{}}
}

func (s *MemoryIndex) Upsert(_ context.Context, entry *model.IndexEntry) error {
	key := indexKey{entry.ModuleID, entry.RemoteMemoryID}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		entry.ID = existing.ID
		entry.CreatedAt = existing.CreatedAt
	} else {
		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
	}
	entry.UpdatedAt = now
	s.entries[key] = *entry
	return nil
}

func (s *MemoryIndex) UpdateFields(_ context.Context, userID, moduleID string, remoteMemoryID uuid.UUID, fields module.IndexFields) error {
	key := indexKey{moduleID, remoteMemoryID}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || entry.UserID != userID {
		return nil
	}
	entry.Title = fields.Title
	entry.Summary = fields.Summary
	entry.Keywords = fields.Keywords
	entry.Categories = fields.Categories
	entry.ImportanceScore = fields.ImportanceScore
	entry.UpdatedAt = time.Now().UTC()
	s.entries[key] = entry
	return nil
}

func (s *MemoryIndex) Get(_ context.Context, userID, moduleID string, remoteMemoryID uuid.UUID) (*model.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[indexKey{moduleID, remoteMemoryID}]
	if !ok || entry.UserID != userID {
		return nil, nil
	}
	cp := entry
	return &cp, nil
}

func (s *MemoryIndex) FindByRemoteID(_ context.Context, userID string, remoteMemoryID uuid.UUID) (*model.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.entries {
		if entry.UserID == userID && entry.RemoteMemoryID == remoteMemoryID {
			cp := entry
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryIndex) Delete(_ context.Context, userID, moduleID string, remoteMemoryID uuid.UUID) error {
	key := indexKey{moduleID, remoteMemoryID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && entry.UserID == userID {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryIndex) KNN(_ context.Context, userID string, query []float32, n int, modules []string) ([]Candidate, error) {
	allowed := map[string]bool{}
	for _, m := range modules {
		allowed[m] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Candidate
	for _, entry := range s.entries {
		if entry.UserID != userID {
			continue
		}
		if len(allowed) > 0 && !allowed[entry.ModuleID] {
			continue
		}
		out = append(out, Candidate{
			Entry: entry,
			Score: embedding.CosineSimilarity(query, entry.Embedding.Slice()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Entry.UpdatedAt.Equal(out[j].Entry.UpdatedAt) {
			return out[i].Entry.UpdatedAt.After(out[j].Entry.UpdatedAt)
		}
		return out[i].Entry.ID.String() < out[j].Entry.ID.String()
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryIndex) ListAll(_ context.Context, limit, offset int) ([]model.IndexEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.IndexEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
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

// Vector returns the stored compressed embedding for a key. Test helper.
func (s *MemoryIndex) Vector(moduleID string, remoteMemoryID uuid.UUID) []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.entries[indexKey{moduleID, remoteMemoryID}]; ok {
		return entry.Embedding.Slice()
	}
	return nil
}

var _ IndexStore = (*MemoryIndex)(nil)
