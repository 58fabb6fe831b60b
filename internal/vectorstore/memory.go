package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used in tests and for ephemeral
// deployments without Postgres. Semantics mirror PGStore exactly.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	rows      map[uuid.UUID]*Row
}

// NewMemoryStore creates an empty in-memory Store for the given dimension.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension, rows: map[uuid.UUID]*Row{}}
}

func (s *MemoryStore) Insert(_ context.Context, row *Row) error {
	if len(row.Embedding) != s.dimension {
		return fmt.Errorf("embedding dimension mismatch: want %d, got %d", s.dimension, len(row.Embedding))
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}
	if row.LastAccessed.IsZero() {
		row.LastAccessed = now
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[row.ID]; ok {
		return fmt.Errorf("duplicate id %s", row.ID)
	}
	cp := cloneRow(row)
	s.rows[row.ID] = &cp
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, userID string, id uuid.UUID) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok || row.UserID != userID {
		return nil, nil
	}
	cp := cloneRow(row)
	return &cp, nil
}

func (s *MemoryStore) GetMany(_ context.Context, userID string, ids []uuid.UUID) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Row
	for _, id := range ids {
		if row, ok := s.rows[id]; ok && row.UserID == userID {
			out = append(out, cloneRow(row))
		}
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, userID string, id uuid.UUID, fields UpdateFields) (*Row, error) {
	if fields.Embedding != nil && len(fields.Embedding) != s.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: want %d, got %d", s.dimension, len(fields.Embedding))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.UserID != userID {
		return nil, nil
	}
	if fields.Content != nil {
		row.Content = *fields.Content
	}
	if fields.Embedding != nil {
		row.Embedding = append([]float32(nil), fields.Embedding...)
	}
	if fields.Metadata != nil {
		row.Metadata = cloneMeta(fields.Metadata)
	}
	row.UpdatedAt = time.Now().UTC()
	cp := cloneRow(row)
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[id]; ok && row.UserID == userID {
		delete(s.rows, id)
	}
	return nil
}

func (s *MemoryStore) KNNSearch(_ context.Context, userID string, query []float32, k int, filter map[string]any) ([]Hit, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: want %d, got %d", s.dimension, len(query))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		hit       Hit
		updatedAt time.Time
	}
	var matches []scored
	for _, row := range s.rows {
		if row.UserID != userID || !metaContains(row.Metadata, filter) {
			continue
		}
		matches = append(matches, scored{
			hit:       Hit{ID: row.ID, Similarity: clampScore(cosine(query, row.Embedding))},
			updatedAt: row.UpdatedAt,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.hit.Similarity != b.hit.Similarity {
			return a.hit.Similarity > b.hit.Similarity
		}
		if !a.updatedAt.Equal(b.updatedAt) {
			return a.updatedAt.After(b.updatedAt)
		}
		return a.hit.ID.String() < b.hit.ID.String()
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	hits := make([]Hit, len(matches))
	for i, m := range matches {
		hits[i] = m.hit
	}
	return hits, nil
}

func (s *MemoryStore) FilterScan(_ context.Context, userID string, filter map[string]any, order Order, limit, offset int) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Row
	for _, row := range s.rows {
		if row.UserID == userID && metaContains(row.Metadata, filter) {
			out = append(out, cloneRow(row))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch order {
		case OrderCreatedDesc:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		case OrderCreatedAsc:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		default:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt)
			}
		}
		return a.ID.String() < b.ID.String()
	})
	out = page(out, limit, offset)
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, row := range s.rows {
		if row.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) TouchAccess(_ context.Context, userID string, ids []uuid.UUID) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if row, ok := s.rows[id]; ok && row.UserID == userID {
			row.LastAccessed = now
			row.AccessCount++
		}
	}
	return nil
}

func (s *MemoryStore) ListRows(_ context.Context, limit, offset int) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Row, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, cloneRow(row))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return page(out, limit, offset), nil
}

func page(rows []Row, limit, offset int) []Row {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}
		rows = rows[offset:]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// metaContains reports whether meta contains every filter key with an equal
// value, matching Postgres jsonb containment for the flat filters used here.
func metaContains(meta, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func cloneRow(row *Row) Row {
	cp := *row
	cp.Embedding = append([]float32(nil), row.Embedding...)
	cp.Metadata = cloneMeta(row.Metadata)
	return cp
}

func cloneMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
