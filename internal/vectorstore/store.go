// Package vectorstore provides the low-level per-table vector+metadata store
// used by every memory module. All operations are scoped by user; missing rows
// yield nil results, never errors.
package vectorstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Row is one stored memory record.
type Row struct {
	ID           uuid.UUID      `json:"id"`
	UserID       string         `json:"userId"`
	Content      string         `json:"content"`
	Embedding    []float32      `json:"-"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	LastAccessed time.Time      `json:"lastAccessed"`
	AccessCount  int            `json:"accessCount"`
}

// Hit is a k-NN result: a row id with its cosine similarity in [0, 1].
type Hit struct {
	ID         uuid.UUID `json:"id"`
	Similarity float64   `json:"similarity"`
}

// UpdateFields is a partial update. Nil fields are left unchanged; a content
// change must always be accompanied by its re-generated embedding.
type UpdateFields struct {
	Content   *string
	Embedding []float32
	Metadata  map[string]any
}

// Order selects the sort for structured scans.
type Order string

const (
	OrderUpdatedDesc Order = "updated_desc"
	OrderCreatedDesc Order = "created_desc"
	OrderCreatedAsc  Order = "created_asc"
)

// Store is the single low-level API over one module table.
type Store interface {
	// Insert writes a new row atomically.
	Insert(ctx context.Context, row *Row) error
	// GetByID returns the row or nil when missing or not owned by userID.
	GetByID(ctx context.Context, userID string, id uuid.UUID) (*Row, error)
	// GetMany returns the owned subset of ids, in no particular order.
	GetMany(ctx context.Context, userID string, ids []uuid.UUID) ([]Row, error)
	// Update applies a partial update and bumps updatedAt. Returns the updated
	// row, or nil when the row does not exist.
	Update(ctx context.Context, userID string, id uuid.UUID, fields UpdateFields) (*Row, error)
	// Delete removes the row. Idempotent: deleting a missing row succeeds.
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	// KNNSearch returns up to k hits ordered by descending cosine similarity,
	// ties broken by updatedAt descending then id ascending. filter is a
	// metadata containment predicate; nil means no filtering.
	KNNSearch(ctx context.Context, userID string, query []float32, k int, filter map[string]any) ([]Hit, error)
	// FilterScan is the structured-only path: no vector involved.
	FilterScan(ctx context.Context, userID string, filter map[string]any, order Order, limit, offset int) ([]Row, error)
	// Count returns the number of rows owned by userID.
	Count(ctx context.Context, userID string) (int64, error)
	// TouchAccess bumps lastAccessed and accessCount. Best-effort; callers may
	// invoke it asynchronously and ignore errors.
	TouchAccess(ctx context.Context, userID string, ids []uuid.UUID) error
	// ListRows pages through all rows regardless of owner, ordered by
	// createdAt ascending then id. Used only by integrity sweeps.
	ListRows(ctx context.Context, limit, offset int) ([]Row, error)
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
