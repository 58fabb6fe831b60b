// Package router owns the central memory index (CMI): write-through indexing,
// rule-based write routing, and two-stage federated search.
package router

import (
	"context"

	"github.com/google/uuid"

	"github.com/fedmem/federated-memory/internal/model"
	"github.com/fedmem/federated-memory/internal/module"
)

// Candidate is one CMI k-NN result with its compressed-tier similarity.
type Candidate struct {
	Entry model.IndexEntry
	Score float64
}

// IndexStore persists CMI entries. (ModuleID, RemoteMemoryID) is the unique
// key; lookups return nil when no entry exists.
type IndexStore interface {
	// Upsert inserts or replaces the entry for its (module, remote) key.
	Upsert(ctx context.Context, entry *model.IndexEntry) error
	// UpdateFields rewrites derived fields, leaving the embedding untouched.
	// Missing entries are a no-op.
	UpdateFields(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID, fields module.IndexFields) error
	// Get returns the entry for (module, remote), or nil.
	Get(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID) (*model.IndexEntry, error)
	// FindByRemoteID scans for the entry owning a memory id, or nil.
	FindByRemoteID(ctx context.Context, userID string, remoteMemoryID uuid.UUID) (*model.IndexEntry, error)
	// Delete removes the entry. Idempotent.
	Delete(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID) error
	// KNN returns up to n candidates by descending compressed-tier cosine
	// similarity, scoped to userID and optionally to a module subset.
	KNN(ctx context.Context, userID string, query []float32, n int, modules []string) ([]Candidate, error)
	// ListAll pages through every entry regardless of owner, ordered by
	// createdAt then id. Used only by the integrity sweep.
	ListAll(ctx context.Context, limit, offset int) ([]model.IndexEntry, error)
}
