// Package relationship stores typed links between memories, possibly across
// modules. Deleting a memory cascades to every relationship touching it.
package relationship

import (
	"context"

	"github.com/google/uuid"

	"github.com/fedmem/federated-memory/internal/model"
)

// Store persists memory relationships.
type Store interface {
	// Create inserts a relationship and assigns its id.
	Create(ctx context.Context, rel *model.Relationship) error
	// ListForMemory returns relationships where the memory is either endpoint.
	ListForMemory(ctx context.Context, userID string, memoryID uuid.UUID) ([]model.Relationship, error)
	// List returns the user's relationships, newest first.
	List(ctx context.Context, userID string, limit, offset int) ([]model.Relationship, error)
	// DeleteForMemory removes every relationship incident to the memory.
	// Idempotent.
	DeleteForMemory(ctx context.Context, userID string, memoryID uuid.UUID) error
	// Delete removes one relationship by id. Idempotent.
	Delete(ctx context.Context, userID string, id uuid.UUID) error
}
