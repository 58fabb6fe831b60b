// Package module implements the topical memory modules and their registry.
// Each module owns one vector table and writes an index entry through to the
// central memory index on every mutation.
package module

import (
	"context"
	"regexp"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/embedding"
	"github.com/fedmem/federated-memory/internal/vectorstore"
)

// ClassifyHints is the ordered rule table the router evaluates when no module
// id is given: exact metadata fields first, tag tokens next, content regexes
// last.
type ClassifyHints struct {
	Types           []string
	Categories      []string
	Tags            []string
	ContentPatterns []*regexp.Regexp
}

// Definition is the static description of a module.
type Definition struct {
	ID             string
	Name           string
	Description    string
	TableName      string
	MetadataSchema map[string]any
	Hints          ClassifyHints
}

// Indexer is the central memory index as seen by a module. The router's index
// implements it; removal also drops relationships incident to the memory.
type Indexer interface {
	// IndexMemory upserts the entry for (moduleID, remoteMemoryID), embedding
	// content at the compressed tier. Idempotent on identical inputs.
	IndexMemory(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID, content string, fields IndexFields) error
	// UpdateIndexFields rewrites the derived fields without touching the
	// stored compressed embedding.
	UpdateIndexFields(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID, fields IndexFields) error
	// RemoveMemory deletes the entry and all relationships incident to the
	// memory. Idempotent.
	RemoveMemory(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID) error
}

// Hit is one search result, annotated with the owning module.
type Hit struct {
	ID         uuid.UUID      `json:"id"`
	ModuleID   string         `json:"moduleId"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// UpdateRequest is a partial memory update. Nil means leave unchanged.
type UpdateRequest struct {
	Content  *string
	Metadata map[string]any
}

// Stats summarizes one user's slice of a module.
type Stats struct {
	ModuleID      string         `json:"moduleId"`
	TotalMemories int64          `json:"totalMemories"`
	Categories    map[string]int `json:"categories"`
	LastUpdatedAt *time.Time     `json:"lastUpdatedAt,omitempty"`
}

// Module wraps one vector table with the memory operations and the index
// write-through.
type Module struct {
	def        Definition
	store      vectorstore.Store
	embeddings *embedding.Provider
	index      Indexer
}

// New assembles a module from its definition and collaborators.
func New(def Definition, store vectorstore.Store, embeddings *embedding.Provider, index Indexer) *Module {
	return &Module{def: def, store: store, embeddings: embeddings, index: index}
}

func (m *Module) ID() string             { return m.def.ID }
func (m *Module) Definition() Definition { return m.def }

// Store persists a new memory and writes its index entry. The row insert and
// the index upsert are one logical unit: an index failure deletes the row and
// surfaces StorageFailure.
func (m *Module) Store(ctx context.Context, userID, content string, metadata map[string]any) (uuid.UUID, error) {
	if userID == "" {
		return uuid.Nil, apperr.New(apperr.KindInvalidArgument, "userId is required")
	}
	if content == "" {
		return uuid.Nil, apperr.New(apperr.KindInvalidArgument, "content must not be empty")
	}
	vec, err := m.embeddings.Embed(ctx, content, embedding.TierFull)
	if err != nil {
		return uuid.Nil, err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	row := &vectorstore.Row{
		ID:        uuid.New(),
		UserID:    userID,
		Content:   content,
		Embedding: vec,
		Metadata:  metadata,
	}
	if err := m.store.Insert(ctx, row); err != nil {
		return uuid.Nil, apperr.Wrap(apperr.KindStorageFailure, "memory insert failed", err)
	}

	fields := DeriveIndexFields(m.def.ID, content, metadata)
	if err := m.index.IndexMemory(ctx, userID, m.def.ID, row.ID, content, fields); err != nil {
		// Compensate so no un-indexed row survives. The integrity sweep
		// repairs the case where this delete fails too.
		if delErr := m.store.Delete(context.WithoutCancel(ctx), userID, row.ID); delErr != nil {
			log.Error("Compensating delete failed; row left for integrity sweep",
				"module", m.def.ID, "memory", row.ID, "err", delErr)
		}
		return uuid.Nil, apperr.Wrap(apperr.KindStorageFailure, "index write-through failed", err)
	}
	return row.ID, nil
}

// Get returns the memory or NotFound.
func (m *Module) Get(ctx context.Context, userID string, id uuid.UUID) (*vectorstore.Row, error) {
	row, err := m.store.GetByID(ctx, userID, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "memory lookup failed", err)
	}
	if row == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "memory %s not found in module %s", id, m.def.ID)
	}
	return row, nil
}

// Update applies a partial update. A content change re-embeds both tiers and
// rewrites the index entry; metadata-only updates never re-embed.
func (m *Module) Update(ctx context.Context, userID string, id uuid.UUID, req UpdateRequest) (*vectorstore.Row, error) {
	current, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	contentChanged := req.Content != nil && *req.Content != current.Content
	fields := vectorstore.UpdateFields{Metadata: req.Metadata}
	if contentChanged {
		if *req.Content == "" {
			return nil, apperr.New(apperr.KindInvalidArgument, "content must not be empty")
		}
		vec, err := m.embeddings.Embed(ctx, *req.Content, embedding.TierFull)
		if err != nil {
			return nil, err
		}
		fields.Content = req.Content
		fields.Embedding = vec
	}

	row, err := m.store.Update(ctx, userID, id, fields)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "memory update failed", err)
	}
	if row == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "memory %s not found in module %s", id, m.def.ID)
	}

	derived := DeriveIndexFields(m.def.ID, row.Content, row.Metadata)
	if contentChanged {
		err = m.index.IndexMemory(ctx, userID, m.def.ID, id, row.Content, derived)
	} else {
		err = m.index.UpdateIndexFields(ctx, userID, m.def.ID, id, derived)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "index update failed", err)
	}
	return row, nil
}

// Delete cascades: relationships and index entry first, then the row.
// Idempotent end to end.
func (m *Module) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if err := m.index.RemoveMemory(ctx, userID, m.def.ID, id); err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, "index removal failed", err)
	}
	if err := m.store.Delete(ctx, userID, id); err != nil {
		return apperr.Wrap(apperr.KindStorageFailure, "memory delete failed", err)
	}
	return nil
}

// Search embeds the query at full resolution and runs k-NN over the module
// table. Access stamps on returned rows are bumped out of band.
func (m *Module) Search(ctx context.Context, userID, query string, limit int, filter map[string]any) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	vec, err := m.embeddings.Embed(ctx, query, embedding.TierFull)
	if err != nil {
		return nil, err
	}
	hits, err := m.store.KNNSearch(ctx, userID, vec, limit, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "knn search failed", err)
	}
	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	rows, err := m.store.GetMany(ctx, userID, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "row fetch failed", err)
	}
	m.touchAsync(ctx, userID, ids)

	byID := make(map[uuid.UUID]*vectorstore.Row, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}
	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		row, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, m.hit(row, h.Similarity))
	}
	return out, nil
}

// ScoreRows fetches rows by id and scores them against a full-resolution
// query vector. Used by the router's second search stage.
func (m *Module) ScoreRows(ctx context.Context, userID string, ids []uuid.UUID, queryVec []float32) ([]Hit, error) {
	rows, err := m.store.GetMany(ctx, userID, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "row fetch failed", err)
	}
	m.touchAsync(ctx, userID, ids)
	out := make([]Hit, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		out = append(out, m.hit(row, embedding.CosineSimilarity(queryVec, row.Embedding)))
	}
	return out, nil
}

// List pages through a user's memories, newest updates first by default.
func (m *Module) List(ctx context.Context, userID string, filter map[string]any, limit, offset int) ([]vectorstore.Row, error) {
	rows, err := m.store.FilterScan(ctx, userID, filter, vectorstore.OrderUpdatedDesc, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "memory scan failed", err)
	}
	return rows, nil
}

// GetStats returns counts for one user's slice of the module.
func (m *Module) GetStats(ctx context.Context, userID string) (*Stats, error) {
	count, err := m.store.Count(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "count failed", err)
	}
	stats := &Stats{ModuleID: m.def.ID, TotalMemories: count, Categories: map[string]int{}}
	rows, err := m.store.FilterScan(ctx, userID, nil, vectorstore.OrderUpdatedDesc, 0, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "memory scan failed", err)
	}
	for i := range rows {
		if i == 0 {
			t := rows[i].UpdatedAt
			stats.LastUpdatedAt = &t
		}
		for _, cat := range deriveCategories(m.def.ID, rows[i].Metadata) {
			stats.Categories[cat]++
		}
	}
	return stats, nil
}

// Rows exposes the underlying store for integrity sweeps.
func (m *Module) Rows() vectorstore.Store { return m.store }

func (m *Module) hit(row *vectorstore.Row, similarity float64) Hit {
	return Hit{
		ID:         row.ID,
		ModuleID:   m.def.ID,
		Content:    row.Content,
		Metadata:   row.Metadata,
		Similarity: similarity,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

// touchAsync bumps access stamps without blocking or failing the read path.
func (m *Module) touchAsync(ctx context.Context, userID string, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		touchCtx, cancel := context.WithTimeout(bg, 5*time.Second)
		defer cancel()
		if err := m.store.TouchAccess(touchCtx, userID, ids); err != nil {
			log.Debug("Access stamp update failed", "module", m.def.ID, "err", err)
		}
	}()
}
