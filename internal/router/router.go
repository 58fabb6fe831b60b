package router

import (
	"context"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/config"
	"github.com/fedmem/federated-memory/internal/embedding"
	"github.com/fedmem/federated-memory/internal/model"
	"github.com/fedmem/federated-memory/internal/module"
	"github.com/fedmem/federated-memory/internal/relationship"
	"github.com/fedmem/federated-memory/internal/security"
	"github.com/fedmem/federated-memory/internal/vectorstore"
)

// importanceWeight scales how much a low importance score demotes a CMI
// candidate: rank = score * (1 - importanceWeight * (1 - importance)).
const importanceWeight = 0.2

// Router is the federated front door: it routes writes to one module, fans
// reads out across modules via the CMI, and resolves bare memory ids.
type Router struct {
	registry      *module.Registry
	index         IndexStore
	relationships relationship.Store
	embeddings    *embedding.Provider
	defaultModule string
	fanoutFactor  int
}

// New assembles a Router. The Router is also the Indexer handed to every
// module for write-through.
func New(registry *module.Registry, index IndexStore, rels relationship.Store, embeddings *embedding.Provider, cfg *config.Config) *Router {
	defaultModule := cfg.DefaultModule
	if defaultModule == "" {
		defaultModule = module.DefaultModuleID
	}
	fanout := cfg.FanoutFactor
	if fanout < 1 {
		fanout = 1
	}
	return &Router{
		registry:      registry,
		index:         index,
		relationships: rels,
		embeddings:    embeddings,
		defaultModule: defaultModule,
		fanoutFactor:  fanout,
	}
}

// Registry exposes the module catalog for the tool surface.
func (r *Router) Registry() *module.Registry { return r.registry }

// --- Indexer (write-through) ---

// IndexMemory upserts the CMI entry, embedding content at the compressed
// tier. Embedding is deterministic per (content, model), so repeated calls
// with equal inputs write an identical vector.
func (r *Router) IndexMemory(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID, content string, fields module.IndexFields) error {
	vec, err := r.embeddings.Embed(ctx, content, embedding.TierCompressed)
	if err != nil {
		return err
	}
	return r.index.Upsert(ctx, &model.IndexEntry{
		UserID:          userID,
		ModuleID:        moduleID,
		RemoteMemoryID:  remoteMemoryID,
		Title:           fields.Title,
		Summary:         fields.Summary,
		Keywords:        fields.Keywords,
		Categories:      fields.Categories,
		ImportanceScore: fields.ImportanceScore,
		Embedding:       pgvec.NewVector(vec),
	})
}

// UpdateIndexFields rewrites derived fields without re-embedding.
func (r *Router) UpdateIndexFields(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID, fields module.IndexFields) error {
	return r.index.UpdateFields(ctx, userID, moduleID, remoteMemoryID, fields)
}

// RemoveMemory drops incident relationships, then the CMI entry. Idempotent.
func (r *Router) RemoveMemory(ctx context.Context, userID, moduleID string, remoteMemoryID uuid.UUID) error {
	if err := r.relationships.DeleteForMemory(ctx, userID, remoteMemoryID); err != nil {
		return err
	}
	return r.index.Delete(ctx, userID, moduleID, remoteMemoryID)
}

// --- Write routing ---

// Classify exposes the pure classification function over the live registry.
func (r *Router) Classify(content string, metadata map[string]any) string {
	return Classify(r.definitions(), content, metadata, r.defaultModule)
}

// Store routes a write. An explicit moduleID must name a registered module;
// otherwise the memory is classified.
func (r *Router) Store(ctx context.Context, userID, content string, metadata map[string]any, moduleID string) (string, uuid.UUID, error) {
	if moduleID == "" {
		moduleID = r.Classify(content, metadata)
	}
	mod, err := r.registry.Get(moduleID)
	if err != nil {
		return "", uuid.Nil, apperr.Newf(apperr.KindInvalidArgument, "unknown module %q", moduleID)
	}
	id, err := mod.Store(ctx, userID, content, metadata)
	if err != nil {
		return "", uuid.Nil, err
	}
	return moduleID, id, nil
}

// --- Read routing ---

// SearchOptions bounds a federated search.
type SearchOptions struct {
	Limit int
	// ModuleID delegates the whole search to one module.
	ModuleID string
	// Modules restricts the CMI candidate set without delegating.
	Modules []string
	// Filter is forwarded only on single-module delegation.
	Filter map[string]any
}

// Search runs the two-stage federated search: compressed k-NN over the CMI to
// pick candidates, then full-resolution scoring inside each involved module.
// A module failing during fan-out is excluded; a CMI failure fails the call.
func (r *Router) Search(ctx context.Context, userID, query string, opts SearchOptions) ([]module.Hit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if opts.ModuleID != "" {
		mod, err := r.registry.Get(opts.ModuleID)
		if err != nil {
			return nil, apperr.Newf(apperr.KindInvalidArgument, "unknown module %q", opts.ModuleID)
		}
		return mod.Search(ctx, userID, query, limit, opts.Filter)
	}

	compressed, err := r.embeddings.Embed(ctx, query, embedding.TierCompressed)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSearchUnavailable, "query embedding failed", err)
	}
	candidates, err := r.index.KNN(ctx, userID, compressed, limit*r.fanoutFactor, opts.Modules)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSearchUnavailable, "cmi knn failed", err)
	}
	if len(candidates) == 0 {
		return []module.Hit{}, nil
	}

	// Rank candidates with the importance adjustment before grouping, so the
	// fan-out budget favors important memories.
	sort.SliceStable(candidates, func(i, j int) bool {
		return adjustedScore(candidates[i]) > adjustedScore(candidates[j])
	})

	byModule := map[string][]uuid.UUID{}
	for _, cand := range candidates {
		byModule[cand.Entry.ModuleID] = append(byModule[cand.Entry.ModuleID], cand.Entry.RemoteMemoryID)
	}

	full, err := r.embeddings.Embed(ctx, query, embedding.TierFull)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSearchUnavailable, "query embedding failed", err)
	}

	var mu sync.Mutex
	var merged []module.Hit
	g, gctx := errgroup.WithContext(ctx)
	for moduleID, ids := range byModule {
		g.Go(func() error {
			mod, err := r.registry.Get(moduleID)
			if err != nil {
				log.Warn("ModuleFanoutError", "module", moduleID, "err", err)
				security.ObserveModuleFanoutError(moduleID)
				return nil
			}
			hits, err := mod.ScoreRows(gctx, userID, ids, full)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("ModuleFanoutError", "module", moduleID, "err", err)
				security.ObserveModuleFanoutError(moduleID)
				return nil
			}
			mu.Lock()
			merged = append(merged, hits...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.Wrap(apperr.KindCancelled, "search cancelled", err)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func adjustedScore(c Candidate) float64 {
	return c.Score * (1 - importanceWeight*(1-c.Entry.ImportanceScore))
}

// --- Id resolution ---

// ResolveModule finds the module owning a memory id via the CMI.
func (r *Router) ResolveModule(ctx context.Context, userID string, memoryID uuid.UUID) (*module.Module, error) {
	entry, err := r.index.FindByRemoteID(ctx, userID, memoryID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "index lookup failed", err)
	}
	if entry == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "memory %s not found", memoryID)
	}
	return r.registry.Get(entry.ModuleID)
}

// Get fetches a memory without knowing its module.
func (r *Router) Get(ctx context.Context, userID string, memoryID uuid.UUID) (string, *vectorstore.Row, error) {
	mod, err := r.ResolveModule(ctx, userID, memoryID)
	if err != nil {
		return "", nil, err
	}
	row, err := mod.Get(ctx, userID, memoryID)
	if err != nil {
		return "", nil, err
	}
	return mod.ID(), row, nil
}

// Update applies a partial update in place. Updates never re-route: the
// memory stays in the module that originally stored it.
func (r *Router) Update(ctx context.Context, userID string, memoryID uuid.UUID, req module.UpdateRequest) (string, *vectorstore.Row, error) {
	mod, err := r.ResolveModule(ctx, userID, memoryID)
	if err != nil {
		return "", nil, err
	}
	row, err := mod.Update(ctx, userID, memoryID, req)
	if err != nil {
		return "", nil, err
	}
	return mod.ID(), row, nil
}

// Delete removes a memory wherever it lives. Deleting a missing memory is a
// no-op success.
func (r *Router) Delete(ctx context.Context, userID string, memoryID uuid.UUID) error {
	mod, err := r.ResolveModule(ctx, userID, memoryID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	return mod.Delete(ctx, userID, memoryID)
}

// --- Relationships ---

// CreateRelationship links two owned memories. Both endpoints must resolve.
func (r *Router) CreateRelationship(ctx context.Context, userID string, sourceID, targetID uuid.UUID, relType string, strength float64, metadata map[string]any) (*model.Relationship, error) {
	if relType == "" {
		return nil, apperr.New(apperr.KindInvalidArgument, "relationshipType is required")
	}
	if strength <= 0 {
		strength = 0.5
	}
	source, err := r.index.FindByRemoteID(ctx, userID, sourceID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "index lookup failed", err)
	}
	if source == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "memory %s not found", sourceID)
	}
	target, err := r.index.FindByRemoteID(ctx, userID, targetID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "index lookup failed", err)
	}
	if target == nil {
		return nil, apperr.Newf(apperr.KindNotFound, "memory %s not found", targetID)
	}

	rel := &model.Relationship{
		UserID:           userID,
		SourceModule:     source.ModuleID,
		SourceMemoryID:   sourceID,
		TargetModule:     target.ModuleID,
		TargetMemoryID:   targetID,
		RelationshipType: relType,
		Strength:         strength,
		Metadata:         metadata,
	}
	if err := r.relationships.Create(ctx, rel); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "relationship insert failed", err)
	}
	return rel, nil
}

// ListRelationships returns the user's relationships, newest first.
func (r *Router) ListRelationships(ctx context.Context, userID string, limit, offset int) ([]model.Relationship, error) {
	rels, err := r.relationships.List(ctx, userID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageFailure, "relationship scan failed", err)
	}
	return rels, nil
}

func (r *Router) definitions() []module.Definition {
	mods := r.registry.List()
	defs := make([]module.Definition, len(mods))
	for i, m := range mods {
		defs[i] = m.Definition()
	}
	return defs
}
