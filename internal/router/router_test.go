package router

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/config"
	"github.com/fedmem/federated-memory/internal/embedding"
	"github.com/fedmem/federated-memory/internal/module"
	"github.com/fedmem/federated-memory/internal/plugin/embed/local"
	"github.com/fedmem/federated-memory/internal/relationship"
	"github.com/fedmem/federated-memory/internal/vectorstore"
)

type testEnv struct {
	router *Router
	index  *MemoryIndex
	rels   *relationship.MemoryStore
	stores map[string]vectorstore.Store
}

// failingStore errors on every read used by search fan-out.
type failingStore struct {
	vectorstore.Store
}

func (f *failingStore) KNNSearch(context.Context, string, []float32, int, map[string]any) ([]vectorstore.Hit, error) {
	return nil, errors.New("adapter down")
}

func (f *failingStore) GetMany(context.Context, string, []uuid.UUID) ([]vectorstore.Row, error) {
	return nil, errors.New("adapter down")
}

// newTestEnv wires the six standard modules over in-memory stores. Modules in
// broken fail reads to simulate an unavailable adapter.
func newTestEnv(t *testing.T, broken ...string) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.EmbeddingDimensionFull = 64
	cfg.EmbeddingDimensionCompressed = 32
	provider := embedding.NewProvider(&local.LocalEmbedder{}, nil, &cfg)

	registry := module.NewRegistry()
	index := NewMemoryIndex()
	rels := relationship.NewMemoryStore()
	r := New(registry, index, rels, provider, &cfg)

	isBroken := map[string]bool{}
	for _, id := range broken {
		isBroken[id] = true
	}
	stores := map[string]vectorstore.Store{}
	for _, def := range module.StandardDefinitions() {
		var store vectorstore.Store = vectorstore.NewMemoryStore(64)
		if isBroken[def.ID] {
			store = &failingStore{Store: store}
		}
		stores[def.ID] = store
		require.NoError(t, registry.Register(module.New(def, store, provider, r)))
	}
	return &testEnv{router: r, index: index, rels: rels, stores: stores}
}

func TestStoreClassifiesAndIndexes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	moduleID, id, err := env.router.Store(ctx, "alice", "kickoff notes",
		map[string]any{"type": "project", "projectName": "Atlas"}, "")
	require.NoError(t, err)
	assert.Equal(t, "work", moduleID)

	entry, err := env.index.Get(ctx, "alice", "work", id)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Contains(t, entry.Categories, "work")
	assert.NotEmpty(t, env.index.Vector("work", id))
}

func TestStoreExplicitModule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	moduleID, _, err := env.router.Store(ctx, "alice", "hiking with my sister", nil, "technical")
	require.NoError(t, err)
	assert.Equal(t, "technical", moduleID)

	_, _, err = env.router.Store(ctx, "alice", "content", nil, "bogus")
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestCMICoverage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	var ids []uuid.UUID
	for _, content := range []string{
		"Debugging the deploy pipeline",
		"Today I went hiking with my sister",
		"Sprint planning for the launch",
	} {
		moduleID, id, err := env.router.Store(ctx, "alice", content, nil, "")
		require.NoError(t, err)
		entry, err := env.index.Get(ctx, "alice", moduleID, id)
		require.NoError(t, err)
		require.NotNil(t, entry, "every stored memory must have a CMI entry")
		ids = append(ids, id)
	}

	// Every CMI entry resolves back to a live row.
	for _, id := range ids {
		_, row, err := env.router.Get(ctx, "alice", id)
		require.NoError(t, err)
		require.NotNil(t, row)
	}
}

func TestSearchCrossModuleOrdering(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, a, err := env.router.Store(ctx, "alice", "Handling CORS in Express", nil, "technical")
	require.NoError(t, err)
	_, b, err := env.router.Store(ctx, "alice", "Meeting about CORS policy", nil, "work")
	require.NoError(t, err)
	_, c, err := env.router.Store(ctx, "alice", "Hiking trails near Mount Wilson", nil, "personal")
	require.NoError(t, err)

	hits, err := env.router.Search(ctx, "alice", "CORS", SearchOptions{Limit: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	pos := map[uuid.UUID]int{}
	for i, h := range hits {
		pos[h.ID] = i
	}
	assert.Less(t, pos[a], pos[c], "CORS memories must outrank the hiking one")
	assert.Less(t, pos[b], pos[c], "CORS memories must outrank the hiking one")
}

func TestSearchMonotonicLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, content := range []string{
		"CORS middleware configuration",
		"CORS preflight failures in staging",
		"CORS policy meeting notes",
		"Weekend hiking plan",
	} {
		_, _, err := env.router.Store(ctx, "alice", content, nil, "")
		require.NoError(t, err)
	}

	small, err := env.router.Search(ctx, "alice", "CORS", SearchOptions{Limit: 2})
	require.NoError(t, err)
	large, err := env.router.Search(ctx, "alice", "CORS", SearchOptions{Limit: 4})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(large), len(small))
	for i := range small {
		assert.Equal(t, small[i].ID, large[i].ID, "larger limits may only append")
	}
}

func TestSearchPartialFanoutFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, "learning")

	// The insert path still works for the broken module; only reads fail.
	_, _, err := env.router.Store(ctx, "alice", "Finished the CORS chapter of the course", nil, "learning")
	require.NoError(t, err)
	_, workID, err := env.router.Store(ctx, "alice", "Meeting about CORS policy", nil, "work")
	require.NoError(t, err)

	hits, err := env.router.Search(ctx, "alice", "CORS", SearchOptions{Limit: 5})
	require.NoError(t, err, "fan-out failure of one module must not fail the search")
	require.NotEmpty(t, hits)
	for _, h := range hits {
		assert.NotEqual(t, "learning", h.ModuleID)
	}
	assert.Equal(t, workID, hits[0].ID)
}

func TestSearchSingleModuleDelegation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, workID, err := env.router.Store(ctx, "alice", "Meeting about CORS policy", nil, "work")
	require.NoError(t, err)
	_, _, err = env.router.Store(ctx, "alice", "Handling CORS in Express", nil, "technical")
	require.NoError(t, err)

	hits, err := env.router.Search(ctx, "alice", "CORS", SearchOptions{Limit: 5, ModuleID: "work"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, workID, hits[0].ID)

	_, err = env.router.Search(ctx, "alice", "CORS", SearchOptions{Limit: 5, ModuleID: "bogus"})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestSearchIsolationBetweenUsers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, _, err := env.router.Store(ctx, "bob", "Meeting about CORS policy", nil, "work")
	require.NoError(t, err)

	hits, err := env.router.Search(ctx, "alice", "CORS", SearchOptions{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGetAndUpdateResolveModule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, id, err := env.router.Store(ctx, "alice", "kickoff notes", map[string]any{"type": "project"}, "")
	require.NoError(t, err)

	moduleID, row, err := env.router.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, "work", moduleID)
	assert.Equal(t, "kickoff notes", row.Content)

	content := "kickoff notes, revised"
	moduleID, row, err = env.router.Update(ctx, "alice", id, module.UpdateRequest{Content: &content})
	require.NoError(t, err)
	// Updates never re-route.
	assert.Equal(t, "work", moduleID)
	assert.Equal(t, content, row.Content)

	_, _, err = env.router.Get(ctx, "alice", uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteCascadeWithRelationships(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, m, err := env.router.Store(ctx, "alice", "Meeting about CORS policy", nil, "work")
	require.NoError(t, err)
	_, n, err := env.router.Store(ctx, "alice", "Handling CORS in Express", nil, "technical")
	require.NoError(t, err)

	rel, err := env.router.CreateRelationship(ctx, "alice", m, n, "references", 0.8, nil)
	require.NoError(t, err)
	assert.Equal(t, "work", rel.SourceModule)
	assert.Equal(t, "technical", rel.TargetModule)

	require.NoError(t, env.router.Delete(ctx, "alice", m))

	// M's row, CMI entry, and relationship are gone.
	_, _, err = env.router.Get(ctx, "alice", m)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	entry, err := env.index.Get(ctx, "alice", "work", m)
	require.NoError(t, err)
	assert.Nil(t, entry)
	rels, err := env.router.ListRelationships(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, rels)

	// N and its CMI entry remain untouched.
	_, row, err := env.router.Get(ctx, "alice", n)
	require.NoError(t, err)
	require.NotNil(t, row)

	// Deleting M again is a no-op success.
	require.NoError(t, env.router.Delete(ctx, "alice", m))
}

func TestCreateRelationshipValidatesEndpoints(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, m, err := env.router.Store(ctx, "alice", "a memory", nil, "work")
	require.NoError(t, err)

	_, err = env.router.CreateRelationship(ctx, "alice", m, uuid.New(), "references", 0.5, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = env.router.CreateRelationship(ctx, "alice", m, m, "", 0.5, nil)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestIndexMemoryIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	id := uuid.New()
	fields := module.DeriveIndexFields("work", "stable content", nil)
	require.NoError(t, env.router.IndexMemory(ctx, "alice", "work", id, "stable content", fields))
	first := env.index.Vector("work", id)
	require.NoError(t, env.router.IndexMemory(ctx, "alice", "work", id, "stable content", fields))
	assert.Equal(t, first, env.index.Vector("work", id))
}
