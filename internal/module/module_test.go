package module

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/config"
	"github.com/fedmem/federated-memory/internal/embedding"
	"github.com/fedmem/federated-memory/internal/plugin/embed/local"
	"github.com/fedmem/federated-memory/internal/vectorstore"
)

type indexEntry struct {
	content string
	fields  IndexFields
}

// fakeIndexer records write-through calls and can be forced to fail.
type fakeIndexer struct {
	mu      sync.Mutex
	entries map[uuid.UUID]indexEntry
	failAll error
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{entries: map[uuid.UUID]indexEntry{}}
}

func (f *fakeIndexer) IndexMemory(_ context.Context, _, _ string, id uuid.UUID, content string, fields IndexFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	f.entries[id] = indexEntry{content: content, fields: fields}
	return nil
}

func (f *fakeIndexer) UpdateIndexFields(_ context.Context, _, _ string, id uuid.UUID, fields IndexFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	entry := f.entries[id]
	entry.fields = fields
	f.entries[id] = entry
	return nil
}

func (f *fakeIndexer) RemoveMemory(_ context.Context, _, _ string, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	delete(f.entries, id)
	return nil
}

func (f *fakeIndexer) entry(id uuid.UUID) (indexEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	return e, ok
}

func testProvider() *embedding.Provider {
	cfg := config.DefaultConfig()
	cfg.EmbeddingDimensionFull = 16
	cfg.EmbeddingDimensionCompressed = 8
	return embedding.NewProvider(&local.LocalEmbedder{}, nil, &cfg)
}

func testModule(t *testing.T) (*Module, *vectorstore.MemoryStore, *fakeIndexer) {
	t.Helper()
	store := vectorstore.NewMemoryStore(16)
	index := newFakeIndexer()
	def := Definition{ID: "work", Name: "Work", TableName: "work_memories"}
	return New(def, store, testProvider(), index), store, index
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	mod, _, index := testModule(t)

	id, err := mod.Store(ctx, "alice", "Kickoff notes for project Atlas", map[string]any{"projectName": "Atlas"})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	row, err := mod.Get(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, "Kickoff notes for project Atlas", row.Content)
	assert.Equal(t, "Atlas", row.Metadata["projectName"])

	entry, ok := index.entry(id)
	require.True(t, ok, "store must write through to the index")
	assert.Equal(t, "Kickoff notes for project Atlas", entry.fields.Title)
	assert.Equal(t, []string{"work"}, entry.fields.Categories)
	assert.Equal(t, DefaultImportance, entry.fields.ImportanceScore)
}

func TestStoreRejectsEmptyInput(t *testing.T) {
	ctx := context.Background()
	mod, _, _ := testModule(t)

	_, err := mod.Store(ctx, "alice", "", nil)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))

	_, err = mod.Store(ctx, "", "content", nil)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
}

func TestStoreCompensatesOnIndexFailure(t *testing.T) {
	ctx := context.Background()
	mod, store, index := testModule(t)
	index.failAll = errors.New("index down")

	_, err := mod.Store(ctx, "alice", "doomed memory", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorageFailure, apperr.KindOf(err))

	// The compensating delete must leave no orphan row behind.
	n, err := store.Count(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetNotFound(t *testing.T) {
	mod, _, _ := testModule(t)
	_, err := mod.Get(context.Background(), "alice", uuid.New())
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUpdateMetadataOnlyKeepsEmbedding(t *testing.T) {
	ctx := context.Background()
	mod, store, _ := testModule(t)

	id, err := mod.Store(ctx, "alice", "original content", nil)
	require.NoError(t, err)
	before, err := store.GetByID(ctx, "alice", id)
	require.NoError(t, err)

	_, err = mod.Update(ctx, "alice", id, UpdateRequest{Metadata: map[string]any{"tag": "x"}})
	require.NoError(t, err)

	after, err := store.GetByID(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, before.Embedding, after.Embedding, "metadata-only update must not re-embed")
	assert.Equal(t, "x", after.Metadata["tag"])
}

func TestUpdateContentReembedsAndReindexes(t *testing.T) {
	ctx := context.Background()
	mod, store, index := testModule(t)

	id, err := mod.Store(ctx, "alice", "original content", nil)
	require.NoError(t, err)
	before, err := store.GetByID(ctx, "alice", id)
	require.NoError(t, err)

	content := "completely different subject matter"
	row, err := mod.Update(ctx, "alice", id, UpdateRequest{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, content, row.Content)
	assert.NotEqual(t, before.Embedding, row.Embedding, "content change must re-embed")

	entry, ok := index.entry(id)
	require.True(t, ok)
	assert.Equal(t, content, entry.content)
}

func TestUpdateUnchangedContentIdempotent(t *testing.T) {
	ctx := context.Background()
	mod, store, _ := testModule(t)

	content := "stable content"
	id, err := mod.Store(ctx, "alice", content, nil)
	require.NoError(t, err)
	before, err := store.GetByID(ctx, "alice", id)
	require.NoError(t, err)

	_, err = mod.Update(ctx, "alice", id, UpdateRequest{Content: &content})
	require.NoError(t, err)
	after, err := store.GetByID(ctx, "alice", id)
	require.NoError(t, err)
	assert.Equal(t, before.Embedding, after.Embedding)
}

func TestDeleteCascadesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mod, _, index := testModule(t)

	id, err := mod.Store(ctx, "alice", "to be removed", nil)
	require.NoError(t, err)

	require.NoError(t, mod.Delete(ctx, "alice", id))
	_, ok := index.entry(id)
	assert.False(t, ok, "index entry must be gone")
	_, err = mod.Get(ctx, "alice", id)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	// Deleting again still succeeds.
	require.NoError(t, mod.Delete(ctx, "alice", id))
}

func TestSearchReturnsScopedHits(t *testing.T) {
	ctx := context.Background()
	mod, _, _ := testModule(t)

	atlas, err := mod.Store(ctx, "alice", "Atlas project planning meeting", nil)
	require.NoError(t, err)
	_, err = mod.Store(ctx, "alice", "Grocery list for the weekend", nil)
	require.NoError(t, err)
	_, err = mod.Store(ctx, "bob", "Atlas project planning meeting", nil)
	require.NoError(t, err)

	hits, err := mod.Search(ctx, "alice", "Atlas project planning", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, atlas, hits[0].ID)
	assert.Equal(t, "work", hits[0].ModuleID)
	assert.Greater(t, hits[0].Similarity, 0.5)
}

func TestGetStatsCountsAgree(t *testing.T) {
	ctx := context.Background()
	mod, _, _ := testModule(t)

	for i := 0; i < 3; i++ {
		_, err := mod.Store(ctx, "alice", "note about standup meetings", map[string]any{"category": "meetings"})
		require.NoError(t, err)
	}
	_, err := mod.Store(ctx, "bob", "someone else's note", nil)
	require.NoError(t, err)

	stats, err := mod.GetStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalMemories)
	assert.Equal(t, 3, stats.Categories["meetings"])
	require.NotNil(t, stats.LastUpdatedAt)
}

func TestAnalyzeCountsAgreeWithRows(t *testing.T) {
	ctx := context.Background()
	mod, _, _ := testModule(t)

	_, err := mod.Store(ctx, "alice", "Sprint planning for the Atlas launch", nil)
	require.NoError(t, err)
	_, err = mod.Store(ctx, "alice", "Atlas retrospective action items", nil)
	require.NoError(t, err)
	_, err = mod.Store(ctx, "bob", "unrelated", nil)
	require.NoError(t, err)

	analysis, err := mod.Analyze(ctx, "alice", AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, analysis.TotalMemories)
	assert.Equal(t, 2, analysis.Categories["work"])
	require.NotEmpty(t, analysis.TopKeywords)
	assert.Equal(t, "atlas", analysis.TopKeywords[0].Keyword)
	assert.Equal(t, 2, analysis.TopKeywords[0].Count)
}
