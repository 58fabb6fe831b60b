package embedding

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/config"
	"github.com/fedmem/federated-memory/internal/plugin/embed/local"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.EmbeddingDimensionFull = 64
	cfg.EmbeddingDimensionCompressed = 32
	cfg.EmbedTimeout = time.Second
	cfg.EmbedMaxAttempts = 3
	return cfg
}

// countingEmbedder wraps the deterministic local embedder and counts upstream calls.
type countingEmbedder struct {
	inner local.LocalEmbedder
	mu    sync.Mutex
	calls int
}

func (e *countingEmbedder) ModelName() string { return e.inner.ModelName() }

func (e *countingEmbedder) EmbedTexts(ctx context.Context, texts []string, dimension int) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.inner.EmbedTexts(ctx, texts, dimension)
}

type flakyEmbedder struct {
	inner     local.LocalEmbedder
	failures  int
	transient bool
	calls     int
}

type testTransientError struct{ msg string }

func (e *testTransientError) Error() string   { return e.msg }
func (e *testTransientError) Transient() bool { return true }

func (e *flakyEmbedder) ModelName() string { return e.inner.ModelName() }

func (e *flakyEmbedder) EmbedTexts(ctx context.Context, texts []string, dimension int) ([][]float32, error) {
	e.calls++
	if e.calls <= e.failures {
		if e.transient {
			return nil, &testTransientError{msg: "upstream 503"}
		}
		return nil, errors.New("invalid request")
	}
	return e.inner.EmbedTexts(ctx, texts, dimension)
}

// mapCache is a trivial always-available VectorCache.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
}

func newMapCache() *mapCache { return &mapCache{data: map[string][]float32{}} }

func (c *mapCache) Available() bool { return true }

func (c *mapCache) Get(_ context.Context, key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.data[key]
	return vec, ok
}

func (c *mapCache) Set(_ context.Context, key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = vector
}

func TestCacheKeyDistinguishesTierAndModel(t *testing.T) {
	cfg := testConfig()
	p := NewProvider(&local.LocalEmbedder{}, nil, &cfg)

	full := p.CacheKey("hello world", TierFull)
	compressed := p.CacheKey("hello world", TierCompressed)
	other := p.CacheKey("hello there", TierFull)

	assert.NotEqual(t, full, compressed)
	assert.NotEqual(t, full, other)
	assert.Equal(t, full, p.CacheKey("hello world", TierFull))
}

func TestEmbedDimensionsPerTier(t *testing.T) {
	cfg := testConfig()
	p := NewProvider(&local.LocalEmbedder{}, nil, &cfg)
	ctx := context.Background()

	full, err := p.Embed(ctx, "some text", TierFull)
	require.NoError(t, err)
	assert.Len(t, full, 64)

	compressed, err := p.Embed(ctx, "some text", TierCompressed)
	require.NoError(t, err)
	assert.Len(t, compressed, 32)
}

func TestEmbedDeterministic(t *testing.T) {
	cfg := testConfig()
	p := NewProvider(&local.LocalEmbedder{}, nil, &cfg)
	ctx := context.Background()

	a, err := p.Embed(ctx, "stable input", TierCompressed)
	require.NoError(t, err)
	b, err := p.Embed(ctx, "stable input", TierCompressed)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompressedTierDerivedFromFull(t *testing.T) {
	cfg := testConfig()
	p := NewProvider(&local.LocalEmbedder{}, nil, &cfg)
	ctx := context.Background()

	full, err := p.Embed(ctx, "derive me", TierFull)
	require.NoError(t, err)
	compressed, err := p.Embed(ctx, "derive me", TierCompressed)
	require.NoError(t, err)

	assert.Equal(t, Compress(full, 32), compressed)
}

func TestCacheAvoidsUpstreamCalls(t *testing.T) {
	cfg := testConfig()
	embedder := &countingEmbedder{}
	p := NewProvider(embedder, newMapCache(), &cfg)
	ctx := context.Background()

	_, err := p.Embed(ctx, "cached text", TierFull)
	require.NoError(t, err)
	_, err = p.Embed(ctx, "cached text", TierFull)
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.calls)
}

func TestEmbedBatchFillsOnlyMisses(t *testing.T) {
	cfg := testConfig()
	embedder := &countingEmbedder{}
	p := NewProvider(embedder, newMapCache(), &cfg)
	ctx := context.Background()

	warm, err := p.Embed(ctx, "alpha", TierFull)
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"}, TierFull)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, warm, vecs[0])
	for _, vec := range vecs {
		assert.Len(t, vec, 64)
	}
	// One call for the warmup, one for the two misses.
	assert.Equal(t, 2, embedder.calls)
}

func TestEmbedBatchLoneMissMatchesEmbed(t *testing.T) {
	cfg := testConfig()
	embedder := &countingEmbedder{}
	p := NewProvider(embedder, newMapCache(), &cfg)
	ctx := context.Background()

	for _, text := range []string{"alpha", "beta"} {
		_, err := p.Embed(ctx, text, TierFull)
		require.NoError(t, err)
	}

	vecs, err := p.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"}, TierFull)
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	single, err := p.Embed(ctx, "gamma", TierFull)
	require.NoError(t, err)
	assert.Equal(t, single, vecs[2])
	// Two warmups plus one call for the lone miss; the final Embed is cached.
	assert.Equal(t, 3, embedder.calls)
}

func TestRetryOnTransientFailure(t *testing.T) {
	cfg := testConfig()
	embedder := &flakyEmbedder{failures: 2, transient: true}
	p := NewProvider(embedder, nil, &cfg)

	vec, err := p.Embed(context.Background(), "eventually works", TierFull)
	require.NoError(t, err)
	assert.Len(t, vec, 64)
	assert.Equal(t, 3, embedder.calls)
}

func TestNoRetryOnPermanentFailure(t *testing.T) {
	cfg := testConfig()
	embedder := &flakyEmbedder{failures: 10, transient: false}
	p := NewProvider(embedder, nil, &cfg)

	_, err := p.Embed(context.Background(), "never works", TierFull)
	require.Error(t, err)
	assert.Equal(t, apperr.KindEmbeddingUnavailable, apperr.KindOf(err))
	assert.Equal(t, 1, embedder.calls)
}

func TestRetriesExhausted(t *testing.T) {
	cfg := testConfig()
	embedder := &flakyEmbedder{failures: 10, transient: true}
	p := NewProvider(embedder, nil, &cfg)

	_, err := p.Embed(context.Background(), "always down", TierFull)
	require.Error(t, err)
	assert.Equal(t, apperr.KindEmbeddingUnavailable, apperr.KindOf(err))
	assert.Equal(t, cfg.EmbedMaxAttempts, embedder.calls)
}

func TestCompressTruncatesAndRenormalizes(t *testing.T) {
	full := []float32{3, 4, 100, 100}
	out := Compress(full, 2)
	require.Len(t, out, 2)

	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
	// Direction preserved: 3-4-5 triangle.
	assert.InDelta(t, 0.6, float64(out[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(out[1]), 1e-6)
}

func TestCompressShortVectorCopied(t *testing.T) {
	full := []float32{1, 2}
	out := Compress(full, 8)
	assert.Equal(t, full, out)
	out[0] = 9
	assert.Equal(t, float32(1), full[0])
}

func TestCosineSimilarityClamped(t *testing.T) {
	assert.Equal(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
	assert.InDelta(t, math.Sqrt2/2, CosineSimilarity([]float32{1, 0}, []float32{1, 1}), 1e-9)
}
