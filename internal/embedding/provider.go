// Package embedding produces the two vector tiers used by the system: full
// resolution vectors for module tables and compressed vectors for the central
// memory index.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fedmem/federated-memory/internal/apperr"
	"github.com/fedmem/federated-memory/internal/config"
	registrycache "github.com/fedmem/federated-memory/internal/registry/cache"
	registryembed "github.com/fedmem/federated-memory/internal/registry/embed"
	"github.com/fedmem/federated-memory/internal/security"
	"golang.org/x/sync/singleflight"
)

// Tier selects the vector resolution.
type Tier string

const (
	TierFull       Tier = "full"
	TierCompressed Tier = "compressed"
)

// Compression function names. A deployment picks exactly one; mixing schemes
// would make CMI vectors incomparable.
const (
	CompressionTruncate = "truncate"
	CompressionNative   = "native"
)

// Provider embeds texts with caching, in-flight coalescing, and bounded retry.
type Provider struct {
	embedder      registryembed.Embedder
	cache         registrycache.VectorCache
	sf            singleflight.Group
	fullDim       int
	compressedDim int
	compression   string
	timeout       time.Duration
	maxAttempts   int
}

// NewProvider builds a Provider from config. The cache may be nil.
func NewProvider(embedder registryembed.Embedder, cache registrycache.VectorCache, cfg *config.Config) *Provider {
	return &Provider{
		embedder:      embedder,
		cache:         cache,
		fullDim:       cfg.EmbeddingDimensionFull,
		compressedDim: cfg.EmbeddingDimensionCompressed,
		compression:   cfg.EmbeddingCompression,
		timeout:       cfg.EmbedTimeout,
		maxAttempts:   cfg.EmbedMaxAttempts,
	}
}

// Dimension returns the vector dimension of a tier.
func (p *Provider) Dimension(tier Tier) int {
	if tier == TierCompressed {
		return p.compressedDim
	}
	return p.fullDim
}

// CacheKey is sha256(text) ⊕ tier ⊕ model version. Identical inputs yield
// identical vectors for the lifetime of a cache entry.
func (p *Provider) CacheKey(text string, tier Tier) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:]) + ":" + string(tier) + ":" + p.embedder.ModelName()
}

// Embed returns the vector for one text at the given tier. Concurrent calls
// for the same cache key are coalesced into a single upstream request.
func (p *Provider) Embed(ctx context.Context, text string, tier Tier) ([]float32, error) {
	key := p.CacheKey(text, tier)
	if vec := p.cacheGet(ctx, key); vec != nil {
		return vec, nil
	}

	result, err, _ := p.sf.Do(key, func() (any, error) {
		if vec := p.cacheGet(ctx, key); vec != nil {
			return vec, nil
		}
		vecs, err := p.embedTier(ctx, []string{text}, tier)
		if err != nil {
			return nil, err
		}
		p.cacheSet(ctx, key, vecs[0])
		return vecs[0], nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// EmbedBatch embeds many texts at once. A lone cache miss is routed through
// Embed so it coalesces with concurrent single-text callers; multi-miss
// batches go upstream as one uncoalesced request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string, tier Tier) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec := p.cacheGet(ctx, p.CacheKey(text, tier)); vec != nil {
			results[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}
	if len(missing) == 1 {
		vec, err := p.Embed(ctx, missing[0], tier)
		if err != nil {
			return nil, err
		}
		results[missingIdx[0]] = vec
		return results, nil
	}

	vecs, err := p.embedTier(ctx, missing, tier)
	if err != nil {
		return nil, err
	}
	for j, i := range missingIdx {
		results[i] = vecs[j]
		p.cacheSet(ctx, p.CacheKey(texts[i], tier), vecs[j])
	}
	return results, nil
}

// embedTier produces tier vectors. With truncate compression the compressed
// tier is derived from the full vector so both tiers share one upstream call.
func (p *Provider) embedTier(ctx context.Context, texts []string, tier Tier) ([][]float32, error) {
	if tier == TierCompressed && p.compression == CompressionTruncate {
		full, err := p.embedWithRetry(ctx, texts, p.fullDim)
		if err != nil {
			return nil, err
		}
		out := make([][]float32, len(full))
		for i, vec := range full {
			out[i] = Compress(vec, p.compressedDim)
		}
		return out, nil
	}
	return p.embedWithRetry(ctx, texts, p.Dimension(tier))
}

func (p *Provider) embedWithRetry(ctx context.Context, texts []string, dimension int) ([][]float32, error) {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		vecs, err := p.embedder.EmbedTexts(attemptCtx, texts, dimension)
		cancel()
		if err == nil {
			if err := checkDimensions(vecs, dimension); err != nil {
				return nil, err
			}
			return vecs, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTransient(err) {
			break
		}
		if attempt < p.maxAttempts {
			log.Warn("Embedding attempt failed; retrying", "attempt", attempt, "err", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, apperr.Wrap(apperr.KindEmbeddingUnavailable, "embedding provider exhausted retries", lastErr)
}

func checkDimensions(vecs [][]float32, dimension int) error {
	for _, vec := range vecs {
		if len(vec) != dimension {
			return apperr.Newf(apperr.KindInvalidArgument, "embedding dimension mismatch: want %d, got %d", dimension, len(vec))
		}
	}
	return nil
}

// isTransient reports whether an upstream failure is worth retrying.
// Embedder backends mark retryable failures with a Transient() method.
func isTransient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (p *Provider) cacheGet(ctx context.Context, key string) []float32 {
	if p.cache == nil || !p.cache.Available() {
		return nil
	}
	if vec, ok := p.cache.Get(ctx, key); ok {
		security.ObserveEmbeddingCache(true)
		return vec
	}
	security.ObserveEmbeddingCache(false)
	return nil
}

func (p *Provider) cacheSet(ctx context.Context, key string, vec []float32) {
	if p.cache == nil || !p.cache.Available() {
		return
	}
	p.cache.Set(ctx, key, vec)
}

// Compress deterministically derives a lower-dimension vector by truncation
// followed by L2 renormalization.
func Compress(full []float32, dimension int) []float32 {
	if len(full) <= dimension {
		out := make([]float32, len(full))
		copy(out, full)
		return out
	}
	out := make([]float32, dimension)
	copy(out, full[:dimension])
	norm := float32(0)
	for _, v := range out {
		norm += v * v
	}
	if norm == 0 {
		return out
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// CosineSimilarity computes the cosine similarity of two vectors, clamped to
// [0, 1] to match the score reported by the vector stores.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
