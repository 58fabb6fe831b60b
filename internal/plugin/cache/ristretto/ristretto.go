package ristretto

import (
	"context"

	"github.com/dgraph-io/ristretto/v2"
	registrycache "github.com/fedmem/federated-memory/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "ristretto",
		Loader: load,
	})
}

func load(_ context.Context) (registrycache.VectorCache, error) {
	// Cost is the vector byte size; budget roughly 256 MB of embeddings.
	c, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: 1e6,
		MaxCost:     256 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c}, nil
}

// Cache is an in-process embedding cache backed by ristretto.
type Cache struct {
	cache *ristretto.Cache[string, []float32]
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(_ context.Context, key string) ([]float32, bool) {
	return c.cache.Get(key)
}

func (c *Cache) Set(_ context.Context, key string, vector []float32) {
	c.cache.Set(key, vector, int64(len(vector)*4))
}

var _ registrycache.VectorCache = (*Cache)(nil)
