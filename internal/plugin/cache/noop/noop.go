package noop

import (
	"context"

	registrycache "github.com/fedmem/federated-memory/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "none",
		Loader: func(_ context.Context) (registrycache.VectorCache, error) {
			return Cache{}, nil
		},
	})
}

// Cache is a no-op embedding cache.
type Cache struct{}

func (Cache) Available() bool                                { return false }
func (Cache) Get(_ context.Context, _ string) ([]float32, bool) { return nil, false }
func (Cache) Set(_ context.Context, _ string, _ []float32)   {}

var _ registrycache.VectorCache = Cache{}
