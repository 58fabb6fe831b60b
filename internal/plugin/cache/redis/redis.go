package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fedmem/federated-memory/internal/config"
	registrycache "github.com/fedmem/federated-memory/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "fm:embed:"

// Cached vectors are immutable for a model version, so a long TTL is safe.
const entryTTL = 7 * 24 * time.Hour

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.VectorCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: REDIS_URL is required")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &Cache{client: client}, nil
}

// Cache is a shared embedding cache backed by redis, for multi-replica deployments.
type Cache struct {
	client *goredis.Client
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			log.Debug("redis cache get failed", "err", err)
		}
		return nil, false
	}
	if len(raw)%4 != 0 {
		return nil, false
	}
	vector := make([]float32, len(raw)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vector, true
}

func (c *Cache) Set(ctx context.Context, key string, vector []float32) {
	raw := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, entryTTL).Err(); err != nil {
		log.Debug("redis cache set failed", "err", err)
	}
}

var _ registrycache.VectorCache = (*Cache)(nil)
