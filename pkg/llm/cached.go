package llm

import (
	"context"
	"time"

	"github.com/xhad/gamescout/internal/types"
	"github.com/xhad/gamescout/pkg/cache"
)

// CachedEmbedder memoizes single-text embeddings, which is where repeated
// live queries land. Batch calls pass straight through.
type CachedEmbedder struct {
	types.Embedder
	lru *cache.LRU[[]float32]
}

func NewCachedEmbedder(inner types.Embedder, size int, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		Embedder: inner,
		lru:      cache.NewLRU[[]float32](cache.LRUConfig{Capacity: size, TTL: ttl}),
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lru.Get(text); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Put(text, v)
	return v, nil
}
