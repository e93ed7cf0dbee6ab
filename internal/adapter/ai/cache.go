package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arturoeanton/go-git-rag/internal/metrics"
	"github.com/arturoeanton/go-git-rag/internal/port"
)

// CachedEmbedder keeps recent embeddings in an LRU keyed by the text digest.
// Only successful results are cached.
type CachedEmbedder struct {
	inner   port.Embedder
	cache   *lru.Cache[string, []float32]
	metrics *metrics.Metrics
}

// NewCachedEmbedder wraps inner with an LRU of the given size.
func NewCachedEmbedder(inner port.Embedder, size int, m *metrics.Metrics) (*CachedEmbedder, error) {
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache, metrics: m}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns a cached vector or asks the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		c.observe("hit", 1)
		return vec, nil
	}
	c.observe("miss", 1)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch serves hits from the cache and embeds the misses in one wrapped call.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	c.observe("hit", len(texts)-len(missTexts))
	c.observe("miss", len(missTexts))

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", port.ErrEmbeddingProvider, len(vectors), len(missTexts))
	}
	for j, vec := range vectors {
		out[missIdx[j]] = vec
		c.cache.Add(cacheKey(missTexts[j]), vec)
	}
	return out, nil
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

func (c *CachedEmbedder) observe(result string, n int) {
	if c.metrics == nil || n == 0 {
		return
	}
	c.metrics.EmbedCacheLookups.WithLabelValues(result).Add(float64(n))
}
