// Package embed defines the embedding provider contract and a bounded
// in-process cache usable with any provider.
package embed

import (
	"context"
	"sync"

	"github.com/dhaniverse/contrag/internal/errs"
)

// Embedder generates vector embeddings for batches of text. The returned
// slice is index-aligned with the input. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Name identifies the provider ("openai").
	Name() string

	// Embed returns one embedding per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the width of the vectors this embedder produces.
	Dimensions() int
}

// Cached wraps an Embedder with a size-bounded text→vector cache.
// Repeated builds of overlapping graphs share a lot of identical chunks;
// caching them cuts provider round-trips.
type Cached struct {
	inner   Embedder
	maxSize int

	mu    sync.Mutex
	cache map[string][]float32
}

// NewCached wraps inner with a cache holding at most maxSize entries.
func NewCached(inner Embedder, maxSize int) *Cached {
	return &Cached{
		inner:   inner,
		maxSize: maxSize,
		cache:   make(map[string][]float32, maxSize),
	}
}

func (c *Cached) Name() string    { return c.inner.Name() }
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Embed serves cache hits locally and forwards only the misses to the
// wrapped embedder, preserving input order in the result.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	var missTexts []string
	var missIdx []int

	c.mu.Lock()
	for i, text := range texts {
		if vec, ok := c.cache[text]; ok {
			results[i] = vec
		} else {
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
		}
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missTexts) {
		return nil, errs.Newf(errs.ErrKindUnavailable,
			"embedding response count mismatch: sent %d texts, got %d vectors",
			len(missTexts), len(embedded))
	}

	c.mu.Lock()
	for i, vec := range embedded {
		results[missIdx[i]] = vec
		if len(c.cache) >= c.maxSize {
			// Bounded cache: evict an arbitrary entry.
			for k := range c.cache {
				delete(c.cache, k)
				break
			}
		}
		c.cache[missTexts[i]] = vec
	}
	c.mu.Unlock()

	return results, nil
}
