package tts

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Cached wraps a Provider and memoizes results by voice and text.
// Concurrent requests for the same text share one synthesis.
type Cached struct {
	provider Provider
	cache    *cache.Cache
	group    singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// NewCached creates a caching provider. Entries expire after ttl.
func NewCached(p Provider, ttl time.Duration) *Cached {
	return &Cached{
		provider: p,
		cache:    cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) key(text string) string {
	if v, ok := c.provider.(Voicer); ok {
		return v.Voice() + "\x00" + text
	}
	return text
}

// Synthesize returns a cached result or synthesizes and stores a new one.
// Errors are never cached.
func (c *Cached) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	key := c.key(text)
	if v, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return v.(*AudioResult), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.cache.Get(key); ok {
			c.hits.Add(1)
			return v, nil
		}
		c.misses.Add(1)
		res, err := c.provider.Synthesize(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, res)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*AudioResult), nil
}

// Health delegates to the wrapped provider.
func (c *Cached) Health(ctx context.Context) error {
	return c.provider.Health(ctx)
}

// Close flushes the cache and closes the wrapped provider.
func (c *Cached) Close() error {
	c.cache.Flush()
	return c.provider.Close()
}

// Stats returns hit and miss counts.
func (c *Cached) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.cache.ItemCount(),
	}
}

var _ Provider = (*Cached)(nil)
