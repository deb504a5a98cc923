package videos

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	metadata Metadata
	expires  time.Time
}

// CachingProvider wraps another Provider with a TTL cache keyed by URL.
// Concurrent lookups of the same URL share one call to the base provider.
type CachingProvider struct {
	base Provider
	ttl  time.Duration

	mu       sync.RWMutex
	items    map[string]cacheEntry
	inflight singleflight.Group

	now func() time.Time
}

// NewCachingProvider returns a Provider that caches lookups for the provided TTL.
func NewCachingProvider(base Provider, ttl time.Duration) *CachingProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingProvider{
		base:  base,
		ttl:   ttl,
		items: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

func (c *CachingProvider) cached(url string, now time.Time) (Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.items[url]
	if !ok || !now.Before(entry.expires) {
		return Metadata{}, false
	}
	return entry.metadata, true
}

// Lookup returns cached metadata when available, otherwise it delegates to the
// underlying provider and stores the result. Failures are not cached.
func (c *CachingProvider) Lookup(ctx context.Context, url string) (Metadata, error) {
	if c == nil || c.base == nil {
		return Metadata{}, ErrProviderUnavailable
	}

	if meta, ok := c.cached(url, c.now()); ok {
		return meta, nil
	}

	v, err, _ := c.inflight.Do(url, func() (any, error) {
		meta, err := c.base.Lookup(ctx, url)
		if err != nil {
			return Metadata{}, err
		}
		c.store(url, meta)
		return meta, nil
	})
	if err != nil {
		return Metadata{}, err
	}
	return v.(Metadata), nil
}

func (c *CachingProvider) store(url string, meta Metadata) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, item := range c.items {
		if !now.Before(item.expires) {
			delete(c.items, key)
		}
	}
	c.items[url] = cacheEntry{metadata: meta, expires: now.Add(c.ttl)}
}

// Len reports how many entries are cached, including expired ones not yet swept.
func (c *CachingProvider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
