// Package cache is the bounded media cache the rendering layer reads
// through. Eviction is access-ordered LRU with a fixed entry cap, so a
// long session cannot grow the cache without bound the way an open-ended
// map would.
package cache

import (
	"context"
	"sync/atomic"

	"driftcanvas/client/localstore"

	lru "github.com/hashicorp/golang-lru/v2"
)

type media struct {
	data     []byte
	duration float64
}

// MediaCache caches decoded media bytes by element id and counts hits and
// misses for the stats overlay.
type MediaCache struct {
	entries *lru.Cache[string, media]
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(size int) (*MediaCache, error) {
	entries, err := lru.New[string, media](size)
	if err != nil {
		return nil, err
	}
	return &MediaCache{entries: entries}, nil
}

func (c *MediaCache) get(id string) (media, bool) {
	m, ok := c.entries.Get(id)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return m, ok
}

func (c *MediaCache) add(id string, m media) {
	c.entries.Add(id, m)
}

// Remove drops one entry, for example after its element is deleted.
func (c *MediaCache) Remove(id string) {
	c.entries.Remove(id)
}

func (c *MediaCache) Len() int {
	return c.entries.Len()
}

// Stats returns cumulative hit and miss counts.
func (c *MediaCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Loader reads media through the cache, falling back to the local store
// and populating the cache on the way out. Missing media stays a defined
// miss; the renderer shows a placeholder.
type Loader struct {
	cache *MediaCache
	store *localstore.Store
}

func NewLoader(store *localstore.Store, size int) (*Loader, error) {
	c, err := New(size)
	if err != nil {
		return nil, err
	}
	return &Loader{cache: c, store: store}, nil
}

// Image returns the cached or stored image bytes for id.
func (l *Loader) Image(ctx context.Context, id string) ([]byte, bool) {
	if m, ok := l.cache.get(id); ok {
		return m.data, true
	}
	data, ok, err := l.store.Image(ctx, id)
	if err != nil || !ok {
		return nil, false
	}
	l.cache.add(id, media{data: data})
	return data, true
}

// Video returns the cached or stored video bytes and duration for id.
func (l *Loader) Video(ctx context.Context, id string) ([]byte, float64, bool) {
	if m, ok := l.cache.get(id); ok {
		return m.data, m.duration, true
	}
	data, duration, ok, err := l.store.Video(ctx, id)
	if err != nil || !ok {
		return nil, 0, false
	}
	l.cache.add(id, media{data: data, duration: duration})
	return data, duration, true
}

// Invalidate drops id from the cache so the next read goes to the store.
func (l *Loader) Invalidate(id string) {
	l.cache.Remove(id)
}

// Stats exposes the underlying cache counters.
func (l *Loader) Stats() (hits, misses int64) {
	return l.cache.Stats()
}
