// Package lookup caches record and profile dereferences for the length of a
// run. Negative answers are cached too, so a deleted post referenced by many
// likes is looked up once.
package lookup

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/blackmichael/bsky-collect/internal/domain"
)

// DefaultSize is the number of entries kept per cache.
const DefaultSize = 1024

type entry[V any] struct {
	value *V
	found bool
}

// cache is a bounded LRU with in-flight de-duplication. Errors are never
// cached.
type cache[V any] struct {
	entries *lru.Cache[string, entry[V]]
	group   singleflight.Group
	fetch   func(ctx context.Context, key string) (*V, bool, error)

	hits, misses func()
}

func newCache[V any](size int, fetch func(context.Context, string) (*V, bool, error)) (*cache[V], error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &cache[V]{entries: entries, fetch: fetch, hits: func() {}, misses: func() {}}, nil
}

func (c *cache[V]) get(ctx context.Context, key string) (*V, bool, error) {
	if e, ok := c.entries.Get(key); ok {
		c.hits()
		return e.value, e.found, nil
	}
	c.misses()

	v, err, _ := c.group.Do(key, func() (any, error) {
		value, found, err := c.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		e := entry[V]{value: value, found: found}
		c.entries.Add(key, e)
		return e, nil
	})
	if err != nil {
		return nil, false, err
	}
	e := v.(entry[V])
	return e.value, e.found, nil
}

// Observer counts cache traffic.
type Observer interface {
	CacheHit(cache string)
	CacheMiss(cache string)
}

// Records is a cached domain.RecordLookup.
type Records struct {
	c *cache[domain.PostView]
}

// NewRecords wraps next with an LRU of size entries.
func NewRecords(next domain.RecordLookup, size int, obs Observer) (*Records, error) {
	c, err := newCache(size, next.GetRecord)
	if err != nil {
		return nil, err
	}
	observe(c, "records", obs)
	return &Records{c: c}, nil
}

// GetRecord implements domain.RecordLookup.
func (r *Records) GetRecord(ctx context.Context, uri string) (*domain.PostView, bool, error) {
	return r.c.get(ctx, uri)
}

// Len returns the number of cached entries.
func (r *Records) Len() int { return r.c.entries.Len() }

// Profiles is a cached domain.ProfileLookup.
type Profiles struct {
	c *cache[domain.Profile]
}

// NewProfiles wraps next with an LRU of size entries.
func NewProfiles(next domain.ProfileLookup, size int, obs Observer) (*Profiles, error) {
	c, err := newCache(size, next.GetProfile)
	if err != nil {
		return nil, err
	}
	observe(c, "profiles", obs)
	return &Profiles{c: c}, nil
}

// GetProfile implements domain.ProfileLookup.
func (p *Profiles) GetProfile(ctx context.Context, actor string) (*domain.Profile, bool, error) {
	return p.c.get(ctx, actor)
}

// Len returns the number of cached entries.
func (p *Profiles) Len() int { return p.c.entries.Len() }

func observe[V any](c *cache[V], name string, obs Observer) {
	if obs == nil {
		return
	}
	c.hits = func() { obs.CacheHit(name) }
	c.misses = func() { obs.CacheMiss(name) }
}
