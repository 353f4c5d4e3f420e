package marketplace

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"marketstats.shikanime.studio/internal/metrics"
)

// DefaultCacheSize bounds the number of publisher catalogs kept in memory.
const DefaultCacheSize = 256

// Cache stores publisher catalogs keyed by publisher id.
type Cache interface {
	Get(publisher string) ([]Extension, bool)
	Put(publisher string, extensions []Extension)
	// Invalidate drops the given publishers, or every entry when none is given.
	Invalidate(publishers ...string)
}

// LRUCache is a size-bounded Cache whose entries optionally expire.
type LRUCache struct {
	lru *expirable.LRU[string, []Extension]
}

var _ Cache = (*LRUCache)(nil)

// NewCache returns an LRUCache holding up to size catalogs.
// A zero ttl keeps entries until they are invalidated or evicted.
func NewCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &LRUCache{lru: expirable.NewLRU[string, []Extension](size, nil, ttl)}
}

func (c *LRUCache) Get(publisher string) ([]Extension, bool) {
	exts, ok := c.lru.Get(publisher)
	if ok {
		metrics.GatewayCacheHits.Inc()
	} else {
		metrics.GatewayCacheMisses.Inc()
	}
	return exts, ok
}

func (c *LRUCache) Put(publisher string, extensions []Extension) {
	c.lru.Add(publisher, extensions)
}

func (c *LRUCache) Invalidate(publishers ...string) {
	if len(publishers) == 0 {
		c.lru.Purge()
		return
	}
	for _, p := range publishers {
		c.lru.Remove(p)
	}
}

// Len reports the number of cached catalogs.
func (c *LRUCache) Len() int { return c.lru.Len() }
