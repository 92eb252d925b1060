package search

import (
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheSize = 128
	defaultCacheTTL  = 5 * time.Minute
)

type cacheEntry struct {
	results  *Results
	storedAt time.Time
}

// resultCache is an LRU of recent search results. Entries expire after the
// TTL and are evicted on access.
type resultCache struct {
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
	now func() time.Time
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		// lru.New only fails on a non-positive size, guarded above.
		panic(err)
	}
	return &resultCache{lru: cache, ttl: ttl, now: time.Now}
}

func (c *resultCache) get(key string) (*Results, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.results, true
}

func (c *resultCache) add(key string, res *Results) {
	c.lru.Add(key, cacheEntry{results: res, storedAt: c.now()})
}

func (c *resultCache) clear() {
	c.lru.Purge()
}

func (c *resultCache) len() int {
	return c.lru.Len()
}

// cacheKey serialises the query and options into a deterministic key
func cacheKey(op, query string, opts Options) string {
	data, err := json.Marshal(struct {
		Query   string  `json:"query"`
		Options Options `json:"options"`
	}{query, opts})
	if err != nil {
		return fmt.Sprintf("%s:%s", op, query)
	}
	return fmt.Sprintf("%s:%s", op, data)
}
