package cache

import "github.com/redish/redish/internal/record"

// DefaultValueCacheEntries is the entry-count bound used when none is
// configured.
const DefaultValueCacheEntries = 200_000

// DefaultValueCacheBytes is the byte bound used when none is configured.
const DefaultValueCacheBytes = 200 * 1024 * 1024

// ValueCache caches the authoritative record most recently observed for a
// key on a successful read. It is bounded by both entry count and total
// value bytes — whichever limit is reached first drives eviction.
//
// Tombstones are never inserted: a negative read result is not cached, so
// a key deleted then re-written is never served a stale tombstone from
// cache. Put and Delete invalidate the cached entry for their key; a
// compaction merge never invalidates, since it does not change which
// value is authoritative for a live key.
type ValueCache struct {
	lru *LRU[string, *record.Record]
}

// NewValueCache creates a value cache bounded by maxEntries and
// maxBytes. A zero maxEntries or maxBytes falls back to the package
// defaults.
func NewValueCache(maxEntries int, maxBytes uint64) *ValueCache {
	if maxEntries == 0 {
		maxEntries = DefaultValueCacheEntries
	}
	if maxBytes == 0 {
		maxBytes = DefaultValueCacheBytes
	}
	return &ValueCache{lru: New[string, *record.Record](maxBytes, maxEntries)}
}

// Get returns the cached record for key, if present.
func (c *ValueCache) Get(key []byte) (*record.Record, bool) {
	return c.lru.Get(string(key))
}

// Insert caches rec under key, charged by the record's value length.
// Tombstones are silently ignored.
func (c *ValueCache) Insert(key []byte, rec *record.Record) {
	if rec == nil || rec.Tombstone {
		return
	}
	c.lru.Insert(string(key), rec, uint64(len(rec.Value)))
}

// Invalidate drops any cached entry for key. Called from Put and Delete so
// a superseded or removed value is never served from cache.
func (c *ValueCache) Invalidate(key []byte) {
	c.lru.Erase(string(key))
}

// Hits returns the number of cache hits observed so far.
func (c *ValueCache) Hits() uint64 { return c.lru.HitCount() }

// Misses returns the number of cache misses observed so far.
func (c *ValueCache) Misses() uint64 { return c.lru.MissCount() }

// HitRate returns Hits / (Hits + Misses), or 0 if no lookup has occurred.
func (c *ValueCache) HitRate() float64 { return c.lru.HitRate() }

// Len returns the number of records currently cached.
func (c *ValueCache) Len() int { return c.lru.Len() }
