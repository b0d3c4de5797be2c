package cache

import "github.com/redish/redish/internal/bloom"

// IndexEntry is the decoded, read-only SSTable metadata an index cache
// entry holds: the sparse key index and the bloom filter, both already
// parsed out of the footer so a cache hit skips the decode step entirely.
// Index is typed as any (rather than *sstable.Index) to avoid an import
// cycle, since internal/sstable is the package that populates this cache.
type IndexEntry struct {
	Index any
	Bloom *bloom.Filter
	Bytes uint64
}

// IndexCache caches decoded SSTable index + bloom-filter pairs keyed by
// the SSTable's generation number, charged by their decoded byte size.
// Default capacity is 100 MiB.
type IndexCache struct {
	lru *LRU[uint64, IndexEntry]
}

// DefaultIndexCacheBytes is the capacity used when none is configured.
const DefaultIndexCacheBytes = 100 * 1024 * 1024

// NewIndexCache creates an index cache bounded by capacityBytes. A
// non-positive capacityBytes falls back to DefaultIndexCacheBytes.
func NewIndexCache(capacityBytes uint64) *IndexCache {
	if capacityBytes == 0 {
		capacityBytes = DefaultIndexCacheBytes
	}
	return &IndexCache{lru: New[uint64, IndexEntry](capacityBytes, 0)}
}

// Get returns the cached index/bloom pair for generation, if present.
func (c *IndexCache) Get(generation uint64) (IndexEntry, bool) {
	return c.lru.Get(generation)
}

// Insert caches entry for generation, charged by entry.Bytes.
func (c *IndexCache) Insert(generation uint64, entry IndexEntry) {
	c.lru.Insert(generation, entry, entry.Bytes)
}

// Erase drops generation's cached entry, if any. Called when an SSTable is
// removed by compaction so a stale generation number is never reused
// against old cached metadata.
func (c *IndexCache) Erase(generation uint64) {
	c.lru.Erase(generation)
}

// Hits returns the number of cache hits observed so far.
func (c *IndexCache) Hits() uint64 { return c.lru.HitCount() }

// Misses returns the number of cache misses observed so far.
func (c *IndexCache) Misses() uint64 { return c.lru.MissCount() }

// HitRate returns Hits / (Hits + Misses), or 0 if no lookup has occurred.
func (c *IndexCache) HitRate() float64 { return c.lru.HitRate() }

// Usage returns the total decoded bytes currently cached.
func (c *IndexCache) Usage() uint64 { return c.lru.Usage() }
