package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/redish/redish/internal/record"
)

// DefaultMaxEntries is the memtable entry-count threshold used when none
// is configured: once the number of distinct keys held reaches this
// many, the Tree freezes the memtable and starts a fresh one.
const DefaultMaxEntries = 10_000

// MemTable is the engine's mutable write buffer: an ordered skip list of
// records keyed by user key, where a write to an existing key overwrites
// its node in place — "newest wins" is enforced by the caller only ever
// calling Put with a freshly assigned sequence number, never by keeping
// multiple versions of the same key resident.
//
// Put requires external synchronization (the engine's single write lock);
// Get and iteration require none.
type MemTable struct {
	skiplist *SkipList
	compare  Comparator

	maxEntries int64

	// frozen marks a memtable that the Tree has swapped out of the
	// mutable slot; it becomes read-only and is flushed in background.
	frozen atomic.Bool

	mu sync.Mutex
}

// New creates an empty, mutable memtable. A non-positive maxEntries falls
// back to DefaultMaxEntries.
func New(maxEntries int64) *MemTable {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemTable{
		skiplist:   NewSkipList(BytewiseComparator),
		compare:    BytewiseComparator,
		maxEntries: maxEntries,
	}
}

// Put inserts or overwrites rec under rec.Key.
// REQUIRES: external synchronization with other Put calls, and that this
// memtable has not been frozen.
func (mt *MemTable) Put(rec *record.Record) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.skiplist.Put(rec)
}

// Get returns the record stored for key, if this memtable has one.
func (mt *MemTable) Get(key []byte) (*record.Record, bool) {
	return mt.skiplist.Get(key)
}

// Count returns the number of distinct keys held (including tombstones).
func (mt *MemTable) Count() int64 {
	return mt.skiplist.Count()
}

// ApproximateBytes returns the estimated resident size of all keys and
// values currently held.
func (mt *MemTable) ApproximateBytes() int64 {
	return mt.skiplist.ApproximateBytes()
}

// ShouldFreeze reports whether the memtable has reached its configured
// entry-count capacity and should be swapped out for a fresh one.
func (mt *MemTable) ShouldFreeze() bool {
	return mt.Count() >= mt.maxEntries
}

// Freeze marks the memtable as immutable. Idempotent.
func (mt *MemTable) Freeze() {
	mt.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (mt *MemTable) Frozen() bool {
	return mt.frozen.Load()
}

// NewIterator returns an iterator over every record in ascending key
// order, including tombstones — callers decide visibility and
// tombstone handling (flush keeps tombstones, point reads skip past
// nothing since Get already resolves the winner).
func (mt *MemTable) NewIterator() *Iterator {
	return mt.skiplist.NewIterator()
}
