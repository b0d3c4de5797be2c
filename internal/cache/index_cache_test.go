package cache

import "testing"

func TestIndexCacheInsertAndGet(t *testing.T) {
	ic := NewIndexCache(0)
	ic.Insert(7, IndexEntry{Bytes: 128})

	entry, ok := ic.Get(7)
	if !ok {
		t.Fatal("expected cache hit for generation 7")
	}
	if entry.Bytes != 128 {
		t.Fatalf("expected Bytes 128, got %d", entry.Bytes)
	}
}

func TestIndexCacheErase(t *testing.T) {
	ic := NewIndexCache(0)
	ic.Insert(1, IndexEntry{Bytes: 64})
	ic.Erase(1)

	if _, ok := ic.Get(1); ok {
		t.Fatal("expected generation 1 to be gone after Erase")
	}
}

func TestIndexCacheByteCapacityEviction(t *testing.T) {
	ic := NewIndexCache(10)
	ic.Insert(1, IndexEntry{Bytes: 6})
	ic.Insert(2, IndexEntry{Bytes: 6})

	if ic.Usage() > 10 {
		t.Fatalf("expected usage bounded by 10, got %d", ic.Usage())
	}
	if _, ok := ic.Get(1); ok {
		t.Fatal("expected generation 1 evicted once capacity exceeded")
	}
}

func TestIndexCacheHitMissCounters(t *testing.T) {
	ic := NewIndexCache(0)
	ic.Insert(1, IndexEntry{Bytes: 1})
	ic.Get(1)
	ic.Get(2)

	if ic.Hits() != 1 || ic.Misses() != 1 {
		t.Fatalf("expected 1 hit and 1 miss, got hits=%d misses=%d", ic.Hits(), ic.Misses())
	}
}
