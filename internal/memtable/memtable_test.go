package memtable

import (
	"testing"

	"github.com/redish/redish/internal/record"
)

func TestMemTablePutGet(t *testing.T) {
	mt := New(0)
	mt.Put(&record.Record{Key: []byte("k"), Value: []byte("v"), Sequence: 1})

	rec, ok := mt.Get([]byte("k"))
	if !ok || string(rec.Value) != "v" {
		t.Fatalf("expected hit with value v, got %+v ok=%v", rec, ok)
	}
	if _, ok := mt.Get([]byte("missing")); ok {
		t.Fatal("expected miss")
	}
}

func TestMemTableTombstoneShadowsOlderValue(t *testing.T) {
	mt := New(0)
	mt.Put(&record.Record{Key: []byte("k"), Value: []byte("v"), Sequence: 1})
	mt.Put(&record.Record{Key: []byte("k"), Tombstone: true, Sequence: 2})

	rec, ok := mt.Get([]byte("k"))
	if !ok {
		t.Fatal("expected tombstone record to still be present in the memtable")
	}
	if !rec.Tombstone {
		t.Fatalf("expected newest record to be a tombstone, got %+v", rec)
	}
}

func TestMemTableApproximateBytesGrowsOnWrite(t *testing.T) {
	mt := New(0)
	before := mt.ApproximateBytes()
	mt.Put(&record.Record{Key: []byte("k"), Value: make([]byte, 1024)})
	after := mt.ApproximateBytes()
	if after <= before {
		t.Fatalf("expected ApproximateBytes to grow, before=%d after=%d", before, after)
	}
}

func TestMemTableShouldFreezeAtCapacity(t *testing.T) {
	mt := New(2)
	if mt.ShouldFreeze() {
		t.Fatal("empty memtable should not need freezing")
	}
	mt.Put(&record.Record{Key: []byte("a"), Value: []byte("1")})
	if mt.ShouldFreeze() {
		t.Fatal("memtable below its entry-count capacity should not need freezing")
	}
	mt.Put(&record.Record{Key: []byte("b"), Value: []byte("2")})
	if !mt.ShouldFreeze() {
		t.Fatal("expected ShouldFreeze once entry count reaches maxEntries")
	}
}

func TestMemTableFreezeIsIdempotentAndObservable(t *testing.T) {
	mt := New(0)
	if mt.Frozen() {
		t.Fatal("new memtable must not start frozen")
	}
	mt.Freeze()
	mt.Freeze()
	if !mt.Frozen() {
		t.Fatal("expected Frozen() true after Freeze()")
	}
}

func TestMemTableIteratorVisitsAllRecordsInKeyOrder(t *testing.T) {
	mt := New(0)
	mt.Put(&record.Record{Key: []byte("b"), Value: []byte("2")})
	mt.Put(&record.Record{Key: []byte("a"), Value: []byte("1")})
	mt.Put(&record.Record{Key: []byte("c"), Value: []byte("3")})

	it := mt.NewIterator()
	it.SeekToFirst()
	var keys []string
	for it.Valid() {
		keys = append(keys, string(it.Key()))
		it.Next()
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("got %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got %v, want %v", keys, want)
		}
	}
}
