package memtable

import (
	"fmt"
	"testing"

	"github.com/redish/redish/internal/record"
)

func TestSkipListPutAndGet(t *testing.T) {
	sl := NewSkipList(nil)
	sl.Put(&record.Record{Key: []byte("b"), Value: []byte("2"), Sequence: 1})
	sl.Put(&record.Record{Key: []byte("a"), Value: []byte("1"), Sequence: 2})
	sl.Put(&record.Record{Key: []byte("c"), Value: []byte("3"), Sequence: 3})

	for _, tt := range []struct{ key, want string }{
		{"a", "1"}, {"b", "2"}, {"c", "3"},
	} {
		rec, ok := sl.Get([]byte(tt.key))
		if !ok || string(rec.Value) != tt.want {
			t.Fatalf("Get(%q) = %v, %v; want %q", tt.key, rec, ok, tt.want)
		}
	}
	if _, ok := sl.Get([]byte("missing")); ok {
		t.Fatal("expected miss for absent key")
	}
	if sl.Count() != 3 {
		t.Fatalf("expected count 3, got %d", sl.Count())
	}
}

func TestSkipListPutOverwritesInPlace(t *testing.T) {
	sl := NewSkipList(nil)
	sl.Put(&record.Record{Key: []byte("k"), Value: []byte("v1"), Sequence: 1})
	sl.Put(&record.Record{Key: []byte("k"), Value: []byte("v2"), Sequence: 2})

	if sl.Count() != 1 {
		t.Fatalf("expected overwrite to keep a single node, got count %d", sl.Count())
	}
	rec, ok := sl.Get([]byte("k"))
	if !ok || string(rec.Value) != "v2" || rec.Sequence != 2 {
		t.Fatalf("expected newest write to win, got %+v", rec)
	}
}

func TestSkipListIteratorOrdering(t *testing.T) {
	sl := NewSkipList(nil)
	keys := []string{"delta", "alpha", "charlie", "bravo"}
	for _, k := range keys {
		sl.Put(&record.Record{Key: []byte(k), Value: []byte(k)})
	}

	it := sl.NewIterator()
	it.SeekToFirst()
	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	want := []string{"alpha", "bravo", "charlie", "delta"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSkipListSeek(t *testing.T) {
	sl := NewSkipList(nil)
	for _, k := range []string{"a", "c", "e"} {
		sl.Put(&record.Record{Key: []byte(k), Value: []byte(k)})
	}

	it := sl.NewIterator()
	it.Seek([]byte("b"))
	if !it.Valid() || string(it.Key()) != "c" {
		t.Fatalf("expected Seek(b) to land on c, got %q valid=%v", it.Key(), it.Valid())
	}

	it.SeekForPrev([]byte("d"))
	if !it.Valid() || string(it.Key()) != "c" {
		t.Fatalf("expected SeekForPrev(d) to land on c, got %q valid=%v", it.Key(), it.Valid())
	}
}

func TestSkipListManyKeysStayOrdered(t *testing.T) {
	sl := NewSkipList(nil)
	const n = 2000
	for i := range n {
		k := fmt.Sprintf("key-%05d", i)
		sl.Put(&record.Record{Key: []byte(k), Value: []byte(k), Sequence: uint64(i)})
	}
	if sl.Count() != n {
		t.Fatalf("expected %d entries, got %d", n, sl.Count())
	}

	it := sl.NewIterator()
	it.SeekToFirst()
	prev := ""
	count := 0
	for it.Valid() {
		k := string(it.Key())
		if prev != "" && k <= prev {
			t.Fatalf("keys out of order: %q then %q", prev, k)
		}
		prev = k
		count++
		it.Next()
	}
	if count != n {
		t.Fatalf("iterator visited %d entries, want %d", count, n)
	}
}
