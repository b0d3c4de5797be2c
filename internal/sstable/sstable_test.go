package sstable

import (
	"fmt"
	"testing"

	"github.com/redish/redish/internal/compress"
	"github.com/redish/redish/internal/record"
)

func rec(key, value string, seq uint64) *record.Record {
	return &record.Record{
		Key:       []byte(key),
		Value:     []byte(value),
		CreatedAt: 1000,
		TTLMillis: record.NoTTL,
		Sequence:  seq,
	}
}

func buildTable(t *testing.T, opts WriterOptions, recs []*record.Record) []byte {
	t.Helper()
	w := NewWriter(opts)
	for _, r := range recs {
		if err := w.Add(r); err != nil {
			t.Fatalf("Add(%q): %v", r.Key, err)
		}
	}
	data, err := w.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return data
}

func TestWriteReadRoundTrip(t *testing.T) {
	recs := []*record.Record{
		rec("a", "1", 1),
		rec("b", "2", 2),
		rec("c", "3", 3),
	}
	data := buildTable(t, WriterOptions{}, recs)

	r, err := Open(data, 1, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.EntryCount() != 3 {
		t.Fatalf("EntryCount = %d, want 3", r.EntryCount())
	}
	if string(r.MinKey()) != "a" || string(r.MaxKey()) != "c" {
		t.Fatalf("min/max key = %q/%q", r.MinKey(), r.MaxKey())
	}

	for _, want := range recs {
		got, ok, err := r.Get(want.Key)
		if err != nil {
			t.Fatalf("Get(%q): %v", want.Key, err)
		}
		if !ok {
			t.Fatalf("Get(%q): not found", want.Key)
		}
		if string(got.Value) != string(want.Value) {
			t.Fatalf("Get(%q) = %q, want %q", want.Key, got.Value, want.Value)
		}
	}

	if _, ok, err := r.Get([]byte("missing")); err != nil || ok {
		t.Fatalf("Get(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestGetTombstone(t *testing.T) {
	recs := []*record.Record{
		{Key: []byte("k"), Tombstone: true, CreatedAt: 1, TTLMillis: record.NoTTL, Sequence: 5},
	}
	data := buildTable(t, WriterOptions{}, recs)
	r, err := Open(data, 1, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, ok, err := r.Get([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Get(k) = (_, %v, %v)", ok, err)
	}
	if !got.Tombstone {
		t.Fatalf("Tombstone = false, want true")
	}
}

func TestAddRejectsOutOfOrderKeys(t *testing.T) {
	w := NewWriter(WriterOptions{})
	if err := w.Add(rec("b", "1", 1)); err != nil {
		t.Fatalf("Add(b): %v", err)
	}
	if err := w.Add(rec("a", "2", 2)); err == nil {
		t.Fatalf("Add(a) after Add(b): want error, got nil")
	}
}

func TestMultiBlockTable(t *testing.T) {
	const n = 500
	recs := make([]*record.Record, n)
	for i := range n {
		recs[i] = rec(fmt.Sprintf("key-%05d", i), fmt.Sprintf("value-%05d-padding", i), uint64(i))
	}
	data := buildTable(t, WriterOptions{BlockSize: 256}, recs)

	r, err := Open(data, 7, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(r.index.Entries) < 2 {
		t.Fatalf("expected multiple blocks, got %d", len(r.index.Entries))
	}
	for _, want := range recs {
		got, ok, err := r.Get(want.Key)
		if err != nil || !ok {
			t.Fatalf("Get(%q) = (_, %v, %v)", want.Key, ok, err)
		}
		if string(got.Value) != string(want.Value) {
			t.Fatalf("Get(%q) = %q, want %q", want.Key, got.Value, want.Value)
		}
	}
}

func TestIteratorVisitsAllInOrder(t *testing.T) {
	const n = 200
	recs := make([]*record.Record, n)
	for i := range n {
		recs[i] = rec(fmt.Sprintf("key-%05d", i), fmt.Sprintf("v%d", i), uint64(i))
	}
	data := buildTable(t, WriterOptions{BlockSize: 256}, recs)
	r, err := Open(data, 1, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	it := r.NewIterator()
	it.SeekToFirst()
	count := 0
	var prev []byte
	for it.Valid() {
		if prev != nil && string(it.Record().Key) <= string(prev) {
			t.Fatalf("iterator out of order at %q after %q", it.Record().Key, prev)
		}
		prev = append([]byte(nil), it.Record().Key...)
		count++
		it.Next()
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if count != n {
		t.Fatalf("iterated %d records, want %d", count, n)
	}
}

func TestCompressedTable(t *testing.T) {
	for _, typ := range []compress.Type{compress.None, compress.LZ4, compress.Zstd, compress.Snappy} {
		typ := typ
		t.Run(typ.String(), func(t *testing.T) {
			recs := []*record.Record{rec("a", "hello world hello world", 1), rec("b", "another value here", 2)}
			data := buildTable(t, WriterOptions{Compressor: compress.Config{Type: typ}}, recs)
			r, err := Open(data, 1, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			got, ok, err := r.Get([]byte("a"))
			if err != nil || !ok {
				t.Fatalf("Get(a) = (_, %v, %v)", ok, err)
			}
			if string(got.Value) != "hello world hello world" {
				t.Fatalf("Get(a) = %q", got.Value)
			}
		})
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	data := buildTable(t, WriterOptions{}, []*record.Record{rec("a", "1", 1)})
	corrupt := append([]byte(nil), data...)
	corrupt[0] ^= 0xFF
	if _, err := Open(corrupt, 1, nil); err == nil {
		t.Fatalf("Open with bad magic: want error, got nil")
	}
}

func TestOpenRejectsCorruptFooter(t *testing.T) {
	data := buildTable(t, WriterOptions{}, []*record.Record{rec("a", "1", 1)})
	corrupt := append([]byte(nil), data...)
	corrupt[len(corrupt)-8] ^= 0xFF // flip a byte inside footer_crc
	if _, err := Open(corrupt, 1, nil); err == nil {
		t.Fatalf("Open with corrupt footer: want error, got nil")
	}
}

func TestBloomShortCircuitsMiss(t *testing.T) {
	recs := []*record.Record{rec("present", "v", 1)}
	data := buildTable(t, WriterOptions{}, recs)
	r, err := Open(data, 1, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.MayContain([]byte("present")) == false {
		t.Fatalf("MayContain(present) = false, want true")
	}
	_, ok, err := r.Get([]byte("definitely-absent-key"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("Get(absent) = true, want false")
	}
}
