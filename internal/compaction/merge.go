package compaction

import (
	"bytes"
	"container/heap"

	"github.com/redish/redish/internal/record"
	"github.com/redish/redish/internal/sstable"
)

// mergeIterator performs a k-way merge over a compaction cohort's table
// iterators, surfacing records ordered by (key ascending, sequence
// descending) so the newest write for a key always comes first — the
// caller then only needs to keep the first record seen per key and
// skip the rest. Grounded on the teacher's
// internal/iterator.MergingIterator heap-based merge, adapted from its
// internal-key comparator (which interleaves the sequence into the key
// bytes) to redish's plain Record.Sequence field.
type mergeIterator struct {
	sources []*sstable.Iterator
	h       mergeHeap
	current int
	err     error
}

func newMergeIterator(sources []*sstable.Iterator) *mergeIterator {
	mi := &mergeIterator{sources: sources, current: -1}
	for _, s := range sources {
		s.SeekToFirst()
	}
	mi.rebuildHeap()
	return mi
}

func (mi *mergeIterator) rebuildHeap() {
	mi.h = mi.h[:0]
	for i, s := range mi.sources {
		if s.Valid() {
			mi.h = append(mi.h, i)
		}
	}
	heap.Init(&heapView{mi})
	mi.settle()
}

func (mi *mergeIterator) settle() {
	if len(mi.h) == 0 {
		mi.current = -1
		return
	}
	mi.current = mi.h[0]
}

// Valid reports whether the iterator is positioned at a record.
func (mi *mergeIterator) Valid() bool { return mi.current >= 0 }

// Record returns the record at the current position.
func (mi *mergeIterator) Record() *record.Record {
	if !mi.Valid() {
		return nil
	}
	return mi.sources[mi.current].Record()
}

// Next advances past the current record.
func (mi *mergeIterator) Next() {
	if !mi.Valid() {
		return
	}
	it := mi.sources[mi.current]
	it.Next()
	if err := it.Err(); err != nil {
		mi.err = err
		mi.current = -1
		return
	}
	if it.Valid() {
		heap.Fix(&heapView{mi}, 0)
	} else {
		heap.Pop(&heapView{mi})
	}
	mi.settle()
}

// Err returns the first error encountered by any source iterator.
func (mi *mergeIterator) Err() error { return mi.err }

// mergeHeap holds indices into mergeIterator.sources.
type mergeHeap []int

// heapView adapts mergeIterator to container/heap.Interface; it exists
// so Less can compare by (key, sequence) using the live record of each
// source rather than a stored copy.
type heapView struct{ mi *mergeIterator }

func (v *heapView) Len() int { return len(v.mi.h) }

func (v *heapView) Less(i, j int) bool {
	a := v.mi.sources[v.mi.h[i]].Record()
	b := v.mi.sources[v.mi.h[j]].Record()
	c := bytes.Compare(a.Key, b.Key)
	if c != 0 {
		return c < 0
	}
	return a.Sequence > b.Sequence
}

func (v *heapView) Swap(i, j int) { v.mi.h[i], v.mi.h[j] = v.mi.h[j], v.mi.h[i] }

func (v *heapView) Push(x any) { v.mi.h = append(v.mi.h, x.(int)) }

func (v *heapView) Pop() any {
	old := v.mi.h
	n := len(old)
	x := old[n-1]
	v.mi.h = old[:n-1]
	return x
}
