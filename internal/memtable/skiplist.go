// Package memtable implements the engine's in-memory sorted write buffer:
// a lock-free-for-reads skip list of records. Point lookup is an
// O(log n) skip-list search, and a write to an existing key overwrites
// its node in place.
package memtable

import (
	"bytes"
	"math/rand"
	"sync/atomic"

	"github.com/redish/redish/internal/record"
)

const (
	// DefaultMaxHeight is the maximum height a skip list node may reach.
	DefaultMaxHeight = 12

	// DefaultBranchingFactor controls node height distribution: on
	// average 1/branchingFactor of nodes are promoted to the next level.
	DefaultBranchingFactor = 4
)

// Comparator compares two keys and returns negative/zero/positive for
// a<b, a==b, a>b respectively.
type Comparator func(a, b []byte) int

// BytewiseComparator orders keys by raw byte value.
func BytewiseComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

// skipNode holds one record. Among records sharing a key, only the
// newest survives in the skip list — Put overwrites node.rec in place
// rather than inserting a second node, so reads never need to pick the
// winner among same-key nodes themselves.
type skipNode struct {
	key []byte
	rec atomic.Pointer[record.Record]
	// next[i] is the next node at level i.
	next []*atomic.Pointer[skipNode]
}

func newSkipNode(key []byte, rec *record.Record, height int) *skipNode {
	node := &skipNode{
		key:  key,
		next: make([]*atomic.Pointer[skipNode], height),
	}
	node.rec.Store(rec)
	for i := range node.next {
		node.next[i] = &atomic.Pointer[skipNode]{}
	}
	return node
}

func (n *skipNode) getNext(level int) *skipNode {
	return n.next[level].Load()
}

func (n *skipNode) setNext(level int, node *skipNode) {
	n.next[level].Store(node)
}

// SkipList is a skip list of records ordered by key. Reads (Get, Contains,
// iteration) require no external synchronization; Put requires the caller
// to serialize concurrent writers (the engine's single write lock).
type SkipList struct {
	head      *skipNode
	maxHeight int32 // current max height, atomically accessed
	compare   Comparator
	rng       *rand.Rand

	kMaxHeight  int
	kBranching  int
	kScaledInvB uint32 // scaled inverse of branching factor

	count    int64
	memBytes int64 // approximate resident size, for freeze-on-capacity
}

// NewSkipList creates a skip list with the default height/branching and
// the bytewise comparator.
func NewSkipList(cmp Comparator) *SkipList {
	return NewSkipListWithParams(cmp, DefaultMaxHeight, DefaultBranchingFactor)
}

// NewSkipListWithParams creates a skip list with custom height/branching.
func NewSkipListWithParams(cmp Comparator, maxHeight, branchingFactor int) *SkipList {
	if cmp == nil {
		cmp = BytewiseComparator
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if branchingFactor <= 0 {
		branchingFactor = DefaultBranchingFactor
	}

	return &SkipList{
		head:        newSkipNode(nil, nil, maxHeight),
		maxHeight:   1,
		compare:     cmp,
		rng:         rand.New(rand.NewSource(0xDEADBEEF)),
		kMaxHeight:  maxHeight,
		kBranching:  branchingFactor,
		kScaledInvB: uint32(0xFFFFFFFF) / uint32(branchingFactor),
	}
}

// Put inserts rec if its key is new, or overwrites the existing node's
// record if the key is already present — "newest wins" is enforced by the
// caller always passing the newest sequence number it has assigned.
// REQUIRES: external synchronization with other Put calls.
func (sl *SkipList) Put(rec *record.Record) {
	prev := make([]*skipNode, sl.kMaxHeight)
	x := sl.findGreaterOrEqual(rec.Key, prev)

	if x != nil && sl.compare(rec.Key, x.key) == 0 {
		old := x.rec.Load()
		x.rec.Store(rec)
		sl.memBytes += recordSize(rec) - recordSize(old)
		return
	}

	height := sl.randomHeight()

	maxH := int(atomic.LoadInt32(&sl.maxHeight))
	if height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = sl.head
		}
		atomic.StoreInt32(&sl.maxHeight, int32(height))
	}

	node := newSkipNode(rec.Key, rec, height)
	for i := range height {
		node.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, node)
	}

	atomic.AddInt64(&sl.count, 1)
	atomic.AddInt64(&sl.memBytes, recordSize(rec))
}

func recordSize(r *record.Record) int64 {
	if r == nil {
		return 0
	}
	return int64(len(r.Key) + len(r.Value) + 48) // + fixed struct overhead estimate
}

// Get returns the record stored under key, if any.
func (sl *SkipList) Get(key []byte) (*record.Record, bool) {
	x := sl.findGreaterOrEqual(key, nil)
	if x != nil && sl.compare(key, x.key) == 0 {
		return x.rec.Load(), true
	}
	return nil, false
}

// Contains returns true if key is present.
func (sl *SkipList) Contains(key []byte) bool {
	_, ok := sl.Get(key)
	return ok
}

// Count returns the number of distinct keys in the skip list.
func (sl *SkipList) Count() int64 {
	return atomic.LoadInt64(&sl.count)
}

// ApproximateBytes returns the estimated resident size of all keys and
// values currently held, used to decide when to freeze the memtable.
func (sl *SkipList) ApproximateBytes() int64 {
	return atomic.LoadInt64(&sl.memBytes)
}

// findGreaterOrEqual finds the first node with key >= given key, filling
// in prev[level] with the predecessor at each level if prev is non-nil.
func (sl *SkipList) findGreaterOrEqual(key []byte, prev []*skipNode) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil && sl.compare(key, next.key) > 0 {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

// findLessThan returns the last node with key < given key, or nil if no
// such node exists.
func (sl *SkipList) findLessThan(key []byte) *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil && sl.compare(next.key, key) < 0 {
			x = next
		} else {
			if level == 0 {
				if x == sl.head {
					return nil
				}
				return x
			}
			level--
		}
	}
}

// findLast returns the last node in the list, or nil if empty.
func (sl *SkipList) findLast() *skipNode {
	x := sl.head
	level := int(atomic.LoadInt32(&sl.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil {
			x = next
		} else {
			if level == 0 {
				if x == sl.head {
					return nil
				}
				return x
			}
			level--
		}
	}
}

func (sl *SkipList) randomHeight() int {
	height := 1
	for height < sl.kMaxHeight {
		if sl.rng.Uint32() < sl.kScaledInvB {
			height++
		} else {
			break
		}
	}
	return height
}

// Iterator walks the skip list in ascending key order. It is not valid
// until a Seek method is called.
type Iterator struct {
	list *SkipList
	node *skipNode
}

// NewIterator creates an iterator over the skip list.
func (sl *SkipList) NewIterator() *Iterator {
	return &Iterator{list: sl}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool {
	return it.node != nil
}

// Key returns the key at the current position.
// REQUIRES: Valid()
func (it *Iterator) Key() []byte {
	if it.node == nil {
		return nil
	}
	return it.node.key
}

// Record returns the record at the current position.
// REQUIRES: Valid()
func (it *Iterator) Record() *record.Record {
	if it.node == nil {
		return nil
	}
	return it.node.rec.Load()
}

// Next advances to the next position.
// REQUIRES: Valid()
func (it *Iterator) Next() {
	if it.node == nil {
		return
	}
	it.node = it.node.getNext(0)
}

// Prev moves to the previous position.
// REQUIRES: Valid()
func (it *Iterator) Prev() {
	if it.node == nil {
		return
	}
	it.node = it.list.findLessThan(it.node.key)
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

// SeekForPrev positions the iterator at the last entry with key <= target.
func (it *Iterator) SeekForPrev(target []byte) {
	it.Seek(target)
	if !it.Valid() {
		it.SeekToLast()
	} else if it.list.compare(it.node.key, target) > 0 {
		it.Prev()
	}
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.node = it.list.head.getNext(0)
}

// SeekToLast positions the iterator at the last entry.
func (it *Iterator) SeekToLast() {
	it.node = it.list.findLast()
}
