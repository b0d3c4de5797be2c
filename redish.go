// Package redish implements an embedded, single-process key-value store
// on an LSM tree: a write-ahead log for durability, an in-memory
// memtable write buffer, tiered SSTable persistence with optional block
// compression, optional index/value caches, TTL expiration, and
// optimistic transactions.
package redish

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redish/redish/internal/cache"
	"github.com/redish/redish/internal/compaction"
	"github.com/redish/redish/internal/memtable"
	"github.com/redish/redish/internal/record"
	"github.com/redish/redish/internal/sstable"
	"github.com/redish/redish/internal/wal"
)

// walDirName and sstDirName are the fixed subdirectory names under an
// Options.DBPath, per the directory layout in spec.md §6.1.
const (
	walDirName = "wal"
	sstDirName = "sst"
)

// tableHandle pairs an open SSTable reader with the metadata the
// compaction picker needs, so the registry never has to re-derive
// MinKey/MaxKey/SizeBytes from the reader on every picker invocation.
type tableHandle struct {
	meta   compaction.TableMeta
	reader *sstable.Reader
}

// Tree is the engine facade: the single entry point opened against one
// on-disk database directory. All exported methods are safe for
// concurrent use by multiple goroutines.
//
// Grounded on the teacher's db.go/db_apis.go constructor-and-public-API
// shape, but narrowed to the operation set spec.md §4.10 names.
type Tree struct {
	opts Options

	walDir string
	sstDir string

	// mu serializes memtable mutation, WAL append, sequence assignment,
	// SSTable registry mutation, and transaction commit — the single
	// engine write lock from spec.md §5. Get takes it only briefly, to
	// snapshot the mem/imm pointers in lookupMemtables.
	mu  sync.Mutex
	seq uint64

	mem *memtable.MemTable
	imm []*memtable.MemTable // newest-first; each entry awaits/receives a flush

	// tables is read without mu: a snapshot is acquired via Load, used,
	// and discarded, while mutation replaces the whole pointer under mu.
	tables atomic.Pointer[[]*tableHandle]

	nextGeneration uint64

	wal        *wal.WAL
	indexCache *cache.IndexCache
	valueCache *cache.ValueCache

	txm *txManager
	bg  *backgroundWorker

	logger Logger

	closed   atomic.Bool
	fatalErr atomic.Pointer[string]
}

// Open opens (creating if necessary) a database rooted at opts.DBPath:
// it replays the WAL into a fresh memtable, discovers existing SSTables
// from the sst/ directory, discards stray *.tmp files left by an
// interrupted write, and starts the background flush/compaction worker.
func Open(opts Options) (*Tree, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	walDir := filepath.Join(opts.DBPath, walDirName)
	sstDir := filepath.Join(opts.DBPath, sstDirName)
	if err := os.MkdirAll(sstDir, 0o755); err != nil {
		return nil, fmt.Errorf("redish: mkdir %s: %w", sstDir, ErrIO)
	}
	if err := sstable.DiscardStaleTempFiles(sstDir); err != nil {
		return nil, fmt.Errorf("redish: %w: %v", ErrIO, err)
	}

	t := &Tree{
		opts:   opts,
		walDir: walDir,
		sstDir: sstDir,
		mem:    memtable.New(opts.MemTableMaxSize),
		logger: opts.Logger,
	}

	var indexCache *cache.IndexCache
	if opts.EnableIndexCache {
		indexCache = cache.NewIndexCache(opts.IndexCacheBytes)
	}
	t.indexCache = indexCache
	if opts.EnableValueCache {
		t.valueCache = cache.NewValueCache(opts.ValueCacheEntries, opts.ValueCacheBytes)
	}

	if err := t.openExistingTables(); err != nil {
		return nil, err
	}

	w, err := wal.Open(walDir, opts.WALMaxSegmentBytes)
	if err != nil {
		return nil, fmt.Errorf("redish: open wal: %w", ErrIO)
	}
	t.wal = w

	if err := t.replayWAL(); err != nil {
		return nil, err
	}

	t.txm = newTxManager(t)
	t.bg = newBackgroundWorker(t)
	t.bg.start()

	t.logger.Infof("[db] opened %s (tables=%d, seq=%d)", opts.DBPath, len(*t.tables.Load()), t.seq)
	return t, nil
}

// openExistingTables lists sstDir for "<generation>.sst" files, opens a
// Reader for each, and populates the registry. Generation numbers are
// parsed from the file name; nextGeneration is set one past the
// largest one found.
func (t *Tree) openExistingTables() error {
	entries, err := os.ReadDir(t.sstDir)
	if err != nil {
		return fmt.Errorf("redish: read dir %s: %w", t.sstDir, ErrIO)
	}

	var handles []*tableHandle
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".sst" {
			continue
		}
		var gen uint64
		if _, err := fmt.Sscanf(name, "%d.sst", &gen); err != nil {
			continue
		}
		path := filepath.Join(t.sstDir, name)
		r, err := sstable.OpenFile(path, gen, t.indexCache)
		if err != nil {
			return fmt.Errorf("redish: open sstable %s: %w", path, ErrCorrupt)
		}
		var size uint64
		if info, err := e.Info(); err == nil {
			size = uint64(info.Size())
		}
		handles = append(handles, &tableHandle{
			reader: r,
			meta: compaction.TableMeta{
				Generation: gen,
				MinKey:     r.MinKey(),
				MaxKey:     r.MaxKey(),
				SizeBytes:  size,
				EntryCount: r.EntryCount(),
			},
		})
		if gen >= t.nextGeneration {
			t.nextGeneration = gen + 1
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].meta.Generation < handles[j].meta.Generation })
	t.tables.Store(&handles)
	return nil
}

// replayWAL rebuilds the mutable memtable from the WAL, tracking the
// highest sequence number observed so new writes continue from there.
func (t *Tree) replayWAL() error {
	var maxSeq uint64
	err := wal.Replay(t.walDir, func(e wal.ReplayEntry) {
		rec := &record.Record{
			Key:       e.Key,
			Value:     e.Value,
			Tombstone: e.Op == wal.OpDelete,
			CreatedAt: e.CreatedAt,
			TTLMillis: e.TTLMillis,
			Sequence:  e.Sequence,
		}
		t.mem.Put(rec)
		if e.Sequence > maxSeq {
			maxSeq = e.Sequence
		}
	})
	if err != nil {
		return fmt.Errorf("redish: replay wal: %w", ErrCorrupt)
	}
	t.seq = maxSeq
	return nil
}

// checkSize enforces the key/value size caps from spec.md §3 before a
// write ever reaches the WAL or memtable.
func checkSize(key, value []byte) error {
	if len(key) == 0 || len(key) > record.MaxKeySize {
		return fmt.Errorf("redish: key length %d: %w", len(key), ErrSizeViolation)
	}
	if len(value) > record.MaxValueSize {
		return fmt.Errorf("redish: value length %d: %w", len(value), ErrSizeViolation)
	}
	return nil
}

// Put writes key/value with no expiration.
func (t *Tree) Put(key, value []byte) error {
	return t.PutWithTTL(key, value, record.NoTTL)
}

// PutWithTTL writes key/value, expiring it ttlMillis after the write is
// applied (record.NoTTL for no expiration).
func (t *Tree) PutWithTTL(key, value []byte, ttlMillis int64) error {
	if err := checkSize(key, value); err != nil {
		return err
	}
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkFatalLocked(); err != nil {
		return err
	}

	seq := t.nextSeqLocked()
	now := nowMillis()
	if t.opts.WALEnabled {
		f := &wal.Frame{Op: wal.OpPut, Key: key, Value: value, CreatedAt: now, TTLMillis: ttlMillis, Sequence: seq}
		if err := t.wal.Append(f); err != nil {
			return fmt.Errorf("redish: wal append: %w", ErrIO)
		}
	}
	t.mem.Put(&record.Record{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...), CreatedAt: now, TTLMillis: ttlMillis, Sequence: seq})
	if t.valueCache != nil {
		t.valueCache.Invalidate(key)
	}
	t.maybeFreezeLocked()
	return nil
}

// Delete writes a tombstone for key.
func (t *Tree) Delete(key []byte) error {
	if err := checkSize(key, nil); err != nil {
		return err
	}
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkFatalLocked(); err != nil {
		return err
	}

	seq := t.nextSeqLocked()
	now := nowMillis()
	if t.opts.WALEnabled {
		f := &wal.Frame{Op: wal.OpDelete, Key: key, CreatedAt: now, TTLMillis: record.NoTTL, Sequence: seq}
		if err := t.wal.Append(f); err != nil {
			return fmt.Errorf("redish: wal append: %w", ErrIO)
		}
	}
	t.mem.Put(&record.Record{Key: append([]byte(nil), key...), Tombstone: true, CreatedAt: now, TTLMillis: record.NoTTL, Sequence: seq})
	if t.valueCache != nil {
		t.valueCache.Invalidate(key)
	}
	t.maybeFreezeLocked()
	return nil
}

// Get returns the value stored for key. It reports ErrNotFound if the
// key does not exist, is shadowed by a tombstone, or has expired.
//
// Lookup order (newest wins): value cache, mutable memtable, immutable
// memtables newest-first, then the full SSTable registry. Registry
// position is not a reliable recency signal by itself — a compaction's
// output table can land at a newer generation than an overlapping table
// the cohort picker left out of that compaction — so every table that
// might hold key is consulted (bloom filter short-circuits the rest) and
// the record with the highest Sequence wins.
func (t *Tree) Get(key []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	now := nowMillis()

	if t.valueCache != nil {
		if rec, ok := t.valueCache.Get(key); ok {
			if !rec.Visible(0, now) {
				return nil, ErrNotFound
			}
			return rec.Value, nil
		}
	}

	if rec := t.lookupMemtables(key); rec != nil {
		return t.resolve(key, rec, now)
	}

	var best *record.Record
	for _, h := range *t.tables.Load() {
		if !h.reader.MayContain(key) {
			continue
		}
		rec, ok, err := h.reader.Get(key)
		if err != nil {
			return nil, fmt.Errorf("redish: read sstable %d: %w", h.meta.Generation, ErrCorrupt)
		}
		if ok && (best == nil || rec.Sequence > best.Sequence) {
			best = rec
		}
	}
	if best != nil {
		return t.resolve(key, best, now)
	}
	return nil, ErrNotFound
}

// lookupMemtables consults the mutable memtable then the immutable
// list newest-first, returning the first hit (nil if none).
func (t *Tree) lookupMemtables(key []byte) *record.Record {
	t.mu.Lock()
	mem := t.mem
	imm := t.imm
	t.mu.Unlock()

	if rec, ok := mem.Get(key); ok {
		return rec
	}
	for _, m := range imm {
		if rec, ok := m.Get(key); ok {
			return rec
		}
	}
	return nil
}

// currentRecordLocked returns the most current record stored for key
// across the memtables and SSTable registry, regardless of tombstone or
// expiry status, or nil if key has never been written. Used by the
// transaction manager's conflict check, which cares only about "has
// this key been committed-over since my snapshot", not whether the
// current value happens to be visible.
// REQUIRES: t.mu held (so the caller, CommitTransaction, sees a
// consistent view of the memtable alongside its own sequence checks).
func (t *Tree) currentRecordLocked(key []byte) *record.Record {
	if rec, ok := t.mem.Get(key); ok {
		return rec
	}
	for _, m := range t.imm {
		if rec, ok := m.Get(key); ok {
			return rec
		}
	}
	var best *record.Record
	for _, h := range *t.tables.Load() {
		if !h.reader.MayContain(key) {
			continue
		}
		if rec, ok, err := h.reader.Get(key); err == nil && ok {
			if best == nil || rec.Sequence > best.Sequence {
				best = rec
			}
		}
	}
	return best
}

// resolve applies visibility/tombstone/expiry rules to rec and
// populates the value cache for a live value. Transactional writes
// never reach shared memtable/SSTable state until commit (they live in
// the per-transaction overlay instead), so every record resolve() sees
// is already committed and TxID 0.
func (t *Tree) resolve(key []byte, rec *record.Record, now int64) ([]byte, error) {
	if !rec.Visible(0, now) {
		return nil, ErrNotFound
	}
	if rec.Tombstone {
		return nil, ErrNotFound
	}
	if t.valueCache != nil {
		t.valueCache.Insert(key, rec)
	}
	return rec.Value, nil
}

// Flush forces the current mutable memtable to become immutable and
// waits for the background worker to persist every pending memtable to
// an SSTable.
func (t *Tree) Flush() error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.mu.Lock()
	if t.mem.Count() > 0 {
		t.mem.Freeze()
		t.imm = append([]*memtable.MemTable{t.mem}, t.imm...)
		t.mem = memtable.New(t.opts.MemTableMaxSize)
	}
	t.mu.Unlock()
	return t.bg.flushAndWait()
}

// Close stops the background worker, flushes any unflushed data, and
// closes the WAL. Further operations on t return ErrClosed.
func (t *Tree) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Flush itself rejects calls once closed is set, so freeze and flush
	// the remaining memtable here directly.
	t.mu.Lock()
	if t.mem.Count() > 0 {
		t.mem.Freeze()
		t.imm = append([]*memtable.MemTable{t.mem}, t.imm...)
		t.mem = memtable.New(t.opts.MemTableMaxSize)
	}
	t.mu.Unlock()
	if err := t.bg.flushAndWait(); err != nil {
		t.logger.Warnf("[db] flush on close: %v", err)
	}
	t.bg.stop()
	if err := t.wal.Close(); err != nil {
		return fmt.Errorf("redish: close wal: %w", ErrIO)
	}
	return nil
}

// Stats reports point-in-time counters useful for observability.
type Stats struct {
	SequenceNumber  uint64
	MemtableEntries int64
	ImmutableCount  int
	TableCount      int
	IndexCacheHits  uint64
	IndexCacheMiss  uint64
	ValueCacheHits  uint64
	ValueCacheMiss  uint64
}

// Stats returns the current state of the engine's counters.
func (t *Tree) Stats() Stats {
	t.mu.Lock()
	s := Stats{
		SequenceNumber:  t.seq,
		MemtableEntries: t.mem.Count(),
		ImmutableCount:  len(t.imm),
		TableCount:      len(*t.tables.Load()),
	}
	t.mu.Unlock()
	if t.indexCache != nil {
		s.IndexCacheHits, s.IndexCacheMiss = t.indexCache.Hits(), t.indexCache.Misses()
	}
	if t.valueCache != nil {
		s.ValueCacheHits, s.ValueCacheMiss = t.valueCache.Hits(), t.valueCache.Misses()
	}
	return s
}

// nextSeqLocked assigns the next monotonic sequence number.
// REQUIRES: t.mu held.
func (t *Tree) nextSeqLocked() uint64 {
	t.seq++
	return t.seq
}

// maybeFreezeLocked swaps the mutable memtable for a fresh one once it
// has reached its configured capacity, pushing the old one onto the
// immutable list and signaling the background worker to flush it.
// REQUIRES: t.mu held.
func (t *Tree) maybeFreezeLocked() {
	if !t.mem.ShouldFreeze() {
		return
	}
	t.mem.Freeze()
	t.imm = append([]*memtable.MemTable{t.mem}, t.imm...)
	t.mem = memtable.New(t.opts.MemTableMaxSize)
	t.bg.maybeScheduleFlush()
}

func (t *Tree) checkFatalLocked() error {
	if p := t.fatalErr.Load(); p != nil {
		return fmt.Errorf("redish: %s: %w", *p, ErrInternal)
	}
	return nil
}

// setFatal records an unrecoverable background error and stops the
// engine from accepting further writes.
func (t *Tree) setFatal(msg string) {
	t.fatalErr.Store(&msg)
	t.logger.Errorf("[db] fatal: %s", msg)
}

// snapshotTables returns the current SSTable registry without taking
// the write lock.
func (t *Tree) snapshotTables() []*tableHandle {
	return *t.tables.Load()
}

// liveElsewhere reports whether key is present in some SSTable outside
// the generation set excl, used by compaction's tombstone-GC rule.
func (t *Tree) liveElsewhere(key []byte, excl map[uint64]bool) bool {
	for _, h := range t.snapshotTables() {
		if excl[h.meta.Generation] {
			continue
		}
		if !overlapsRange(key, h.meta.MinKey, h.meta.MaxKey) {
			continue
		}
		if !h.reader.MayContain(key) {
			continue
		}
		if _, ok, err := h.reader.Get(key); err == nil && ok {
			return true
		}
	}
	return false
}

func overlapsRange(key, min, max []byte) bool {
	return bytes.Compare(key, min) >= 0 && bytes.Compare(key, max) <= 0
}

// nowMillis returns the current wall-clock time in unix milliseconds,
// the unit record.Record.CreatedAt/TTLMillis are expressed in.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
