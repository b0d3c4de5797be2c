package redish

import (
	"fmt"
	"os"
	"sync"

	"github.com/redish/redish/internal/compaction"
	"github.com/redish/redish/internal/memtable"
	"github.com/redish/redish/internal/sstable"
	"github.com/redish/redish/internal/wal"
)

// backgroundWorker is the single goroutine that services flush and
// compaction jobs, signaled over non-blocking channels so a write that
// crosses the memtable size threshold never itself blocks on I/O.
//
// Grounded on the teacher's db/background.go (channel-dispatched work
// loop, non-blocking MaybeSchedule* signal sends, WaitGroup-backed
// graceful Stop) and db/flush.go (flush job shape), narrowed to this
// engine's two job kinds and flat, manifest-less SSTable registry.
type backgroundWorker struct {
	tree *Tree

	flushCh    chan struct{}
	compactCh  chan struct{}
	shutdownCh chan struct{}
	wg         sync.WaitGroup

	// flushMu/compactMu serialize flush/compaction work against both the
	// background loop and a caller-driven Flush(), so two callers never
	// run the same kind of job concurrently.
	flushMu   sync.Mutex
	compactMu sync.Mutex
}

func newBackgroundWorker(t *Tree) *backgroundWorker {
	return &backgroundWorker{
		tree:       t,
		flushCh:    make(chan struct{}, 1),
		compactCh:  make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
}

func (b *backgroundWorker) start() {
	b.wg.Add(1)
	go b.loop()
}

func (b *backgroundWorker) stop() {
	close(b.shutdownCh)
	b.wg.Wait()
}

func (b *backgroundWorker) loop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.flushCh:
			if err := b.runFlushes(); err != nil {
				b.tree.setFatal(fmt.Sprintf("background flush: %v", err))
			}
		case <-b.compactCh:
			if err := b.runCompaction(); err != nil {
				b.tree.setFatal(fmt.Sprintf("background compaction: %v", err))
			}
		case <-b.shutdownCh:
			return
		}
	}
}

// maybeScheduleFlush signals the background loop to run a flush pass,
// dropping the signal if one is already pending.
func (b *backgroundWorker) maybeScheduleFlush() {
	select {
	case b.flushCh <- struct{}{}:
	default:
	}
}

// maybeScheduleCompaction signals the background loop to consider a
// compaction pass, dropping the signal if one is already pending.
func (b *backgroundWorker) maybeScheduleCompaction() {
	select {
	case b.compactCh <- struct{}{}:
	default:
	}
}

// flushAndWait runs a flush pass synchronously, for Tree.Flush callers
// that need every pending memtable durable before returning.
func (b *backgroundWorker) flushAndWait() error {
	if err := b.runFlushes(); err != nil {
		return err
	}
	b.maybeScheduleCompaction()
	return nil
}

// runFlushes drains the immutable memtable list, oldest first, writing
// each to its own SSTable and retiring WAL segments that become fully
// durable as a result. A compaction pass is requested once new tables
// land, since a fresh table can only increase the need for one.
func (b *backgroundWorker) runFlushes() error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	t := b.tree
	flushedAny := false
	for {
		t.mu.Lock()
		if len(t.imm) == 0 {
			t.mu.Unlock()
			break
		}
		mt := t.imm[len(t.imm)-1] // oldest
		t.mu.Unlock()

		gen, maxSeq, err := b.flushOne(mt)
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		flushedAny = true

		t.mu.Lock()
		t.imm = t.imm[:len(t.imm)-1]
		t.mu.Unlock()

		if err := t.retireDurableSegments(maxSeq); err != nil {
			t.logger.Warnf("[flush] retire wal segments: %v", err)
		}
		t.logger.Infof("[flush] wrote %d.sst", gen)
	}
	if flushedAny {
		b.maybeScheduleCompaction()
	}
	return nil
}

// flushOne writes mt's full contents (including tombstones — flush
// preserves everything; only compaction drops them) to a new SSTable
// and installs it into the registry. Returns the new table's
// generation and the highest sequence number it contains, so the
// caller can retire WAL segments that sequence makes durable.
func (b *backgroundWorker) flushOne(mt *memtable.MemTable) (generation uint64, maxSeq uint64, err error) {
	t := b.tree

	w := sstable.NewWriter(sstable.WriterOptions{Compressor: t.opts.Compressor, BloomFPR: t.opts.BloomFPR})
	it := mt.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		rec := it.Record()
		if rec.Sequence > maxSeq {
			maxSeq = rec.Sequence
		}
		if err := w.Add(rec); err != nil {
			return 0, 0, fmt.Errorf("add %q: %w", rec.Key, err)
		}
	}
	data, err := w.Finish()
	if err != nil {
		return 0, 0, fmt.Errorf("finish: %w", err)
	}

	t.mu.Lock()
	generation = t.nextGeneration
	t.nextGeneration++
	t.mu.Unlock()

	path := sstable.TablePath(t.sstDir, generation)
	if err := sstable.WriteFile(path, data); err != nil {
		return 0, 0, fmt.Errorf("write %s: %w", path, err)
	}

	r, err := sstable.Open(data, generation, t.indexCache)
	if err != nil {
		return 0, 0, fmt.Errorf("open output: %w", err)
	}
	handle := &tableHandle{
		reader: r,
		meta: compaction.TableMeta{
			Generation: generation,
			MinKey:     r.MinKey(),
			MaxKey:     r.MaxKey(),
			SizeBytes:  uint64(len(data)),
			EntryCount: r.EntryCount(),
		},
	}
	t.appendTable(handle)
	return generation, maxSeq, nil
}

// runCompaction asks the compaction picker for a cohort of the current
// registry and, if one qualifies, merges it into a single output table
// via compaction.Job, then atomically swaps the cohort out of the
// registry for the merged result and unlinks the input files.
func (b *backgroundWorker) runCompaction() error {
	b.compactMu.Lock()
	defer b.compactMu.Unlock()

	t := b.tree
	picker := &compaction.Picker{
		MinCohortSize:    t.opts.CompactionMinCohortSize,
		MaxCohortTables:  t.opts.CompactionMaxCohortTables,
		SizeRatioTrigger: t.opts.CompactionSizeRatio,
	}

	handles := t.snapshotTables()
	metas := make([]compaction.TableMeta, len(handles))
	byGen := make(map[uint64]*tableHandle, len(handles))
	for i, h := range handles {
		metas[i] = h.meta
		byGen[h.meta.Generation] = h
	}

	cohort := picker.Pick(metas)
	if cohort == nil {
		return nil
	}

	excl := make(map[uint64]bool, len(cohort))
	inputs := make([]*sstable.Reader, len(cohort))
	for i, m := range cohort {
		excl[m.Generation] = true
		inputs[i] = byGen[m.Generation].reader
	}

	t.mu.Lock()
	generation := t.nextGeneration
	t.nextGeneration++
	t.mu.Unlock()

	job := &compaction.Job{
		Opts:          sstable.WriterOptions{Compressor: t.opts.Compressor, BloomFPR: t.opts.BloomFPR},
		LiveElsewhere: func(key []byte) bool { return t.liveElsewhere(key, excl) },
		NowMillis:     nowMillis(),
	}
	result, err := job.Run(inputs, t.sstDir, generation)
	if err != nil {
		return fmt.Errorf("compaction: %w", err)
	}

	var newHandle *tableHandle
	if result.EntryCount > 0 {
		r, err := sstable.OpenFile(result.Path, generation, t.indexCache)
		if err != nil {
			return fmt.Errorf("open compaction output: %w", err)
		}
		var size uint64
		if info, err := os.Stat(result.Path); err == nil {
			size = uint64(info.Size())
		}
		newHandle = &tableHandle{
			reader: r,
			meta: compaction.TableMeta{
				Generation: generation,
				MinKey:     result.MinKey,
				MaxKey:     result.MaxKey,
				SizeBytes:  size,
				EntryCount: result.EntryCount,
			},
		}
	}

	t.replaceTables(excl, newHandle)
	for _, m := range cohort {
		if t.indexCache != nil {
			t.indexCache.Erase(m.Generation)
		}
		path := sstable.TablePath(t.sstDir, m.Generation)
		if err := sstable.RemoveFile(path); err != nil {
			t.logger.Warnf("[compact] remove %s: %v", path, err)
		}
	}
	t.logger.Infof("[compact] merged %d tables into %d.sst (%d live, %d tombstones dropped, %d expired dropped)",
		len(cohort), generation, result.EntryCount, result.DroppedTombstones, result.DroppedExpired)
	return nil
}

// retireDurableSegments removes WAL segments whose entire contents are
// at or below flushedThroughSeq, which a flush just made durable in an
// SSTable. Segments are scanned (not tracked incrementally across
// process lifetimes) so this is correct across restarts: a fresh
// process has no in-memory record of what earlier segments contained.
func (t *Tree) retireDurableSegments(flushedThroughSeq uint64) error {
	segments, err := wal.ListSegments(t.walDir)
	if err != nil {
		return err
	}
	active := t.wal.ActiveSegment()

	keepFrom := uint64(0)
	if len(segments) > 0 {
		keepFrom = segments[0]
	}
	for _, seg := range segments {
		if seg == active {
			break
		}
		max, ok, err := wal.SegmentMaxSequence(t.walDir, seg)
		if err != nil {
			return err
		}
		if ok && max > flushedThroughSeq {
			break
		}
		keepFrom = seg + 1
	}
	return t.wal.RetireSegmentsBefore(keepFrom)
}

// appendTable installs handle into the registry via copy-on-write.
func (t *Tree) appendTable(handle *tableHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.tables.Load()
	next := make([]*tableHandle, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, handle)
	t.tables.Store(&next)
}

// replaceTables removes every table whose generation is in excl and,
// if newHandle is non-nil, appends it — the atomic swap that installs
// one compaction's result.
func (t *Tree) replaceTables(excl map[uint64]bool, newHandle *tableHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := *t.tables.Load()
	next := make([]*tableHandle, 0, len(cur)+1)
	for _, h := range cur {
		if !excl[h.meta.Generation] {
			next = append(next, h)
		}
	}
	if newHandle != nil {
		next = append(next, newHandle)
	}
	t.tables.Store(&next)
}
