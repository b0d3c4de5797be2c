package redish

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/redish/redish/internal/record"
)

func openTree(t *testing.T, opts Options) *Tree {
	t.Helper()
	tr, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func defaultTestOptions(dir string) Options {
	o := DefaultOptions(dir)
	o.MemTableMaxSize = 1 << 20
	return o
}

func TestPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	if err := tr.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := tr.Get([]byte("a"))
	if err != nil || string(got) != "1" {
		t.Fatalf("Get: got %q, %v", got, err)
	}

	if err := tr.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tr.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	if _, err := tr.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutWithTTLExpires(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	// A negative TTL (other than record.NoTTL) puts the expiry deadline
	// before CreatedAt itself, so the record reads back as expired
	// regardless of how much wall-clock time elapses between Put and Get.
	if err := tr.PutWithTTL([]byte("k"), []byte("v"), -60_000); err != nil {
		t.Fatalf("PutWithTTL: %v", err)
	}
	if _, err := tr.Get([]byte("k")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected immediately-expired key to read as not found, got %v", err)
	}
}

func TestPutRejectsOversizedKeyAndValue(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	bigKey := make([]byte, record.MaxKeySize+1)
	if err := tr.Put(bigKey, []byte("v")); !errors.Is(err, ErrSizeViolation) {
		t.Fatalf("expected ErrSizeViolation for oversized key, got %v", err)
	}

	bigValue := make([]byte, record.MaxValueSize+1)
	if err := tr.Put([]byte("k"), bigValue); !errors.Is(err, ErrSizeViolation) {
		t.Fatalf("expected ErrSizeViolation for oversized value, got %v", err)
	}

	if err := tr.Put(nil, []byte("v")); !errors.Is(err, ErrSizeViolation) {
		t.Fatalf("expected ErrSizeViolation for empty key, got %v", err)
	}
}

func TestFlushPersistsToSSTableAndSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	opts := defaultTestOptions(dir)
	tr := openTree(t, opts)

	for i := 0; i < 100; i++ {
		k := []byte{byte(i)}
		if err := tr.Put(k, []byte("value")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st := tr.Stats(); st.TableCount == 0 {
		t.Fatalf("expected at least one SSTable after Flush, got %+v", st)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get([]byte{42})
	if err != nil || string(got) != "value" {
		t.Fatalf("Get after reopen: got %q, %v", got, err)
	}
}

func TestWALReplayRecoversUnflushedWrites(t *testing.T) {
	dir := t.TempDir()
	opts := defaultTestOptions(dir)
	tr := openTree(t, opts)

	if err := tr.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tr.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tr.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Simulate a crash: close the WAL directly without Flush/Close
	// draining the memtable to an SSTable.
	if err := tr.wal.Close(); err != nil {
		t.Fatalf("wal.Close: %v", err)
	}

	reopened, err := Open(opts)
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.Get([]byte("a")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected replayed tombstone for %q, got %v", "a", err)
	}
	got, err := reopened.Get([]byte("b"))
	if err != nil || string(got) != "2" {
		t.Fatalf("expected replayed write for %q, got %q, %v", "b", got, err)
	}
}

func TestCloseRejectsFurtherWrites(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(defaultTestOptions(dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := tr.Put([]byte("a"), []byte("1")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
	if _, err := tr.Get([]byte("a")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
}

func TestDiscardsStaleTempFilesOnOpen(t *testing.T) {
	dir := t.TempDir()
	sstDir := filepath.Join(dir, sstDirName)
	if err := os.MkdirAll(sstDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	stale := filepath.Join(sstDir, "3.sst.tmp")
	if err := os.WriteFile(stale, []byte("partial"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	openTree(t, defaultTestOptions(dir))

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale temp file to be discarded, stat err = %v", err)
	}
}

func TestGetPrefersNewestSSTableGeneration(t *testing.T) {
	dir := t.TempDir()
	opts := defaultTestOptions(dir)
	opts.CompactionMinCohortSize = 2
	opts.CompactionMaxCohortTables = 4
	tr := openTree(t, opts)

	// Each Flush produces its own SSTable generation for the same key,
	// exercising Get's cross-table newest-Sequence-wins resolution
	// without depending on the asynchronous background compaction
	// having run.
	for i := 0; i < 4; i++ {
		if err := tr.Put([]byte("k"), []byte{byte(i)}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := tr.Flush(); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}

	got, err := tr.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected newest version (3), got %v", got)
	}
}

// TestGetComparesSequenceAcrossTablesNotGeneration guards against relying
// on registry/generation position as a recency proxy. A compaction's
// merged output can be assigned a higher generation than a table its
// cohort left out (the picker caps cohort size and selects by MinKey,
// not recency), so Get must compare Sequence across every table that
// might hold the key rather than trusting table order.
func TestGetComparesSequenceAcrossTablesNotGeneration(t *testing.T) {
	dir := t.TempDir()
	tr := openTree(t, defaultTestOptions(dir))

	if err := tr.Put([]byte("k"), []byte("stale")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := tr.Put([]byte("k"), []byte("fresh")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	tables := tr.snapshotTables()
	if len(tables) != 2 {
		t.Fatalf("expected 2 flushed tables, got %d", len(tables))
	}
	// tables[0] holds "stale" (Sequence 1, Generation 1); tables[1] holds
	// "fresh" (Sequence 2, Generation 2). Flip the generation numbers so
	// the stale record now sits in the higher-generation table, as a
	// compaction's merged output could, while the genuinely newer write
	// keeps the higher Sequence in the lower-generation table — and
	// reverse registry order too, so a position-based resolution would
	// pick the stale record first.
	tables[0].meta.Generation, tables[1].meta.Generation = tables[1].meta.Generation, tables[0].meta.Generation
	reordered := []*tableHandle{tables[1], tables[0]}
	tr.tables.Store(&reordered)

	got, err := tr.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "fresh" {
		t.Fatalf("expected Get to resolve by Sequence despite generation/order, got %q", got)
	}
}
