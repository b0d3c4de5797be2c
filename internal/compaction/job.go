package compaction

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/redish/redish/internal/sstable"
)

// Job performs one compaction: merging a cohort of input SSTables into
// a single output table, keeping only the newest non-expired record per
// key and dropping tombstones the LiveElsewhere rule says are no longer
// needed. Grounded on the teacher's CompactionJob (read inputs, merge,
// write output) but without its manifest edits, range-tombstone
// aggregator, or compaction filter hooks — none of which this engine's
// flat, filter-less design has a place for.
type Job struct {
	Opts sstable.WriterOptions

	// LiveElsewhere reports whether key is present in some SSTable
	// outside the cohort being compacted. A tombstone is only dropped
	// when this returns false, per the tombstone-GC rule.
	LiveElsewhere func(key []byte) bool

	// NowMillis is the wall-clock time used to evaluate TTL expiry.
	NowMillis int64
}

// Result describes one compaction's output table.
type Result struct {
	Path              string
	Generation        uint64
	MinKey, MaxKey    []byte
	EntryCount        uint64
	DroppedTombstones uint64
	DroppedExpired    uint64
}

// Run merges inputs (opened readers over the picked cohort, oldest to
// newest does not matter — sequence numbers break ties) and writes the
// result to "<generation>.sst" under dir.
func (j *Job) Run(inputs []*sstable.Reader, dir string, generation uint64) (*Result, error) {
	iters := make([]*sstable.Iterator, len(inputs))
	for i, r := range inputs {
		iters[i] = r.NewIterator()
	}
	mi := newMergeIterator(iters)

	w := sstable.NewWriter(j.Opts)
	result := &Result{Generation: generation}

	var lastKey []byte
	haveLast := false

	for mi.Valid() {
		rec := mi.Record()
		if haveLast && bytes.Equal(rec.Key, lastKey) {
			// An older version of a key already emitted (or dropped).
			mi.Next()
			continue
		}
		haveLast = true
		lastKey = append(lastKey[:0], rec.Key...)

		switch {
		case rec.Tombstone:
			live := j.LiveElsewhere != nil && j.LiveElsewhere(rec.Key)
			if !live {
				result.DroppedTombstones++
				mi.Next()
				continue
			}
		case rec.Expired(j.NowMillis):
			result.DroppedExpired++
			mi.Next()
			continue
		}

		if err := w.Add(rec); err != nil {
			return nil, fmt.Errorf("compaction: add %q: %w", rec.Key, err)
		}
		if result.EntryCount == 0 {
			result.MinKey = append([]byte(nil), rec.Key...)
		}
		result.MaxKey = append([]byte(nil), rec.Key...)
		result.EntryCount++
		mi.Next()
	}
	if err := mi.Err(); err != nil {
		return nil, fmt.Errorf("compaction: merge: %w", err)
	}

	data, err := w.Finish()
	if err != nil {
		return nil, fmt.Errorf("compaction: finish table: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.sst", generation))
	if err := sstable.WriteFile(path, data); err != nil {
		return nil, fmt.Errorf("compaction: write %s: %w", path, err)
	}
	result.Path = path
	return result, nil
}
