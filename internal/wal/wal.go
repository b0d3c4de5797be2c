package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// DefaultMaxSegmentBytes is the rotation threshold used when none is
// configured.
const DefaultMaxSegmentBytes = 64 * 1024 * 1024

// segmentName formats a segment file name: zero-padded, monotonic,
// sorts lexically in creation order.
func segmentName(seq uint64) string {
	return fmt.Sprintf("%020d.wal", seq)
}

func segmentSeq(name string) (uint64, bool) {
	if !strings.HasSuffix(name, ".wal") {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(name, ".wal"), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// WAL manages the active segment file, rotating to a new one once the
// configured size threshold is crossed, and exposes Replay for startup
// recovery.
type WAL struct {
	mu sync.Mutex

	dir            string
	maxSegmentSize int64

	curSeq    uint64
	curFile   *os.File
	curWriter *Writer
}

// Open opens (creating if necessary) the WAL directory dir and prepares a
// fresh active segment numbered one past the highest existing segment.
// Stray ".wal.tmp" files left by an interrupted rotation are discarded.
func Open(dir string, maxSegmentSize int64) (*WAL, error) {
	if maxSegmentSize <= 0 {
		maxSegmentSize = DefaultMaxSegmentBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", dir, err)
	}
	if err := discardTempFiles(dir); err != nil {
		return nil, err
	}

	segments, err := ListSegments(dir)
	if err != nil {
		return nil, err
	}
	nextSeq := uint64(1)
	if len(segments) > 0 {
		nextSeq = segments[len(segments)-1] + 1
	}

	w := &WAL{dir: dir, maxSegmentSize: maxSegmentSize}
	if err := w.rotate(nextSeq); err != nil {
		return nil, err
	}
	return w, nil
}

func discardTempFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("wal: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".wal.tmp") {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return fmt.Errorf("wal: discard stray temp file %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// ListSegments returns the segment sequence numbers present in dir, in
// ascending order.
func ListSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("wal: read dir %s: %w", dir, err)
	}
	var seqs []uint64
	for _, e := range entries {
		if seq, ok := segmentSeq(e.Name()); ok {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (w *WAL) rotate(seq uint64) error {
	path := filepath.Join(w.dir, segmentName(seq))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: create segment %s: %w", path, err)
	}
	w.curSeq = seq
	w.curFile = f
	w.curWriter = NewWriter(f)
	return nil
}

// Append writes f to the active segment, fsyncing before it returns, and
// rotates to a new segment first if the active one has crossed its size
// threshold.
func (w *WAL) Append(f *Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.curWriter.Bytes() >= w.maxSegmentSize {
		if err := w.curWriter.Close(); err != nil {
			return fmt.Errorf("wal: close segment %d: %w", w.curSeq, err)
		}
		if err := w.rotate(w.curSeq + 1); err != nil {
			return err
		}
	}

	if _, err := w.curWriter.Append(f); err != nil {
		return fmt.Errorf("wal: append to segment %d: %w", w.curSeq, err)
	}
	return nil
}

// ActiveSegment returns the sequence number of the segment currently
// being written to.
func (w *WAL) ActiveSegment() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.curSeq
}

// Close closes the active segment file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.curWriter.Close()
}

// SegmentMaxSequence returns the highest frame sequence number recorded
// in segment seq, scanning raw frames regardless of transaction
// buffering state (a buffered, never-committed write still occupies a
// sequence number that must not be reused). Returns ok=false if the
// segment holds no frames at all. A CRC mismatch or short read stops
// the scan at that point and returns whatever maximum was found before
// it, matching Replay's truncation tolerance.
func SegmentMaxSequence(dir string, seq uint64) (max uint64, ok bool, err error) {
	path := filepath.Join(dir, segmentName(seq))
	f, err := os.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("wal: open segment %d: %w", seq, err)
	}
	defer f.Close()

	r := NewReader(f)
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			if err == io.EOF || err == ErrShortFrame || err == ErrCorruptFrame {
				return max, ok, nil
			}
			return max, ok, fmt.Errorf("wal: scan segment %d: %w", seq, err)
		}
		if frame.Sequence > max || !ok {
			max = frame.Sequence
			ok = true
		}
	}
}

// RetireSegmentsBefore removes every segment file strictly older than
// keepFrom — called from the background flush path once a flush has made
// those segments' writes durable in an SSTable.
func (w *WAL) RetireSegmentsBefore(keepFrom uint64) error {
	segments, err := ListSegments(w.dir)
	if err != nil {
		return err
	}
	for _, seq := range segments {
		if seq >= keepFrom {
			continue
		}
		path := filepath.Join(w.dir, segmentName(seq))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("wal: retire segment %d: %w", seq, err)
		}
	}
	return nil
}

// ReplayEntry is one record recovered during Replay: a point write or
// delete that should be applied to the recovering memtable, already
// resolved past any transaction buffering.
type ReplayEntry struct {
	Op        Op
	Key       []byte
	Value     []byte
	CreatedAt int64
	TTLMillis int64
	Sequence  uint64
}

// Replay walks every segment in dir in order, record by record, applying
// the transaction replay state machine: OpTxBegin opens a per-tx_id
// buffer, Put/Delete frames with a non-zero TxID are buffered there
// rather than applied immediately, OpTxCommit flushes that buffer's
// entries (in original order, with their original sequence numbers) to
// apply, and OpTxRollback or reaching end-of-log with no commit discards
// the buffer. The pending-transaction buffer is shared across the whole
// walk, not reset per segment: a transaction that begins near the end of
// one segment and commits in the next (size-triggered rotation pays no
// attention to open transactions) must still see its pre-rotation writes
// applied on commit. A CRC mismatch or short read on any segment stops
// replay of that segment at that point — the truncated tail is treated
// as never having been written, per the engine's truncation-tolerant
// recovery policy — and moves on to the next segment, if any, with
// whatever transactions were still open carrying over.
func Replay(dir string, apply func(ReplayEntry)) error {
	segments, err := ListSegments(dir)
	if err != nil {
		return err
	}

	pending := make(map[uint64][]ReplayEntry)
	for _, seq := range segments {
		if err := replaySegment(dir, seq, pending, apply); err != nil {
			return err
		}
	}
	return nil
}

func replaySegment(dir string, seq uint64, pending map[uint64][]ReplayEntry, apply func(ReplayEntry)) error {
	path := filepath.Join(dir, segmentName(seq))
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wal: open segment %d: %w", seq, err)
	}
	defer f.Close()

	r := NewReader(f)

	for {
		frame, err := r.ReadFrame()
		if err != nil {
			if err == io.EOF || err == ErrShortFrame || err == ErrCorruptFrame {
				return nil
			}
			return fmt.Errorf("wal: replay segment %d: %w", seq, err)
		}

		switch frame.Op {
		case OpTxBegin:
			pending[frame.TxID] = nil
		case OpTxCommit:
			for _, entry := range pending[frame.TxID] {
				apply(entry)
			}
			delete(pending, frame.TxID)
		case OpTxRollback:
			delete(pending, frame.TxID)
		case OpPut, OpDelete:
			entry := ReplayEntry{
				Op:        frame.Op,
				Key:       frame.Key,
				Value:     frame.Value,
				CreatedAt: frame.CreatedAt,
				TTLMillis: frame.TTLMillis,
				Sequence:  frame.Sequence,
			}
			if frame.TxID != 0 {
				pending[frame.TxID] = append(pending[frame.TxID], entry)
			} else {
				apply(entry)
			}
		}
	}
}
