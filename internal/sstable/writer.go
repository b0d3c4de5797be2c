package sstable

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/redish/redish/internal/bloom"
	"github.com/redish/redish/internal/codec"
	"github.com/redish/redish/internal/compress"
	"github.com/redish/redish/internal/mempool"
	"github.com/redish/redish/internal/record"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	// BlockSize is the target uncompressed size of one data block. A
	// non-positive value falls back to DefaultBlockSize.
	BlockSize int

	// Compressor selects the block compression algorithm. The zero
	// value is compress.None.
	Compressor compress.Config

	// BloomFPR is the target bloom filter false-positive rate. A
	// non-positive value falls back to bloom.DefaultFPR.
	BloomFPR float64
}

// Writer builds one SSTable, accepting records in strictly increasing
// key order and sealing data blocks once they reach the configured
// target size. Call Finish to flush the index, bloom filter, and footer.
type Writer struct {
	opts WriterOptions
	dst  *bytes.Buffer
	pool *mempool.Pool

	pending    []byte // unsealed data-block record bytes, uncompressed
	index      Index
	bloom      *bloom.Builder
	offset     uint64
	hasLast    bool
	lastKey    []byte
	minKey     []byte
	maxKey     []byte
	numEntries uint64
}

// NewWriter creates a Writer that accumulates an SSTable's bytes in
// memory; call Finish then WriteFile to persist it atomically.
func NewWriter(opts WriterOptions) *Writer {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.BloomFPR <= 0 {
		opts.BloomFPR = bloom.DefaultFPR
	}
	w := &Writer{
		opts:  opts,
		dst:   new(bytes.Buffer),
		pool:  mempool.GlobalPool,
		bloom: bloom.NewBuilder(0, opts.BloomFPR),
	}
	w.dst.Write(putHeader(nil))
	w.offset = HeaderSize
	return w
}

// Add appends rec to the table being built.
// REQUIRES: rec.Key > the key of every previously added record.
func (w *Writer) Add(rec *record.Record) error {
	if w.hasLast && bytes.Compare(rec.Key, w.lastKey) <= 0 {
		return fmt.Errorf("sstable: keys out of order: %q then %q", w.lastKey, rec.Key)
	}
	if !w.hasLast {
		w.minKey = append([]byte(nil), rec.Key...)
	}
	w.maxKey = append([]byte(nil), rec.Key...)
	w.lastKey = append([]byte(nil), rec.Key...)
	w.hasLast = true

	if len(w.pending) == 0 {
		w.index.Entries = append(w.index.Entries, IndexEntry{
			Key:    append([]byte(nil), rec.Key...),
			Offset: w.offset,
		})
	}

	if w.pending == nil {
		w.pending = w.pool.Get(w.opts.BlockSize)
	}
	w.pending = encodeRecord(w.pending, rec)
	w.bloom.Add(rec.Key)
	w.numEntries++

	if len(w.pending) >= w.opts.BlockSize {
		if err := w.flushBlock(); err != nil {
			return err
		}
	}
	return nil
}

// flushBlock seals the in-progress data block: compress (if configured)
// and append [compress_tag u8][bytes] to the output.
func (w *Writer) flushBlock() error {
	if len(w.pending) == 0 {
		return nil
	}
	compressed, err := compress.Compress(w.opts.Compressor, w.pending)
	if err != nil {
		return fmt.Errorf("sstable: compress block: %w", err)
	}
	w.dst.WriteByte(byte(w.opts.Compressor.Type))
	n, err := w.dst.Write(compressed)
	if err != nil {
		return fmt.Errorf("sstable: write block: %w", err)
	}
	w.offset += 1 + uint64(n)
	w.pool.Put(w.pending[:0])
	w.pending = nil
	return nil
}

// Finish seals any pending block, writes the index, bloom filter, and
// footer, and returns the complete file bytes.
func (w *Writer) Finish() ([]byte, error) {
	if err := w.flushBlock(); err != nil {
		return nil, err
	}

	indexOff := w.offset
	indexBytes := Encode(&w.index)
	n, err := w.dst.Write(indexBytes)
	if err != nil {
		return nil, fmt.Errorf("sstable: write index: %w", err)
	}
	w.offset += uint64(n)

	bloomOff := w.offset
	bloomBytes := w.bloom.Finish().Encode()
	n, err = w.dst.Write(bloomBytes)
	if err != nil {
		return nil, fmt.Errorf("sstable: write bloom: %w", err)
	}
	w.offset += uint64(n)

	if err := w.writeFooter(indexOff, bloomOff); err != nil {
		return nil, err
	}
	return w.dst.Bytes(), nil
}

func (w *Writer) writeFooter(indexOff, bloomOff uint64) error {
	if w.minKey == nil {
		w.minKey = []byte{}
	}
	if w.maxKey == nil {
		w.maxKey = []byte{}
	}

	var footer []byte
	footer = codec.AppendUint64(footer, indexOff)
	footer = codec.AppendUint64(footer, bloomOff)
	footer = codec.AppendUint64(footer, w.numEntries)
	footer = append(footer, w.minKey...)
	footer = append(footer, w.maxKey...)
	footer = codec.AppendUint32(footer, uint32(len(w.minKey)))
	footer = codec.AppendUint32(footer, uint32(len(w.maxKey)))

	sum := codec.Checksum(footer)
	footer = codec.AppendUint32(footer, sum)
	footer = codec.AppendUint32(footer, Magic)

	_, err := w.dst.Write(footer)
	if err != nil {
		return fmt.Errorf("sstable: write footer: %w", err)
	}
	return nil
}

// WriteFile atomically persists an SSTable's finished bytes to path: the
// file is built at a temporary sibling path and renamed into place, so a
// crash mid-write never leaves a partially-written file at path.
func WriteFile(path string, data []byte) error {
	return atomic.WriteFile(path, bytes.NewReader(data))
}

// TablePath returns the on-disk path for generation's SSTable under
// dir, matching the "<generation>.sst" naming every table is written
// and discovered with.
func TablePath(dir string, generation uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.sst", generation))
}

// RemoveFile unlinks an SSTable file, e.g. a compaction input once its
// output has been durably written and the registry updated.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sstable: remove %s: %w", path, err)
	}
	return nil
}

// DiscardStaleTempFiles removes any "*.sst.tmp" files left behind in dir
// by an interrupted write — atomic.WriteFile's own temp files are
// cleaned up on success or failure, but a killed process can still leave
// one behind.
func DiscardStaleTempFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("sstable: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".sst.tmp") {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return fmt.Errorf("sstable: discard stray temp file %s: %w", name, err)
			}
		}
	}
	return nil
}
