package sstable

import (
	"bytes"
	"fmt"
	"os"

	"github.com/redish/redish/internal/bloom"
	"github.com/redish/redish/internal/cache"
	"github.com/redish/redish/internal/codec"
	"github.com/redish/redish/internal/compress"
	"github.com/redish/redish/internal/record"
)

// Reader provides point lookups and full-scan iteration over one
// immutable SSTable file. Open validates the header and footer once;
// Get and NewIterator may be called concurrently from multiple
// goroutines afterward.
type Reader struct {
	data       []byte
	generation uint64
	index      *Index
	filter     *bloom.Filter
	minKey     []byte
	maxKey     []byte
	entryCount uint64

	indexOff uint64
	bloomOff uint64
}

// footerTailSize is the size of the fixed fields at the very end of the
// footer: min_key_len(4) + max_key_len(4) + footer_crc(4) + magic(4).
const footerTailSize = 4 + 4 + 4 + 4

// footerFrontSize is the size of the fixed fields at the front of the
// footer: index_off(8) + bloom_off(8) + entry_count(8).
const footerFrontSize = 8 + 8 + 8

// Open validates and loads the SSTable stored in data — typically the
// full contents of a "<generation>.sst" file. generation identifies the
// table for index-cache lookups; pass 0 and a nil idxCache to skip
// caching. Each data block carries its own compression-algorithm tag,
// so no compressor needs to be supplied here.
func Open(data []byte, generation uint64, idxCache *cache.IndexCache) (*Reader, error) {
	if len(data) < HeaderSize+footerFrontSize+footerTailSize {
		return nil, fmt.Errorf("sstable: %w: file too small", ErrCorrupt)
	}
	if codec.Uint32(data[0:4]) != Magic {
		return nil, ErrNotSSTable
	}
	ver := uint16(data[4]) | uint16(data[5])<<8
	if ver != Version {
		return nil, fmt.Errorf("sstable: %w: got version %d", ErrVersionMismatch, ver)
	}
	if codec.Uint32(data[len(data)-4:]) != Magic {
		return nil, fmt.Errorf("sstable: %w: bad footer magic", ErrCorrupt)
	}

	r := &Reader{data: data, generation: generation}
	if err := r.parseFooter(); err != nil {
		return nil, err
	}
	if err := r.loadIndexAndBloom(idxCache); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenFile reads path and opens it via Open.
func OpenFile(path string, generation uint64, idxCache *cache.IndexCache) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: read %s: %w", path, err)
	}
	return Open(data, generation, idxCache)
}

func (r *Reader) parseFooter() error {
	data := r.data
	n := len(data)

	tailStart := n - footerTailSize
	tail := data[tailStart:n]
	minKeyLen := codec.Uint32(tail[0:4])
	maxKeyLen := codec.Uint32(tail[4:8])
	storedCRC := codec.Uint32(tail[8:12])

	footerStart := tailStart - footerFrontSize - int(minKeyLen) - int(maxKeyLen)
	if footerStart < HeaderSize {
		return fmt.Errorf("sstable: %w: footer overruns file", ErrCorrupt)
	}

	front := data[footerStart : footerStart+footerFrontSize]
	indexOff := codec.Uint64(front[0:8])
	bloomOff := codec.Uint64(front[8:16])
	entryCount := codec.Uint64(front[16:24])

	keysStart := footerStart + footerFrontSize
	minKey := data[keysStart : keysStart+int(minKeyLen)]
	maxKey := data[keysStart+int(minKeyLen) : keysStart+int(minKeyLen)+int(maxKeyLen)]

	body := data[footerStart : tailStart+8] // everything up to (not including) the crc field
	if err := codec.Verify(body, storedCRC); err != nil {
		return fmt.Errorf("sstable: %w: footer checksum", ErrCorrupt)
	}

	r.indexOff = indexOff
	r.bloomOff = bloomOff
	r.entryCount = entryCount
	r.minKey = minKey
	r.maxKey = maxKey
	return nil
}

func (r *Reader) loadIndexAndBloom(idxCache *cache.IndexCache) error {
	if idxCache != nil {
		if entry, ok := idxCache.Get(r.generation); ok {
			if idx, ok := entry.Index.(*Index); ok {
				r.index = idx
				r.filter = entry.Bloom
				return nil
			}
		}
	}

	footerRegionStart := r.footerRegionStart()
	indexBytes := r.data[r.indexOff:r.bloomOff]
	idx, err := DecodeIndex(indexBytes)
	if err != nil {
		return fmt.Errorf("sstable: %w", err)
	}

	bloomBytes := r.data[r.bloomOff:footerRegionStart]
	filter, err := bloom.Decode(bloomBytes)
	if err != nil {
		return fmt.Errorf("sstable: %w", err)
	}

	r.index = idx
	r.filter = filter

	if idxCache != nil {
		idxCache.Insert(r.generation, cache.IndexEntry{
			Index: idx,
			Bloom: filter,
			Bytes: uint64(len(indexBytes) + len(bloomBytes)),
		})
	}
	return nil
}

// footerRegionStart returns the absolute offset where the footer begins,
// i.e. the end of the bloom block.
func (r *Reader) footerRegionStart() uint64 {
	n := len(r.data)
	tailStart := n - footerTailSize
	tail := r.data[tailStart:n]
	minKeyLen := codec.Uint32(tail[0:4])
	maxKeyLen := codec.Uint32(tail[4:8])
	return uint64(tailStart - footerFrontSize - int(minKeyLen) - int(maxKeyLen))
}

// MinKey returns the smallest key stored in this table.
func (r *Reader) MinKey() []byte { return r.minKey }

// MaxKey returns the largest key stored in this table.
func (r *Reader) MaxKey() []byte { return r.maxKey }

// EntryCount returns the number of records written to this table.
func (r *Reader) EntryCount() uint64 { return r.entryCount }

// Generation returns the table's generation number.
func (r *Reader) Generation() uint64 { return r.generation }

// MayContain reports whether key might be present, consulting the bloom
// filter before doing any index or block work.
func (r *Reader) MayContain(key []byte) bool {
	return r.filter.MayContain(key)
}

// Get looks up key: bloom filter, then binary search over the index,
// then a block read (decompressing if needed) and linear scan within
// the block.
func (r *Reader) Get(key []byte) (*record.Record, bool, error) {
	if !r.filter.MayContain(key) {
		return nil, false, nil
	}

	blockIdx := r.index.BlockForKey(key)
	if blockIdx < 0 {
		return nil, false, nil
	}

	block, err := r.readBlock(blockIdx)
	if err != nil {
		return nil, false, err
	}

	for len(block) > 0 {
		rec, n, err := decodeRecord(block)
		if err != nil {
			return nil, false, err
		}
		if bytes.Equal(rec.Key, key) {
			return rec, true, nil
		}
		if bytes.Compare(rec.Key, key) > 0 {
			return nil, false, nil
		}
		block = block[n:]
	}
	return nil, false, nil
}

// readBlock decompresses and returns the raw record bytes of data block
// blockIdx.
func (r *Reader) readBlock(blockIdx int) ([]byte, error) {
	entry := r.index.Entries[blockIdx]
	var end uint64
	if blockIdx+1 < len(r.index.Entries) {
		end = r.index.Entries[blockIdx+1].Offset
	} else {
		end = r.indexOff
	}

	raw := r.data[entry.Offset:end]
	if len(raw) < 1 {
		return nil, fmt.Errorf("sstable: %w: empty block", ErrCorrupt)
	}
	tag := compress.Type(raw[0])
	decompressed, err := compress.Decompress(tag, raw[1:], 0)
	if err != nil {
		return nil, fmt.Errorf("sstable: decompress block %d: %w", blockIdx, err)
	}
	return decompressed, nil
}

// Iterator walks every record in the table in ascending key order,
// across block boundaries.
type Iterator struct {
	r        *Reader
	blockIdx int
	block    []byte
	rec      *record.Record
	err      error
}

// NewIterator creates an iterator positioned before the first record.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r, blockIdx: -1}
}

// SeekToFirst positions the iterator at the first record.
func (it *Iterator) SeekToFirst() {
	it.blockIdx = 0
	it.block = nil
	it.rec = nil
	it.err = nil
	if len(it.r.index.Entries) == 0 {
		return
	}
	it.loadBlock(0)
	it.Next()
}

// Next advances to the next record.
func (it *Iterator) Next() {
	for {
		if len(it.block) == 0 {
			it.blockIdx++
			if it.blockIdx >= len(it.r.index.Entries) {
				it.rec = nil
				return
			}
			it.loadBlock(it.blockIdx)
			continue
		}
		rec, n, err := decodeRecord(it.block)
		if err != nil {
			it.err = err
			it.rec = nil
			return
		}
		it.block = it.block[n:]
		it.rec = rec
		return
	}
}

func (it *Iterator) loadBlock(idx int) {
	block, err := it.r.readBlock(idx)
	if err != nil {
		it.err = err
		it.block = nil
		return
	}
	it.block = block
}

// Valid reports whether the iterator is positioned at a record.
func (it *Iterator) Valid() bool { return it.rec != nil }

// Record returns the record at the current position.
func (it *Iterator) Record() *record.Record { return it.rec }

// Err returns the first error encountered during iteration, if any.
func (it *Iterator) Err() error { return it.err }
