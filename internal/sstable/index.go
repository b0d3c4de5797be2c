package sstable

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/redish/redish/internal/codec"
)

// IndexEntry maps the first key of one data block to that block's
// absolute file offset.
type IndexEntry struct {
	Key    []byte
	Offset uint64
}

// Index is the decoded sparse key index loaded from an SSTable's index
// block: one entry per data block, the block's first key paired with
// its offset, sorted ascending by key.
type Index struct {
	Entries []IndexEntry
}

// Encode serializes the index as [count u32] followed by count
// [key_len u32][key][offset u64] entries and a trailing CRC32.
func Encode(idx *Index) []byte {
	var buf []byte
	buf = codec.AppendUint32(buf, uint32(len(idx.Entries)))
	for _, e := range idx.Entries {
		buf = codec.AppendUint32(buf, uint32(len(e.Key)))
		buf = append(buf, e.Key...)
		buf = codec.AppendUint64(buf, e.Offset)
	}
	sum := codec.Checksum(buf)
	return codec.AppendUint32(buf, sum)
}

// DecodeIndex parses an index block previously produced by Encode.
func DecodeIndex(data []byte) (*Index, error) {
	if len(data) < 4+4 {
		return nil, fmt.Errorf("sstable: short index block")
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if err := codec.Verify(body, codec.Uint32(trailer)); err != nil {
		return nil, fmt.Errorf("sstable: index block: %w", err)
	}

	count := codec.Uint32(body[:4])
	body = body[4:]
	idx := &Index{Entries: make([]IndexEntry, 0, count)}
	for range count {
		if len(body) < 4 {
			return nil, fmt.Errorf("sstable: truncated index entry")
		}
		keyLen := codec.Uint32(body[:4])
		body = body[4:]
		if uint32(len(body)) < keyLen+8 {
			return nil, fmt.Errorf("sstable: truncated index entry")
		}
		key := body[:keyLen]
		body = body[keyLen:]
		offset := codec.Uint64(body[:8])
		body = body[8:]
		idx.Entries = append(idx.Entries, IndexEntry{Key: key, Offset: offset})
	}
	return idx, nil
}

// BlockForKey returns the index of the data block that might contain
// key: the last entry whose key is <= the target. Returns -1 if key
// precedes every block's first key.
func (idx *Index) BlockForKey(key []byte) int {
	i := sort.Search(len(idx.Entries), func(i int) bool {
		return bytes.Compare(idx.Entries[i].Key, key) > 0
	})
	return i - 1
}
