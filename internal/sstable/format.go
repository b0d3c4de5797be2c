// Package sstable implements the immutable, sorted on-disk run produced
// by a memtable flush or a compaction job. The byte layout is pinned —
// not RocksDB's block-based table format — so a reader from any future
// version of this engine can open a file written by another:
//
//	header:  [magic u32="RDSS"][version u16=2]
//	data blocks: sequence of records, optionally compressed, each
//	  [key_len u32][key][value_tag u8][value_len u32][value]
//	  [created_at i64][ttl_ms i64][sequence u64][crc32 u32]
//	index block: first key of each data block -> absolute file offset
//	bloom filter block: see internal/bloom
//	footer: [index_off u64][bloom_off u64][entry_count u64]
//	  [min_key][max_key][min_key_len u32][max_key_len u32]
//	  [footer_crc u32][magic u32]
//
// min_key_len/max_key_len trail their variable-length fields rather than
// leading them so the footer can be located and parsed working backward
// from the fixed-size end of the file, without needing a separate
// length-of-footer marker.
package sstable

import (
	"encoding/binary"
	"errors"
)

// Magic identifies a redish SSTable file.
const Magic uint32 = 0x52445353 // "RDSS" as a number; stored little-endian, the file bytes are S S D R

// Version is the only SSTable format version this engine accepts.
const Version uint16 = 2

// HeaderSize is the byte size of the fixed file header.
const HeaderSize = 4 + 2 // magic + version

// ValueTag distinguishes a live value from a tombstone within a data
// block record, so a tombstone need not carry a (zero-length) value.
type ValueTag uint8

const (
	// ValueTagLive marks a record carrying a value.
	ValueTagLive ValueTag = 0
	// ValueTagTombstone marks a deletion marker.
	ValueTagTombstone ValueTag = 1
)

// ErrVersionMismatch is returned when an SSTable's header carries a
// version this engine does not know how to read.
var ErrVersionMismatch = errors.New("sstable: unsupported format version")

// ErrNotSSTable is returned when a file's magic number doesn't match.
var ErrNotSSTable = errors.New("sstable: bad magic number")

// ErrCorrupt is returned when a structural check (footer checksum,
// block checksum) fails.
var ErrCorrupt = errors.New("sstable: corrupt file")

// DefaultBlockSize is the target uncompressed size of one data block.
const DefaultBlockSize = 4096

func putHeader(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, Magic)
	buf = binary.LittleEndian.AppendUint16(buf, Version)
	return buf
}
