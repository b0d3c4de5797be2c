// Package wal implements the write-ahead log: every mutation is appended
// and fsynced here before it is applied to the memtable, so a crash can
// never lose an acknowledged write. The on-disk frame format is a simple
// length-prefixed record, not RocksDB's 32KiB block-fragmented legacy log
// — the engine's durability unit is one key/value write, never a
// sub-block fragment.
//
// Frame layout (all integers little-endian):
//
//	[op u8][key_len u32][key][value_len u32][value]
//	[created_at i64][ttl_ms i64][sequence u64][tx_id u64][crc32 u32]
//
// The CRC32 (IEEE) covers every preceding byte of the frame. A segment is
// a sequence of frames in a file named "<segment-seq>.wal", zero-padded
// and monotonically increasing; segments rotate once a configured size
// threshold is crossed.
package wal

import "errors"

// Version is the WAL frame format version. Segments carry no header, so
// this value is not written to disk and replay does not check it.
const Version = 1

// Op identifies the kind of mutation a frame records.
type Op uint8

const (
	// OpPut records a value write (including a TTL-bearing write).
	OpPut Op = 1
	// OpDelete records a tombstone write.
	OpDelete Op = 2
	// OpTxBegin marks the start of an optimistic transaction's writes.
	OpTxBegin Op = 3
	// OpTxCommit marks a transaction's writes as durable and visible.
	OpTxCommit Op = 4
	// OpTxRollback marks a transaction's writes as abandoned.
	OpTxRollback Op = 5
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "Put"
	case OpDelete:
		return "Delete"
	case OpTxBegin:
		return "TxBegin"
	case OpTxCommit:
		return "TxCommit"
	case OpTxRollback:
		return "TxRollback"
	default:
		return "Unknown"
	}
}

// fixedFrameOverhead is the byte count of every fixed-width field in a
// frame excluding the key and value payloads:
// op(1) + key_len(4) + value_len(4) + created_at(8) + ttl_ms(8) +
// sequence(8) + tx_id(8) + crc32(4) = 45.
const fixedFrameOverhead = 1 + 4 + 4 + 8 + 8 + 8 + 8 + 4

// ErrCorruptFrame is returned when a frame's checksum does not validate.
var ErrCorruptFrame = errors.New("wal: corrupt frame")

// ErrShortFrame is returned when a frame is truncated — the tail of a
// segment left mid-write by a crash. Replay treats this as the end of
// the log rather than a hard failure.
var ErrShortFrame = errors.New("wal: short frame")
