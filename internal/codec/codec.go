// Package codec provides the fixed-width little-endian framing and CRC32
// checksum primitives shared by the WAL and SSTable formats.
//
// All multi-byte on-disk integers are little-endian. Every framed record
// carries a trailing CRC32 (IEEE polynomial) computed over the bytes that
// precede it; a mismatch is treated as truncation during WAL replay and as
// corruption during SSTable reads.
package codec

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ErrCorrupt is returned when a checksum does not validate.
var ErrCorrupt = errors.New("codec: checksum mismatch")

var ieeeTable = crc32.MakeTable(crc32.IEEE)

// Checksum computes the IEEE CRC32 of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, ieeeTable)
}

// Verify returns ErrCorrupt if the IEEE CRC32 of data does not equal want.
func Verify(data []byte, want uint32) error {
	if Checksum(data) != want {
		return ErrCorrupt
	}
	return nil
}

// PutUint32 writes v as 4 little-endian bytes into dst.
// REQUIRES: len(dst) >= 4.
func PutUint32(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }

// Uint32 reads a uint32 from 4 little-endian bytes.
// REQUIRES: len(src) >= 4.
func Uint32(src []byte) uint32 { return binary.LittleEndian.Uint32(src) }

// PutUint64 writes v as 8 little-endian bytes into dst.
// REQUIRES: len(dst) >= 8.
func PutUint64(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }

// Uint64 reads a uint64 from 8 little-endian bytes.
// REQUIRES: len(src) >= 8.
func Uint64(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }

// PutInt64 writes v as 8 little-endian bytes into dst.
// REQUIRES: len(dst) >= 8.
func PutInt64(dst []byte, v int64) { binary.LittleEndian.PutUint64(dst, uint64(v)) }

// Int64 reads an int64 from 8 little-endian bytes.
// REQUIRES: len(src) >= 8.
func Int64(src []byte) int64 { return int64(binary.LittleEndian.Uint64(src)) }

// AppendUint32 appends v as 4 little-endian bytes to dst.
func AppendUint32(dst []byte, v uint32) []byte { return binary.LittleEndian.AppendUint32(dst, v) }

// AppendUint64 appends v as 8 little-endian bytes to dst.
func AppendUint64(dst []byte, v uint64) []byte { return binary.LittleEndian.AppendUint64(dst, v) }

// AppendInt64 appends v as 8 little-endian bytes to dst.
func AppendInt64(dst []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(dst, uint64(v))
}
