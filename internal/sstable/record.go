package sstable

import (
	"fmt"

	"github.com/redish/redish/internal/codec"
	"github.com/redish/redish/internal/record"
)

// encodeRecord appends one data-block record for rec to dst and returns
// the result:
// [key_len u32][key][value_tag u8][value_len u32][value]
// [created_at i64][ttl_ms i64][sequence u64][crc32 u32]
func encodeRecord(dst []byte, rec *record.Record) []byte {
	start := len(dst)
	dst = codec.AppendUint32(dst, uint32(len(rec.Key)))
	dst = append(dst, rec.Key...)

	if rec.Tombstone {
		dst = append(dst, byte(ValueTagTombstone))
		dst = codec.AppendUint32(dst, 0)
	} else {
		dst = append(dst, byte(ValueTagLive))
		dst = codec.AppendUint32(dst, uint32(len(rec.Value)))
		dst = append(dst, rec.Value...)
	}
	dst = codec.AppendInt64(dst, rec.CreatedAt)
	dst = codec.AppendInt64(dst, rec.TTLMillis)
	dst = codec.AppendUint64(dst, rec.Sequence)

	sum := codec.Checksum(dst[start:])
	dst = codec.AppendUint32(dst, sum)
	return dst
}

// decodeRecord parses one data-block record from the front of data,
// returning the record and the number of bytes consumed.
func decodeRecord(data []byte) (*record.Record, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("sstable: %w: truncated record header", ErrCorrupt)
	}
	keyLen := codec.Uint32(data[:4])
	pos := 4
	if uint32(len(data)-pos) < keyLen+1 {
		return nil, 0, fmt.Errorf("sstable: %w: truncated key", ErrCorrupt)
	}
	key := data[pos : pos+int(keyLen)]
	pos += int(keyLen)

	tag := ValueTag(data[pos])
	pos++

	if len(data)-pos < 4 {
		return nil, 0, fmt.Errorf("sstable: %w: truncated value length", ErrCorrupt)
	}
	valueLen := codec.Uint32(data[pos : pos+4])
	pos += 4

	var value []byte
	if tag == ValueTagLive {
		if uint32(len(data)-pos) < valueLen {
			return nil, 0, fmt.Errorf("sstable: %w: truncated value", ErrCorrupt)
		}
		value = data[pos : pos+int(valueLen)]
		pos += int(valueLen)
	}

	if len(data)-pos < 8+8+8+4 {
		return nil, 0, fmt.Errorf("sstable: %w: truncated record trailer", ErrCorrupt)
	}
	createdAt := codec.Int64(data[pos : pos+8])
	ttlMillis := codec.Int64(data[pos+8 : pos+16])
	sequence := codec.Uint64(data[pos+16 : pos+24])
	pos += 24

	storedCRC := codec.Uint32(data[pos : pos+4])
	pos += 4

	if err := codec.Verify(data[:pos-4], storedCRC); err != nil {
		return nil, 0, fmt.Errorf("sstable: %w", ErrCorrupt)
	}

	rec := &record.Record{
		Key:       key,
		Value:     value,
		Tombstone: tag == ValueTagTombstone,
		CreatedAt: createdAt,
		TTLMillis: ttlMillis,
		Sequence:  sequence,
	}
	return rec, pos, nil
}
