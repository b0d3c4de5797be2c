// Package compress implements the pluggable per-block compressor used by
// the SSTable writer. Compression operates on a single data block at a
// time and never spans block boundaries; a one-byte algorithm tag
// precedes every compressed block on disk so the reader can dispatch on
// it without consulting file-level metadata.
package compress

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies the compressor used for a block. The zero value, None,
// is the engine default.
type Type uint8

const (
	// None stores the block verbatim. Engine default.
	None Type = 0

	// LZ4 compresses with LZ4 block-format (github.com/pierrec/lz4/v4).
	// Historically this was the engine default before it was changed to
	// None.
	LZ4 Type = 1

	// Zstd compresses with Zstandard (github.com/klauspost/compress/zstd).
	Zstd Type = 2

	// Snappy compresses with Google Snappy (github.com/golang/snappy).
	Snappy Type = 3
)

func (t Type) String() string {
	switch t {
	case None:
		return "None"
	case LZ4:
		return "LZ4"
	case Zstd:
		return "Zstd"
	case Snappy:
		return "Snappy"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Config selects a compressor and, for algorithms that support it, a
// compression level.
type Config struct {
	Type Type

	// Level is algorithm-specific: for LZ4, Level >= 9 selects the
	// high-compression mode; for Zstd it maps to zstd.EncoderLevel.
	// Ignored for None and Snappy.
	Level int
}

// Compress compresses data according to cfg. For None, data is returned
// unmodified (no copy).
func Compress(cfg Config, data []byte) ([]byte, error) {
	switch cfg.Type {
	case None:
		return data, nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	case LZ4:
		return compressLZ4(data, cfg.Level >= 9)
	case Zstd:
		return compressZstd(data, cfg.Level)
	default:
		return nil, fmt.Errorf("compress: unsupported type %s", cfg.Type)
	}
}

// Decompress decompresses data that was produced by Compress with the
// given type. rawLen, if known, sizes the output buffer for LZ4 (which
// has no embedded uncompressed-size field in raw block mode); pass 0 if
// unknown.
func Decompress(t Type, data []byte, rawLen int) ([]byte, error) {
	switch t {
	case None:
		return data, nil
	case Snappy:
		return snappy.Decode(nil, data)
	case LZ4:
		return decompressLZ4(data, rawLen)
	case Zstd:
		return decompressZstd(data)
	default:
		return nil, fmt.Errorf("compress: unsupported type %s", t)
	}
}

func compressLZ4(data []byte, highCompression bool) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var ht [1 << 16]int
	var n int
	var err error
	if highCompression {
		n, err = lz4.CompressBlockHC(data, dst, lz4.CompressionLevel(9), ht[:], nil)
	} else {
		n, err = lz4.CompressBlock(data, dst, ht[:])
	}
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 compress block: %w", err)
	}
	if n == 0 {
		// Incompressible; store the raw bytes instead of an empty block.
		raw := make([]byte, len(data))
		copy(raw, data)
		return raw, nil
	}
	return dst[:n], nil
}

func decompressLZ4(data []byte, rawLen int) ([]byte, error) {
	if rawLen > 0 {
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("compress: lz4 uncompress block: %w", err)
		}
		return dst[:n], nil
	}
	bufSize := max(len(data)*4, 256)
	for range 10 {
		dst := make([]byte, bufSize)
		n, err := lz4.UncompressBlock(data, dst)
		if err == nil {
			return dst[:n], nil
		}
		bufSize *= 2
	}
	return nil, fmt.Errorf("compress: lz4 uncompress block: buffer too small after retries")
}

func compressZstd(data []byte, level int) ([]byte, error) {
	lvl := zstd.EncoderLevel(level)
	if lvl < zstd.SpeedFastest || lvl > zstd.SpeedBestCompression {
		lvl = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, fmt.Errorf("compress: zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd decoder: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}
