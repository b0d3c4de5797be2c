package wal

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/redish/redish/internal/codec"
)

// Reader sequentially decodes frames from a single segment.
type Reader struct {
	src io.Reader
}

// NewReader wraps src, a segment file positioned at its start.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src}
}

// ReadFrame reads the next frame. It returns io.EOF once the segment is
// exhausted cleanly on a frame boundary. ErrShortFrame is returned (not
// io.EOF) when the segment ends mid-frame — the tail left by a crash
// mid-append — so callers can tell "nothing more to read" from "the last
// write here never completed", though both terminate replay at that
// point.
func (r *Reader) ReadFrame() (*Frame, error) {
	var opByte [1]byte
	if _, err := io.ReadFull(r.src, opByte[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrShortFrame
	}

	keyLen, err := readUint32(r.src)
	if err != nil {
		return nil, ErrShortFrame
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r.src, key); err != nil {
		return nil, ErrShortFrame
	}

	valueLen, err := readUint32(r.src)
	if err != nil {
		return nil, ErrShortFrame
	}
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r.src, value); err != nil {
		return nil, ErrShortFrame
	}

	tail := make([]byte, 8+8+8+8+4)
	if _, err := io.ReadFull(r.src, tail); err != nil {
		return nil, ErrShortFrame
	}

	body := make([]byte, 0, 1+4+len(key)+4+len(value)+32)
	body = append(body, opByte[0])
	body = codec.AppendUint32(body, uint32(len(key)))
	body = append(body, key...)
	body = codec.AppendUint32(body, uint32(len(value)))
	body = append(body, value...)
	body = append(body, tail[:32]...)

	storedCRC := codec.Uint32(tail[32:36])
	if codec.Checksum(body) != storedCRC {
		return nil, ErrCorruptFrame
	}

	return &Frame{
		Op:        Op(opByte[0]),
		Key:       key,
		Value:     value,
		CreatedAt: codec.Int64(tail[0:8]),
		TTLMillis: codec.Int64(tail[8:16]),
		Sequence:  codec.Uint64(tail[16:24]),
		TxID:      codec.Uint64(tail[24:32]),
	}, nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
