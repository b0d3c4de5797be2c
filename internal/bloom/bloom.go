// Package bloom implements the per-SSTable probabilistic membership
// filter. One filter is built from the final key set at flush or
// compaction time and stored in the SSTable's footer region; a negative
// lookup short-circuits the SSTable entirely, a positive one proceeds to
// the index.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zeebo/xxh3"

	"github.com/redish/redish/internal/codec"
)

// DefaultFPR is the target false-positive rate used when none is
// configured.
const DefaultFPR = 0.01

// Filter is a built, immutable bloom filter ready to be queried or
// serialized.
type Filter struct {
	bits      []byte
	numBits   uint64
	numHashes uint32
}

// Builder accumulates keys and produces a Filter via Finish.
type Builder struct {
	fpr    float64
	hashes []uint64
}

// NewBuilder creates a Builder sized for expectedKeys entries at the
// given target false-positive rate. A non-positive fpr falls back to
// DefaultFPR.
func NewBuilder(expectedKeys int, fpr float64) *Builder {
	if fpr <= 0 || fpr >= 1 {
		fpr = DefaultFPR
	}
	return &Builder{
		fpr:    fpr,
		hashes: make([]uint64, 0, max(expectedKeys, 0)),
	}
}

// Add records a key's hash for inclusion in the filter built by Finish.
func (b *Builder) Add(key []byte) {
	b.hashes = append(b.hashes, xxh3.Hash(key))
}

// Len returns the number of keys added so far.
func (b *Builder) Len() int { return len(b.hashes) }

// Finish builds the Filter from every key added via Add.
func (b *Builder) Finish() *Filter {
	n := len(b.hashes)
	if n == 0 {
		return &Filter{numHashes: 1, bits: make([]byte, 1)}
	}

	numBits, numHashes := optimalParams(n, b.fpr)
	numBytes := (numBits + 7) / 8
	f := &Filter{
		bits:      make([]byte, numBytes),
		numBits:   numBits,
		numHashes: numHashes,
	}
	for _, h := range b.hashes {
		f.addHash(h)
	}
	return f
}

// optimalParams derives the bit-array size and probe count for n entries
// at the target false-positive rate p, using the standard Bloom filter
// sizing formulas: m = ceil(-n*ln(p) / ln(2)^2), k = round(m/n * ln(2)).
func optimalParams(n int, p float64) (numBits uint64, numHashes uint32) {
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 64 {
		m = 64
	}
	k := math.Round(m / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return uint64(m), uint32(k)
}

// addHash sets the numHashes bit positions derived from hash via double
// hashing (Kirsch-Mitzenmacher): bit_i = (h1 + i*h2) mod numBits, where
// h1/h2 are the two 32-bit halves of the 64-bit key hash.
func (f *Filter) addHash(hash uint64) {
	h1 := uint32(hash)
	h2 := uint32(hash >> 32)
	for i := uint32(0); i < f.numHashes; i++ {
		bit := (uint64(h1) + uint64(i)*uint64(h2)) % f.numBits
		f.bits[bit/8] |= 1 << (bit % 8)
	}
}

// fastRange64 maps h into [0, n) without a modulo, using the standard
// 64x64->128 multiply-high trick (Lemire's fastrange).
func fastRange64(h, n uint64) uint64 {
	hi, _ := bits64Mul(h, n)
	return hi
}

func bits64Mul(a, b uint64) (hi, lo uint64) {
	const mask32 = 1<<32 - 1
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32
	t := aLo * bLo
	w0 := t & mask32
	k := t >> 32
	t = aHi*bLo + k
	w1 := t & mask32
	w2 := t >> 32
	t = aLo*bHi + w1
	k = t >> 32
	lo = (t << 32) | w0
	hi = aHi*bHi + w2 + k
	return
}

// MayContain reports whether key might be present. False means the key
// is definitely absent; true means it might be present (subject to the
// filter's false-positive rate).
func (f *Filter) MayContain(key []byte) bool {
	if f.numBits == 0 {
		return true
	}
	hash := xxh3.Hash(key)
	h1 := uint32(hash)
	h2 := uint32(hash >> 32)
	for i := uint32(0); i < f.numHashes; i++ {
		bit := (uint64(h1) + uint64(i)*uint64(h2)) % f.numBits
		if f.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// Encode serializes the filter as
// [num_bits u64][num_hashes u32][bits...][crc32 u32], round-tripping
// losslessly through Decode.
func (f *Filter) Encode() []byte {
	header := make([]byte, 12)
	codec.PutUint64(header[0:8], f.numBits)
	codec.PutUint32(header[8:12], f.numHashes)
	body := append(header, f.bits...)
	sum := codec.Checksum(body)
	return binary.LittleEndian.AppendUint32(body, sum)
}

// Decode parses a filter previously produced by Encode.
func Decode(data []byte) (*Filter, error) {
	if len(data) < 16 {
		return nil, fmt.Errorf("bloom: short filter block (%d bytes)", len(data))
	}
	body, sum := data[:len(data)-4], data[len(data)-4:]
	if err := codec.Verify(body, codec.Uint32(sum)); err != nil {
		return nil, fmt.Errorf("bloom: %w", err)
	}
	numBits := codec.Uint64(body[0:8])
	numHashes := codec.Uint32(body[8:12])
	bits := body[12:]
	if uint64(len(bits)*8) < numBits {
		return nil, fmt.Errorf("bloom: truncated bit array")
	}
	return &Filter{bits: bits, numBits: numBits, numHashes: numHashes}, nil
}
