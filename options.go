package redish

import (
	"errors"

	"github.com/redish/redish/internal/bloom"
	"github.com/redish/redish/internal/cache"
	"github.com/redish/redish/internal/compress"
	"github.com/redish/redish/internal/logging"
	"github.com/redish/redish/internal/memtable"
	"github.com/redish/redish/internal/wal"
)

// Logger is an alias for the logging.Logger interface, so callers can
// configure Options.Logger without importing internal/logging directly.
type Logger = logging.Logger

// CompressorType is an alias for the block compression algorithm tag.
type CompressorType = compress.Type

// Compression type constants, grounded on the teacher's options.go
// constant-aliasing pattern.
const (
	CompressionNone   = compress.None
	CompressionLZ4    = compress.LZ4
	CompressionZstd   = compress.Zstd
	CompressionSnappy = compress.Snappy
)

// Options configures a Tree. The zero value is not usable; construct
// via DefaultOptions and override fields.
type Options struct {
	// DBPath is the directory the engine owns: wal/ and sst/
	// subdirectories are created inside it.
	DBPath string

	// MemTableMaxSize is the number of distinct keys the active memtable
	// may hold before it is frozen and queued for flush.
	MemTableMaxSize int64

	// WALEnabled controls whether writes are appended to the WAL before
	// being applied to the memtable. Disabling it trades durability for
	// throughput (e.g. bulk loads that tolerate data loss on crash).
	WALEnabled bool

	// WALMaxSegmentBytes bounds one WAL segment file's size before
	// rotating to the next.
	WALMaxSegmentBytes int64

	// EnableIndexCache/IndexCacheBytes configure the SSTable index and
	// bloom filter cache.
	EnableIndexCache bool
	IndexCacheBytes  uint64

	// EnableValueCache/ValueCacheEntries/ValueCacheBytes configure the
	// hot-value cache consulted before any SSTable is touched.
	EnableValueCache  bool
	ValueCacheEntries int
	ValueCacheBytes   uint64

	// Compressor selects the block compression algorithm new SSTables
	// are written with.
	Compressor compress.Config

	// BloomFPR is the target false-positive rate for new SSTables'
	// bloom filters.
	BloomFPR float64

	// CompactionMinCohortSize/CompactionMaxCohortTables/CompactionSizeRatio
	// tune when and how many SSTables a background compaction merges
	// together. A non-positive value falls back to 4, 12 and 2.0.
	CompactionMinCohortSize   int
	CompactionMaxCohortTables int
	CompactionSizeRatio       float64

	// Logger receives the engine's structured log output. Nil selects
	// logging.Discard, following the teacher's per-instance (not
	// process-global) logger discipline.
	Logger Logger
}

// DefaultOptions returns the engine's default configuration for the
// database directory at path.
func DefaultOptions(path string) Options {
	return Options{
		DBPath:                    path,
		MemTableMaxSize:           memtable.DefaultMaxEntries,
		WALEnabled:                true,
		WALMaxSegmentBytes:        wal.DefaultMaxSegmentBytes,
		EnableIndexCache:          true,
		IndexCacheBytes:           cache.DefaultIndexCacheBytes,
		EnableValueCache:          true,
		ValueCacheEntries:         cache.DefaultValueCacheEntries,
		ValueCacheBytes:           cache.DefaultValueCacheBytes,
		Compressor:                compress.Config{Type: compress.None},
		BloomFPR:                  bloom.DefaultFPR,
		CompactionMinCohortSize:   4,
		CompactionMaxCohortTables: 12,
		CompactionSizeRatio:       2.0,
		Logger:                    logging.Discard,
	}
}

// validate fills in any zero-valued fields with their defaults and
// rejects configurations Open cannot act on.
func (o *Options) validate() error {
	if o.DBPath == "" {
		return errors.New("redish: Options.DBPath must not be empty")
	}
	if o.MemTableMaxSize <= 0 {
		o.MemTableMaxSize = memtable.DefaultMaxEntries
	}
	if o.WALMaxSegmentBytes <= 0 {
		o.WALMaxSegmentBytes = wal.DefaultMaxSegmentBytes
	}
	if o.IndexCacheBytes == 0 {
		o.IndexCacheBytes = cache.DefaultIndexCacheBytes
	}
	if o.ValueCacheEntries == 0 {
		o.ValueCacheEntries = cache.DefaultValueCacheEntries
	}
	if o.ValueCacheBytes == 0 {
		o.ValueCacheBytes = cache.DefaultValueCacheBytes
	}
	if o.BloomFPR <= 0 {
		o.BloomFPR = bloom.DefaultFPR
	}
	if o.CompactionMinCohortSize <= 0 {
		o.CompactionMinCohortSize = 4
	}
	if o.CompactionMaxCohortTables <= 0 {
		o.CompactionMaxCohortTables = 12
	}
	if o.CompactionSizeRatio <= 0 {
		o.CompactionSizeRatio = 2.0
	}
	if logging.IsNil(o.Logger) {
		o.Logger = logging.Discard
	}
	return nil
}
