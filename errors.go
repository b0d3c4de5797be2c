package redish

import "errors"

// Sentinel error kinds returned by Tree operations. Each is wrapped with
// context via fmt.Errorf("...: %w", err) at the call site, so
// errors.Is(err, ErrCorrupt) (etc.) discriminates kinds regardless of
// the wrapping, following the teacher's logging.ErrFatal sentinel-plus-wrap
// idiom.
var (
	// ErrIO wraps an underlying filesystem error (open/read/write/sync).
	ErrIO = errors.New("redish: i/o error")

	// ErrCorrupt is returned when a WAL frame, SSTable block, or footer
	// fails its checksum or structural validation.
	ErrCorrupt = errors.New("redish: corrupt data")

	// ErrSizeViolation is returned when a key or value exceeds the
	// configured maximum size.
	ErrSizeViolation = errors.New("redish: key or value too large")

	// ErrTxUnknown is returned when a transaction ID is not open.
	ErrTxUnknown = errors.New("redish: unknown transaction")

	// ErrTxConflict is returned by CommitTransaction when a tracked key
	// was modified by another committed write after the transaction's
	// snapshot sequence.
	ErrTxConflict = errors.New("redish: transaction conflict")

	// ErrClosed is returned by any operation on a Tree after Close.
	ErrClosed = errors.New("redish: database is closed")

	// ErrInternal marks an unrecoverable engine fault (e.g. a background
	// flush or compaction that failed to write its output); the Tree
	// rejects further writes once this has been observed.
	ErrInternal = errors.New("redish: internal error")

	// ErrNotFound is returned by Get when the key does not exist or is
	// shadowed by a tombstone.
	ErrNotFound = errors.New("redish: key not found")
)
