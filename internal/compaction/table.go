// Package compaction merges a cohort of overlapping SSTables into one,
// dropping shadowed versions and unneeded tombstones. It replaces the
// teacher's leveled/universal/FIFO picker hierarchy — this engine keeps
// no level structure or MANIFEST, only a flat directory of tables — with
// the size-tiered cohort picker spec.md calls for.
package compaction

import "bytes"

// TableMeta describes one on-disk SSTable for compaction-selection
// purposes, without requiring the table itself to be open.
type TableMeta struct {
	Generation uint64
	MinKey     []byte
	MaxKey     []byte
	SizeBytes  uint64
	EntryCount uint64
}

// overlaps reports whether a and b's key ranges intersect.
func overlaps(a, b TableMeta) bool {
	return bytes.Compare(a.MinKey, b.MaxKey) <= 0 && bytes.Compare(b.MinKey, a.MaxKey) <= 0
}
