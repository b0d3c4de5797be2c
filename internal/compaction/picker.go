package compaction

import (
	"bytes"
	"sort"
)

// Picker selects a cohort of SSTables to merge in one compaction,
// grounded on the teacher's CompactionPicker interface shape
// (NeedsCompaction/PickCompaction) but implementing spec.md's
// size-tiered policy: compact once enough similarly-sized, key-range
// overlapping tables accumulate, rather than RocksDB's per-level score.
type Picker struct {
	// MinCohortSize is the fewest tables worth compacting together.
	MinCohortSize int

	// MaxCohortTables caps how many tables one compaction merges.
	MaxCohortTables int

	// SizeRatioTrigger: two non-overlapping tables are still considered
	// part of the same tier (and thus compactable together) when the
	// ratio of their sizes is within this factor of each other.
	SizeRatioTrigger float64
}

// DefaultPicker returns a Picker with the engine's default thresholds.
func DefaultPicker() *Picker {
	return &Picker{
		MinCohortSize:    4,
		MaxCohortTables:  12,
		SizeRatioTrigger: 2.0,
	}
}

// NeedsCompaction reports whether tables contains a cohort worth
// compacting.
func (p *Picker) NeedsCompaction(tables []TableMeta) bool {
	return len(p.Pick(tables)) > 0
}

// Pick returns the largest run of tables, taken in MinKey order, in which
// each table is joinable with the one before it (key ranges overlap, or
// sizes within SizeRatioTrigger), or nil if no run reaches MinCohortSize.
func (p *Picker) Pick(tables []TableMeta) []TableMeta {
	if len(tables) < p.MinCohortSize {
		return nil
	}
	sorted := append([]TableMeta(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].MinKey, sorted[j].MinKey) < 0
	})

	var best []TableMeta
	i := 0
	for i < len(sorted) {
		run := []TableMeta{sorted[i]}
		j := i + 1
		for j < len(sorted) && len(run) < p.MaxCohortTables &&
			p.joinable(run[len(run)-1], sorted[j]) {
			run = append(run, sorted[j])
			j++
		}
		if len(run) > len(best) {
			best = run
		}
		i = j
	}
	if len(best) < p.MinCohortSize {
		return nil
	}
	return best
}

// joinable reports whether b belongs in the same cohort as a: either
// their key ranges overlap (so merging is required for correctness), or
// they're close enough in size to belong to the same size tier.
func (p *Picker) joinable(a, b TableMeta) bool {
	if overlaps(a, b) {
		return true
	}
	if a.SizeBytes == 0 || b.SizeBytes == 0 {
		return true
	}
	ratio := float64(a.SizeBytes) / float64(b.SizeBytes)
	if ratio < 1 {
		ratio = 1 / ratio
	}
	return ratio <= p.SizeRatioTrigger
}
