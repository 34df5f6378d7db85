// Package segment resolves arbitrary sets of overlapping highlight ranges
// into a disjoint, deterministically-ordered segmentation of the offset
// domain. It is pure integer arithmetic with no markup or geometry
// dependency.
package segment

import (
	"sort"
	"time"
)

// Range is one highlight's extent in the canonical offset domain, plus the
// keys that decide display priority where ranges overlap.
type Range struct {
	ID        string
	Start     int
	End       int
	CreatedAt time.Time
}

// Segment is a maximal contiguous sub-range of the domain with a constant
// set of active highlights. Segments are contiguous, non-overlapping, and
// together cover exactly [0, length). WinnerID is "" where ActiveIDs is
// empty.
type Segment struct {
	Start     int      `json:"start"`
	End       int      `json:"end"`
	ActiveIDs []string `json:"active_ids"`
	WinnerID  string   `json:"winner_id,omitempty"`
}

// Policy decides which of two overlapping ranges wins for display. It must
// induce a total order for the output to be deterministic.
type Policy func(a, b Range) bool

// ByRecency is the default display policy: the most recently created
// highlight wins. Ties break to the shorter span, then the lower start,
// then the higher end, then the lexicographically smaller id, so the order
// is total and reproducible.
func ByRecency(a, b Range) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	la, lb := a.End-a.Start, b.End-b.Start
	if la != lb {
		return la < lb
	}
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.End != b.End {
		return a.End > b.End
	}
	return a.ID < b.ID
}

// Split segments [0, length) against the given ranges using the default
// display policy.
func Split(length int, ranges []Range) []Segment {
	return SplitWithPolicy(length, ranges, ByRecency)
}

// SplitWithPolicy segments [0, length) against the given ranges. Ranges with
// End <= Start contribute nothing; ranges are clipped to the domain. Output
// is independent of input order: a close event at a position never overlaps
// an open event at the same position, and every position in [0, length) is
// covered by exactly one segment.
func SplitWithPolicy(length int, ranges []Range, prefer Policy) []Segment {
	if length <= 0 {
		return nil
	}

	clipped := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.Start < 0 {
			r.Start = 0
		}
		if r.End > length {
			r.End = length
		}
		if r.End <= r.Start {
			continue
		}
		clipped = append(clipped, r)
	}

	// Every open and close position is a segment boundary.
	cuts := make([]int, 0, 2*len(clipped)+2)
	cuts = append(cuts, 0, length)
	for _, r := range clipped {
		cuts = append(cuts, r.Start, r.End)
	}
	sort.Ints(cuts)
	cuts = dedupe(cuts)

	segments := make([]Segment, 0, len(cuts)-1)
	for i := 0; i+1 < len(cuts); i++ {
		lo, hi := cuts[i], cuts[i+1]

		var active []Range
		for _, r := range clipped {
			// Covering the whole cell means the range opened at or before lo
			// and closes at or after hi; a range closing exactly at lo never
			// creates a zero-width phantom overlap with one opening there.
			if r.Start <= lo && r.End >= hi {
				active = append(active, r)
			}
		}

		seg := Segment{Start: lo, End: hi}
		if len(active) > 0 {
			best := active[0]
			for _, r := range active[1:] {
				if prefer(r, best) {
					best = r
				}
			}
			seg.WinnerID = best.ID
			ids := make([]string, len(active))
			for j, r := range active {
				ids[j] = r.ID
			}
			sort.Strings(ids)
			seg.ActiveIDs = ids
		}
		segments = append(segments, seg)
	}
	return segments
}

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}
