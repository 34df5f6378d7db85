package segment

import (
	"math/rand"
	"reflect"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSplitNoRanges(t *testing.T) {
	segs := Split(10, nil)
	want := []Segment{{Start: 0, End: 10}}
	if !reflect.DeepEqual(segs, want) {
		t.Errorf("Split(10, nil) = %+v, want %+v", segs, want)
	}
}

func TestSplitZeroLength(t *testing.T) {
	if segs := Split(0, []Range{{ID: "a", Start: 0, End: 5}}); segs != nil {
		t.Errorf("Split(0, ...) = %+v, want nil", segs)
	}
}

func TestSplitOverlap(t *testing.T) {
	// Two overlapping ranges over a domain of 20; b is newer and wins the
	// shared cell.
	ranges := []Range{
		{ID: "a", Start: 0, End: 10, CreatedAt: t0},
		{ID: "b", Start: 5, End: 15, CreatedAt: t0.Add(time.Second)},
	}
	segs := Split(20, ranges)

	want := []Segment{
		{Start: 0, End: 5, ActiveIDs: []string{"a"}, WinnerID: "a"},
		{Start: 5, End: 10, ActiveIDs: []string{"a", "b"}, WinnerID: "b"},
		{Start: 10, End: 15, ActiveIDs: []string{"b"}, WinnerID: "b"},
		{Start: 15, End: 20},
	}
	if !reflect.DeepEqual(segs, want) {
		t.Errorf("Split() = %+v, want %+v", segs, want)
	}
}

func TestSplitAdjacentNoPhantomOverlap(t *testing.T) {
	// a closes exactly where b opens; no cell may list both.
	ranges := []Range{
		{ID: "a", Start: 0, End: 5, CreatedAt: t0},
		{ID: "b", Start: 5, End: 10, CreatedAt: t0},
	}
	segs := Split(10, ranges)
	for _, seg := range segs {
		if len(seg.ActiveIDs) > 1 {
			t.Errorf("segment [%d, %d) lists %v: close must precede open", seg.Start, seg.End, seg.ActiveIDs)
		}
	}
}

func TestSplitCoverageAndDisjointness(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		length := 1 + rng.Intn(100)
		n := rng.Intn(8)
		ranges := make([]Range, n)
		for i := range ranges {
			s := rng.Intn(length)
			e := s + 1 + rng.Intn(length-s)
			ranges[i] = Range{
				ID:        string(rune('a' + i)),
				Start:     s,
				End:       e,
				CreatedAt: t0.Add(time.Duration(rng.Intn(5)) * time.Second),
			}
		}

		segs := Split(length, ranges)
		pos := 0
		for _, seg := range segs {
			if seg.Start != pos {
				t.Fatalf("trial %d: gap or overlap at %d (segment starts at %d)", trial, pos, seg.Start)
			}
			if seg.End <= seg.Start {
				t.Fatalf("trial %d: empty segment [%d, %d)", trial, seg.Start, seg.End)
			}
			if len(seg.ActiveIDs) > 0 && seg.WinnerID == "" {
				t.Fatalf("trial %d: active segment without winner", trial)
			}
			if len(seg.ActiveIDs) == 0 && seg.WinnerID != "" {
				t.Fatalf("trial %d: winner %q with no active ids", trial, seg.WinnerID)
			}
			pos = seg.End
		}
		if pos != length {
			t.Fatalf("trial %d: segmentation covers [0, %d), want [0, %d)", trial, pos, length)
		}
	}
}

func TestSplitInputOrderIndependent(t *testing.T) {
	ranges := []Range{
		{ID: "a", Start: 0, End: 10, CreatedAt: t0},
		{ID: "b", Start: 5, End: 15, CreatedAt: t0.Add(time.Second)},
		{ID: "c", Start: 3, End: 8, CreatedAt: t0.Add(2 * time.Second)},
	}
	want := Split(20, ranges)

	reversed := []Range{ranges[2], ranges[1], ranges[0]}
	if got := Split(20, reversed); !reflect.DeepEqual(got, want) {
		t.Errorf("reversed input changed the segmentation:\n got %+v\nwant %+v", got, want)
	}
}

func TestSplitClipsToDomain(t *testing.T) {
	ranges := []Range{
		{ID: "a", Start: -5, End: 25, CreatedAt: t0},
		{ID: "empty", Start: 7, End: 7, CreatedAt: t0},
		{ID: "inverted", Start: 9, End: 4, CreatedAt: t0},
	}
	segs := Split(10, ranges)
	want := []Segment{{Start: 0, End: 10, ActiveIDs: []string{"a"}, WinnerID: "a"}}
	if !reflect.DeepEqual(segs, want) {
		t.Errorf("Split() = %+v, want %+v", segs, want)
	}
}

func TestByRecencyTieBreaks(t *testing.T) {
	tests := []struct {
		name string
		a, b Range
		want bool // a preferred over b
	}{
		{
			name: "newer wins",
			a:    Range{ID: "a", Start: 0, End: 10, CreatedAt: t0.Add(time.Second)},
			b:    Range{ID: "b", Start: 0, End: 10, CreatedAt: t0},
			want: true,
		},
		{
			name: "same time, shorter wins",
			a:    Range{ID: "a", Start: 0, End: 5, CreatedAt: t0},
			b:    Range{ID: "b", Start: 0, End: 10, CreatedAt: t0},
			want: true,
		},
		{
			name: "same length, lower start wins",
			a:    Range{ID: "a", Start: 2, End: 7, CreatedAt: t0},
			b:    Range{ID: "b", Start: 4, End: 9, CreatedAt: t0},
			want: true,
		},
		{
			name: "identical span, smaller id wins",
			a:    Range{ID: "a", Start: 0, End: 5, CreatedAt: t0},
			b:    Range{ID: "b", Start: 0, End: 5, CreatedAt: t0},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ByRecency(tt.a, tt.b); got != tt.want {
				t.Errorf("ByRecency(a, b) = %v, want %v", got, tt.want)
			}
			// A total order is asymmetric on distinct ranges.
			if got := ByRecency(tt.b, tt.a); got == tt.want {
				t.Errorf("ByRecency is not asymmetric for %s", tt.name)
			}
		})
	}
}

func TestSplitWithPolicyCustom(t *testing.T) {
	// Oldest-wins policy inverts the default outcome on the overlap cell.
	oldest := func(a, b Range) bool { return a.CreatedAt.Before(b.CreatedAt) }
	ranges := []Range{
		{ID: "a", Start: 0, End: 10, CreatedAt: t0},
		{ID: "b", Start: 5, End: 15, CreatedAt: t0.Add(time.Second)},
	}
	segs := SplitWithPolicy(20, ranges, oldest)
	for _, seg := range segs {
		if seg.Start == 5 && seg.WinnerID != "a" {
			t.Errorf("overlap cell winner = %q, want a under oldest-wins", seg.WinnerID)
		}
	}
}
