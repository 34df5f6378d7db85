// Package highlight defines the highlight span model and the codepoint-safe
// derivation of its snapshot fields (exact, prefix, suffix text) from
// canonical text.
package highlight

import (
	"time"

	"golang.org/x/exp/utf8string"

	"github.com/NielsdaWheelz/marginalia/core/errors"
)

// ContextRadius is the maximum number of codepoints captured before and
// after a span as prefix/suffix context. Snapshotted at creation, never
// recomputed afterwards.
const ContextRadius = 64

// Span is one stored highlight. Offsets are codepoint counts into the
// fragment's canonical text, half-open [StartOffset, EndOffset).
type Span struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	FragmentID  string    `json:"fragment_id"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Color       string    `json:"color"`
	ExactText   string    `json:"exact_text"`
	PrefixText  string    `json:"prefix_text"`
	SuffixText  string    `json:"suffix_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Palette is the set of allowed highlight colors.
var Palette = []string{"yellow", "green", "blue", "pink", "orange", "purple"}

// ValidColor reports whether c is in the palette.
func ValidColor(c string) bool {
	for _, p := range Palette {
		if c == p {
			return true
		}
	}
	return false
}

// Snapshot derives the exact, prefix, and suffix text for a span over the
// given canonical text. All slicing is codepoint-based: astral characters
// are never split. Prefix and suffix may be shorter than ContextRadius at
// document boundaries.
func Snapshot(canonicalText string, start, end int) (exact, prefix, suffix string, err error) {
	s := utf8string.NewString(canonicalText)
	n := s.RuneCount()
	if start < 0 || end <= start || end > n {
		return "", "", "", errors.NewInvalidRange(start, end, n)
	}

	exact = s.Slice(start, end)

	ps := start - ContextRadius
	if ps < 0 {
		ps = 0
	}
	prefix = s.Slice(ps, start)

	se := end + ContextRadius
	if se > n {
		se = n
	}
	suffix = s.Slice(end, se)

	return exact, prefix, suffix, nil
}
