// Package offset maps between visual positions in a rendered markup tree and
// canonical codepoint offsets, in both directions. It consumes the
// canonicalizer's provenance index, so both directions address exactly the
// text the canonicalizer produced.
package offset

import (
	"sort"
	"unicode/utf8"

	"github.com/NielsdaWheelz/marginalia/core/canonical"
	"github.com/NielsdaWheelz/marginalia/core/errors"
	"github.com/NielsdaWheelz/marginalia/core/markup"
)

// Index is the per-render-pass table of text-bearing nodes and the canonical
// codepoint ranges they produced. Transient: rebuilt from the live tree on
// every pass, never persisted.
type Index struct {
	parts  []canonical.Part
	byNode map[markup.Node][]int // part indices per node, in document order
	length int                   // canonical text length in codepoints
}

// Boundary is one end of a user selection: a text node plus a codepoint
// offset into that node's raw text.
type Boundary struct {
	Node   markup.Node
	Offset int
}

// NodeRange is one node's intersection with a canonical offset range,
// clipped to the node: raw codepoint range [RawStart, RawEnd) within the
// node's text, covering canonical codepoints [Start, End).
type NodeRange struct {
	Node     markup.Node
	RawStart int
	RawEnd   int
	Start    int
	End      int
}

// BuildIndex canonicalizes the document body and returns its node index.
func BuildIndex(doc *markup.Document) *Index {
	return FromResult(canonical.Build(doc.Body()))
}

// BuildIndexIn restricts the index to a designated region, e.g. a paginated
// surface's text layer. The same inclusion rules apply as for the body.
func BuildIndexIn(region markup.Node) *Index {
	return FromResult(canonical.Build(region))
}

// FromResult builds an index from an existing canonicalization result,
// avoiding a second pass when the caller already ran the validation gate.
func FromResult(res *canonical.Result) *Index {
	ix := &Index{
		parts:  res.Parts,
		byNode: make(map[markup.Node][]int),
		length: res.Length(),
	}
	for i, p := range res.Parts {
		ix.byNode[p.Node] = append(ix.byNode[p.Node], i)
	}
	return ix
}

// Length returns the canonical text length in codepoints.
func (ix *Index) Length() int { return ix.length }

// SelectionToOffsets resolves a user selection to a canonical codepoint
// range. Collapsed selections, boundaries on nodes absent from the index,
// and selections touching disallowed regions are rejected with a
// SelectionResolutionError; callers may re-enumerate and retry once.
func (ix *Index) SelectionToOffsets(start, end Boundary) (int, int, error) {
	s, err := ix.boundaryOffset(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := ix.boundaryOffset(end)
	if err != nil {
		return 0, 0, err
	}
	if s > e {
		s, e = e, s
	}
	if s == e {
		return 0, 0, errors.NewSelection("collapsed selection")
	}
	return s, e, nil
}

// boundaryOffset maps one selection boundary to a canonical offset.
func (ix *Index) boundaryOffset(b Boundary) (int, error) {
	if b.Node.IsZero() {
		return 0, errors.NewSelection("boundary node is nil")
	}
	if !b.Node.IsText() {
		return 0, errors.NewSelection("boundary is not a text node")
	}
	if !markup.SelectionAllowed(b.Node) {
		return 0, errors.NewSelection("selection touches a verbatim region")
	}
	partIdxs, ok := ix.byNode[b.Node]
	if !ok {
		return 0, errors.NewSelection("boundary node is not in the current node index")
	}
	if b.Offset < 0 || b.Offset > utf8.RuneCountInString(b.Node.RawText()) {
		return 0, errors.NewSelection("boundary offset exceeds node text")
	}

	// Find the first canonical codepoint produced by a raw codepoint at or
	// after the boundary. A boundary inside normalized-away whitespace lands
	// on the next surviving codepoint.
	for _, pi := range partIdxs {
		p := ix.parts[pi]
		i := sort.SearchInts(p.Raw, b.Offset)
		if i < len(p.Raw) {
			return p.Start + i, nil
		}
	}
	// Past every surviving codepoint of this node: the position right after
	// the node's last contribution.
	last := ix.parts[partIdxs[len(partIdxs)-1]]
	return last.End, nil
}

// Resolve maps a stored canonical range back to node-relative raw ranges for
// drawing, clipped to node boundaries, in document order.
func (ix *Index) Resolve(start, end int) ([]NodeRange, error) {
	if start < 0 || end <= start || end > ix.length {
		return nil, errors.NewInvalidRange(start, end, ix.length)
	}
	var out []NodeRange
	for _, p := range ix.parts {
		cs, ce := p.Start, p.End
		if cs < start {
			cs = start
		}
		if ce > end {
			ce = end
		}
		if cs >= ce {
			continue
		}
		out = append(out, NodeRange{
			Node:     p.Node,
			RawStart: p.Raw[cs-p.Start],
			RawEnd:   p.Raw[ce-p.Start-1] + 1,
			Start:    cs,
			End:      ce,
		})
	}
	return out, nil
}
