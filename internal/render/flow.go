// Package render applies a resolved segmentation to the two rendering
// surfaces: flowed markup, where text nodes are split in place and wrapped
// in highlight-marker elements, and paginated text layers, where highlights
// become absolutely-positioned overlay rectangles.
//
// Both renderers perform a full reconstruction on every pass. Re-running
// with the same inputs produces the same output, which keeps rendering
// correct under lazy or partial rendering of the underlying surface.
package render

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/exp/utf8string"

	"github.com/NielsdaWheelz/marginalia/core/canonical"
	"github.com/NielsdaWheelz/marginalia/core/errors"
	"github.com/NielsdaWheelz/marginalia/core/highlight"
	"github.com/NielsdaWheelz/marginalia/core/markup"
	"github.com/NielsdaWheelz/marginalia/core/offset"
	"github.com/NielsdaWheelz/marginalia/core/segment"
	"github.com/NielsdaWheelz/marginalia/internal/logging"
)

// FlowResult is the output of a flow rendering pass.
type FlowResult struct {
	// Markup is the fragment markup with highlight markers woven in.
	// Empty when Fallback is set.
	Markup string `json:"markup,omitempty"`
	// Plain carries the fragment's canonical text when the validation gate
	// refused to render highlights.
	Plain string `json:"plain,omitempty"`
	// Fallback reports that a canonicalization mismatch forced the
	// plain-text fail-safe.
	Fallback bool `json:"fallback,omitempty"`
	// Segments is the segmentation the pass rendered, for callers that
	// project hover/selection state over the result.
	Segments []segment.Segment `json:"segments"`
}

// nodeCut is one segment's intersection with a single text node, in raw
// codepoint coordinates.
type nodeCut struct {
	rawStart int
	rawEnd   int
	seg      segment.Segment
}

// RenderFlow renders highlights into flowed markup. It parses the stored
// source markup fresh each pass (full reconstruction, not incremental
// patching), runs the validation gate, segments the visible spans, splits
// the covered text nodes, and returns the re-serialized markup.
func RenderFlow(sourceMarkup []byte, fragmentID, storedText, storedDigest string, spans []*highlight.Span) (*FlowResult, error) {
	doc, err := markup.Parse(sourceMarkup)
	if err != nil {
		return nil, fmt.Errorf("parsing fragment markup: %w", err)
	}

	res, err := canonical.Verify(fragmentID, storedText, storedDigest, doc)
	if err != nil {
		var mismatch *errors.CanonicalizationMismatchError
		if errors.As(err, &mismatch) {
			logging.CanonicalMismatch(fragmentID, mismatch.StoredLen, mismatch.RecomputedLen,
				canonical.MismatchDiff(storedText, res.Text, 40))
			return &FlowResult{Plain: storedText, Fallback: true}, nil
		}
		return nil, err
	}

	segs := segment.Split(res.Length(), toRanges(spans))
	idx := offset.FromResult(res)
	byID := spanIndex(spans)

	cuts := make(map[markup.Node][]nodeCut)
	var order []markup.Node
	for _, seg := range segs {
		if len(seg.ActiveIDs) == 0 {
			continue
		}
		ranges, err := idx.Resolve(seg.Start, seg.End)
		if err != nil {
			return nil, err
		}
		for _, nr := range ranges {
			if _, seen := cuts[nr.Node]; !seen {
				order = append(order, nr.Node)
			}
			cuts[nr.Node] = append(cuts[nr.Node], nodeCut{
				rawStart: nr.RawStart,
				rawEnd:   nr.RawEnd,
				seg:      seg,
			})
		}
	}

	for _, node := range order {
		splitTextNode(node, cuts[node], byID)
	}

	return &FlowResult{
		Markup:   string(doc.Serialize()),
		Segments: segs,
	}, nil
}

// splitTextNode replaces one text node with a sequence of plain text nodes
// and highlight markers at the given cuts. Cuts arrive sorted and disjoint
// because segments are.
func splitTextNode(node markup.Node, nodeCuts []nodeCut, byID map[string]*highlight.Span) {
	raw := utf8string.NewString(node.RawText())
	n := raw.RuneCount()
	sort.Slice(nodeCuts, func(i, j int) bool { return nodeCuts[i].rawStart < nodeCuts[j].rawStart })

	var repl []markup.Node
	pos := 0
	for _, c := range nodeCuts {
		if c.rawStart > pos {
			repl = append(repl, markup.NewText(raw.Slice(pos, c.rawStart)))
		}
		repl = append(repl, marker(raw.Slice(c.rawStart, c.rawEnd), c.seg, byID))
		pos = c.rawEnd
	}
	if pos < n {
		repl = append(repl, markup.NewText(raw.Slice(pos, n)))
	}
	markup.ReplaceWith(node, repl...)
}

// marker builds one highlight-marker element: the winner's color drives the
// style, and the full active id set rides along for hover/click grouping.
func marker(text string, seg segment.Segment, byID map[string]*highlight.Span) markup.Node {
	color := ""
	if span, ok := byID[seg.WinnerID]; ok {
		color = span.Color
	}
	el := markup.NewElement("mark",
		[2]string{"class", "hl hl-" + color},
		[2]string{"data-highlight-id", seg.WinnerID},
		[2]string{"data-active-ids", strings.Join(seg.ActiveIDs, " ")},
	)
	markup.AppendChild(el, markup.NewText(text))
	return el
}

func toRanges(spans []*highlight.Span) []segment.Range {
	ranges := make([]segment.Range, 0, len(spans))
	for _, s := range spans {
		ranges = append(ranges, segment.Range{
			ID:        s.ID,
			Start:     s.StartOffset,
			End:       s.EndOffset,
			CreatedAt: s.CreatedAt,
		})
	}
	return ranges
}

func spanIndex(spans []*highlight.Span) map[string]*highlight.Span {
	byID := make(map[string]*highlight.Span, len(spans))
	for _, s := range spans {
		byID[s.ID] = s
	}
	return byID
}
