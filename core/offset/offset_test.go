package offset

import (
	"testing"

	"github.com/NielsdaWheelz/marginalia/core/errors"
	"github.com/NielsdaWheelz/marginalia/core/markup"
)

func mustParse(t *testing.T, src string) *markup.Document {
	t.Helper()
	doc, err := markup.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", src, err)
	}
	return doc
}

func firstText(n markup.Node) markup.Node {
	if n.IsText() {
		return n
	}
	for c := n.FirstChild(); !c.IsZero(); c = c.NextSibling() {
		if found := firstText(c); !found.IsZero() {
			return found
		}
	}
	return markup.Node{}
}

func textNodes(n markup.Node) []markup.Node {
	var out []markup.Node
	var walk func(markup.Node)
	walk = func(n markup.Node) {
		if n.IsText() {
			out = append(out, n)
			return
		}
		for c := n.FirstChild(); !c.IsZero(); c = c.NextSibling() {
			walk(c)
		}
	}
	walk(n)
	return out
}

func TestSelectionToOffsets(t *testing.T) {
	// Canonical text: "Hello World" — one text node.
	doc := mustParse(t, `<p>Hello World</p>`)
	idx := BuildIndex(doc)
	text := firstText(doc.Body())

	start, end, err := idx.SelectionToOffsets(
		Boundary{Node: text, Offset: 0},
		Boundary{Node: text, Offset: 5},
	)
	if err != nil {
		t.Fatalf("SelectionToOffsets failed: %v", err)
	}
	if start != 0 || end != 5 {
		t.Errorf("got [%d, %d), want [0, 5)", start, end)
	}
}

func TestSelectionReversedBoundariesSwap(t *testing.T) {
	doc := mustParse(t, `<p>Hello World</p>`)
	idx := BuildIndex(doc)
	text := firstText(doc.Body())

	start, end, err := idx.SelectionToOffsets(
		Boundary{Node: text, Offset: 5},
		Boundary{Node: text, Offset: 0},
	)
	if err != nil {
		t.Fatalf("SelectionToOffsets failed: %v", err)
	}
	if start != 0 || end != 5 {
		t.Errorf("got [%d, %d), want [0, 5)", start, end)
	}
}

func TestSelectionAcrossNodes(t *testing.T) {
	// Canonical text: "one two three", "two" from the em node.
	doc := mustParse(t, `<p>one <em>two</em> three</p>`)
	idx := BuildIndex(doc)
	nodes := textNodes(doc.Body())
	if len(nodes) != 3 {
		t.Fatalf("got %d text nodes, want 3", len(nodes))
	}

	start, end, err := idx.SelectionToOffsets(
		Boundary{Node: nodes[0], Offset: 0},
		Boundary{Node: nodes[2], Offset: 6}, // " three" up to and including "e"... offset 6 is past "thre"
	)
	if err != nil {
		t.Fatalf("SelectionToOffsets failed: %v", err)
	}
	if start != 0 {
		t.Errorf("start = %d, want 0", start)
	}
	if end <= 8 {
		t.Errorf("end = %d, want past the em node's contribution", end)
	}
}

func TestSelectionRejections(t *testing.T) {
	doc := mustParse(t, `<p>visible <code>verbatim</code></p><p hidden="hidden">gone</p>`)
	idx := BuildIndex(doc)
	visible := firstText(doc.Body())

	// Code regions refuse selection anchoring.
	code, err := doc.Query("//code")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	verbatim := firstText(code[0])

	// A hidden node never enters the index.
	hidden, err := doc.Query("//p[@hidden]")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	gone := firstText(hidden[0])

	tests := []struct {
		name       string
		start, end Boundary
	}{
		{"collapsed selection", Boundary{Node: visible, Offset: 2}, Boundary{Node: visible, Offset: 2}},
		{"zero node", Boundary{}, Boundary{Node: visible, Offset: 3}},
		{"verbatim region", Boundary{Node: verbatim, Offset: 0}, Boundary{Node: verbatim, Offset: 4}},
		{"node missing from index", Boundary{Node: gone, Offset: 0}, Boundary{Node: gone, Offset: 2}},
		{"offset past node text", Boundary{Node: visible, Offset: 0}, Boundary{Node: visible, Offset: 999}},
		{"negative offset", Boundary{Node: visible, Offset: -1}, Boundary{Node: visible, Offset: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := idx.SelectionToOffsets(tt.start, tt.end)
			if !errors.Is(err, errors.ErrSelection) {
				t.Errorf("error = %v, want selection resolution error", err)
			}
		})
	}
}

func TestBoundaryInCollapsedWhitespace(t *testing.T) {
	// Raw "a   b" canonicalizes to "a b": raw offsets 2 and 3 sit inside
	// normalized-away whitespace and must land on the next surviving
	// codepoint.
	doc := mustParse(t, `<p>a   b</p>`)
	idx := BuildIndex(doc)
	text := firstText(doc.Body())

	start, end, err := idx.SelectionToOffsets(
		Boundary{Node: text, Offset: 2},
		Boundary{Node: text, Offset: 5},
	)
	if err != nil {
		t.Fatalf("SelectionToOffsets failed: %v", err)
	}
	if start != 2 || end != 3 {
		t.Errorf("got [%d, %d), want [2, 3) addressing %q", start, end, "b")
	}
}

func TestResolveRoundTrip(t *testing.T) {
	doc := mustParse(t, `<p>one <em>two</em> three</p>`)
	idx := BuildIndex(doc)

	// "two" is canonical [4, 7).
	ranges, err := idx.Resolve(4, 7)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("got %d node ranges, want 1", len(ranges))
	}
	nr := ranges[0]
	if nr.Node.RawText() != "two" {
		t.Errorf("resolved to node %q, want the em text", nr.Node.RawText())
	}
	if nr.RawStart != 0 || nr.RawEnd != 3 {
		t.Errorf("raw range [%d, %d), want [0, 3)", nr.RawStart, nr.RawEnd)
	}

	// Mapping the resolved raw range back through a selection returns the
	// original canonical range.
	start, end, err := idx.SelectionToOffsets(
		Boundary{Node: nr.Node, Offset: nr.RawStart},
		Boundary{Node: nr.Node, Offset: nr.RawEnd},
	)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if start != 4 || end != 7 {
		t.Errorf("round trip produced [%d, %d), want [4, 7)", start, end)
	}
}

func TestResolveSpansNodes(t *testing.T) {
	doc := mustParse(t, `<p>one <em>two</em> three</p>`)
	idx := BuildIndex(doc)

	// "e two t" crosses all three text nodes.
	ranges, err := idx.Resolve(2, 9)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ranges) != 3 {
		t.Fatalf("got %d node ranges, want 3", len(ranges))
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Start != ranges[i-1].End {
			t.Errorf("node ranges not contiguous: %v then %v", ranges[i-1], ranges[i])
		}
	}
}

func TestResolveInvalidRanges(t *testing.T) {
	doc := mustParse(t, `<p>Hello</p>`)
	idx := BuildIndex(doc)

	for _, r := range [][2]int{{-1, 3}, {3, 3}, {4, 2}, {0, 99}} {
		if _, err := idx.Resolve(r[0], r[1]); !errors.Is(err, errors.ErrInvalidRange) {
			t.Errorf("Resolve(%d, %d) error = %v, want invalid range", r[0], r[1], err)
		}
	}
}

func TestAstralRoundTrip(t *testing.T) {
	// All offsets count codepoints: the emoji is one codepoint, never two.
	doc := mustParse(t, "<p>a\U0001F600b</p>")
	idx := BuildIndex(doc)
	if idx.Length() != 3 {
		t.Fatalf("Length() = %d, want 3 codepoints", idx.Length())
	}
	text := firstText(doc.Body())

	start, end, err := idx.SelectionToOffsets(
		Boundary{Node: text, Offset: 1},
		Boundary{Node: text, Offset: 2},
	)
	if err != nil {
		t.Fatalf("SelectionToOffsets failed: %v", err)
	}
	if start != 1 || end != 2 {
		t.Errorf("got [%d, %d), want [1, 2)", start, end)
	}

	ranges, err := idx.Resolve(start, end)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(ranges) != 1 || ranges[0].RawStart != 1 || ranges[0].RawEnd != 2 {
		t.Errorf("resolved ranges = %+v", ranges)
	}
}

func TestBuildIndexIn(t *testing.T) {
	doc := mustParse(t, `<div><div data-text-layer="">inside</div><div>outside</div></div>`)
	idx := BuildIndexIn(doc.TextLayer())
	if idx.Length() != len("inside") {
		t.Errorf("Length() = %d, want %d", idx.Length(), len("inside"))
	}
}
