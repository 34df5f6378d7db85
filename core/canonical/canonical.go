// Package canonical converts sanitized markup into canonical text: the
// single, deterministically-normalized plain-text form of a document
// fragment used as the addressing space for all highlight offsets.
//
// The pipeline runs once and yields both the canonical text and a
// provenance index recording which text node, and which raw codepoint
// within it, produced every canonical codepoint. The offset mapper consumes
// the index instead of re-implementing the normalization rules, so the two
// directions of offset mapping cannot drift from the text they address.
//
// Offsets everywhere in this package are Unicode codepoint counts, never
// bytes or UTF-16 code units.
package canonical

import (
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"

	"github.com/NielsdaWheelz/marginalia/core/markup"
)

// Part records the contribution of one text node to the canonical text:
// canonical codepoints [Start, End) came from that node.
type Part struct {
	Node  markup.Node
	Start int
	End   int
	// Raw[i] is the codepoint index, within the node's raw text, that
	// produced canonical codepoint Start+i. Strictly increasing.
	Raw []int
}

// Result is the output of a canonicalization pass.
type Result struct {
	Text  string
	Parts []Part
}

// Length returns the canonical text length in codepoints.
func (r *Result) Length() int {
	return utf8.RuneCountInString(r.Text)
}

// srcRune is one rune of the working sequence, tagged with its provenance.
// Synthetic runes (block boundaries, line breaks) carry a zero Node.
type srcRune struct {
	r    rune
	node markup.Node
	raw  int
}

// Build canonicalizes the subtree rooted at root and returns the canonical
// text together with its provenance index. Both rendering surfaces and the
// write-time validation gate go through this single implementation.
func Build(root markup.Node) *Result {
	var seq []srcRune
	seq = walk(root, seq)
	seq = applyNFC(seq)
	seq = collapseNewlineRuns(seq)
	seq = trimLines(seq)
	return assemble(seq)
}

// Canonicalize returns the canonical text of a parsed document.
func Canonicalize(doc *markup.Document) string {
	return Build(doc.Body()).Text
}

// Digest returns the hex BLAKE3 digest of canonical text. Stored alongside
// the text at ingest so the validation gate can compare cheaply.
func Digest(text string) string {
	sum := blake3.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// walk performs the depth-first collection pass (steps 1-6).
func walk(n markup.Node, out []srcRune) []srcRune {
	switch {
	case n.IsText():
		return appendNormalizedText(n, out)
	case n.IsElement():
		if markup.ClassOf(n) == markup.ClassSkip || markup.Hidden(n) {
			return out
		}
		switch markup.ClassOf(n) {
		case markup.ClassLineBreak:
			return append(out, srcRune{r: '\n', raw: -1})
		case markup.ClassBlock:
			out = blockBoundary(out)
			for c := n.FirstChild(); !c.IsZero(); c = c.NextSibling() {
				out = walk(c, out)
			}
			return blockBoundary(out)
		default:
			for c := n.FirstChild(); !c.IsZero(); c = c.NextSibling() {
				out = walk(c, out)
			}
			return out
		}
	default:
		// Comments and declarations contribute nothing.
		return out
	}
}

// blockBoundary emits a newline at a block edge when prior content exists.
// Later passes cap consecutive newlines at two, so stacked block edges
// produce at most one blank line.
func blockBoundary(out []srcRune) []srcRune {
	if len(out) == 0 {
		return out
	}
	return append(out, srcRune{r: '\n', raw: -1})
}

// appendNormalizedText emits one text node's contribution: every Unicode
// whitespace codepoint (including no-break space) maps to an ordinary space,
// and runs of whitespace collapse to a single space tagged with the raw
// index of the run's first codepoint.
func appendNormalizedText(n markup.Node, out []srcRune) []srcRune {
	inRun := false
	idx := 0
	for _, r := range n.RawText() {
		if unicode.IsSpace(r) {
			if !inRun {
				out = append(out, srcRune{r: ' ', node: n, raw: idx})
				inRun = true
			}
		} else {
			out = append(out, srcRune{r: r, node: n, raw: idx})
			inRun = false
		}
		idx++
	}
	return out
}

// applyNFC applies Unicode canonical composition over the whole sequence.
// Provenance is preserved per normalization segment: untouched segments keep
// their tags one-to-one, composed segments inherit the tag of the segment's
// first rune.
func applyNFC(in []srcRune) []srcRune {
	if len(in) == 0 {
		return in
	}
	var sb strings.Builder
	for _, sr := range in {
		sb.WriteRune(sr.r)
	}
	s := sb.String()
	if norm.NFC.IsNormalString(s) {
		return in
	}

	out := make([]srcRune, 0, len(in))
	runeIdx, byteIdx := 0, 0
	for byteIdx < len(s) {
		nb := norm.NFC.NextBoundaryInString(s[byteIdx:], true)
		if nb <= 0 {
			nb = len(s) - byteIdx
		}
		seg := s[byteIdx : byteIdx+nb]
		segRunes := utf8.RuneCountInString(seg)
		if normSeg := norm.NFC.String(seg); normSeg != seg {
			first := in[runeIdx]
			for _, r := range normSeg {
				out = append(out, srcRune{r: r, node: first.node, raw: first.raw})
			}
		} else {
			out = append(out, in[runeIdx:runeIdx+segRunes]...)
		}
		runeIdx += segRunes
		byteIdx += nb
	}
	return out
}

// collapseNewlineRuns reduces every whitespace run containing at least one
// newline to one newline, or two when the run held two or more (at most one
// blank line). Space-only runs inside a line are left alone.
func collapseNewlineRuns(in []srcRune) []srcRune {
	out := make([]srcRune, 0, len(in))
	for i := 0; i < len(in); {
		if in[i].r != ' ' && in[i].r != '\n' {
			out = append(out, in[i])
			i++
			continue
		}
		j := i
		var newlines []srcRune
		for j < len(in) && (in[j].r == ' ' || in[j].r == '\n') {
			if in[j].r == '\n' && len(newlines) < 2 {
				newlines = append(newlines, in[j])
			}
			j++
		}
		if len(newlines) == 0 {
			out = append(out, in[i:j]...)
		} else {
			out = append(out, newlines...)
		}
		i = j
	}
	return out
}

// trimLines trims leading and trailing spaces from each line, then trims the
// whole sequence's leading and trailing whitespace.
func trimLines(in []srcRune) []srcRune {
	out := make([]srcRune, 0, len(in))
	lineStart := 0
	flush := func(end int) {
		s, e := lineStart, end
		for s < e && in[s].r == ' ' {
			s++
		}
		for e > s && in[e-1].r == ' ' {
			e--
		}
		out = append(out, in[s:e]...)
	}
	for i := range in {
		if in[i].r == '\n' {
			flush(i)
			out = append(out, in[i])
			lineStart = i + 1
		}
	}
	flush(len(in))

	s, e := 0, len(out)
	for s < e && (out[s].r == ' ' || out[s].r == '\n') {
		s++
	}
	for e > s && (out[e-1].r == ' ' || out[e-1].r == '\n') {
		e--
	}
	return out[s:e]
}

// assemble concatenates the surviving runes and groups consecutive runes from
// the same text node into Parts.
func assemble(seq []srcRune) *Result {
	var sb strings.Builder
	var parts []Part
	var cur *Part
	for i, sr := range seq {
		sb.WriteRune(sr.r)
		if sr.node.IsZero() {
			cur = nil
			continue
		}
		if cur == nil || cur.Node != sr.node {
			parts = append(parts, Part{Node: sr.node, Start: i, End: i})
			cur = &parts[len(parts)-1]
		}
		cur.End = i + 1
		cur.Raw = append(cur.Raw, sr.raw)
	}
	return &Result{Text: sb.String(), Parts: parts}
}

// PlainTextDocument builds markup that canonicalizes back to exactly the
// given canonical text: lines become text nodes separated by line-break
// elements. Used by the fail-safe plain-text fallback and the idempotence
// tests.
func PlainTextDocument(text string) (*markup.Document, error) {
	var sb strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			sb.WriteString("<br/>")
		}
		var esc strings.Builder
		for _, r := range line {
			switch r {
			case '&':
				esc.WriteString("&amp;")
			case '<':
				esc.WriteString("&lt;")
			case '>':
				esc.WriteString("&gt;")
			default:
				esc.WriteRune(r)
			}
		}
		sb.WriteString(esc.String())
	}
	return markup.Parse([]byte(sb.String()))
}
