package highlight

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Anchor is a text-directive deep link for a highlight, in the style of URL
// text fragments: `text=[prefix-,]exact[,-suffix]`. Anchors let a highlight
// be re-found by content when offsets alone are not enough (e.g. pasting a
// link into another viewer).
type Anchor struct {
	Prefix string
	Exact  string
	Suffix string
}

// anchorGrammar matches `text=` followed by one to three comma-separated
// chunks. Which chunk is which is decided by dash markers after parsing:
// a prefix chunk ends in `-`, a suffix chunk starts with `-`.
//
//nolint:govet // participle grammar tags are not standard struct tags
type anchorGrammar struct {
	Keyword string   `parser:"@Chunk"`
	Parts   []string `parser:"'=' @Chunk (',' @Chunk)*"`
}

var anchorLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Eq", Pattern: `=`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Chunk", Pattern: `[^,=]+`},
})

var anchorParser = participle.MustBuild[anchorGrammar](
	participle.Lexer(anchorLexer),
)

// String serializes the anchor. Chunk-significant characters inside the
// texts are percent-encoded.
func (a Anchor) String() string {
	var sb strings.Builder
	sb.WriteString("text=")
	if a.Prefix != "" {
		sb.WriteString(encodeAnchorText(a.Prefix))
		sb.WriteString("-,")
	}
	sb.WriteString(encodeAnchorText(a.Exact))
	if a.Suffix != "" {
		sb.WriteString(",-")
		sb.WriteString(encodeAnchorText(a.Suffix))
	}
	return sb.String()
}

// AnchorFor builds the anchor for a span from its snapshot fields.
func AnchorFor(s *Span) Anchor {
	return Anchor{Prefix: s.PrefixText, Exact: s.ExactText, Suffix: s.SuffixText}
}

// ParseAnchor parses a text-directive anchor string.
func ParseAnchor(input string) (*Anchor, error) {
	g, err := anchorParser.ParseString("", input)
	if err != nil {
		return nil, fmt.Errorf("parsing anchor: %w", err)
	}
	if g.Keyword != "text" {
		return nil, fmt.Errorf("parsing anchor: directive %q is not text", g.Keyword)
	}
	if len(g.Parts) == 0 || len(g.Parts) > 3 {
		return nil, fmt.Errorf("parsing anchor: expected 1-3 parts, got %d", len(g.Parts))
	}

	var a Anchor
	parts := g.Parts
	if len(parts) > 1 && strings.HasSuffix(parts[0], "-") {
		a.Prefix, err = decodeAnchorText(strings.TrimSuffix(parts[0], "-"))
		if err != nil {
			return nil, err
		}
		parts = parts[1:]
	}
	if len(parts) > 1 && strings.HasPrefix(parts[len(parts)-1], "-") {
		a.Suffix, err = decodeAnchorText(strings.TrimPrefix(parts[len(parts)-1], "-"))
		if err != nil {
			return nil, err
		}
		parts = parts[:len(parts)-1]
	}
	if len(parts) != 1 {
		return nil, fmt.Errorf("parsing anchor: ambiguous parts in %q", input)
	}
	a.Exact, err = decodeAnchorText(parts[0])
	if err != nil {
		return nil, err
	}
	if a.Exact == "" {
		return nil, fmt.Errorf("parsing anchor: empty exact text")
	}
	return &a, nil
}

// encodeAnchorText percent-encodes the characters that carry structure in
// the anchor syntax.
func encodeAnchorText(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '%', ',', '-', '=', '&':
			fmt.Fprintf(&sb, "%%%02X", r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// decodeAnchorText reverses encodeAnchorText.
func decodeAnchorText(s string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			sb.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("parsing anchor: truncated escape in %q", s)
		}
		var b byte
		if _, err := fmt.Sscanf(s[i+1:i+3], "%02X", &b); err != nil {
			return "", fmt.Errorf("parsing anchor: bad escape in %q", s)
		}
		sb.WriteByte(b)
		i += 2
	}
	return sb.String(), nil
}
