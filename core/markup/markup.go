// Package markup models sanitized document markup as a navigable tree.
// It wraps the xmlquery parser and classifies elements the way the
// canonicalizer, the offset mapper, and both renderers need: block-level,
// inline, skipped, or line-break, with hidden subtrees suppressed.
//
// The sanitizer upstream guarantees markup is balanced; lenient decoding
// (HTML entities, auto-closed void elements) covers the remaining
// HTML-isms so that "<br>" and "&nbsp;" parse without errors.
package markup

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Document represents a parsed markup fragment.
type Document struct {
	root *xmlquery.Node // synthetic fragment wrapper element
}

// Node references a single node in a parsed document. Node is a comparable
// value: two Nodes are equal exactly when they reference the same tree node,
// which lets callers key tables by Node.
type Node struct {
	n *xmlquery.Node
}

// Class is the canonicalization role of an element.
type Class int

const (
	// ClassInline elements contribute their children with no boundary.
	ClassInline Class = iota
	// ClassBlock elements force a newline boundary before and after.
	ClassBlock
	// ClassSkip elements are excluded entirely, children included.
	ClassSkip
	// ClassLineBreak elements emit a literal newline.
	ClassLineBreak
)

// fragmentTag is the synthetic root wrapped around parsed content so that
// multi-rooted sanitizer output remains well-formed.
const fragmentTag = "fragment"

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true,
	"figcaption": true, "figure": true, "footer": true, "form": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true,
	"ol": true, "p": true, "pre": true, "section": true, "table": true,
	"tbody": true, "td": true, "tfoot": true, "th": true, "thead": true,
	"tr": true, "ul": true,
	fragmentTag: true,
}

var skipTags = map[string]bool{
	"base": true, "embed": true, "head": true, "iframe": true, "link": true,
	"math": true, "meta": true, "noscript": true, "object": true,
	"script": true, "style": true, "svg": true, "template": true, "title": true,
}

// verbatimTags mark regions where user selections are disallowed. Their text
// still contributes to canonical text; only selection anchoring is refused.
var verbatimTags = map[string]bool{
	"code": true, "kbd": true, "pre": true, "samp": true,
}

// Parse parses sanitized markup into a Document. The content is wrapped in a
// synthetic fragment root so input with multiple top-level elements parses.
func Parse(data []byte) (*Document, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) + 2*len(fragmentTag) + 5)
	buf.WriteString("<" + fragmentTag + ">")
	buf.Write(data)
	buf.WriteString("</" + fragmentTag + ">")

	opts := xmlquery.ParserOptions{
		Decoder: &xmlquery.DecoderOptions{
			Strict:    false,
			AutoClose: xml.HTMLAutoClose,
			Entity:    xml.HTMLEntity,
		},
	}
	root, err := xmlquery.ParseWithOptions(&buf, opts)
	if err != nil {
		return nil, fmt.Errorf("parsing markup: %w", err)
	}
	return &Document{root: root}, nil
}

// Body returns the fragment root node whose children are the parsed content.
func (d *Document) Body() Node {
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode && child.Data == fragmentTag {
			return Node{n: child}
		}
	}
	return Node{}
}

// Serialize returns the document content as markup, without the synthetic
// fragment wrapper.
func (d *Document) Serialize() []byte {
	body := d.Body()
	if body.IsZero() {
		return nil
	}
	var buf bytes.Buffer
	for child := body.n.FirstChild; child != nil; child = child.NextSibling {
		buf.WriteString(child.OutputXML(true))
	}
	return buf.Bytes()
}

// Query executes an XPath query against the document and returns matches.
func (d *Document) Query(expr string) ([]Node, error) {
	if _, err := xpath.Compile(expr); err != nil {
		return nil, fmt.Errorf("invalid xpath: %w", err)
	}
	nodes, err := xmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("xpath query failed: %w", err)
	}
	result := make([]Node, len(nodes))
	for i, n := range nodes {
		result[i] = Node{n: n}
	}
	return result, nil
}

// TextLayer returns the paginated surface's designated text-bearing region:
// the first element carrying a data-text-layer attribute. Falls back to the
// whole body when no such region is marked.
func (d *Document) TextLayer() Node {
	nodes, err := d.Query("//*[@data-text-layer]")
	if err == nil && len(nodes) > 0 {
		return nodes[0]
	}
	return d.Body()
}

// IsZero reports whether the Node references nothing.
func (n Node) IsZero() bool { return n.n == nil }

// IsText reports whether the node is a text node.
func (n Node) IsText() bool {
	return n.n != nil && (n.n.Type == xmlquery.TextNode || n.n.Type == xmlquery.CharDataNode)
}

// IsElement reports whether the node is an element node.
func (n Node) IsElement() bool {
	return n.n != nil && n.n.Type == xmlquery.ElementNode
}

// Name returns the element name, or "" for non-elements.
func (n Node) Name() string {
	if !n.IsElement() {
		return ""
	}
	return strings.ToLower(n.n.Data)
}

// RawText returns a text node's raw, unnormalized text.
func (n Node) RawText() string {
	if !n.IsText() {
		return ""
	}
	return n.n.Data
}

// Attr returns the value of the named attribute, or "" if absent.
func (n Node) Attr(name string) string {
	if n.n == nil {
		return ""
	}
	return n.n.SelectAttr(name)
}

// HasAttr reports whether the named attribute is present, even when empty.
func (n Node) HasAttr(name string) bool {
	if n.n == nil {
		return false
	}
	for _, a := range n.n.Attr {
		if a.Name.Local == name {
			return true
		}
	}
	return false
}

// Parent returns the node's parent, or the zero Node at the root.
func (n Node) Parent() Node {
	if n.n == nil || n.n.Parent == nil {
		return Node{}
	}
	return Node{n: n.n.Parent}
}

// FirstChild returns the node's first child, or the zero Node.
func (n Node) FirstChild() Node {
	if n.n == nil || n.n.FirstChild == nil {
		return Node{}
	}
	return Node{n: n.n.FirstChild}
}

// NextSibling returns the node's next sibling, or the zero Node.
func (n Node) NextSibling() Node {
	if n.n == nil || n.n.NextSibling == nil {
		return Node{}
	}
	return Node{n: n.n.NextSibling}
}

// InnerText returns the concatenated raw text of the node's subtree.
func (n Node) InnerText() string {
	if n.n == nil {
		return ""
	}
	return n.n.InnerText()
}

// ClassOf returns the canonicalization class of an element node.
// Text and other non-element nodes classify as inline.
func ClassOf(n Node) Class {
	if !n.IsElement() {
		return ClassInline
	}
	name := n.Name()
	switch {
	case skipTags[name]:
		return ClassSkip
	case name == "br":
		return ClassLineBreak
	case blockTags[name]:
		return ClassBlock
	default:
		return ClassInline
	}
}

// Hidden reports whether the element itself is hidden: an explicit hidden
// attribute or aria-hidden="true".
func Hidden(n Node) bool {
	if !n.IsElement() {
		return false
	}
	if n.HasAttr("hidden") {
		return true
	}
	return strings.EqualFold(n.Attr("aria-hidden"), "true")
}

// Includable is the single inclusion predicate shared by the canonicalizer,
// the offset mapper, and both renderers: a node contributes text only when no
// ancestor (or the node itself) is skipped or hidden.
func Includable(n Node) bool {
	for cur := n; !cur.IsZero(); cur = cur.Parent() {
		if ClassOf(cur) == ClassSkip || Hidden(cur) {
			return false
		}
	}
	return true
}

// SelectionAllowed reports whether a user selection boundary may anchor at
// this node. Verbatim regions (code blocks and friends) are rendered and
// canonicalized but refuse selections.
func SelectionAllowed(n Node) bool {
	for cur := n; !cur.IsZero(); cur = cur.Parent() {
		if verbatimTags[cur.Name()] {
			return false
		}
	}
	return true
}

// PathOf returns the node's locator: slash-separated child indices from the
// fragment root, in document order. The fragment root itself has path "".
func (d *Document) PathOf(n Node) (string, error) {
	body := d.Body()
	if n.IsZero() {
		return "", fmt.Errorf("path of zero node")
	}
	var idx []int
	cur := n
	for cur != body {
		parent := cur.Parent()
		if parent.IsZero() {
			return "", fmt.Errorf("node is not part of this document")
		}
		i := 0
		for sib := parent.FirstChild(); sib != cur; sib = sib.NextSibling() {
			if sib.IsZero() {
				return "", fmt.Errorf("node is not part of this document")
			}
			i++
		}
		idx = append(idx, i)
		cur = parent
	}
	parts := make([]string, len(idx))
	for i := range idx {
		parts[i] = strconv.Itoa(idx[len(idx)-1-i])
	}
	return strings.Join(parts, "/"), nil
}

// NodeAtPath resolves a locator produced by PathOf against this document.
func (d *Document) NodeAtPath(path string) (Node, error) {
	cur := d.Body()
	if cur.IsZero() {
		return Node{}, fmt.Errorf("empty document")
	}
	if path == "" {
		return cur, nil
	}
	for _, part := range strings.Split(path, "/") {
		want, err := strconv.Atoi(part)
		if err != nil || want < 0 {
			return Node{}, fmt.Errorf("bad node path %q", path)
		}
		child := cur.FirstChild()
		for i := 0; i < want && !child.IsZero(); i++ {
			child = child.NextSibling()
		}
		if child.IsZero() {
			return Node{}, fmt.Errorf("node path %q walks off the tree", path)
		}
		cur = child
	}
	return cur, nil
}
