package markup

import (
	"encoding/xml"

	"github.com/antchfx/xmlquery"
)

// NewText creates a detached text node.
func NewText(text string) Node {
	return Node{n: &xmlquery.Node{Type: xmlquery.TextNode, Data: text}}
}

// NewElement creates a detached element node. Attributes are given as
// key/value pairs and keep their given order.
func NewElement(name string, attrs ...[2]string) Node {
	n := &xmlquery.Node{Type: xmlquery.ElementNode, Data: name}
	for _, kv := range attrs {
		n.Attr = append(n.Attr, xmlquery.Attr{
			Name:  xml.Name{Local: kv[0]},
			Value: kv[1],
		})
	}
	return Node{n: n}
}

// AppendChild attaches child as the last child of parent.
func AppendChild(parent, child Node) {
	if parent.n == nil || child.n == nil {
		return
	}
	p, c := parent.n, child.n
	c.Parent = p
	c.NextSibling = nil
	if p.LastChild == nil {
		p.FirstChild = c
		c.PrevSibling = nil
	} else {
		p.LastChild.NextSibling = c
		c.PrevSibling = p.LastChild
	}
	p.LastChild = c
}

// ReplaceWith replaces old in its parent's child list with the given
// replacement sequence. The old node is detached.
func ReplaceWith(old Node, repl ...Node) {
	if old.n == nil || old.n.Parent == nil {
		return
	}
	p := old.n.Parent
	prev := old.n.PrevSibling
	next := old.n.NextSibling

	var head, tail *xmlquery.Node
	for _, r := range repl {
		if r.n == nil {
			continue
		}
		r.n.Parent = p
		if head == nil {
			head = r.n
			r.n.PrevSibling = prev
		} else {
			tail.NextSibling = r.n
			r.n.PrevSibling = tail
		}
		tail = r.n
	}

	if head == nil {
		// Replacement is empty: plain removal.
		if prev != nil {
			prev.NextSibling = next
		} else {
			p.FirstChild = next
		}
		if next != nil {
			next.PrevSibling = prev
		} else {
			p.LastChild = prev
		}
	} else {
		tail.NextSibling = next
		if prev != nil {
			prev.NextSibling = head
		} else {
			p.FirstChild = head
		}
		if next != nil {
			next.PrevSibling = tail
		} else {
			p.LastChild = tail
		}
	}

	old.n.Parent = nil
	old.n.PrevSibling = nil
	old.n.NextSibling = nil
}
