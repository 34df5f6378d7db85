// Package ingest prepares external content for storage as fragment markup.
// HTML input is sanitized down to the element and attribute surface the
// canonicalizer understands; Markdown input is rendered to XHTML first and
// then pushed through the same sanitizer, so every fragment enters the
// store through one gate.
package ingest

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/NielsdaWheelz/marginalia/core/canonical"
	"github.com/NielsdaWheelz/marginalia/core/markup"
)

// policy is the shared sanitizer. It starts from the UGC baseline and adds
// the attributes the reading surface depends on: visibility hints consumed
// by the canonicalizer and the geometry attributes consumed by the overlay
// renderer.
var policy = buildPolicy()

func buildPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements(elementNames()...)
	p.AllowElements("span", "br", "em", "strong", "mark", "ruby", "rt", "rp")
	p.AllowAttrs("hidden").OnElements(elementNames()...)
	p.AllowAttrs("aria-hidden").Matching(regexp.MustCompile(`^(true|false)$`)).Globally()
	p.AllowAttrs("data-text-layer").Globally()
	p.AllowAttrs("data-x", "data-y", "data-w", "data-h").Globally()
	p.AllowAttrs("transform").Globally()
	return p
}

func elementNames() []string {
	return []string{
		"p", "div", "span", "section", "article", "aside", "header",
		"footer", "blockquote", "pre", "code", "ul", "ol", "li",
		"table", "thead", "tbody", "tr", "td", "th",
		"h1", "h2", "h3", "h4", "h5", "h6", "figure", "figcaption",
	}
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(
		html.WithXHTML(),
	),
)

// FromHTML sanitizes raw HTML into fragment markup and checks that the
// result still parses. The sanitizer strips scripts, event handlers and
// unknown elements while keeping the visibility and geometry attributes the
// renderers read.
func FromHTML(raw []byte) ([]byte, error) {
	clean := policy.SanitizeBytes(raw)
	if len(bytes.TrimSpace(clean)) == 0 {
		return nil, fmt.Errorf("ingesting html: no content survived sanitization")
	}
	if _, err := markup.Parse(clean); err != nil {
		return nil, fmt.Errorf("ingesting html: %w", err)
	}
	return clean, nil
}

// FromMarkdown renders Markdown to XHTML and sanitizes the result through
// the same policy as direct HTML ingest.
func FromMarkdown(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdown.Convert(raw, &buf); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return FromHTML(buf.Bytes())
}

// FromPlainText wraps plain text in minimal markup whose canonical text is
// the input itself, modulo the canonicalizer's whitespace rules.
func FromPlainText(raw []byte) ([]byte, error) {
	doc, err := canonical.PlainTextDocument(string(raw))
	if err != nil {
		return nil, fmt.Errorf("ingesting plain text: %w", err)
	}
	return doc.Serialize(), nil
}
