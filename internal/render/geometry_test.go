package render

import (
	"math"
	"testing"

	"github.com/NielsdaWheelz/marginalia/core/canonical"
	"github.com/NielsdaWheelz/marginalia/core/highlight"
)

const layerSrc = `<div data-text-layer="" transform="scale(2)">` +
	`<span data-x="100" data-y="50" data-w="200" data-h="20">The quick</span>` +
	`<br/>` +
	`<span data-x="100" data-y="90" data-w="160" data-h="20">brown fox</span>` +
	`</div>`

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestRenderOverlayFullItem(t *testing.T) {
	text, digest := canonicalOf(t, layerSrc)
	if text != "The quick\nbrown fox" {
		t.Fatalf("layer canonical text = %q", text)
	}

	// Second line, whole item: viewport rect divided by scale 2.
	res, err := RenderOverlay([]byte(layerSrc), "frag-1", text, digest,
		[]*highlight.Span{span("h1", 10, 19, "yellow", baseTime)})
	if err != nil {
		t.Fatalf("RenderOverlay failed: %v", err)
	}
	if res.Fallback {
		t.Fatal("unexpected fallback")
	}
	if len(res.Rects) != 1 {
		t.Fatalf("got %d rects, want 1", len(res.Rects))
	}

	r := res.Rects[0]
	if r.HighlightID != "h1" || r.Color != "yellow" {
		t.Errorf("rect identity = %q/%q", r.HighlightID, r.Color)
	}
	if !approx(r.X, 50) || !approx(r.Y, 45) || !approx(r.W, 80) || !approx(r.H, 10) {
		t.Errorf("rect = %+v, want x=50 y=45 w=80 h=10", r.Rect)
	}
}

func TestRenderOverlaySubRangeInterpolation(t *testing.T) {
	text, digest := canonicalOf(t, layerSrc)

	// "quick" is [4, 9): raw codepoints 4..9 of a 9-codepoint item, so the
	// horizontal extent is the right 5/9 of the item, divided by scale.
	res, err := RenderOverlay([]byte(layerSrc), "frag-1", text, digest,
		[]*highlight.Span{span("h1", 4, 9, "green", baseTime)})
	if err != nil {
		t.Fatalf("RenderOverlay failed: %v", err)
	}
	if len(res.Rects) != 1 {
		t.Fatalf("got %d rects, want 1", len(res.Rects))
	}

	r := res.Rects[0]
	wantX := (100 + 200*4.0/9.0) / 2
	wantW := 200 * 5.0 / 9.0 / 2
	if !approx(r.X, wantX) || !approx(r.W, wantW) {
		t.Errorf("rect x=%v w=%v, want x=%v w=%v", r.X, r.W, wantX, wantW)
	}
}

func TestRenderOverlaySpansItems(t *testing.T) {
	text, digest := canonicalOf(t, layerSrc)

	// [4, 15) crosses the line break: one rect per line box.
	res, err := RenderOverlay([]byte(layerSrc), "frag-1", text, digest,
		[]*highlight.Span{span("h1", 4, 15, "blue", baseTime)})
	if err != nil {
		t.Fatalf("RenderOverlay failed: %v", err)
	}
	if len(res.Rects) != 2 {
		t.Fatalf("got %d rects, want 2", len(res.Rects))
	}
	if approx(res.Rects[0].Y, res.Rects[1].Y) {
		t.Errorf("rects share a baseline: %+v", res.Rects)
	}
}

func TestRenderOverlayScaleForms(t *testing.T) {
	tests := []struct {
		name      string
		transform string
		wantX     float64
	}{
		{"no transform", "", 100},
		{"uniform scale", `scale(2)`, 50},
		{"two-factor scale", `scale(4, 2)`, 25},
		{"matrix", `matrix(2, 0, 0, 2, 0, 0)`, 50},
		{"garbage ignored", `rotate(45)`, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := `<div data-text-layer="" transform="` + tt.transform + `">` +
				`<span data-x="100" data-y="10" data-w="90" data-h="20">some text</span></div>`
			text, digest := canonicalOf(t, src)

			res, err := RenderOverlay([]byte(src), "frag-1", text, digest,
				[]*highlight.Span{span("h1", 0, 9, "yellow", baseTime)})
			if err != nil {
				t.Fatalf("RenderOverlay failed: %v", err)
			}
			if len(res.Rects) != 1 {
				t.Fatalf("got %d rects, want 1", len(res.Rects))
			}
			if !approx(res.Rects[0].X, tt.wantX) {
				t.Errorf("x = %v, want %v", res.Rects[0].X, tt.wantX)
			}
		})
	}
}

func TestRenderOverlayNeverMutatesLayer(t *testing.T) {
	text, digest := canonicalOf(t, layerSrc)
	spans := []*highlight.Span{span("h1", 0, 9, "yellow", baseTime)}

	first, err := RenderOverlay([]byte(layerSrc), "frag-1", text, digest, spans)
	if err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	second, err := RenderOverlay([]byte(layerSrc), "frag-1", text, digest, spans)
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if len(first.Rects) != len(second.Rects) {
		t.Fatalf("rect count changed between passes: %d vs %d", len(first.Rects), len(second.Rects))
	}
	for i := range first.Rects {
		a, b := first.Rects[i], second.Rects[i]
		if a.Rect != b.Rect || a.HighlightID != b.HighlightID || a.Color != b.Color {
			t.Errorf("rect %d changed between passes: %+v vs %+v", i, a, b)
		}
	}
}

func TestRenderOverlayMismatchFallsBack(t *testing.T) {
	stale := "completely different"
	res, err := RenderOverlay([]byte(layerSrc), "frag-1", stale, canonical.Digest(stale),
		[]*highlight.Span{span("h1", 0, 5, "yellow", baseTime)})
	if err != nil {
		t.Fatalf("mismatch must not be an error: %v", err)
	}
	if !res.Fallback || res.Plain != stale {
		t.Errorf("fallback payload = %+v", res)
	}
	if len(res.Rects) != 0 {
		t.Errorf("fallback pass still produced rects")
	}
}

func TestRenderOverlayItemsWithoutGeometrySkipped(t *testing.T) {
	src := `<div data-text-layer=""><span>no geometry</span></div>`
	text, digest := canonicalOf(t, src)

	res, err := RenderOverlay([]byte(src), "frag-1", text, digest,
		[]*highlight.Span{span("h1", 0, 2, "yellow", baseTime)})
	if err != nil {
		t.Fatalf("RenderOverlay failed: %v", err)
	}
	if len(res.Rects) != 0 {
		t.Errorf("got %d rects for geometry-free items, want 0", len(res.Rects))
	}
}
