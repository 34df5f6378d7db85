package render

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/NielsdaWheelz/marginalia/core/canonical"
	"github.com/NielsdaWheelz/marginalia/core/errors"
	"github.com/NielsdaWheelz/marginalia/core/highlight"
	"github.com/NielsdaWheelz/marginalia/core/markup"
	"github.com/NielsdaWheelz/marginalia/core/offset"
	"github.com/NielsdaWheelz/marginalia/core/segment"
	"github.com/NielsdaWheelz/marginalia/internal/logging"
)

// Rect is a layer-local rectangle, in the text layer's own coordinate space
// (viewport coordinates divided by the layer's effective scale).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// OverlayRect is one highlight rectangle to draw in the transparent overlay
// above the text layer. A single logical range produces one rectangle per
// text item it crosses, which is how line wraps become multiple rects.
type OverlayRect struct {
	Rect
	HighlightID string   `json:"highlight_id"`
	ActiveIDs   []string `json:"active_ids"`
	Color       string   `json:"color"`
}

// Overlay is the output of a geometry rendering pass. The consumer clears
// the previous overlay entirely and draws these rects; nothing in the text
// layer itself is ever mutated.
type Overlay struct {
	Rects    []OverlayRect `json:"rects"`
	Plain    string        `json:"plain,omitempty"`
	Fallback bool          `json:"fallback,omitempty"`
}

// RenderOverlay renders highlights over a paginated surface's text layer.
// The layer markup carries one positioned element per text item with
// viewport-space geometry in data-x/data-y/data-w/data-h attributes, and an
// optional transform attribute on the layer region whose scale factors are
// divided out before emitting layer-local coordinates.
func RenderOverlay(layerMarkup []byte, fragmentID, storedText, storedDigest string, spans []*highlight.Span) (*Overlay, error) {
	doc, err := markup.Parse(layerMarkup)
	if err != nil {
		return nil, fmt.Errorf("parsing text layer: %w", err)
	}
	region := doc.TextLayer()

	res, err := canonical.VerifyRegion(fragmentID, storedText, storedDigest, region)
	if err != nil {
		var mismatch *errors.CanonicalizationMismatchError
		if errors.As(err, &mismatch) {
			logging.CanonicalMismatch(fragmentID, mismatch.StoredLen, mismatch.RecomputedLen,
				canonical.MismatchDiff(storedText, res.Text, 40))
			return &Overlay{Plain: storedText, Fallback: true}, nil
		}
		return nil, err
	}

	scaleX, scaleY := layerScale(region)
	segs := segment.Split(res.Length(), toRanges(spans))
	idx := offset.FromResult(res)
	byID := spanIndex(spans)

	var rects []OverlayRect
	for _, seg := range segs {
		if len(seg.ActiveIDs) == 0 {
			continue
		}
		ranges, err := idx.Resolve(seg.Start, seg.End)
		if err != nil {
			return nil, err
		}
		for _, nr := range ranges {
			item := positionedItem(nr.Node)
			if item.IsZero() {
				continue
			}
			rect, ok := itemRect(item)
			if !ok {
				continue
			}

			// Horizontal sub-range interpolation by codepoint proportion of
			// the item's raw text, before scale correction.
			total := utf8.RuneCountInString(nr.Node.RawText())
			if total > 0 {
				startFrac := float64(nr.RawStart) / float64(total)
				endFrac := float64(nr.RawEnd) / float64(total)
				rect.X += rect.W * startFrac
				rect.W *= endFrac - startFrac
			}

			rect.X /= scaleX
			rect.W /= scaleX
			rect.Y /= scaleY
			rect.H /= scaleY

			color := ""
			if span, ok := byID[seg.WinnerID]; ok {
				color = span.Color
			}
			rects = append(rects, OverlayRect{
				Rect:        rect,
				HighlightID: seg.WinnerID,
				ActiveIDs:   seg.ActiveIDs,
				Color:       color,
			})
		}
	}

	return &Overlay{Rects: rects}, nil
}

// positionedItem walks up from a text node to the nearest element carrying
// item geometry.
func positionedItem(n markup.Node) markup.Node {
	for cur := n; !cur.IsZero(); cur = cur.Parent() {
		if cur.IsElement() && cur.HasAttr("data-x") {
			return cur
		}
	}
	return markup.Node{}
}

// itemRect reads an item's viewport-space rectangle.
func itemRect(item markup.Node) (Rect, bool) {
	var rect Rect
	var err error
	if rect.X, err = strconv.ParseFloat(item.Attr("data-x"), 64); err != nil {
		return Rect{}, false
	}
	if rect.Y, err = strconv.ParseFloat(item.Attr("data-y"), 64); err != nil {
		return Rect{}, false
	}
	if rect.W, err = strconv.ParseFloat(item.Attr("data-w"), 64); err != nil {
		return Rect{}, false
	}
	if rect.H, err = strconv.ParseFloat(item.Attr("data-h"), 64); err != nil {
		return Rect{}, false
	}
	return rect, true
}

// layerScale derives the effective scale factors from the region's
// transform attribute. Supported forms: scale(s), scale(sx, sy), and
// matrix(a, b, c, d, e, f) whose a/d entries are the scale. Anything else
// means an unscaled layer.
func layerScale(region markup.Node) (float64, float64) {
	t := strings.TrimSpace(region.Attr("transform"))
	if t == "" {
		return 1, 1
	}
	lp := strings.IndexByte(t, '(')
	rp := strings.IndexByte(t, ')')
	if lp < 0 || rp < lp {
		return 1, 1
	}
	name := strings.TrimSpace(t[:lp])
	var args []float64
	for _, f := range strings.Split(t[lp+1:rp], ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return 1, 1
		}
		args = append(args, v)
	}

	switch {
	case name == "scale" && len(args) == 1 && args[0] != 0:
		return args[0], args[0]
	case name == "scale" && len(args) == 2 && args[0] != 0 && args[1] != 0:
		return args[0], args[1]
	case name == "matrix" && len(args) == 6 && args[0] != 0 && args[3] != 0:
		return args[0], args[3]
	default:
		return 1, 1
	}
}
