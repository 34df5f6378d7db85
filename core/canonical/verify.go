package canonical

import (
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/NielsdaWheelz/marginalia/core/errors"
	"github.com/NielsdaWheelz/marginalia/core/markup"
)

// Verify is the validation gate: it recomputes canonical text from markup
// and compares it against the stored value. A digest match short-circuits
// the comparison. On disagreement it returns the recomputed result together
// with a CanonicalizationMismatchError carrying the fragment id and both
// lengths; callers must fall back to rendering plain text, log the
// mismatch, and never crash the render pass.
func Verify(fragmentID, stored, storedDigest string, doc *markup.Document) (*Result, error) {
	return VerifyRegion(fragmentID, stored, storedDigest, doc.Body())
}

// VerifyRegion is Verify restricted to a designated region, e.g. a paginated
// surface's text layer.
func VerifyRegion(fragmentID, stored, storedDigest string, region markup.Node) (*Result, error) {
	res := Build(region)
	if storedDigest != "" && Digest(res.Text) == storedDigest {
		return res, nil
	}
	if res.Text == stored {
		return res, nil
	}
	return res, errors.NewMismatch(fragmentID,
		utf8.RuneCountInString(stored),
		utf8.RuneCountInString(res.Text))
}

// MismatchDiff renders a unified diff of stored versus recomputed canonical
// text for diagnostics, truncated to maxLines lines so logs stay bounded.
func MismatchDiff(stored, recomputed string, maxLines int) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(stored),
		B:        difflib.SplitLines(recomputed),
		FromFile: "stored",
		ToFile:   "recomputed",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	lines := strings.SplitAfter(diff, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		return strings.Join(lines[:maxLines], "") + "... (truncated)\n"
	}
	return diff
}
