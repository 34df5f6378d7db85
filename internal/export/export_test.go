package export

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/NielsdaWheelz/marginalia/internal/store"
)

const testMarkup = `<div><p>The quick brown fox</p><p>jumps over the lazy dog</p></div>`

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)

	frag, err := src.PutFragment(ctx, "frag-1", []byte(testMarkup))
	if err != nil {
		t.Fatalf("PutFragment failed: %v", err)
	}
	span, err := src.CreateHighlight(ctx, store.CreateParams{
		OwnerID: "alice", FragmentID: "frag-1", Start: 4, End: 9, Color: "yellow",
	})
	if err != nil {
		t.Fatalf("CreateHighlight failed: %v", err)
	}

	archive := filepath.Join(t.TempDir(), "out.tar.xz")
	manifest, err := Export(ctx, src, archive)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if manifest.Fragments != 1 || manifest.Highlights != 1 {
		t.Errorf("manifest counts = %d/%d, want 1/1", manifest.Fragments, manifest.Highlights)
	}

	dst := openTestStore(t)
	imported, err := Import(ctx, dst, archive)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported.Version != FormatVersion {
		t.Errorf("imported version = %q", imported.Version)
	}

	gotFrag, err := dst.Fragment(ctx, "frag-1")
	if err != nil {
		t.Fatalf("restored fragment missing: %v", err)
	}
	if gotFrag.CanonicalText != frag.CanonicalText {
		t.Errorf("canonical text changed across the archive: %q vs %q",
			gotFrag.CanonicalText, frag.CanonicalText)
	}
	if gotFrag.CanonicalDigest != frag.CanonicalDigest {
		t.Errorf("digest changed across the archive")
	}
	if !gotFrag.CreatedAt.Equal(frag.CreatedAt) {
		t.Errorf("created_at changed across the archive")
	}

	gotSpan, err := dst.Highlight(ctx, span.ID)
	if err != nil {
		t.Fatalf("restored highlight missing: %v", err)
	}
	if gotSpan.ExactText != "quick" || gotSpan.OwnerID != "alice" || gotSpan.Color != "yellow" {
		t.Errorf("restored span = %+v", gotSpan)
	}
}

func TestExportEmptyStore(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	archive := filepath.Join(t.TempDir(), "empty.tar.xz")
	manifest, err := Export(ctx, st, archive)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if manifest.Fragments != 0 || manifest.Highlights != 0 {
		t.Errorf("manifest counts = %+v", manifest)
	}

	dst := openTestStore(t)
	if _, err := Import(ctx, dst, archive); err != nil {
		t.Fatalf("Import of empty archive failed: %v", err)
	}
}

func TestImportMissingArchive(t *testing.T) {
	dst := openTestStore(t)
	if _, err := Import(context.Background(), dst, filepath.Join(t.TempDir(), "nope.tar.xz")); err == nil {
		t.Error("expected error for missing archive")
	}
}

func TestImportRefusesConflictingFragment(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	if _, err := src.PutFragment(ctx, "frag-1", []byte(testMarkup)); err != nil {
		t.Fatalf("PutFragment failed: %v", err)
	}

	archive := filepath.Join(t.TempDir(), "out.tar.xz")
	if _, err := Export(ctx, src, archive); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := openTestStore(t)
	if _, err := dst.PutFragment(ctx, "frag-1", []byte(`<p>different</p>`)); err != nil {
		t.Fatalf("PutFragment failed: %v", err)
	}
	if _, err := Import(ctx, dst, archive); err == nil {
		t.Error("import over an existing conflicting fragment must fail")
	}
}
