// Package export writes and reads portable archives of a store's contents.
// An archive is a tar.xz holding a manifest, one markup file plus JSON
// metadata per fragment, and one JSON record per highlight. Canonical text
// is not archived; imports re-derive it from the markup and refuse any
// fragment whose recorded digest no longer matches.
package export

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/NielsdaWheelz/marginalia/core/canonical"
	"github.com/NielsdaWheelz/marginalia/core/highlight"
	"github.com/NielsdaWheelz/marginalia/core/markup"
	"github.com/NielsdaWheelz/marginalia/internal/logging"
	"github.com/NielsdaWheelz/marginalia/internal/store"
)

// FormatVersion identifies the archive layout.
const FormatVersion = "1"

// Manifest is the archive's manifest.json.
type Manifest struct {
	Version    string `json:"version"`
	CreatedAt  string `json:"created_at"`
	Fragments  int    `json:"fragments"`
	Highlights int    `json:"highlights"`
}

// fragmentMeta is the per-fragment JSON record. The markup itself lives in
// a sibling .xml entry so it stays diffable when the archive is unpacked by
// hand.
type fragmentMeta struct {
	ID              string `json:"id"`
	CanonicalDigest string `json:"canonical_digest"`
	CreatedAt       string `json:"created_at"`
}

// Export writes every fragment and highlight in the store to a tar.xz
// archive at outPath.
func Export(ctx context.Context, st *store.Store, outPath string) (*Manifest, error) {
	frags, err := st.ListFragments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing fragments: %w", err)
	}
	spans, err := st.ListAllHighlights(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing highlights: %w", err)
	}

	file, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}
	defer file.Close()

	xzw, err := xz.NewWriter(file)
	if err != nil {
		return nil, fmt.Errorf("creating xz writer: %w", err)
	}
	defer xzw.Close()

	tw := tar.NewWriter(xzw)
	defer tw.Close()

	manifest := &Manifest{
		Version:    FormatVersion,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Fragments:  len(frags),
		Highlights: len(spans),
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serializing manifest: %w", err)
	}
	if err := writeToTar(tw, "manifest.json", manifestData); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	for _, frag := range frags {
		meta := fragmentMeta{
			ID:              frag.ID,
			CanonicalDigest: frag.CanonicalDigest,
			CreatedAt:       frag.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		metaData, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("serializing fragment %s: %w", frag.ID, err)
		}
		base := "fragments/" + frag.ID
		if err := writeToTar(tw, base+".json", metaData); err != nil {
			return nil, fmt.Errorf("writing fragment %s: %w", frag.ID, err)
		}
		if err := writeToTar(tw, base+".xml", frag.SourceMarkup); err != nil {
			return nil, fmt.Errorf("writing fragment markup %s: %w", frag.ID, err)
		}
	}

	for _, span := range spans {
		data, err := json.MarshalIndent(span, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("serializing highlight %s: %w", span.ID, err)
		}
		if err := writeToTar(tw, "highlights/"+span.ID+".json", data); err != nil {
			return nil, fmt.Errorf("writing highlight %s: %w", span.ID, err)
		}
	}

	logging.Info("archive exported",
		"path", outPath,
		"fragments", manifest.Fragments,
		"highlights", manifest.Highlights)
	return manifest, nil
}

// Import reads an archive and restores its fragments and highlights into
// the store. Fragments whose markup no longer canonicalizes to the recorded
// digest are refused, so a corrupted archive cannot poison stored offsets.
func Import(ctx context.Context, st *store.Store, archivePath string) (*Manifest, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	xzr, err := xz.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("creating xz reader: %w", err)
	}
	tr := tar.NewReader(xzr)

	var (
		manifest *Manifest
		metas    = map[string]fragmentMeta{}
		markups  = map[string][]byte{}
		spans    []*highlight.Span
	)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar header: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(header.Name)
		if strings.HasPrefix(name, "..") {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		switch {
		case name == "manifest.json":
			manifest = &Manifest{}
			if err := json.Unmarshal(data, manifest); err != nil {
				return nil, fmt.Errorf("parsing manifest: %w", err)
			}
			if manifest.Version != FormatVersion {
				return nil, fmt.Errorf("unsupported archive version %q", manifest.Version)
			}
		case strings.HasPrefix(name, "fragments/") && strings.HasSuffix(name, ".json"):
			var meta fragmentMeta
			if err := json.Unmarshal(data, &meta); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", name, err)
			}
			metas[meta.ID] = meta
		case strings.HasPrefix(name, "fragments/") && strings.HasSuffix(name, ".xml"):
			id := strings.TrimSuffix(path.Base(name), ".xml")
			markups[id] = data
		case strings.HasPrefix(name, "highlights/") && strings.HasSuffix(name, ".json"):
			span := &highlight.Span{}
			if err := json.Unmarshal(data, span); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", name, err)
			}
			spans = append(spans, span)
		}
	}

	if manifest == nil {
		return nil, fmt.Errorf("archive does not contain manifest.json")
	}

	for id, meta := range metas {
		src, ok := markups[id]
		if !ok {
			return nil, fmt.Errorf("fragment %s has metadata but no markup entry", id)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, meta.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("fragment %s: parsing created_at: %w", id, err)
		}
		doc, err := markup.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("fragment %s: parsing markup: %w", id, err)
		}
		frag := &store.Fragment{
			ID:              id,
			SourceMarkup:    src,
			CanonicalText:   canonical.Canonicalize(doc),
			CanonicalDigest: meta.CanonicalDigest,
			CreatedAt:       createdAt,
		}
		if err := st.RestoreFragment(ctx, frag); err != nil {
			return nil, fmt.Errorf("restoring fragment %s: %w", id, err)
		}
	}

	for _, span := range spans {
		if err := st.RestoreHighlight(ctx, span); err != nil {
			return nil, fmt.Errorf("restoring highlight %s: %w", span.ID, err)
		}
	}

	logging.Info("archive imported",
		"path", archivePath,
		"fragments", len(metas),
		"highlights", len(spans))
	return manifest, nil
}

func writeToTar(tw *tar.Writer, name string, data []byte) error {
	header := &tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
