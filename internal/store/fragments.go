package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NielsdaWheelz/marginalia/core/canonical"
	"github.com/NielsdaWheelz/marginalia/core/errors"
	"github.com/NielsdaWheelz/marginalia/core/markup"
)

// Fragment is one stored canonical document: the sanitized source markup and
// the canonical text produced from it at ingest. Canonical text is immutable
// once produced.
type Fragment struct {
	ID              string    `json:"id"`
	SourceMarkup    []byte    `json:"source_markup"`
	CanonicalText   string    `json:"canonical_text"`
	CanonicalDigest string    `json:"canonical_digest"`
	CreatedAt       time.Time `json:"created_at"`
}

// PutFragment canonicalizes sanitized markup and stores it as a new
// fragment. An empty id gets a generated one. The markup must parse; the
// canonical text and its digest are computed exactly once, here.
func (s *Store) PutFragment(ctx context.Context, id string, sourceMarkup []byte) (*Fragment, error) {
	doc, err := markup.Parse(sourceMarkup)
	if err != nil {
		return nil, errors.NewValidation("source_markup", err.Error())
	}
	if id == "" {
		id = uuid.New().String()
	}

	frag := &Fragment{
		ID:            id,
		SourceMarkup:  sourceMarkup,
		CanonicalText: canonical.Canonicalize(doc),
		CreatedAt:     time.Now().UTC(),
	}
	frag.CanonicalDigest = canonical.Digest(frag.CanonicalText)

	return frag, s.insertFragment(ctx, frag)
}

// RestoreFragment inserts a fragment preserving its stored canonical text
// and digest, used by archive import. The digest must match the text.
func (s *Store) RestoreFragment(ctx context.Context, frag *Fragment) error {
	if canonical.Digest(frag.CanonicalText) != frag.CanonicalDigest {
		return errors.NewValidation("canonical_digest", "digest does not match canonical text")
	}
	return s.insertFragment(ctx, frag)
}

func (s *Store) insertFragment(ctx context.Context, frag *Fragment) error {
	blob, err := compress(frag.SourceMarkup)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fragments (id, source_markup, canonical_text, canonical_digest, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		frag.ID, blob, frag.CanonicalText, frag.CanonicalDigest,
		frag.CreatedAt.Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		return errors.NewValidation("id", fmt.Sprintf("fragment %s already exists", frag.ID))
	}
	if err != nil {
		return fmt.Errorf("inserting fragment: %w", err)
	}
	return nil
}

// Fragment loads one fragment by id.
func (s *Store) Fragment(ctx context.Context, id string) (*Fragment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_markup, canonical_text, canonical_digest, created_at
		 FROM fragments WHERE id = ?`, id)
	frag, err := scanFragment(row)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.NewNotFound("fragment", id)
	}
	return frag, err
}

// ListFragments returns all fragments ordered by creation time.
func (s *Store) ListFragments(ctx context.Context) ([]*Fragment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_markup, canonical_text, canonical_digest, created_at
		 FROM fragments ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing fragments: %w", err)
	}
	defer rows.Close()

	var out []*Fragment
	for rows.Next() {
		frag, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, frag)
	}
	return out, rows.Err()
}

// DeleteFragment removes a fragment; highlights and notes cascade.
func (s *Store) DeleteFragment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fragments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting fragment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("fragment", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFragment(row rowScanner) (*Fragment, error) {
	var frag Fragment
	var blob []byte
	var created string
	err := row.Scan(&frag.ID, &blob, &frag.CanonicalText, &frag.CanonicalDigest, &created)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("fragment", "")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning fragment: %w", err)
	}
	if frag.SourceMarkup, err = decompress(blob); err != nil {
		return nil, err
	}
	if frag.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parsing fragment timestamp: %w", err)
	}
	return &frag, nil
}
