package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NielsdaWheelz/marginalia/core/errors"
	"github.com/NielsdaWheelz/marginalia/core/highlight"
)

// CreateParams are the inputs to CreateHighlight. The Client* fields are the
// client's snapshot of what it believes it selected; ClientExact, when
// non-empty, must match the server-side recomputation or the create is
// rejected as a stale-offset submission. Client prefix/suffix are advisory
// only: the stored values are always recomputed server-side.
type CreateParams struct {
	OwnerID      string
	FragmentID   string
	Start        int
	End          int
	Color        string
	ClientExact  string
	ClientPrefix string
	ClientSuffix string
}

// UpdateParams are the inputs to UpdateHighlight. Nil fields keep their
// current value. When offsets change, exact/prefix/suffix are fully
// recomputed, never patched.
type UpdateParams struct {
	Start *int
	End   *int
	Color *string
}

// CreateHighlight validates and persists a new highlight span, recomputing
// its snapshot fields from the fragment's canonical text.
func (s *Store) CreateHighlight(ctx context.Context, p CreateParams) (*highlight.Span, error) {
	if !highlight.ValidColor(p.Color) {
		return nil, errors.NewValidation("color", fmt.Sprintf("%q is not in the palette", p.Color))
	}
	frag, err := s.Fragment(ctx, p.FragmentID)
	if err != nil {
		return nil, err
	}

	exact, prefix, suffix, err := highlight.Snapshot(frag.CanonicalText, p.Start, p.End)
	if err != nil {
		return nil, err
	}
	if p.ClientExact != "" && p.ClientExact != exact {
		return nil, errors.NewValidation("exact_text",
			"client-supplied exact text does not match canonical text at these offsets")
	}

	span := &highlight.Span{
		ID:          uuid.New().String(),
		OwnerID:     p.OwnerID,
		FragmentID:  p.FragmentID,
		StartOffset: p.Start,
		EndOffset:   p.End,
		Color:       p.Color,
		ExactText:   exact,
		PrefixText:  prefix,
		SuffixText:  suffix,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.insertHighlight(ctx, span); err != nil {
		return nil, err
	}
	return span, nil
}

// RestoreHighlight inserts a span preserving its identity, used by archive
// import.
func (s *Store) RestoreHighlight(ctx context.Context, span *highlight.Span) error {
	return s.insertHighlight(ctx, span)
}

func (s *Store) insertHighlight(ctx context.Context, span *highlight.Span) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO highlights
		 (id, owner_id, fragment_id, start_offset, end_offset, color,
		  exact_text, prefix_text, suffix_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		span.ID, span.OwnerID, span.FragmentID, span.StartOffset, span.EndOffset,
		span.Color, span.ExactText, span.PrefixText, span.SuffixText,
		span.CreatedAt.Format(time.RFC3339Nano))
	if isUniqueViolation(err) {
		return errors.NewConflict(span.OwnerID, span.FragmentID, span.StartOffset, span.EndOffset)
	}
	if err != nil {
		return fmt.Errorf("inserting highlight: %w", err)
	}
	return nil
}

// UpdateHighlight replaces a span's offsets and/or color. Identity (id,
// created_at) is preserved; snapshot fields are fully re-derived when
// offsets change.
func (s *Store) UpdateHighlight(ctx context.Context, id string, p UpdateParams) (*highlight.Span, error) {
	span, err := s.Highlight(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Color != nil {
		if !highlight.ValidColor(*p.Color) {
			return nil, errors.NewValidation("color", fmt.Sprintf("%q is not in the palette", *p.Color))
		}
		span.Color = *p.Color
	}

	if p.Start != nil || p.End != nil {
		if p.Start != nil {
			span.StartOffset = *p.Start
		}
		if p.End != nil {
			span.EndOffset = *p.End
		}
		frag, err := s.Fragment(ctx, span.FragmentID)
		if err != nil {
			return nil, err
		}
		span.ExactText, span.PrefixText, span.SuffixText, err =
			highlight.Snapshot(frag.CanonicalText, span.StartOffset, span.EndOffset)
		if err != nil {
			return nil, err
		}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE highlights
		 SET start_offset = ?, end_offset = ?, color = ?,
		     exact_text = ?, prefix_text = ?, suffix_text = ?
		 WHERE id = ?`,
		span.StartOffset, span.EndOffset, span.Color,
		span.ExactText, span.PrefixText, span.SuffixText, id)
	if isUniqueViolation(err) {
		return nil, errors.NewConflict(span.OwnerID, span.FragmentID, span.StartOffset, span.EndOffset)
	}
	if err != nil {
		return nil, fmt.Errorf("updating highlight: %w", err)
	}
	return span, nil
}

// DeleteHighlight removes a span. Its dependent note, if any, is removed as
// a cascading side effect.
func (s *Store) DeleteHighlight(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE highlight_id = ?`, id); err != nil {
		return fmt.Errorf("deleting note: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM highlights WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting highlight: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFound("highlight", id)
	}
	return tx.Commit()
}

// Highlight loads one span by id.
func (s *Store) Highlight(ctx context.Context, id string) (*highlight.Span, error) {
	row := s.db.QueryRowContext(ctx, selectHighlight+` WHERE id = ?`, id)
	span, err := scanHighlight(row)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.NewNotFound("highlight", id)
	}
	return span, err
}

// ListForFragment returns all spans owned by the caller for one fragment,
// in creation order. This is the segmenter's input: spans from other owners
// are independent overlap domains and never appear here.
func (s *Store) ListForFragment(ctx context.Context, ownerID, fragmentID string) ([]*highlight.Span, error) {
	rows, err := s.db.QueryContext(ctx,
		selectHighlight+` WHERE owner_id = ? AND fragment_id = ? ORDER BY created_at, id`,
		ownerID, fragmentID)
	if err != nil {
		return nil, fmt.Errorf("listing highlights: %w", err)
	}
	defer rows.Close()
	return scanHighlights(rows)
}

// ListAllHighlights returns every span in the store, for archive export.
func (s *Store) ListAllHighlights(ctx context.Context) ([]*highlight.Span, error) {
	rows, err := s.db.QueryContext(ctx, selectHighlight+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing highlights: %w", err)
	}
	defer rows.Close()
	return scanHighlights(rows)
}

// SetNote attaches or replaces the single note on a highlight.
func (s *Store) SetNote(ctx context.Context, highlightID, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, highlight_id, body, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(highlight_id) DO UPDATE SET body = excluded.body`,
		uuid.New().String(), highlightID, body, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("setting note: %w", err)
	}
	return nil
}

// Note returns the note body attached to a highlight, or "" when none.
func (s *Store) Note(ctx context.Context, highlightID string) (string, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM notes WHERE highlight_id = ?`, highlightID).Scan(&body)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading note: %w", err)
	}
	return body, nil
}

const selectHighlight = `
SELECT id, owner_id, fragment_id, start_offset, end_offset, color,
       exact_text, prefix_text, suffix_text, created_at
FROM highlights`

func scanHighlight(row rowScanner) (*highlight.Span, error) {
	var span highlight.Span
	var created string
	err := row.Scan(&span.ID, &span.OwnerID, &span.FragmentID,
		&span.StartOffset, &span.EndOffset, &span.Color,
		&span.ExactText, &span.PrefixText, &span.SuffixText, &created)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("highlight", "")
	}
	if err != nil {
		return nil, fmt.Errorf("scanning highlight: %w", err)
	}
	if span.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parsing highlight timestamp: %w", err)
	}
	return &span, nil
}

func scanHighlights(rows *sql.Rows) ([]*highlight.Span, error) {
	var out []*highlight.Span
	for rows.Next() {
		span, err := scanHighlight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, span)
	}
	return out, rows.Err()
}
