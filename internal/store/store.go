// Package store persists canonical documents and highlight spans in SQLite
// and enforces the store adapter's invariants: server-side re-derivation of
// snapshot fields, range validation against canonical text, and the
// duplicate-exact-span uniqueness constraint.
package store

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/NielsdaWheelz/marginalia/core/sqlite"
)

// schema is applied on open. The UNIQUE constraint on highlights is the
// optimistic serialization point for concurrent creates: a violated insert
// maps to a conflict error, no pessimistic locking.
const schema = `
CREATE TABLE IF NOT EXISTS fragments (
	id               TEXT PRIMARY KEY,
	source_markup    BLOB NOT NULL,
	canonical_text   TEXT NOT NULL,
	canonical_digest TEXT NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS highlights (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	fragment_id  TEXT NOT NULL REFERENCES fragments(id) ON DELETE CASCADE,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	color        TEXT NOT NULL,
	exact_text   TEXT NOT NULL,
	prefix_text  TEXT NOT NULL,
	suffix_text  TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	UNIQUE (owner_id, fragment_id, start_offset, end_offset)
);

CREATE INDEX IF NOT EXISTS idx_highlights_fragment
	ON highlights(owner_id, fragment_id);

CREATE TABLE IF NOT EXISTS notes (
	id           TEXT PRIMARY KEY,
	highlight_id TEXT NOT NULL UNIQUE REFERENCES highlights(id) ON DELETE CASCADE,
	body         TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
`

// Store is the persistence layer for fragments and highlights.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the store database at path.
func Open(path string) (*Store, error) {
	db, err := sqlite.OpenForStore(path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a violated UNIQUE constraint.
// Both supported drivers include the constraint name in the message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// compress xz-compresses a markup blob for storage.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing markup: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing xz stream: %w", err)
	}
	return buf.Bytes(), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating xz reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing markup: %w", err)
	}
	return out, nil
}
