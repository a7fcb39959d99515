package file

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// SearchableStore decorates Store with a modernc.org/sqlite FTS5 index over
// note content, implementing the optional store.NoteSearcher capability.
// Plain *Store does not implement NoteSearcher; this wrapper is how a
// deployment opts in.
type SearchableStore struct {
	*Store
	db *sql.DB
}

var _ store.Store = (*SearchableStore)(nil)
var _ store.NoteSearcher = (*SearchableStore)(nil)

// NewSearchable opens (creating if absent) a pure-Go SQLite FTS5 index
// alongside the file store's notes directory.
func NewSearchable(base string) (*SearchableStore, error) {
	inner, err := New(base)
	if err != nil {
		return nil, err
	}
	dbPath := filepath.Join(base, "notes", "index.sqlite")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(key UNINDEXED, content)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/file: create fts index: %w", err)
	}
	return &SearchableStore{Store: inner, db: db}, nil
}

func (s *SearchableStore) Close() error {
	return s.db.Close()
}

func (s *SearchableStore) SaveNote(ctx context.Context, key, content string) error {
	if err := s.Store.SaveNote(ctx, key, content); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notes_fts WHERE key = ?`, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO notes_fts(key, content) VALUES (?, ?)`, key, content)
	return err
}

func (s *SearchableStore) DeleteNote(ctx context.Context, key string) error {
	if err := s.Store.DeleteNote(ctx, key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM notes_fts WHERE key = ?`, key)
	return err
}

// SearchNotes runs an FTS5 MATCH query, optionally scoped to keys with
// prefix, ranked by bm25 and capped at limit results.
func (s *SearchableStore) SearchNotes(ctx context.Context, query, prefix string, limit int) ([]store.Note, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, content FROM notes_fts WHERE notes_fts MATCH ? ORDER BY bm25(notes_fts) LIMIT ?`,
		query, limit*4) // over-fetch, then filter by prefix below
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Note
	for rows.Next() && len(out) < limit {
		var key, content string
		if err := rows.Scan(&key, &content); err != nil {
			return nil, err
		}
		if prefix != "" && (len(key) < len(prefix) || key[:len(prefix)] != prefix) {
			continue
		}
		n, ok, err := s.Store.LoadNote(ctx, key)
		if err != nil || !ok {
			continue
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}
