// Package pg implements store.Store on Postgres via jackc/pgx/v5: one
// table per entity, upsert-on-conflict for last-writer-wins semantics.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// Store persists sessions, notes, and branches in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New opens a pool against dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS agentcore_sessions (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	last_activity_at TIMESTAMPTZ NOT NULL,
	history JSONB NOT NULL DEFAULT '[]',
	total_input_tokens BIGINT NOT NULL DEFAULT 0,
	total_output_tokens BIGINT NOT NULL DEFAULT 0,
	metadata JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS agentcore_notes (
	key TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS agentcore_branches (
	branch_id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	history JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS agentcore_branches_session_idx ON agentcore_branches(session_id);
`)
	return err
}

// --- Sessions ---

func (s *Store) GetSession(ctx context.Context, id string) (*store.SessionRecord, bool, error) {
	var rec store.SessionRecord
	var historyJSON, metaJSON []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, channel_id, sender_id, created_at, last_activity_at, history,
       total_input_tokens, total_output_tokens, metadata
FROM agentcore_sessions WHERE id = $1`, id).Scan(
		&rec.ID, &rec.ChannelID, &rec.SenderID, &rec.CreatedAt, &rec.LastActivityAt,
		&historyJSON, &rec.TotalInputTokens, &rec.TotalOutputTokens, &metaJSON)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if err := json.Unmarshal(historyJSON, &rec.History); err != nil {
		return nil, false, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &rec.Metadata); err != nil {
			return nil, false, err
		}
	}
	return &rec, true, nil
}

func (s *Store) SaveSession(ctx context.Context, rec *store.SessionRecord) error {
	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO agentcore_sessions (id, channel_id, sender_id, created_at, last_activity_at, history, total_input_tokens, total_output_tokens, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	last_activity_at = EXCLUDED.last_activity_at,
	history = EXCLUDED.history,
	total_input_tokens = EXCLUDED.total_input_tokens,
	total_output_tokens = EXCLUDED.total_output_tokens,
	metadata = EXCLUDED.metadata`,
		rec.ID, rec.ChannelID, rec.SenderID, rec.CreatedAt, rec.LastActivityAt,
		historyJSON, rec.TotalInputTokens, rec.TotalOutputTokens, metaJSON)
	return err
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM agentcore_branches WHERE session_id = $1`, id); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM agentcore_sessions WHERE id = $1`, id)
	return err
}

// --- Notes ---

func (s *Store) LoadNote(ctx context.Context, key string) (*store.Note, bool, error) {
	var n store.Note
	err := s.pool.QueryRow(ctx, `SELECT key, content, updated_at FROM agentcore_notes WHERE key = $1`, key).
		Scan(&n.Key, &n.Content, &n.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &n, true, nil
}

func (s *Store) SaveNote(ctx context.Context, key, content string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO agentcore_notes (key, content, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET content = EXCLUDED.content, updated_at = now()`, key, content)
	return err
}

func (s *Store) DeleteNote(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agentcore_notes WHERE key = $1`, key)
	return err
}

func (s *Store) ListNotesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM agentcore_notes WHERE key LIKE $1`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SearchNotes gives pg.Store the optional NoteSearcher capability via
// Postgres' built-in case-insensitive ILIKE substring matching; no extra
// extension required.
func (s *Store) SearchNotes(ctx context.Context, query, prefix string, limit int) ([]store.Note, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT key, content, updated_at FROM agentcore_notes
WHERE key LIKE $1 AND content ILIKE $2
ORDER BY updated_at DESC LIMIT $3`, escapeLike(prefix)+"%", "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.Note
	for rows.Next() {
		var n store.Note
		if err := rows.Scan(&n.Key, &n.Content, &n.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

var _ store.NoteSearcher = (*Store)(nil)

func escapeLike(s string) string {
	r := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' || s[i] == '_' || s[i] == '\\' {
			r = append(r, '\\')
		}
		r = append(r, s[i])
	}
	return string(r)
}

// --- Branches ---

func (s *Store) SaveBranch(ctx context.Context, b *store.BranchRecord) error {
	historyJSON, err := json.Marshal(b.History)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO agentcore_branches (branch_id, session_id, name, created_at, history)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (branch_id) DO UPDATE SET name = EXCLUDED.name, history = EXCLUDED.history`,
		b.BranchID, b.SessionID, b.Name, b.CreatedAt, historyJSON)
	return err
}

func (s *Store) LoadBranch(ctx context.Context, sessionID, branchID string) (*store.BranchRecord, bool, error) {
	var b store.BranchRecord
	var historyJSON []byte
	err := s.pool.QueryRow(ctx, `
SELECT branch_id, session_id, name, created_at, history FROM agentcore_branches
WHERE session_id = $1 AND branch_id = $2`, sessionID, branchID).
		Scan(&b.BranchID, &b.SessionID, &b.Name, &b.CreatedAt, &historyJSON)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if err := json.Unmarshal(historyJSON, &b.History); err != nil {
		return nil, false, err
	}
	return &b, true, nil
}

func (s *Store) ListBranches(ctx context.Context, sessionID string) ([]*store.BranchRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT branch_id, session_id, name, created_at, history FROM agentcore_branches
WHERE session_id = $1 ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.BranchRecord
	for rows.Next() {
		var b store.BranchRecord
		var historyJSON []byte
		if err := rows.Scan(&b.BranchID, &b.SessionID, &b.Name, &b.CreatedAt, &historyJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(historyJSON, &b.History); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *Store) DeleteBranch(ctx context.Context, sessionID, branchID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agentcore_branches WHERE session_id = $1 AND branch_id = $2`, sessionID, branchID)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
