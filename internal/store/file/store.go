// Package file implements store.Store on the local filesystem: atomic
// temp-then-rename writes under sessions/, notes/, and branches/
// subdirectories of a base directory, with ids encoded into filenames so
// '/', '\', and ".." can never escape the base directory.
//
// Ids are base32-encoded into filenames, which is reversible and
// alphanumeric-only by construction. An earlier layout mapped ':' to '_'
// instead, which is not reversible (two distinct keys can collide); files
// in that layout are migrated transparently on first read.
package file

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/store"
)

var idEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)

func encodeID(id string) string {
	return idEncoding.EncodeToString([]byte(id))
}

func decodeID(name string) (string, error) {
	b, err := idEncoding.DecodeString(name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Store persists sessions, notes, and branches as JSON files under base.
type Store struct {
	base string
}

// New creates a Store rooted at base, creating the sessions/notes/branches
// subdirectories if they don't exist.
func New(base string) (*Store, error) {
	for _, sub := range []string{"sessions", "notes", "branches"} {
		if err := os.MkdirAll(filepath.Join(base, sub), 0o755); err != nil {
			return nil, err
		}
	}
	return &Store{base: base}, nil
}

var _ store.Store = (*Store)(nil)

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.base, "sessions", encodeID(id)+".json")
}

func (s *Store) notePath(key string) string {
	return filepath.Join(s.base, "notes", encodeID(key)+".json")
}

func (s *Store) branchDir(sessionID string) string {
	return filepath.Join(s.base, "branches", encodeID(sessionID))
}

func (s *Store) branchPath(sessionID, branchID string) string {
	return filepath.Join(s.branchDir(sessionID), encodeID(branchID)+".json")
}

// legacyPath returns the pre-encoding filename (':' -> '_') so existing
// on-disk data migrates transparently on first read instead of silently
// disappearing.
func legacyPath(dir, id string) string {
	return filepath.Join(dir, strings.ReplaceAll(id, ":", "_")+".json")
}

func readJSON(path string, out interface{}) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "tmp-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	ok = true
	return nil
}

// --- Sessions ---

func (s *Store) GetSession(ctx context.Context, id string) (*store.SessionRecord, bool, error) {
	var rec store.SessionRecord
	path := s.sessionPath(id)
	ok, err := readJSON(path, &rec)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return &rec, true, nil
	}
	// Legacy unencoded filename: migrate on read, then remove the original.
	legacy := legacyPath(filepath.Join(s.base, "sessions"), id)
	ok, err = readJSON(legacy, &rec)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := s.SaveSession(ctx, &rec); err != nil {
		return &rec, true, nil
	}
	os.Remove(legacy)
	return &rec, true, nil
}

func (s *Store) SaveSession(ctx context.Context, rec *store.SessionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.sessionPath(rec.ID), data)
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := os.Remove(s.sessionPath(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Deleting a session deletes its branches with it.
	os.RemoveAll(s.branchDir(id))
	return nil
}

// --- Notes ---

// sanitizeNoteKey rejects any key that could be used to escape the notes
// directory once encoded; encodeID already makes escape impossible, but an
// empty key is still invalid.
func sanitizeNoteKey(key string) error {
	if key == "" || strings.Contains(key, "\x00") {
		return os.ErrInvalid
	}
	return nil
}

func (s *Store) LoadNote(ctx context.Context, key string) (*store.Note, bool, error) {
	if err := sanitizeNoteKey(key); err != nil {
		return nil, false, err
	}
	var n store.Note
	ok, err := readJSON(s.notePath(key), &n)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return &n, true, nil
	}
	legacy := legacyPath(filepath.Join(s.base, "notes"), key)
	ok, err = readJSON(legacy, &n)
	if err != nil || !ok {
		return nil, false, err
	}
	n.Key = key
	if err := s.SaveNote(ctx, key, n.Content); err == nil {
		os.Remove(legacy)
	}
	return &n, true, nil
}

func (s *Store) SaveNote(ctx context.Context, key, content string) error {
	if err := sanitizeNoteKey(key); err != nil {
		return err
	}
	n := store.Note{Key: key, Content: content, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.notePath(key), data)
}

func (s *Store) DeleteNote(ctx context.Context, key string) error {
	if err := sanitizeNoteKey(key); err != nil {
		return err
	}
	err := os.Remove(s.notePath(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) ListNotesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	dir := filepath.Join(s.base, "notes")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		key, err := decodeID(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// --- Branches ---

func (s *Store) SaveBranch(ctx context.Context, b *store.BranchRecord) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.branchPath(b.SessionID, b.BranchID), data)
}

func (s *Store) LoadBranch(ctx context.Context, sessionID, branchID string) (*store.BranchRecord, bool, error) {
	var b store.BranchRecord
	ok, err := readJSON(s.branchPath(sessionID, branchID), &b)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &b, true, nil
}

func (s *Store) ListBranches(ctx context.Context, sessionID string) ([]*store.BranchRecord, error) {
	dir := s.branchDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*store.BranchRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var b store.BranchRecord
		ok, err := readJSON(filepath.Join(dir, e.Name()), &b)
		if err != nil || !ok {
			continue
		}
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteBranch(ctx context.Context, sessionID, branchID string) error {
	err := os.Remove(s.branchPath(sessionID, branchID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
