package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// State tracks what a session is currently doing, so compaction and turn
// execution never interleave: compaction runs only between turns, and a
// compacting session admits no new turns until it finishes.
type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StateCompacting State = "compacting"
	StateClosed     State = "closed"
)

// Session is the live, in-memory conversational state for one
// (channelID, senderID) pair.
type Session struct {
	ID             string
	ChannelID      string
	SenderID       string
	CreatedAt      time.Time
	LastActivityAt time.Time

	mu                sync.RWMutex
	state             State
	history           []store.ChatTurn
	totalInputTokens  int64
	totalOutputTokens int64
	metadata          map[string]string
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns a defensive copy of the turn sequence.
func (s *Session) History() []store.ChatTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ChatTurn, len(s.history))
	copy(out, s.history)
	return out
}

// AppendTurn adds one turn to the end of history; the only mutation
// allowed during an active turn.
func (s *Session) AppendTurn(t store.ChatTurn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	s.history = append(s.history, t)
	s.LastActivityAt = t.Timestamp
	s.mu.Unlock()
}

// ReplacePrefix drops the first n turns and prepends summary in their
// place; the exact replacement compaction performs.
func (s *Session) ReplacePrefix(n int, summary store.ChatTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.history) {
		n = len(s.history)
	}
	rest := make([]store.ChatTurn, len(s.history)-n)
	copy(rest, s.history[n:])
	s.history = append([]store.ChatTurn{summary}, rest...)
}

// AccumulateTokens advances the monotonic token counters. Negative deltas
// are ignored so the totals never decrease.
func (s *Session) AccumulateTokens(input, output int64) {
	if input < 0 || output < 0 {
		return
	}
	s.mu.Lock()
	s.totalInputTokens += input
	s.totalOutputTokens += output
	s.mu.Unlock()
}

func (s *Session) Tokens() (input, output int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalInputTokens, s.totalOutputTokens
}

func (s *Session) SetMetadata(key, value string) {
	s.mu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]string)
	}
	s.metadata[key] = value
	s.mu.Unlock()
}

func (s *Session) Metadata(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata[key]
}

func (s *Session) lastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActivityAt
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) snapshot() *store.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]store.ChatTurn, len(s.history))
	copy(history, s.history)
	meta := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	return &store.SessionRecord{
		ID:                s.ID,
		ChannelID:         s.ChannelID,
		SenderID:          s.SenderID,
		CreatedAt:         s.CreatedAt,
		LastActivityAt:    s.LastActivityAt,
		History:           history,
		TotalInputTokens:  s.totalInputTokens,
		TotalOutputTokens: s.totalOutputTokens,
		Metadata:          meta,
	}
}

func fromRecord(rec *store.SessionRecord) *Session {
	history := make([]store.ChatTurn, len(rec.History))
	copy(history, rec.History)
	meta := make(map[string]string, len(rec.Metadata))
	for k, v := range rec.Metadata {
		meta[k] = v
	}
	return &Session{
		ID:                rec.ID,
		ChannelID:         rec.ChannelID,
		SenderID:          rec.SenderID,
		CreatedAt:         rec.CreatedAt,
		LastActivityAt:    rec.LastActivityAt,
		state:             StateIdle,
		history:           history,
		totalInputTokens:  rec.TotalInputTokens,
		totalOutputTokens: rec.TotalOutputTokens,
		metadata:          meta,
	}
}

// Manager owns the in-memory sessionID -> *Session map, its per-session
// locks, and the idle-eviction sweep.
type Manager struct {
	store         store.Store
	sessionTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	// createGate serializes first-creation per id so concurrent GetOrCreate
	// callers for the same id never race two different *Session values
	// into existence.
	createGate sync.Map // id -> *sync.Mutex

	// turnLocks backs Acquire/Release: one size-1 channel per id acting as
	// a context-aware mutex held for the duration of one turn.
	turnLocks sync.Map // id -> chan struct{}
}

// NewManager creates a Manager. store may be nil for a purely in-memory
// manager (tests); sessionTimeout <= 0 disables idle eviction.
func NewManager(st store.Store, sessionTimeout time.Duration) *Manager {
	return &Manager{
		store:          st,
		sessionTimeout: sessionTimeout,
		sessions:       make(map[string]*Session),
	}
}

// GetOrCreate returns the canonical *Session for (channelID, senderID),
// creating it if absent; first from the Memory Store if a prior snapshot
// exists, otherwise fresh. Concurrent first-callers for the same id are
// serialized through a per-id gate so exactly one Session is ever created.
func (m *Manager) GetOrCreate(ctx context.Context, channelID, senderID string) (*Session, error) {
	id := ID(channelID, senderID)

	m.mu.RLock()
	if s, ok := m.sessions[id]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	gateVal, _ := m.createGate.LoadOrStore(id, &sync.Mutex{})
	gate := gateVal.(*sync.Mutex)
	gate.Lock()
	defer gate.Unlock()

	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	var s *Session
	if m.store != nil {
		if rec, ok, err := m.store.GetSession(ctx, id); err != nil {
			slog.Warn("sessions: load from store failed", "id", id, "error", err)
		} else if ok {
			s = fromRecord(rec)
		}
	}
	if s == nil {
		now := time.Now().UTC()
		s = &Session{
			ID:             id,
			ChannelID:      channelID,
			SenderID:       senderID,
			CreatedAt:      now,
			LastActivityAt: now,
			state:          StateIdle,
		}
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns an already-materialized session without creating one.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ListActive returns every session currently held in memory.
func (m *Manager) ListActive() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// IsActive reports whether id is currently materialized in memory (not
// necessarily mid-turn; see Session.State for that distinction).
func (m *Manager) IsActive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[id]
	return ok
}

// Flush persists a session's current snapshot to the Memory Store. Write
// errors are logged but never abort the caller's turn; the in-memory
// session remains authoritative until the next successful flush.
func (m *Manager) Flush(ctx context.Context, s *Session) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(ctx, s.snapshot()); err != nil {
		slog.Warn("sessions: flush failed", "id", s.ID, "error", err)
	}
}

// Evict removes a session from memory without flushing it (sweepIdle
// flushes before it evicts) and without deleting its persisted record or
// branches. The session object itself is marked
// closed so a caller still holding a reference can tell it is no longer
// the live instance for its id.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.setState(StateClosed)
	}
	delete(m.sessions, id)
	m.mu.Unlock()
	m.turnLocks.Delete(id)
	m.createGate.Delete(id)
}

// Delete removes a session and its branches entirely, in memory and in the
// Memory Store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.Evict(id)
	if m.store == nil {
		return nil
	}
	return m.store.DeleteSession(ctx, id)
}

// Run starts the idle-eviction sweep: every interval, sessions whose
// LastActivityAt is older than sessionTimeout are flushed and evicted. It
// blocks until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.sessionTimeout <= 0 {
		<-ctx.Done()
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepIdle(ctx)
		}
	}
}

func (m *Manager) sweepIdle(ctx context.Context) {
	cutoff := time.Now().Add(-m.sessionTimeout)
	var idle []*Session
	m.mu.RLock()
	for _, s := range m.sessions {
		if s.State() == StateIdle && s.lastActivity().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range idle {
		m.Flush(ctx, s)
		m.Evict(s.ID)
	}
}
