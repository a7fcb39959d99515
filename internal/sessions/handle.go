package sessions

import (
	"context"
)

// Handle represents exclusive ownership of a session for the duration of one
// turn. It must be released exactly once.
type Handle struct {
	key string
	mgr *Manager
	ch  chan struct{}
}

// Acquire blocks until the caller holds exclusive access to key's session,
// or ctx is done. Only one Handle on a given key may be outstanding at a
// time; a second Run/CompactHistory on the same session always waits
// behind the first, per the concurrency model's single-writer rule.
func (m *Manager) Acquire(ctx context.Context, key string) (*Handle, error) {
	lockVal, _ := m.turnLocks.LoadOrStore(key, make(chan struct{}, 1))
	ch := lockVal.(chan struct{})

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		s.setState(StateActive)
	}
	m.mu.Unlock()

	return &Handle{key: key, mgr: m, ch: ch}, nil
}

// Release returns the session to idle and allows the next Acquire to
// proceed. Safe to call at most once per Handle.
func (h *Handle) Release() {
	h.mgr.mu.Lock()
	if s, ok := h.mgr.sessions[h.key]; ok {
		s.setState(StateIdle)
	}
	h.mgr.mu.Unlock()
	<-h.ch
}

// MarkCompacting flags the session so a concurrent Acquire attempt (there
// shouldn't be one, since compaction itself runs under a Handle) and
// diagnostics can tell the two states apart. Release restores the state
// to idle regardless of whether MarkCompacting was called.
func (h *Handle) MarkCompacting() {
	h.mgr.mu.Lock()
	if s, ok := h.mgr.sessions[h.key]; ok {
		s.setState(StateCompacting)
	}
	h.mgr.mu.Unlock()
}
