package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// Branch snapshots id's current history into a new, named BranchRecord and
// persists it through the Memory Store. The copy is deep: later mutation of
// the live session's history can never alter a previously taken branch.
func (m *Manager) Branch(ctx context.Context, id, name string) (*store.BranchRecord, error) {
	s, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("sessions: no such session %q", id)
	}

	b := &store.BranchRecord{
		BranchID:  uuid.NewString(),
		SessionID: id,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		History:   s.History(),
	}

	if m.store == nil {
		return nil, fmt.Errorf("sessions: no store configured, cannot persist branch")
	}
	if err := m.store.SaveBranch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// RestoreBranch replaces id's live history with branchID's captured state.
// The branch record itself is left untouched, so it can be restored again
// or diverged from independently.
func (m *Manager) RestoreBranch(ctx context.Context, id, branchID string) error {
	if m.store == nil {
		return fmt.Errorf("sessions: no store configured, cannot restore branch")
	}
	b, ok, err := m.store.LoadBranch(ctx, id, branchID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sessions: no such branch %q for session %q", branchID, id)
	}

	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("sessions: no such session %q", id)
	}

	history := make([]store.ChatTurn, len(b.History))
	copy(history, b.History)

	s.mu.Lock()
	s.history = history
	s.LastActivityAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

// ListBranches returns all branches captured for id, oldest first.
func (m *Manager) ListBranches(ctx context.Context, id string) ([]*store.BranchRecord, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListBranches(ctx, id)
}

// DeleteBranch removes one captured branch.
func (m *Manager) DeleteBranch(ctx context.Context, id, branchID string) error {
	if m.store == nil {
		return fmt.Errorf("sessions: no store configured, cannot delete branch")
	}
	return m.store.DeleteBranch(ctx, id, branchID)
}
