package sessions

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentcore/internal/store/file"
)

func TestBranchRestore_RoundTripIsIdempotent(t *testing.T) {
	st, err := file.New(t.TempDir())
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	m := NewManager(st, 0)
	ctx := context.Background()

	s, err := m.GetOrCreate(ctx, "chan", "sender")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s.AppendTurn(turn("user", "first message"))
	s.AppendTurn(turn("assistant", "first reply"))

	b, err := m.Branch(ctx, s.ID, "checkpoint-1")
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if len(b.History) != 2 {
		t.Fatalf("branch History length = %d, want 2", len(b.History))
	}

	// Diverge the live session after the branch is taken.
	s.AppendTurn(turn("user", "second message"))
	if got := len(s.History()); got != 3 {
		t.Fatalf("len(History()) after divergence = %d, want 3", got)
	}

	// The branch itself must be unaffected by later mutation.
	branches, err := m.ListBranches(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(branches) != 1 || len(branches[0].History) != 2 {
		t.Fatalf("stored branch was mutated by later session activity: %+v", branches)
	}

	if err := m.RestoreBranch(ctx, s.ID, b.BranchID); err != nil {
		t.Fatalf("RestoreBranch: %v", err)
	}
	if got := len(s.History()); got != 2 {
		t.Fatalf("len(History()) after restore = %d, want 2", got)
	}

	// Restoring the same branch again is idempotent.
	if err := m.RestoreBranch(ctx, s.ID, b.BranchID); err != nil {
		t.Fatalf("second RestoreBranch: %v", err)
	}
	if got := len(s.History()); got != 2 {
		t.Fatalf("len(History()) after second restore = %d, want 2", got)
	}
}

func TestRestoreBranch_UnknownBranchErrors(t *testing.T) {
	st, err := file.New(t.TempDir())
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	m := NewManager(st, 0)
	ctx := context.Background()
	s, _ := m.GetOrCreate(ctx, "chan", "sender")

	if err := m.RestoreBranch(ctx, s.ID, "no-such-branch"); err == nil {
		t.Fatal("expected an error restoring a branch that was never saved")
	}
}

func TestDeleteBranch_RemovesIt(t *testing.T) {
	st, err := file.New(t.TempDir())
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	m := NewManager(st, 0)
	ctx := context.Background()
	s, _ := m.GetOrCreate(ctx, "chan", "sender")
	s.AppendTurn(turn("user", "hi"))

	b, err := m.Branch(ctx, s.ID, "snap")
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if err := m.DeleteBranch(ctx, s.ID, b.BranchID); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
	branches, err := m.ListBranches(ctx, s.ID)
	if err != nil {
		t.Fatalf("ListBranches: %v", err)
	}
	if len(branches) != 0 {
		t.Fatalf("expected 0 branches after delete, got %d", len(branches))
	}
}
