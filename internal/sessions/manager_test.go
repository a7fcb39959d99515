package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/store"
)

func TestID_ParseID_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		channelID string
		senderID  string
	}{
		{"simple", "discord", "12345"},
		{"empty sender", "telegram", ""},
		{"plain sender without colon", "cli", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := ID(tt.channelID, tt.senderID)
			ch, sender, ok := ParseID(id)
			if !ok {
				t.Fatalf("ParseID(%q) failed", id)
			}
			if ch != tt.channelID || sender != tt.senderID {
				t.Errorf("ParseID(%q) = (%q, %q), want (%q, %q)", id, ch, sender, tt.channelID, tt.senderID)
			}
		})
	}
}

func TestParseID_NoSeparator(t *testing.T) {
	if _, _, ok := ParseID("nosepinhere"); ok {
		t.Fatal("expected ok=false for an id with no separator")
	}
}

// For all concurrent callers of GetOrCreate(c, s), every returned session
// must be the same object instance.
func TestGetOrCreate_CanonicalInstance(t *testing.T) {
	m := NewManager(nil, 0)
	const n = 50

	var wg sync.WaitGroup
	results := make([]*Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s, err := m.GetOrCreate(context.Background(), "chan", "sender")
			if err != nil {
				t.Error(err)
				return
			}
			results[idx] = s
		}(i)
	}
	wg.Wait()

	first := results[0]
	for i, s := range results {
		if s != first {
			t.Fatalf("result[%d] is a different *Session instance than result[0]", i)
		}
	}
}

func TestGetOrCreate_DistinctSessionsForDistinctIDs(t *testing.T) {
	m := NewManager(nil, 0)
	a, _ := m.GetOrCreate(context.Background(), "chan", "a")
	b, _ := m.GetOrCreate(context.Background(), "chan", "b")
	if a == b {
		t.Fatal("expected distinct sessions for distinct sender ids")
	}
}

func TestAcquireRelease_SerializesSameSession(t *testing.T) {
	m := NewManager(nil, 0)
	s, _ := m.GetOrCreate(context.Background(), "chan", "sender")

	h1, err := m.Acquire(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan struct{})
	go func() {
		h2, err := m.Acquire(context.Background(), s.ID)
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		h2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire proceeded while the first handle was still held")
	case <-time.After(50 * time.Millisecond):
	}

	h1.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never proceeded after Release")
	}
}

func TestAcquire_RespectsCancellation(t *testing.T) {
	m := NewManager(nil, 0)
	s, _ := m.GetOrCreate(context.Background(), "chan", "sender")
	h1, _ := m.Acquire(context.Background(), s.ID)
	defer h1.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := m.Acquire(ctx, s.ID)
	if err == nil {
		t.Fatal("expected Acquire to fail once its context was canceled")
	}
}

func TestAppendTurn_MonotonicHistory(t *testing.T) {
	m := NewManager(nil, 0)
	s, _ := m.GetOrCreate(context.Background(), "chan", "sender")

	for i := 0; i < 3; i++ {
		s.AppendTurn(turn("user", "hi"))
	}
	if got := len(s.History()); got != 3 {
		t.Fatalf("len(History()) = %d, want 3", got)
	}
}

func TestAccumulateTokens_MonotonicNonDecreasing(t *testing.T) {
	m := NewManager(nil, 0)
	s, _ := m.GetOrCreate(context.Background(), "chan", "sender")

	s.AccumulateTokens(10, 5)
	s.AccumulateTokens(3, 2)
	in, out := s.Tokens()
	if in != 13 || out != 7 {
		t.Fatalf("Tokens() = (%d, %d), want (13, 7)", in, out)
	}

	// Negative deltas must never decrease the counters.
	s.AccumulateTokens(-100, -100)
	in, out = s.Tokens()
	if in != 13 || out != 7 {
		t.Fatalf("Tokens() after negative delta = (%d, %d), want unchanged (13, 7)", in, out)
	}
}

func TestEvict_RemovesFromActiveList(t *testing.T) {
	m := NewManager(nil, 0)
	s, _ := m.GetOrCreate(context.Background(), "chan", "sender")
	if !m.IsActive(s.ID) {
		t.Fatal("expected session to be active after creation")
	}
	m.Evict(s.ID)
	if m.IsActive(s.ID) {
		t.Fatal("expected session to be inactive after eviction")
	}
	if got := s.State(); got != StateClosed {
		t.Fatalf("State() after eviction = %s, want closed (stale references must be detectable)", got)
	}
}

func turn(role, content string) store.ChatTurn {
	return store.ChatTurn{Role: role, Content: content, Timestamp: time.Now().UTC()}
}
