package agent

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/store"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// fakeLLM is a scripted LLM: each call to Chat pops the next response off
// responses, in order. It never hits the network.
type fakeLLM struct {
	responses []*providers.ChatResponse
	calls     int
}

func (f *fakeLLM) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if f.calls >= len(f.responses) {
		return &providers.ChatResponse{Content: "done", FinishReason: "stop"}, nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	resp, err := f.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	onChunk(providers.StreamChunk{Content: resp.Content, Done: true})
	return resp, nil
}

func newTestRuntime(llm LLM, maxIterations int) (*Runtime, *sessions.Manager) {
	sm := sessions.NewManager(nil, 0)
	reg := tools.NewRegistry()
	reg.Register(tools.ToolRegistration{
		Name:        "echo",
		Description: "echoes its input",
		Executor: func(ctx context.Context, argsJSON string) *tools.Result {
			return tools.NewResult("echo:" + argsJSON)
		},
	})
	rt := &Runtime{
		LLM:        llm,
		Dispatcher: &tools.Dispatcher{Registry: reg},
		Sessions:   sm,
		Config: Config{
			SystemPrompt:  "you are a test agent",
			MaxIterations: maxIterations,
		},
	}
	return rt, sm
}

// A turn with no tool calls returns the assistant's text directly in one
// iteration.
func TestRun_SimpleTurn(t *testing.T) {
	llm := &fakeLLM{responses: []*providers.ChatResponse{
		{Content: "hello there", FinishReason: "stop"},
	}}
	rt, sm := newTestRuntime(llm, 10)
	session, _ := sm.GetOrCreate(context.Background(), "chan", "sender")

	text, stats, err := rt.Run(context.Background(), session, "hi", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text = %q, want %q", text, "hello there")
	}
	if stats.Iterations != 1 {
		t.Fatalf("Iterations = %d, want 1", stats.Iterations)
	}
	if got := len(session.History()); got != 2 {
		t.Fatalf("len(History()) = %d, want 2 (user + assistant)", got)
	}
}

// The LLM asks for one tool call, observes its result, then answers.
func TestRun_ToolCallLoop(t *testing.T) {
	llm := &fakeLLM{responses: []*providers.ChatResponse{
		{
			ToolCalls: []providers.ToolCall{
				{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}},
			},
			FinishReason: "tool_calls",
		},
		{Content: "the tool said something", FinishReason: "stop"},
	}}
	rt, sm := newTestRuntime(llm, 10)
	session, _ := sm.GetOrCreate(context.Background(), "chan", "sender")

	text, stats, err := rt.Run(context.Background(), session, "use the echo tool", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "the tool said something" {
		t.Fatalf("text = %q, want %q", text, "the tool said something")
	}
	if stats.Iterations != 2 {
		t.Fatalf("Iterations = %d, want 2", stats.Iterations)
	}
	if llm.calls != 2 {
		t.Fatalf("llm.calls = %d, want 2", llm.calls)
	}
}

// If the LLM keeps requesting tool calls past MaxIterations, the loop
// stops and returns the canned message instead of looping forever.
func TestRun_IterationCap(t *testing.T) {
	toolCallResp := &providers.ChatResponse{
		ToolCalls: []providers.ToolCall{
			{ID: "call-x", Name: "echo", Arguments: map[string]interface{}{}},
		},
		FinishReason: "tool_calls",
	}
	llm := &fakeLLM{responses: []*providers.ChatResponse{
		toolCallResp, toolCallResp, toolCallResp, toolCallResp, toolCallResp,
	}}
	rt, sm := newTestRuntime(llm, 3)
	session, _ := sm.GetOrCreate(context.Background(), "chan", "sender")

	text, stats, err := rt.Run(context.Background(), session, "loop forever", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != maxIterationsMessage {
		t.Fatalf("text = %q, want the iteration-cap message", text)
	}
	if stats.Iterations != 3 {
		t.Fatalf("Iterations = %d, want 3 (the cap)", stats.Iterations)
	}
}

// Parallel tool dispatch must still report results in original call order
// regardless of completion order.
func TestRun_ParallelToolCallsPreserveOrder(t *testing.T) {
	sm := sessions.NewManager(nil, 0)
	reg := tools.NewRegistry()
	reg.Register(tools.ToolRegistration{
		Name: "slow_a",
		Executor: func(ctx context.Context, argsJSON string) *tools.Result {
			return tools.NewResult("result-a")
		},
	})
	reg.Register(tools.ToolRegistration{
		Name: "fast_b",
		Executor: func(ctx context.Context, argsJSON string) *tools.Result {
			return tools.NewResult("result-b")
		},
	})

	llm := &fakeLLM{responses: []*providers.ChatResponse{
		{
			ToolCalls: []providers.ToolCall{
				{ID: "1", Name: "slow_a"},
				{ID: "2", Name: "fast_b"},
			},
			FinishReason: "tool_calls",
		},
		{Content: "both done", FinishReason: "stop"},
	}}
	rt := &Runtime{
		LLM:        llm,
		Dispatcher: &tools.Dispatcher{Registry: reg},
		Sessions:   sm,
		Config: Config{
			MaxIterations:         10,
			ParallelToolExecution: true,
		},
	}
	session, _ := sm.GetOrCreate(context.Background(), "chan", "sender")

	_, _, err := rt.Run(context.Background(), session, "run both", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history := session.History()
	var toolTurns []string
	for _, turn := range history {
		if turn.Role == "tool" {
			toolTurns = append(toolTurns, turn.Content)
		}
	}
	if len(toolTurns) != 2 {
		t.Fatalf("got %d tool turns, want 2", len(toolTurns))
	}
	if toolTurns[0] != "result-a" || toolTurns[1] != "result-b" {
		t.Fatalf("toolTurns = %v, want [result-a, result-b] (original call order)", toolTurns)
	}
}

// TestRun_SecondTurnAfterToolCallReplaysToolCalls covers the bug the prior
// single-Run tests above couldn't catch: a second Run() on a session whose
// history already contains a tool call must rebuild an assistant message
// that still declares that tool_use, so the corresponding tool result turn
// doesn't reference an undeclared call when replayed to the provider.
func TestRun_SecondTurnAfterToolCallReplaysToolCalls(t *testing.T) {
	llm := &fakeLLM{responses: []*providers.ChatResponse{
		{
			ToolCalls: []providers.ToolCall{
				{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}},
			},
			FinishReason: "tool_calls",
		},
		{Content: "first answer", FinishReason: "stop"},
		{Content: "second answer", FinishReason: "stop"},
	}}
	rt, sm := newTestRuntime(llm, 10)
	session, _ := sm.GetOrCreate(context.Background(), "chan", "sender")

	if _, _, err := rt.Run(context.Background(), session, "use the echo tool", nil, nil); err != nil {
		t.Fatalf("first Run: unexpected error: %v", err)
	}

	text, _, err := rt.Run(context.Background(), session, "anything else?", nil, nil)
	if err != nil {
		t.Fatalf("second Run: unexpected error: %v", err)
	}
	if text != "second answer" {
		t.Fatalf("text = %q, want %q", text, "second answer")
	}

	history := session.History()
	var assistantToolTurn *store.ChatTurn
	for i := range history {
		if history[i].Role == "assistant" && len(history[i].ToolCalls) > 0 {
			assistantToolTurn = &history[i]
			break
		}
	}
	if assistantToolTurn == nil {
		t.Fatal("expected a persisted assistant turn recording the tool call's id/name/arguments")
	}
	if len(assistantToolTurn.ToolCalls) != 1 || assistantToolTurn.ToolCalls[0].ID != "call-1" || assistantToolTurn.ToolCalls[0].Name != "echo" {
		t.Fatalf("assistantToolTurn.ToolCalls = %+v, want one record for call-1/echo", assistantToolTurn.ToolCalls)
	}

	// turnToMessage must reconstruct the same declared tool_use so a
	// rebuilt request never sends a tool_result with a dangling id.
	rebuilt := turnToMessage(*assistantToolTurn)
	if len(rebuilt.ToolCalls) != 1 || rebuilt.ToolCalls[0].ID != "call-1" {
		t.Fatalf("turnToMessage did not reconstruct ToolCalls: %+v", rebuilt.ToolCalls)
	}
}

// A streaming turn's text arrives once, as deltas; the final aggregated
// content must not be re-emitted as an extra chunk before assistant_done.
func TestRunStreaming_DoesNotDuplicateFinalText(t *testing.T) {
	llm := &fakeLLM{responses: []*providers.ChatResponse{
		{Content: "hello there", FinishReason: "stop"},
	}}
	rt, sm := newTestRuntime(llm, 10)
	session, _ := sm.GetOrCreate(context.Background(), "chan", "sender")

	var events []protocol.StreamEvent
	_, err := rt.RunStreaming(context.Background(), session, "hi", nil, nil, func(ev protocol.StreamEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var streamed string
	for _, ev := range events {
		if ev.Type == protocol.EventAssistantChunk {
			streamed += ev.Content
		}
	}
	if streamed != "hello there" {
		t.Fatalf("concatenated chunks = %q, want %q delivered exactly once", streamed, "hello there")
	}
	if last := events[len(events)-1]; last.Type != protocol.EventAssistantDone {
		t.Fatalf("last event = %q, want assistant_done", last.Type)
	}
}

func TestRun_UnknownToolIsRecordedAsError(t *testing.T) {
	llm := &fakeLLM{responses: []*providers.ChatResponse{
		{
			ToolCalls:    []providers.ToolCall{{ID: "1", Name: "does_not_exist"}},
			FinishReason: "tool_calls",
		},
		{Content: "ok", FinishReason: "stop"},
	}}
	rt, sm := newTestRuntime(llm, 10)
	session, _ := sm.GetOrCreate(context.Background(), "chan", "sender")

	_, _, err := rt.Run(context.Background(), session, "call a bad tool", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history := session.History()
	found := false
	for _, turn := range history {
		if turn.Role == "tool" {
			found = true
			if turn.Content == "" {
				t.Fatal("expected a non-empty error message recorded for the unknown tool")
			}
		}
	}
	if !found {
		t.Fatal("expected a tool turn recording the unknown-tool error")
	}
}
