package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/resilience"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/store"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// maxIterationsMessage is returned verbatim when the loop hits its
// iteration cap with tool calls still pending.
const maxIterationsMessage = "I've reached the maximum number of tool iterations for this request."

// RunStats is returned alongside the final text so callers (the pipeline,
// delegation) can observe cost without reaching into the session directly.
type RunStats struct {
	Iterations int
	Usage      providers.Usage
}

// LLM is the capability set the runtime drives; resilience.Client
// satisfies it, and so does any bare providers.Provider in tests.
type LLM interface {
	Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error)
	ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error)
}

var _ LLM = (*resilience.Client)(nil)

// NotesRecall configures the prelude's optional recalled-notes injection.
type NotesRecall struct {
	Enabled  bool
	MaxNotes int
	MaxChars int
	Prefix   string
}

// CompactionConfig configures synchronous history compaction.
type CompactionConfig struct {
	Enabled     bool
	Threshold   int
	KeepRecent  int
}

// Config tunes one Runtime instance.
type Config struct {
	SystemPrompt          string
	Model                 string
	MaxIterations         int
	MaxHistoryTurns       int
	Temperature           float64
	MaxTokens             int
	ParallelToolExecution bool
	Notes                 NotesRecall
	Compaction            CompactionConfig

	// Delegation scopes this runtime as a potential delegate_agent target.
	Delegation DelegationConfig
}

// Runtime drives the think-act-observe loop for one logical agent
// configuration over an injected LLM, dispatcher, and store.
type Runtime struct {
	LLM        LLM
	Dispatcher *tools.Dispatcher
	Sessions   *sessions.Manager
	Store      store.Store
	Config     Config

	// currentDepth is this runtime's delegation depth; zero for a
	// top-level runtime. Set by newChildRuntime.
	currentDepth int
}

// Run executes one user turn to completion and returns the final
// assistant text. It acquires exclusive ownership of session for the
// duration of the turn.
func (r *Runtime) Run(ctx context.Context, session *sessions.Session, userText string, approve tools.ApprovalCallback, responseSchema map[string]interface{}) (string, RunStats, error) {
	handle, err := r.Sessions.Acquire(ctx, session.ID)
	if err != nil {
		return "", RunStats{}, &RunError{Kind: ErrorCancellation, Message: "turn canceled while waiting for session", Err: err}
	}
	defer handle.Release()

	if err := r.maybeCompact(ctx, handle, session); err != nil {
		slog.Warn("agent: compaction failed", "session", session.ID, "error", err)
	}

	messages, err := r.prelude(ctx, session, userText)
	if err != nil {
		return "", RunStats{}, err
	}

	cc := tools.CallContext{SessionID: session.ID, ChannelID: session.ChannelID, SenderID: session.SenderID, Approve: approve}
	text, stats, err := r.loop(ctx, session, messages, cc, responseSchema, nil)
	return text, stats, err
}

// RunStreaming executes one user turn, emitting StreamEvents as they
// occur. The event sequence always ends with exactly one EventAssistantDone.
func (r *Runtime) RunStreaming(ctx context.Context, session *sessions.Session, userText string, approve tools.ApprovalCallback, responseSchema map[string]interface{}, emit func(protocol.StreamEvent)) (RunStats, error) {
	handle, err := r.Sessions.Acquire(ctx, session.ID)
	if err != nil {
		return RunStats{}, &RunError{Kind: ErrorCancellation, Message: "turn canceled while waiting for session", Err: err}
	}
	defer handle.Release()

	if err := r.maybeCompact(ctx, handle, session); err != nil {
		slog.Warn("agent: compaction failed", "session", session.ID, "error", err)
	}

	messages, err := r.prelude(ctx, session, userText)
	if err != nil {
		emit(protocol.StreamEvent{Type: protocol.EventError, Content: err.Error()})
		emit(protocol.StreamEvent{Type: protocol.EventAssistantDone})
		return RunStats{}, err
	}

	cc := tools.CallContext{SessionID: session.ID, ChannelID: session.ChannelID, SenderID: session.SenderID, Approve: approve, IsStreaming: true}
	_, stats, err := r.loop(ctx, session, messages, cc, responseSchema, emit)
	if err != nil {
		emit(protocol.StreamEvent{Type: protocol.EventError, Content: err.Error()})
	}
	emit(protocol.StreamEvent{Type: protocol.EventAssistantDone})
	return stats, err
}

// prelude appends the user turn to history and builds the message list
// the loop will send, optionally injecting a transient system turn with
// recalled notes (never persisted to history).
func (r *Runtime) prelude(ctx context.Context, session *sessions.Session, userText string) ([]providers.Message, error) {
	session.AppendTurn(store.ChatTurn{Role: "user", Content: userText, Timestamp: time.Now().UTC()})

	history := session.History()
	if n := r.Config.MaxHistoryTurns; n > 0 && len(history) > n {
		// Persisted history is untouched; only the request window shrinks.
		history = history[len(history)-n:]
	}
	messages := make([]providers.Message, 0, len(history)+2)
	if r.Config.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: r.Config.SystemPrompt})
	}
	if note := r.recalledNotesTurn(ctx, userText); note != "" {
		messages = append(messages, providers.Message{Role: "system", Content: note})
	}
	for _, t := range history {
		messages = append(messages, turnToMessage(t))
	}
	return messages, nil
}

func (r *Runtime) recalledNotesTurn(ctx context.Context, userText string) string {
	cfg := r.Config.Notes
	if !cfg.Enabled || r.Store == nil {
		return ""
	}
	searcher, ok := r.Store.(store.NoteSearcher)
	if !ok {
		return ""
	}
	limit := cfg.MaxNotes
	if limit <= 0 {
		limit = 5
	}
	notes, err := searcher.SearchNotes(ctx, userText, cfg.Prefix, limit)
	if err != nil || len(notes) == 0 {
		return ""
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 2000
	}
	var b strings.Builder
	b.WriteString("Relevant recalled notes:\n")
	for _, n := range notes {
		line := fmt.Sprintf("- %s: %s\n", n.Key, n.Content)
		if b.Len()+len(line) > maxChars {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

func turnToMessage(t store.ChatTurn) providers.Message {
	msg := providers.Message{
		Role:       t.Role,
		Content:    t.Content,
		ToolCallID: t.ToolCallID,
	}
	if len(t.ToolCalls) > 0 {
		msg.ToolCalls = make([]providers.ToolCall, len(t.ToolCalls))
		for i, tc := range t.ToolCalls {
			msg.ToolCalls[i] = providers.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}
	}
	return msg
}

func toStoreToolCalls(calls []providers.ToolCall) []store.ToolCallRecord {
	if len(calls) == 0 {
		return nil
	}
	out := make([]store.ToolCallRecord, len(calls))
	for i, tc := range calls {
		out[i] = store.ToolCallRecord{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	return out
}

// loop runs the iteration cap'd think-act-observe cycle. emit is nil for
// non-streaming runs.
func (r *Runtime) loop(ctx context.Context, session *sessions.Session, messages []providers.Message, cc tools.CallContext, responseSchema map[string]interface{}, emit func(protocol.StreamEvent)) (string, RunStats, error) {
	maxIterations := r.Config.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	var stats RunStats
	var toolDefs []providers.ToolDefinition
	if r.Dispatcher != nil && r.Dispatcher.Registry != nil {
		toolDefs = r.Dispatcher.Registry.ProviderDefs()
	}

	for stats.Iterations < maxIterations {
		stats.Iterations++

		req := providers.ChatRequest{
			Messages: messages,
			Tools:    toolDefs,
			Model:    r.Config.Model,
			Options:  map[string]interface{}{},
		}
		if r.Config.MaxTokens > 0 {
			req.Options[providers.OptMaxTokens] = r.Config.MaxTokens
		}
		if r.Config.Temperature > 0 {
			req.Options[providers.OptTemperature] = r.Config.Temperature
		}
		if responseSchema != nil {
			req.Options[providers.OptResponseSchema] = responseSchema
		}

		resp, err := r.callLLM(ctx, req, emit)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return "", stats, &RunError{Kind: ErrorCancellation, Message: "turn canceled", Err: err}
			}
			return "", stats, classifyLLMError(err)
		}
		usage := resp.Usage
		if usage == nil {
			usage = estimateUsage(messages, resp)
		}
		stats.Usage.PromptTokens += usage.PromptTokens
		stats.Usage.CompletionTokens += usage.CompletionTokens
		stats.Usage.TotalTokens += usage.TotalTokens
		session.AccumulateTokens(int64(usage.PromptTokens), int64(usage.CompletionTokens))

		if len(resp.ToolCalls) == 0 {
			// Streaming turns already delivered this text incrementally
			// through ChatStream's onChunk; emitting resp.Content again here
			// would duplicate the whole reply.
			session.AppendTurn(store.ChatTurn{Role: "assistant", Content: resp.Content, Timestamp: time.Now().UTC()})
			return resp.Content, stats, nil
		}

		session.AppendTurn(store.ChatTurn{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: toStoreToolCalls(resp.ToolCalls),
			Timestamp: time.Now().UTC(),
		})
		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		toolMessages := r.executeToolCalls(ctx, resp.ToolCalls, cc, emit)
		for _, tm := range toolMessages {
			messages = append(messages, tm)
			session.AppendTurn(store.ChatTurn{Role: "tool", Content: tm.Content, ToolCallID: tm.ToolCallID, Timestamp: time.Now().UTC()})
		}
	}

	session.AppendTurn(store.ChatTurn{Role: "assistant", Content: maxIterationsMessage, Timestamp: time.Now().UTC()})
	if emit != nil {
		emit(protocol.StreamEvent{Type: protocol.EventAssistantChunk, Content: maxIterationsMessage})
	}
	return maxIterationsMessage, stats, nil
}

func (r *Runtime) callLLM(ctx context.Context, req providers.ChatRequest, emit func(protocol.StreamEvent)) (*providers.ChatResponse, error) {
	if emit == nil {
		return r.LLM.Chat(ctx, req)
	}
	return r.LLM.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
		if chunk.Content != "" {
			emit(protocol.StreamEvent{Type: protocol.EventAssistantChunk, Content: chunk.Content})
		}
	})
}

// executeToolCalls runs calls sequentially or in parallel per
// r.Config.ParallelToolExecution, always returning results ordered to
// match the original call order regardless of completion order. A failed
// call never cancels its siblings.
func (r *Runtime) executeToolCalls(ctx context.Context, calls []providers.ToolCall, cc tools.CallContext, emit func(protocol.StreamEvent)) []providers.Message {
	if len(calls) == 1 || !r.Config.ParallelToolExecution {
		out := make([]providers.Message, 0, len(calls))
		for _, tc := range calls {
			out = append(out, r.dispatchOne(ctx, tc, cc, emit))
		}
		return out
	}

	type indexedMsg struct {
		idx int
		msg providers.Message
	}

	resultCh := make(chan indexedMsg, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			resultCh <- indexedMsg{idx: idx, msg: r.dispatchOne(ctx, tc, cc, emit)}
		}(i, tc)
	}
	go func() { wg.Wait(); close(resultCh) }()

	collected := make([]indexedMsg, 0, len(calls))
	for m := range resultCh {
		collected = append(collected, m)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	out := make([]providers.Message, len(collected))
	for i, m := range collected {
		out[i] = m.msg
	}
	return out
}

func (r *Runtime) dispatchOne(ctx context.Context, tc providers.ToolCall, cc tools.CallContext, emit func(protocol.StreamEvent)) providers.Message {
	if emit != nil {
		emit(protocol.StreamEvent{Type: protocol.EventToolStart, ToolName: tc.Name})
		cc.OnChunk = func(chunk string) {
			emit(protocol.StreamEvent{Type: protocol.EventToolChunk, ToolName: tc.Name, Content: chunk})
		}
	}
	argsJSON, _ := json.Marshal(tc.Arguments)
	result := r.Dispatcher.Dispatch(ctx, tc.Name, string(argsJSON), cc)
	if emit != nil {
		emit(protocol.StreamEvent{Type: protocol.EventToolResult, ToolName: tc.Name, Content: result.ForLLM})
	}
	return providers.Message{Role: "tool", Content: result.ForLLM, ToolCallID: tc.ID}
}

// estimateUsage approximates token counts at roughly four characters per
// token, used when the provider reports no usage (notably mid-stream).
// Budget counters treat the result as a monotonic lower-bound estimate.
func estimateUsage(messages []providers.Message, resp *providers.ChatResponse) *providers.Usage {
	var inChars int
	for _, m := range messages {
		inChars += len(m.Content)
	}
	u := &providers.Usage{
		PromptTokens:     inChars / 4,
		CompletionTokens: len(resp.Content) / 4,
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func classifyLLMError(err error) *RunError {
	var circuitErr *resilience.CircuitOpenError
	if errors.As(err, &circuitErr) {
		return &RunError{Kind: ErrorCircuitOpen, Message: "service temporarily unavailable", RetryAfter: circuitErr.RetryAfter.Seconds(), Err: err}
	}
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 401 || httpErr.Status == 403:
			return &RunError{Kind: ErrorAuth, Message: "authentication failed", Err: err}
		case httpErr.Status == 429:
			return &RunError{Kind: ErrorThrottling, Message: "rate limited", Err: err}
		case httpErr.Status >= 500:
			return &RunError{Kind: ErrorTransport, Message: "provider error", Err: err}
		default:
			return &RunError{Kind: ErrorClient, Message: "request rejected by provider", Err: err}
		}
	}
	return &RunError{Kind: ErrorInternal, Message: "internal error", Err: err}
}
