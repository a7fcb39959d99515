package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Dispatcher resolves a tool call by name and runs it through the
// Before-hook / approval-gate / timeout-bounded-execution / After-hook
// pipeline. One call in, one Result out; callers decide sequential vs
// parallel dispatch (that lives in internal/agent).
type Dispatcher struct {
	Registry *Registry
	Hooks    []Hook
	Approval ApprovalPolicy
	OnApprove ApprovalCallback

	// ToolTimeout bounds a single tool execution. Zero means unlimited.
	ToolTimeout time.Duration
}

// Dispatch resolves and runs one tool call. It never returns an error
// itself; every outcome (unknown tool, hook veto, approval denial, tool
// failure) is represented inside the returned *Result so the loop can
// record it as a tool turn and continue.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName, argsJSON string, cc CallContext) *Result {
	t, ok := d.Registry.Get(toolName)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool %q", toolName))
	}

	if ok, reason := runBefore(ctx, d.Hooks, toolName, argsJSON, cc); !ok {
		if reason == "" {
			reason = "tool call denied by hook"
		}
		return ErrorResult(reason)
	}

	if d.Approval.requiresApproval(toolName) {
		approve := cc.Approve
		if approve == nil {
			approve = d.OnApprove
		}
		if approve == nil {
			return ErrorResult(fmt.Sprintf("tool %q requires approval but no approval callback is configured", toolName))
		}
		approved, err := approve(ctx, ToolCallInfo{ToolName: toolName, ArgsJSON: argsJSON, CallContext: cc})
		if err != nil {
			slog.Warn("tools: approval callback failed", "tool", toolName, "error", err)
			return ErrorResult(fmt.Sprintf("tool %q requires approval", toolName))
		}
		if !approved {
			return ErrorResult(fmt.Sprintf("tool %q was not approved", toolName))
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if d.ToolTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.ToolTimeout)
		defer cancel()
	}

	start := time.Now()
	result := d.execute(callCtx, t, argsJSON, cc)
	duration := time.Since(start)

	runAfter(ctx, d.Hooks, toolName, result, duration, result.IsError)
	return result
}

func (d *Dispatcher) execute(ctx context.Context, t ToolRegistration, argsJSON string, cc CallContext) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tools: executor panicked", "tool", t.Name, "panic", r)
			result = ErrorResult(fmt.Sprintf("tool %q panicked", t.Name))
		}
	}()

	if t.StreamingExecutor != nil && cc.IsStreaming {
		var chunks []byte
		res := t.StreamingExecutor(ctx, argsJSON, func(chunk string) {
			chunks = append(chunks, chunk...)
			if cc.OnChunk != nil {
				cc.OnChunk(chunk)
			}
		})
		if res == nil {
			res = NewResult(string(chunks))
		} else if !res.IsError && len(chunks) > 0 {
			res.ForLLM = string(chunks)
		}
		return res
	}

	if t.Executor == nil {
		return ErrorResult(fmt.Sprintf("tool %q has no synchronous executor", t.Name))
	}
	res := t.Executor(ctx, argsJSON)
	if res == nil {
		res = NewResult("")
	}
	return res
}

// UnmarshalArgs is a small helper for tool executors to decode their raw
// JSON argument string into a typed struct.
func UnmarshalArgs(argsJSON string, out interface{}) error {
	if argsJSON == "" {
		return nil
	}
	return json.Unmarshal([]byte(argsJSON), out)
}
