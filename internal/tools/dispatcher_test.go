package tools

import (
	"context"
	"errors"
	"testing"
	"time"
)

func echoRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(ToolRegistration{
		Name:        "echo",
		Description: "echoes its input",
		Executor: func(ctx context.Context, argsJSON string) *Result {
			return NewResult("echoed:" + argsJSON)
		},
	})
	return reg
}

func TestDispatch_UnknownTool(t *testing.T) {
	d := &Dispatcher{Registry: echoRegistry()}
	result := d.Dispatch(context.Background(), "does_not_exist", "{}", CallContext{})
	if !result.IsError {
		t.Fatal("expected IsError for an unknown tool")
	}
}

func TestDispatch_Success(t *testing.T) {
	d := &Dispatcher{Registry: echoRegistry()}
	result := d.Dispatch(context.Background(), "echo", `{"x":1}`, CallContext{})
	if result.IsError {
		t.Fatalf("unexpected error result: %+v", result)
	}
	if result.ForLLM != `echoed:{"x":1}` {
		t.Fatalf("ForLLM = %q, want %q", result.ForLLM, `echoed:{"x":1}`)
	}
}

func TestDispatch_BeforeHookVeto(t *testing.T) {
	d := &Dispatcher{
		Registry: echoRegistry(),
		Hooks: []Hook{
			{Name: "veto-all", Before: func(ctx context.Context, toolName, argsJSON string, cc CallContext) (bool, string) {
				return false, "blocked by policy"
			}},
		},
	}
	result := d.Dispatch(context.Background(), "echo", "{}", CallContext{})
	if !result.IsError {
		t.Fatal("expected IsError when a Before hook vetoes the call")
	}
	if result.ForLLM != "Error: blocked by policy" {
		t.Fatalf("ForLLM = %q, want the hook's veto reason", result.ForLLM)
	}
}

func TestDispatch_AfterHookObservesOutcome(t *testing.T) {
	var sawTool string
	var sawFailed bool
	d := &Dispatcher{
		Registry: echoRegistry(),
		Hooks: []Hook{
			{Name: "observer", After: func(ctx context.Context, toolName string, result *Result, duration time.Duration, failed bool) {
				sawTool = toolName
				sawFailed = failed
			}},
		},
	}
	d.Dispatch(context.Background(), "echo", "{}", CallContext{})
	if sawTool != "echo" {
		t.Fatalf("After hook saw tool %q, want echo", sawTool)
	}
	if sawFailed {
		t.Fatal("After hook reported failed=true for a successful call")
	}
}

func TestDispatch_AfterHookPanicDoesNotPropagate(t *testing.T) {
	d := &Dispatcher{
		Registry: echoRegistry(),
		Hooks: []Hook{
			{Name: "panics", After: func(ctx context.Context, toolName string, result *Result, duration time.Duration, failed bool) {
				panic("boom")
			}},
		},
	}
	result := d.Dispatch(context.Background(), "echo", "{}", CallContext{})
	if result.IsError {
		t.Fatal("a panicking After hook must not affect the tool's own result")
	}
}

func TestDispatch_ApprovalRequiredAndDenied(t *testing.T) {
	d := &Dispatcher{
		Registry: echoRegistry(),
		Approval: ApprovalPolicy{Required: true},
	}
	calledWith := ""
	cc := CallContext{Approve: func(ctx context.Context, info ToolCallInfo) (bool, error) {
		calledWith = info.ToolName
		return false, nil
	}}
	result := d.Dispatch(context.Background(), "echo", "{}", cc)
	if !result.IsError {
		t.Fatal("expected IsError when approval is denied")
	}
	if calledWith != "echo" {
		t.Fatalf("approval callback invoked with %q, want echo", calledWith)
	}
}

func TestDispatch_ApprovalRequiredNoCallbackConfigured(t *testing.T) {
	d := &Dispatcher{
		Registry: echoRegistry(),
		Approval: ApprovalPolicy{Required: true},
	}
	result := d.Dispatch(context.Background(), "echo", "{}", CallContext{})
	if !result.IsError {
		t.Fatal("expected IsError: approval required but no callback is configured anywhere")
	}
}

func TestDispatch_ApprovalScopedToSpecificTools(t *testing.T) {
	reg := echoRegistry()
	reg.Register(ToolRegistration{
		Name: "unscoped",
		Executor: func(ctx context.Context, argsJSON string) *Result {
			return NewResult("ok")
		},
	})
	d := &Dispatcher{
		Registry: reg,
		Approval: ApprovalPolicy{Required: true, Tools: map[string]bool{"echo": true}},
	}
	result := d.Dispatch(context.Background(), "unscoped", "{}", CallContext{})
	if result.IsError {
		t.Fatalf("unscoped tool should run without approval, got error: %+v", result)
	}
}

func TestDispatch_ToolTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolRegistration{
		Name: "slow",
		Executor: func(ctx context.Context, argsJSON string) *Result {
			select {
			case <-ctx.Done():
				return ErrorResult("canceled: " + ctx.Err().Error())
			case <-time.After(time.Second):
				return NewResult("too slow")
			}
		},
	})
	d := &Dispatcher{Registry: reg, ToolTimeout: 10 * time.Millisecond}
	result := d.Dispatch(context.Background(), "slow", "{}", CallContext{})
	if !result.IsError {
		t.Fatal("expected the tool to observe its context deadline and report an error")
	}
}

func TestDispatch_ExecutorPanicIsRecovered(t *testing.T) {
	reg := NewRegistry()
	reg.Register(ToolRegistration{
		Name: "panics",
		Executor: func(ctx context.Context, argsJSON string) *Result {
			panic(errors.New("boom"))
		},
	})
	d := &Dispatcher{Registry: reg}
	result := d.Dispatch(context.Background(), "panics", "{}", CallContext{})
	if !result.IsError {
		t.Fatal("expected a panicking executor to be converted into an error result")
	}
}
