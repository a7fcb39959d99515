package tools

import (
	"context"
	"log/slog"
	"time"
)

// CallContext carries the ambient information Before/After hooks and the
// approval callback receive alongside a tool call.
type CallContext struct {
	SessionID     string
	ChannelID     string
	SenderID      string
	CorrelationID string
	IsStreaming   bool

	// Approve, when set, overrides the Dispatcher's default OnApprove for
	// this call only.
	Approve ApprovalCallback

	// OnChunk, when set on a streaming call, receives each chunk a
	// streaming executor produces as it is produced. The concatenation of
	// all chunks still forms the final result.
	OnChunk func(chunk string)
}

// Hook is a concrete before/after observer-or-veto attached to every tool
// call, run in registration order.
type Hook struct {
	Name string

	// Before may veto execution: returning ok=false skips the tool and
	// records reason as the tool-turn result instead.
	Before func(ctx context.Context, toolName, argsJSON string, cc CallContext) (ok bool, reason string)

	// After observes the outcome; it cannot mutate result. Panics and
	// errors from After are not propagated; a hook is diagnostic, never
	// load-bearing for the call it observes.
	After func(ctx context.Context, toolName string, result *Result, duration time.Duration, failed bool)
}

// runBefore runs hooks in order, stopping at the first veto.
func runBefore(ctx context.Context, hooks []Hook, toolName, argsJSON string, cc CallContext) (ok bool, reason string) {
	for _, h := range hooks {
		if h.Before == nil {
			continue
		}
		if ok, reason := h.Before(ctx, toolName, argsJSON, cc); !ok {
			return false, reason
		}
	}
	return true, ""
}

// runAfter runs every After hook, logging (not propagating) any panic so a
// single misbehaving hook never corrupts the result it's observing.
func runAfter(ctx context.Context, hooks []Hook, toolName string, result *Result, duration time.Duration, failed bool) {
	for _, h := range hooks {
		if h.After == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Warn("tools: after-hook panicked", "hook", h.Name, "tool", toolName, "panic", r)
				}
			}()
			h.After(ctx, toolName, result, duration, failed)
		}()
	}
}
