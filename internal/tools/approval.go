package tools

import "context"

// ToolCallInfo is what an ApprovalCallback is asked to decide on.
type ToolCallInfo struct {
	ToolName string
	ArgsJSON string
	CallContext
}

// ApprovalCallback decides whether a gated tool call may proceed. Absence
// of a callback is treated the same as a deny.
type ApprovalCallback func(ctx context.Context, info ToolCallInfo) (bool, error)

// ApprovalPolicy configures which tools require approval.
type ApprovalPolicy struct {
	Required bool
	// Tools lists tool names that require approval when Required is
	// true, matched against the exact registered name; no alias
	// resolution is performed. An empty set with Required=true means
	// every tool requires approval.
	Tools map[string]bool
}

// requiresApproval reports whether toolName needs a decision under p.
func (p ApprovalPolicy) requiresApproval(toolName string) bool {
	if !p.Required {
		return false
	}
	if len(p.Tools) == 0 {
		return true
	}
	return p.Tools[toolName]
}
