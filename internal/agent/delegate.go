package agent

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/agentcore/internal/idgen"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
)

// DelegationProfile scopes a child Runtime's persona and tool surface for
// one named delegation target.
type DelegationProfile struct {
	Name            string
	SystemPrompt    string
	AllowedTools    []string
	MaxHistoryTurns int
	MaxIterations   int
}

// DelegationConfig configures whether and how deeply delegation may occur.
type DelegationConfig struct {
	Enabled  bool
	MaxDepth int
	Profiles map[string]DelegationProfile
}

type delegateArgs struct {
	Profile string `json:"profile"`
	Task    string `json:"task"`
}

// NewDelegateTool returns the built-in delegate_agent tool for parent,
// constructing a depth-capped child Runtime per call. The child's history
// is ephemeral, keyed
// "delegate:<profile>:<uuid>", and is never flushed beyond the call that
// created it.
func NewDelegateTool(parent *Runtime) tools.ToolRegistration {
	return tools.ToolRegistration{
		Name:        "delegate_agent",
		Description: "Delegates a task to a child agent configured with a named profile's persona and restricted tool set.",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"profile": map[string]interface{}{"type": "string"},
				"task":    map[string]interface{}{"type": "string"},
			},
			"required": []string{"profile", "task"},
		},
		Executor: func(ctx context.Context, argsJSON string) *tools.Result {
			var args delegateArgs
			if err := tools.UnmarshalArgs(argsJSON, &args); err != nil {
				return tools.ErrorResult("invalid arguments: " + err.Error())
			}
			text, err := parent.delegate(ctx, args.Profile, args.Task)
			if err != nil {
				return tools.ErrorResult(err.Error())
			}
			return tools.NewResult(text)
		},
	}
}

// delegate runs one task through a depth-capped child Runtime and returns
// its final text.
func (r *Runtime) delegate(ctx context.Context, profileName, task string) (string, error) {
	cfg := r.Config.Delegation
	if !cfg.Enabled {
		return "", fmt.Errorf("delegation is not enabled")
	}
	if r.currentDepth+1 > cfg.MaxDepth {
		return "", fmt.Errorf("delegation depth limit (%d) reached", cfg.MaxDepth)
	}
	profile, ok := cfg.Profiles[profileName]
	if !ok {
		return "", fmt.Errorf("unknown delegation profile %q", profileName)
	}

	child := r.newChildRuntime(profile)

	senderID := fmt.Sprintf("%s:%s", profileName, idgen.New())
	childSession, err := child.Sessions.GetOrCreate(ctx, "delegate", senderID)
	if err != nil {
		return "", fmt.Errorf("delegate: failed to create child session: %w", err)
	}
	defer child.Sessions.Evict(childSession.ID)

	text, _, err := child.Run(ctx, childSession, task, nil, nil)
	if err != nil {
		return "", err
	}
	return text, nil
}

// newChildRuntime builds a scoped child Runtime sharing the parent's LLM,
// store, and session manager, but with its own tool subset (excluding
// delegate_agent unless further depth remains, preventing cycles) and
// profile-specific persona/iteration cap.
func (r *Runtime) newChildRuntime(profile DelegationProfile) *Runtime {
	allowed := profile.AllowedTools
	if len(allowed) == 0 {
		allowed = r.Dispatcher.Registry.Names()
	}
	childRegistry := r.Dispatcher.Registry.Subset(allowed)

	childDepth := r.currentDepth + 1
	if childDepth >= r.Config.Delegation.MaxDepth {
		// No more depth remains after this child: exclude delegate_agent
		// from its tool subset entirely so it cannot attempt to recurse.
		names := childRegistry.Names()
		filtered := make([]string, 0, len(names))
		for _, n := range names {
			if n != "delegate_agent" {
				filtered = append(filtered, n)
			}
		}
		childRegistry = childRegistry.Subset(filtered)
	}

	childDispatcher := &tools.Dispatcher{
		Registry:    childRegistry,
		Hooks:       r.Dispatcher.Hooks,
		Approval:    r.Dispatcher.Approval,
		OnApprove:   r.Dispatcher.OnApprove,
		ToolTimeout: r.Dispatcher.ToolTimeout,
	}

	childConfig := r.Config
	childConfig.SystemPrompt = profile.SystemPrompt
	if profile.MaxIterations > 0 {
		childConfig.MaxIterations = profile.MaxIterations
	}
	if profile.MaxHistoryTurns > 0 {
		childConfig.MaxHistoryTurns = profile.MaxHistoryTurns
	}

	return &Runtime{
		LLM:          r.LLM,
		Dispatcher:   childDispatcher,
		Sessions:     r.Sessions,
		Store:        r.Store,
		Config:       childConfig,
		currentDepth: childDepth,
	}
}
