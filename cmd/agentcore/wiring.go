package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/agent"
	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/middleware"
	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/resilience"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/store"
	storefile "github.com/nextlevelbuilder/agentcore/internal/store/file"
	storepg "github.com/nextlevelbuilder/agentcore/internal/store/pg"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
)

const (
	defaultRetryInterval   = 250 * time.Millisecond
	defaultRetryMaxInterval = 10 * time.Second
)

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

func minutesToDuration(m int) time.Duration {
	if m <= 0 {
		return 0
	}
	return time.Duration(m) * time.Minute
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// loadConfig reads cfgFile if set, otherwise returns a config.Config with
// the hand-picked defaults used throughout the demo. Deliberately small -
// a real deployment owns its own config loading and validation.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if cfgFile == "" {
		cfg = config.Config{
			MaxIterations:           10,
			MaxConcurrentSessions:   8,
			SessionTimeoutMinutes:   30,
			GracefulShutdownSeconds: 10,
			LLM: config.LLMConfig{
				Provider:                      "anthropic",
				TimeoutSeconds:                60,
				RetryCount:                    3,
				CircuitBreakerThreshold:       5,
				CircuitBreakerCooldownSeconds: 30,
				Temperature:                   0.7,
				MaxTokens:                     4096,
			},
			Tooling: config.ToolingConfig{
				ParallelToolExecution: true,
				ToolTimeoutSeconds:    30,
			},
			Memory: config.MemoryConfig{
				EnableCompaction:     true,
				CompactionThreshold:  40,
				CompactionKeepRecent: 10,
			},
			SessionRateLimitPerMinute: 20,
		}
		return cfg, nil
	}
	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// buildStore opens either the Postgres Memory Store (when AGENTCORE_PG_DSN
// is set) or the file-backed one rooted at --base-dir.
func buildStore(ctx context.Context) (store.Store, error) {
	if dsn := os.Getenv("AGENTCORE_PG_DSN"); dsn != "" {
		st, err := storepg.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	}
	st, err := storefile.New(baseDir)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}
	return st, nil
}

// buildProvider selects the raw Provider per cfg.LLM.Provider, reading API
// keys from the environment.
func buildProvider(cfg config.Config) (providers.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		model := cfg.LLM.Model
		if model == "" {
			model = "gpt-4o"
		}
		return providers.NewOpenAIProvider("openai", key, "", model), nil
	case "anthropic", "":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		opts := []providers.AnthropicOption{}
		if cfg.LLM.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(cfg.LLM.Model))
		}
		return providers.NewAnthropicProvider(key, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.LLM.Provider)
	}
}

// buildToolsRegistry registers the illustrative builtin tools against st.
func buildToolsRegistry(st store.Store) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.NewEchoTool())
	reg.Register(tools.NewSaveNoteTool(st))
	reg.Register(tools.NewNoteSearchTool(st))
	return reg
}

// buildRuntime assembles one top-level agent.Runtime: resilience-wrapped
// provider, tool dispatcher, session manager, and the agent config derived
// from cfg, composed leaves-first (store -> session manager; resilience ->
// LLM client; hooks+approval -> dispatcher; all of the above -> runtime).
func buildRuntime(cfg config.Config, st store.Store) (*agent.Runtime, *sessions.Manager, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, nil, err
	}

	resilientLLM := resilience.New(provider, resilience.Config{
		Timeout: secondsToDuration(cfg.LLM.TimeoutSeconds),
		Retry: resilience.RetryPolicy{
			MaxAttempts:     cfg.LLM.RetryCount + 1,
			InitialInterval: defaultRetryInterval,
			MaxInterval:     defaultRetryMaxInterval,
			Multiplier:      2.0,
		},
		FailureThreshold: cfg.LLM.CircuitBreakerThreshold,
		Cooldown:         secondsToDuration(cfg.LLM.CircuitBreakerCooldownSeconds),
	})

	registry := buildToolsRegistry(st)
	dispatcher := &tools.Dispatcher{
		Registry: registry,
		Approval: tools.ApprovalPolicy{
			Required: cfg.Tooling.RequireToolApproval,
			Tools:    toSet(cfg.Tooling.ApprovalRequiredTools),
		},
		ToolTimeout: secondsToDuration(cfg.Tooling.ToolTimeoutSeconds),
	}

	sm := sessions.NewManager(st, minutesToDuration(cfg.SessionTimeoutMinutes))

	rt := &agent.Runtime{
		LLM:        resilientLLM,
		Dispatcher: dispatcher,
		Sessions:   sm,
		Store:      st,
		Config: agent.Config{
			SystemPrompt:          "You are a helpful assistant.",
			Model:                 cfg.LLM.Model,
			MaxIterations:         cfg.MaxIterations,
			MaxHistoryTurns:       cfg.MaxHistoryTurns,
			Temperature:           cfg.LLM.Temperature,
			MaxTokens:             cfg.LLM.MaxTokens,
			ParallelToolExecution: cfg.Tooling.ParallelToolExecution,
			Compaction: agent.CompactionConfig{
				Enabled:    cfg.Memory.EnableCompaction,
				Threshold:  cfg.Memory.CompactionThreshold,
				KeepRecent: cfg.Memory.CompactionKeepRecent,
			},
			Delegation: buildDelegationConfig(cfg.Delegation),
		},
	}

	registry.Register(agent.NewDelegateTool(rt))

	return rt, sm, nil
}

func buildDelegationConfig(cfg config.DelegationConfig) agent.DelegationConfig {
	profiles := make(map[string]agent.DelegationProfile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		profiles[name] = agent.DelegationProfile{
			Name:            name,
			SystemPrompt:    p.SystemPrompt,
			AllowedTools:    p.AllowedTools,
			MaxHistoryTurns: p.MaxHistoryTurns,
			MaxIterations:   p.MaxIterations,
		}
	}
	return agent.DelegationConfig{
		Enabled:  cfg.Enabled,
		MaxDepth: cfg.MaxDepth,
		Profiles: profiles,
	}
}

// buildMiddlewareChain assembles the admission-control chain, pulling its
// live session-token lookup from sm so TokenBudget never needs a direct
// sessions.Manager import of its own.
func buildMiddlewareChain(cfg config.Config, sm *sessions.Manager) *middleware.Chain {
	sessionTokens := func(ctx context.Context, channelID, senderID string) int64 {
		s, ok := sm.Get(sessions.ID(channelID, senderID))
		if !ok {
			return 0
		}
		in, out := s.Tokens()
		return in + out
	}

	return middleware.NewChain(
		middleware.NewAudit(),
		middleware.NewRateLimit(middleware.NewRateLimitStore(), cfg.SessionRateLimitPerMinute, "You're sending messages too quickly. Please slow down."),
		middleware.NewTokenBudget(cfg.SessionTokenBudget, sessionTokens, "This conversation has reached its token budget. Start a new session to continue."),
	)
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
