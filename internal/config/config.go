// Package config defines the recognized configuration shape for the
// orchestration core; struct shape only. Loading a config file from disk,
// environment overlay, and hot-reload belong to the embedding application;
// callers populate a Config however they see fit and pass it to the
// packages that consume each section.
package config

// Config is the root configuration for the orchestration core.
type Config struct {
	MaxIterations           int              `json:"maxIterations,omitempty"`           // cap on tool-loop turns per user message (default 10)
	MaxHistoryTurns         int              `json:"maxHistoryTurns,omitempty"`         // history trim target
	MaxConcurrentSessions   int              `json:"maxConcurrentSessions,omitempty"`   // admission control (default 8)
	SessionTimeoutMinutes   int              `json:"sessionTimeoutMinutes,omitempty"`   // idle eviction
	GracefulShutdownSeconds int              `json:"gracefulShutdownSeconds,omitempty"` // shutdown grace (default 10)

	LLM        LLMConfig        `json:"llm"`
	Tooling    ToolingConfig    `json:"tooling"`
	Memory     MemoryConfig     `json:"memory"`
	Delegation DelegationConfig `json:"delegation"`

	SessionTokenBudget        int64 `json:"sessionTokenBudget,omitempty"`        // middleware budget, 0 = disabled
	SessionRateLimitPerMinute int   `json:"sessionRateLimitPerMinute,omitempty"` // middleware budget, 0 = disabled
}

// LLMConfig tunes the provider and the Resilience Layer wrapping it.
type LLMConfig struct {
	Provider                      string  `json:"provider"`                 // "anthropic", "openai"
	Model                         string  `json:"model"`
	TimeoutSeconds                int     `json:"timeoutSeconds,omitempty"`
	RetryCount                    int     `json:"retryCount,omitempty"`
	CircuitBreakerThreshold       int     `json:"circuitBreakerThreshold,omitempty"`
	CircuitBreakerCooldownSeconds int     `json:"circuitBreakerCooldownSeconds,omitempty"`
	Temperature                   float64 `json:"temperature,omitempty"`
	MaxTokens                     int     `json:"maxTokens,omitempty"`
}

// ToolingConfig tunes the Tool Dispatcher's admission policy.
type ToolingConfig struct {
	ParallelToolExecution  bool     `json:"parallelToolExecution,omitempty"`
	RequireToolApproval    bool     `json:"requireToolApproval,omitempty"`
	ApprovalRequiredTools  []string `json:"approvalRequiredTools,omitempty"`
	ToolTimeoutSeconds     int      `json:"toolTimeoutSeconds,omitempty"`
}

// MemoryConfig tunes synchronous history compaction.
type MemoryConfig struct {
	EnableCompaction     bool `json:"enableCompaction,omitempty"`
	CompactionThreshold  int  `json:"compactionThreshold,omitempty"`
	CompactionKeepRecent int  `json:"compactionKeepRecent,omitempty"`
}

// DelegationConfig tunes the delegate_agent built-in tool.
type DelegationConfig struct {
	Enabled  bool                       `json:"enabled,omitempty"`
	MaxDepth int                        `json:"maxDepth,omitempty"`
	Profiles map[string]ProfileSettings `json:"profiles,omitempty"`
}

// ProfileSettings is one named delegation profile.
type ProfileSettings struct {
	SystemPrompt    string   `json:"systemPrompt"`
	AllowedTools    []string `json:"allowedTools,omitempty"`
	MaxHistoryTurns int      `json:"maxHistoryTurns,omitempty"`
	MaxIterations   int      `json:"maxIterations,omitempty"`
}
