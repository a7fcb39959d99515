// Package tools implements the Tool Dispatcher: a registry of named
// capabilities the LLM may invoke, a Before/After hook chain, an optional
// synchronous approval gate, and bounded/cancellable execution.
package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
)

// validToolName restricts tool names to ASCII letters, digits, hyphen, and
// underscore, starting with a letter.
var validToolName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Executor runs a tool synchronously. argsJSON is the raw JSON object text
// the LLM emitted for this call; validating it against ParameterSchema is
// the tool's own responsibility.
type Executor func(ctx context.Context, argsJSON string) *Result

// StreamingExecutor additionally emits chunks as they become available;
// onChunk must not be called after the function returns. The dispatcher
// concatenates chunks to form the final result text.
type StreamingExecutor func(ctx context.Context, argsJSON string, onChunk func(string)) *Result

// ToolRegistration is one tool's full description.
type ToolRegistration struct {
	Name              string
	Description       string
	ParameterSchema   map[string]interface{}
	Optional          bool
	Executor          Executor
	StreamingExecutor StreamingExecutor
}

// Registry holds the set of tools available to an Agent Runtime.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolRegistration
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolRegistration)}
}

// Register adds t to the registry. It panics on an invalid or duplicate
// name; both are programming errors discovered at wiring time, never at
// request time.
func (r *Registry) Register(t ToolRegistration) {
	if !validToolName.MatchString(t.Name) {
		panic(fmt.Sprintf("tools: invalid tool name %q", t.Name))
	}
	if t.Executor == nil && t.StreamingExecutor == nil {
		panic(fmt.Sprintf("tools: tool %q has no executor", t.Name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		panic(fmt.Sprintf("tools: tool %q already registered", t.Name))
	}
	r.tools[t.Name] = t
}

// Get returns the registration for name, if any.
func (r *Registry) Get(name string) (ToolRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, sorted for deterministic
// iteration (e.g. when building a provider tool list).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Subset returns a new Registry containing only the named tools that
// exist, used by delegation to scope a child runtime's tool surface.
func (r *Registry) Subset(names []string) *Registry {
	sub := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			sub.tools[name] = t
		}
	}
	return sub
}

// ProviderDefs builds the {name, description, parameters} tool
// declarations passed to the LLM client, in deterministic (sorted) order.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	names := r.Names()
	defs := make([]providers.ToolDefinition, 0, len(names))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.ParameterSchema,
			},
		})
	}
	return defs
}
