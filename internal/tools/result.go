package tools

import (
	"strings"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
)

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`            // content sent to the LLM
	ForUser string `json:"for_user,omitempty"`  // content shown to the user
	Silent  bool   `json:"silent"`              // suppress user message
	IsError bool   `json:"is_error"`            // marks error
	Async   bool   `json:"async"`               // running asynchronously
	Err     error  `json:"-"`                   // internal error (not serialized)

	// Usage holds token usage from tools that make internal LLM calls (e.g. read_image).
	// The agent loop does not read Usage, Provider or Model.
	Usage    *providers.Usage `json:"-"`
	Provider string           `json:"-"` // provider name used by the tool, if any
	Model    string           `json:"-"` // model used by the tool, if any
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func SilentResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM, Silent: true}
}

// ErrorResult marks a failed call. The "Error: " prefix is part of the
// tool contract: the model reacts to it, so it is applied here rather than
// left to each tool author.
func ErrorResult(message string) *Result {
	if !strings.HasPrefix(message, "Error: ") {
		message = "Error: " + message
	}
	return &Result{ForLLM: message, IsError: true}
}

func UserResult(content string) *Result {
	return &Result{ForLLM: content, ForUser: content}
}

func AsyncResult(message string) *Result {
	return &Result{ForLLM: message, Async: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
