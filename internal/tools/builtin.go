package tools

import (
	"context"

	"github.com/nextlevelbuilder/agentcore/internal/store"
)

// echoArgs is the argument shape for the illustrative echo tool.
type echoArgs struct {
	Text string `json:"text"`
}

// NewEchoTool returns a trivial tool used to exercise the dispatch
// pipeline end to end in tests and demos.
func NewEchoTool() ToolRegistration {
	return ToolRegistration{
		Name:        "echo",
		Description: "Echoes the given text back verbatim.",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{"type": "string"},
			},
			"required": []string{"text"},
		},
		Executor: func(ctx context.Context, argsJSON string) *Result {
			var args echoArgs
			if err := UnmarshalArgs(argsJSON, &args); err != nil {
				return ErrorResult("invalid arguments: " + err.Error())
			}
			return NewResult(args.Text)
		},
	}
}

type noteSearchArgs struct {
	Query  string `json:"query"`
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
}

// NewNoteSearchTool exposes store.NoteSearcher as an LLM-callable tool,
// degrading to "no matches" when the configured store doesn't implement
// the optional capability.
func NewNoteSearchTool(st store.Store) ToolRegistration {
	return ToolRegistration{
		Name:        "search_notes",
		Description: "Searches previously saved notes by keyword, optionally scoped to a key prefix.",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query":  map[string]interface{}{"type": "string"},
				"prefix": map[string]interface{}{"type": "string"},
				"limit":  map[string]interface{}{"type": "integer"},
			},
			"required": []string{"query"},
		},
		Executor: func(ctx context.Context, argsJSON string) *Result {
			var args noteSearchArgs
			if err := UnmarshalArgs(argsJSON, &args); err != nil {
				return ErrorResult("invalid arguments: " + err.Error())
			}
			searcher, ok := st.(store.NoteSearcher)
			if !ok {
				return NewResult("no matches (search is not available on this store)")
			}
			notes, err := searcher.SearchNotes(ctx, args.Query, args.Prefix, args.Limit)
			if err != nil {
				return ErrorResult("search failed: " + err.Error())
			}
			if len(notes) == 0 {
				return NewResult("no matches")
			}
			out := ""
			for _, n := range notes {
				out += n.Key + ": " + n.Content + "\n"
			}
			return NewResult(out)
		},
	}
}

type saveNoteArgs struct {
	Key     string `json:"key"`
	Content string `json:"content"`
}

// NewSaveNoteTool lets the LLM persist a durable keyed note through the
// Memory Store.
func NewSaveNoteTool(st store.Store) ToolRegistration {
	return ToolRegistration{
		Name:        "save_note",
		Description: "Saves a durable note under a key for later recall.",
		ParameterSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"key":     map[string]interface{}{"type": "string"},
				"content": map[string]interface{}{"type": "string"},
			},
			"required": []string{"key", "content"},
		},
		Executor: func(ctx context.Context, argsJSON string) *Result {
			var args saveNoteArgs
			if err := UnmarshalArgs(argsJSON, &args); err != nil {
				return ErrorResult("invalid arguments: " + err.Error())
			}
			if err := st.SaveNote(ctx, args.Key, args.Content); err != nil {
				return ErrorResult("save failed: " + err.Error())
			}
			return NewResult("saved")
		},
	}
}
