package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/store"
)

const summarizationSystemPrompt = "Summarize the conversation so far in a few sentences, preserving any facts, decisions, or commitments that later turns might need."

// maybeCompact replaces the oldest prefix of session's history with one
// synthesized summary turn when enabled and the threshold is met. It runs
// synchronously at the turn boundary, under the already-acquired handle:
// history is never modified mid-turn because compaction and the turn it
// precedes share one exclusive hold.
func (r *Runtime) maybeCompact(ctx context.Context, handle *sessions.Handle, session *sessions.Session) error {
	cfg := r.Config.Compaction
	if !cfg.Enabled {
		return nil
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 40
	}
	keepRecent := cfg.KeepRecent
	if keepRecent <= 0 {
		keepRecent = 10
	}

	history := session.History()
	if len(history) < threshold {
		return nil
	}

	handle.MarkCompacting()

	dropCount := len(history) - keepRecent
	if dropCount <= 0 {
		return nil
	}

	summary, err := r.summarize(ctx, history[:dropCount])
	if err != nil {
		return fmt.Errorf("agent: compaction summarize failed: %w", err)
	}

	session.ReplacePrefix(dropCount, store.ChatTurn{
		Role:      "system",
		Content:   summary,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (r *Runtime) summarize(ctx context.Context, turns []store.ChatTurn) (string, error) {
	messages := make([]providers.Message, 0, len(turns)+1)
	messages = append(messages, providers.Message{Role: "system", Content: summarizationSystemPrompt})
	for _, t := range turns {
		messages = append(messages, turnToMessage(t))
	}

	resp, err := r.LLM.Chat(ctx, providers.ChatRequest{
		Messages: messages,
		Model:    r.Config.Model,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
