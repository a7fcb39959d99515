package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// chatCmd runs one interactive REPL session directly against an
// agent.Runtime, bypassing the pipeline queue. "/new" resets the session;
// Ctrl+C exits via signal.NotifyContext.
func chatCmd() *cobra.Command {
	var channelID string
	var stream bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "interactive REPL against one session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(channelID, stream)
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "cli", "channel id for the session")
	cmd.Flags().BoolVar(&stream, "stream", false, "use RunStreaming and print deltas as they arrive")
	return cmd
}

func runChat(channelID string, stream bool) error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := buildStore(ctx)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	rt, sm, err := buildRuntime(cfg, st)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	senderID := uuid.NewString()[:8]
	fmt.Fprintf(os.Stderr, "agentcore interactive chat (session %s:%s)\n", channelID, senderID)
	fmt.Fprintln(os.Stderr, `Type "exit" to quit, "/new" to start a fresh session.`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\ngoodbye")
			return nil
		default:
		}

		fmt.Fprint(os.Stderr, "> ")
		if !scanner.Scan() {
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "exit" || input == "quit":
			return nil
		case input == "/new":
			senderID = uuid.NewString()[:8]
			fmt.Fprintf(os.Stderr, "new session %s:%s\n", channelID, senderID)
			continue
		}

		session, err := sm.GetOrCreate(ctx, channelID, senderID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		if stream {
			_, err = rt.RunStreaming(ctx, session, input, nil, nil, func(ev protocol.StreamEvent) {
				switch ev.Type {
				case protocol.EventAssistantChunk:
					fmt.Print(ev.Content)
				case protocol.EventToolResult:
					fmt.Fprintf(os.Stderr, "\n[tool %s -> %s]\n", ev.ToolName, ev.Content)
				case protocol.EventAssistantDone:
					fmt.Println()
				}
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			continue
		}

		text, _, err := rt.Run(ctx, session, input, nil, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(text)
	}
}
