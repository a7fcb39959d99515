package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentcore/internal/channel"
	"github.com/nextlevelbuilder/agentcore/internal/channel/memchannel"
	"github.com/nextlevelbuilder/agentcore/internal/pipeline"
)

// serveCmd runs the Pipeline Worker against an in-memory demo channel
// until interrupted, with signal-driven graceful shutdown on
// SIGINT/SIGTERM.
func serveCmd() *cobra.Command {
	var queueSize int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the pipeline worker against the in-memory demo channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(queueSize)
		},
	}
	cmd.Flags().IntVar(&queueSize, "queue-size", 256, "inbound queue capacity")
	return cmd
}

func runServe(queueSize int) error {
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

	chain := buildMiddlewareChain(cfg, sm)

	worker := pipeline.New(rt, sm, chain, pipeline.Config{
		MaxConcurrentSessions:   cfg.MaxConcurrentSessions,
		GracefulShutdownSeconds: cfg.GracefulShutdownSeconds,
		QueueSize:               queueSize,
	})

	demo := memchannel.New()
	demo.OnMessage(func(ctx context.Context, in channel.Inbound, ack channel.Ack) {
		worker.Submit(pipeline.Job{Channel: demo, In: in, Ack: ack})
	})

	go sm.Run(ctx, 0)

	slog.Info("agentcore: serving", "provider", cfg.LLM.Provider, "maxConcurrentSessions", cfg.MaxConcurrentSessions)
	worker.Run(ctx)
	slog.Info("agentcore: stopped")
	return nil
}
