// Command agentcore wires the orchestration core into a runnable demo
// process: a cobra root command with persistent --config/--verbose flags,
// a serve loop, and an interactive chat REPL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

var (
	cfgFile string
	baseDir string
	verbose bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore is an LLM agent orchestration core",
		Long:  "agentcore drives a think-act-observe loop over a pluggable LLM provider, with tool dispatch, resilience, and session persistence.",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON, matches internal/config.Config)")
	root.PersistentFlags().StringVar(&baseDir, "base-dir", "./agentcore-data", "base directory for the file-backed Memory Store")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentcore %s\n", Version)
		},
	}
}
