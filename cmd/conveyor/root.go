package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckAgentCLI verifies that the 'claude' CLI is available in PATH.
// Returns an error with installation instructions if not found.
func CheckAgentCLI() error {
	_, err := exec.LookPath("claude")
	if err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"Conveyor drives agent sessions through the Claude Code CLI.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code\n\n" +
			"For more information, visit:\n" +
			"  https://docs.anthropic.com/en/docs/claude-code")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "conveyor",
	Short: "Parallel agent pipeline orchestrator",
	Long: `Conveyor runs agent pipelines on isolated branches and carries the
survivors through integration.

Each submitted branch gets a pipeline of agent sessions sized by the
change (small, medium or large), executed in the caller's worktree.
Completed pipelines queue in a durable manifest; the director feeds
them one at a time to the integrator, which rebases onto main, resolves
conflicts with a dedicated agent, and opens the pull request. Merge
notifications retire the branch and clean up behind it.

Core flow:
- conveyor run submits one branch and follows it to its terminal event
- conveyor serve keeps the director, webhooks and retry loops running
- conveyor status shows the manifest, active pipelines and run history`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
