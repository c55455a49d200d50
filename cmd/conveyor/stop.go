package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mood-agency/funny-sub004/internal/signals"
)

var stopCmd = &cobra.Command{
	Use:   "stop <request-id>",
	Short: "Request a running pipeline to stop",
	Long: `Stop drops a signal file that the process owning the pipeline picks
up and acts on. The agent session is interrupted, the pipeline settles
as stopped, and its branch is released for resubmission.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		path, err := signals.Request(filepath.Join(repoPath, ".conveyor", "signals"), args[0])
		if err != nil {
			return fmt.Errorf("write stop signal: %w", err)
		}
		fmt.Printf("Stop requested for %s\n", args[0])
		fmt.Printf("  Signal file: %s\n", path)
		return nil
	},
}
