package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/signals"
	"github.com/mood-agency/funny-sub004/pkg/models"
)

var (
	runBranch    string
	runWorktree  string
	runBase      string
	runTier      string
	runPriority  int
	runDependsOn []string
	runRequestID string
	runMetadata  []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one agent pipeline to its terminal state",
	Long: `Run an agent pipeline on a branch and follow it to completion.

The pipeline executes in the worktree you provide: the change there is
classified into a tier (small, medium or large), the tier's agent
roster runs as one Claude session, and failing agents get bounded
self-correction cycles. On completion the branch enters the ready
queue; integration itself is the serve process's business.

The command blocks until the pipeline completes, fails or is stopped,
prints the outcome, and exits non-zero unless the pipeline completed.

Scheduling hints for the director travel as metadata:
  --priority     higher integrates first among ready branches
  --depends-on   branches that must merge before this one integrates`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runBranch, "branch", "", "Source branch the pipeline works on (required)")
	runCmd.Flags().StringVar(&runWorktree, "worktree", "", "Worktree directory the agent session runs in (required)")
	runCmd.Flags().StringVar(&runBase, "base", "", "Integration base branch (default: branch.main from config)")
	runCmd.Flags().StringVar(&runTier, "tier", "", "Force a tier instead of classifying: small, medium, or large")
	runCmd.Flags().IntVar(&runPriority, "priority", 0, "Integration priority (higher merges first)")
	runCmd.Flags().StringSliceVar(&runDependsOn, "depends-on", nil, "Branches that must merge before this one")
	runCmd.Flags().StringVar(&runRequestID, "request-id", "", "Request ID (generated when empty)")
	runCmd.Flags().StringArrayVar(&runMetadata, "metadata", nil, "Extra metadata as key=value (repeatable)")
}

func runPipeline(cmd *cobra.Command, args []string) (retErr error) {
	// Recover from panics and report them
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runPipeline: %v", r)
		}
	}()

	if runBranch == "" {
		return fmt.Errorf("--branch is required")
	}
	if runWorktree == "" {
		return fmt.Errorf("--worktree is required")
	}
	if runTier != "" && !models.Tier(runTier).Valid() {
		return fmt.Errorf("invalid tier %q: must be small, medium, or large", runTier)
	}

	if err := CheckAgentCLI(); err != nil {
		return err
	}

	worktree, err := filepath.Abs(runWorktree)
	if err != nil {
		return fmt.Errorf("resolve worktree path: %w", err)
	}

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The director stays trigger-only here; integration cycles belong
	// to the serve process.
	st, err := buildStack(repoPath, cfg, 0)
	if err != nil {
		return err
	}
	defer st.close()

	req := &models.PipelineRequest{
		RequestID:    runRequestID,
		Branch:       runBranch,
		WorktreePath: worktree,
		BaseBranch:   runBase,
	}
	if runTier != "" {
		req.Config = &models.RequestConfig{Tier: models.Tier(runTier)}
	}
	meta, err := parseMetadata(runMetadata)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("priority") {
		meta["priority"] = runPriority
	}
	if len(runDependsOn) > 0 {
		meta["depends_on"] = runDependsOn
	}
	if len(meta) > 0 {
		req.Metadata = meta
	}

	// Subscribe before submitting so a fast terminal event cannot slip
	// past the wait below.
	done := make(chan bus.Event, 1)
	st.events.OnAll(func(ev bus.Event) {
		if ev.RequestID != req.RequestID {
			return
		}
		printProgress(ev)
		switch ev.Type {
		case bus.EventPipelineCompleted, bus.EventPipelineFailed, bus.EventPipelineStopped:
			select {
			case done <- ev:
			default:
			}
		}
	})

	if err := st.orch.Submit(context.Background(), req); err != nil {
		return err
	}

	// Watch for stop files so 'conveyor stop <request-id>' can reach
	// this process.
	watcher, err := signals.New(filepath.Join(repoPath, ".conveyor", "signals"), st.orch.StopSignal)
	if err != nil {
		fmt.Printf("Warning: stop-signal watcher unavailable: %v\n", err)
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	// Handle signals: first interrupt stops the pipeline gracefully,
	// the terminal stopped event then unblocks the wait.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, stopping pipeline...")
		st.orch.StopSignal(req.RequestID)
	}()

	fmt.Printf("Submitted pipeline %s\n", req.RequestID)
	fmt.Printf("  Branch: %s\n", req.Branch)
	fmt.Printf("  Worktree: %s\n", worktree)
	fmt.Println()

	ev := <-done
	st.orch.Wait()

	return reportOutcome(ev)
}

// parseMetadata turns repeated key=value flags into a metadata map.
func parseMetadata(pairs []string) (map[string]any, error) {
	meta := make(map[string]any)
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid --metadata %q: want key=value", pair)
		}
		meta[parts[0]] = parts[1]
	}
	return meta, nil
}

// printProgress narrates pipeline lifecycle events on stdout. Raw CLI
// stream messages are skipped; they are journaled, not narrated.
func printProgress(ev bus.Event) {
	d := ev.Data
	switch ev.Type {
	case bus.EventPipelineAccepted:
		fmt.Printf("Pipeline accepted on %s\n", dataStr(d, "branch"))
	case bus.EventPipelineTierClassified:
		fmt.Printf("Tier: %s (%v files, %v lines changed)\n",
			dataStr(d, "tier"), d["files_changed"], d["lines_changed"])
	case bus.EventPipelineContainersReady:
		fmt.Printf("Sandbox ready: %s (%s)\n", dataStr(d, "runtime"), dataStr(d, "image"))
	case bus.EventPipelineStarted:
		fmt.Printf("Session started (model %s)\n", dataStr(d, "model"))
	case bus.EventPipelineAgentStarted:
		fmt.Printf("  agent started: %s\n", dataStr(d, "agent_name"))
	case bus.EventPipelineCorrecting:
		fmt.Printf("Correction cycle %v: %s\n", d["correction_number"], dataStr(d, "text"))
	}
}

// reportOutcome prints the terminal event and maps it to the exit status.
func reportOutcome(ev bus.Event) error {
	d := ev.Data
	switch ev.Type {
	case bus.EventPipelineCompleted:
		fmt.Printf("\n%s Pipeline completed on %s\n", color.GreenString("✓"), dataStr(d, "pipeline_branch"))
		if result := dataStr(d, "result"); result != "" {
			fmt.Printf("  Result: %s\n", result)
		}
		fmt.Printf("  Tier: %s\n", dataStr(d, "tier"))
		if cost, ok := d["cost_usd"].(float64); ok && cost > 0 {
			fmt.Printf("  Cost: $%.4f\n", cost)
		}
		fmt.Println("\nThe branch is queued for integration; run 'conveyor serve' to merge it.")
		return nil

	case bus.EventPipelineStopped:
		fmt.Printf("\n%s Pipeline stopped\n", color.YellowString("⚠"))
		return fmt.Errorf("pipeline stopped before completion")

	default:
		fmt.Printf("\n%s Pipeline failed\n", color.RedString("✗"))
		if msg := dataStr(d, "error"); msg != "" {
			return fmt.Errorf("pipeline error: %s", msg)
		}
		if msg := dataStr(d, "errors"); msg != "" {
			return fmt.Errorf("pipeline failed: %s", msg)
		}
		return fmt.Errorf("pipeline failed")
	}
}

func dataStr(d map[string]any, key string) string {
	if d == nil {
		return ""
	}
	s, _ := d[key].(string)
	return s
}
