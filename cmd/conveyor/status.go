package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/dlq"
	"github.com/mood-agency/funny-sub004/internal/idempotency"
	"github.com/mood-agency/funny-sub004/internal/manifest"
	"github.com/mood-agency/funny-sub004/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline and integration state",
	Long: `Display the current state of conveyor for this repository.

Shows:
  - The integration queue: ready, pending merge, and merged branches
  - Branches with an active pipeline
  - Resilience policy and the dead-letter backlog
  - Recent run history`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := os.Stat(filepath.Join(repoPath, ".conveyor")); os.IsNotExist(err) {
		fmt.Println("Nothing tracked yet. Run 'conveyor run' to start a pipeline.")
		return nil
	}

	if err := displayManifest(repoPath, cfg); err != nil {
		return err
	}
	displayActive(repoPath)
	displayResilience(repoPath, cfg)
	return displayRuns(repoPath)
}

func displayManifest(repoPath string, cfg *config.Config) error {
	mngr := manifest.NewManager(filepath.Join(repoPath, ".conveyor", "manifest.json"), cfg.Branch.Main)
	m, err := mngr.Snapshot()
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	head := ""
	if m.MainHead != "" {
		head = " @ " + shortSHA(m.MainHead)
	}
	fmt.Printf("Integration queue (base %s%s)\n", m.MainBranch, head)

	if len(m.Ready) == 0 {
		fmt.Println("  Ready: none")
	} else {
		fmt.Printf("  Ready: %d\n", len(m.Ready))
		for _, e := range m.Ready {
			attrs := []string{fmt.Sprintf("tier %s", e.Tier)}
			if e.Priority != 0 {
				attrs = append(attrs, fmt.Sprintf("priority %d", e.Priority))
			}
			if len(e.DependsOn) > 0 {
				attrs = append(attrs, "after "+strings.Join(e.DependsOn, ", "))
			}
			fmt.Printf("    %s (%s) queued %s ago\n",
				e.Branch, strings.Join(attrs, ", "), formatDuration(time.Since(e.ReadyAt)))
		}
	}

	if len(m.PendingMerge) == 0 {
		fmt.Println("  Pending merge: none")
	} else {
		fmt.Printf("  Pending merge: %d\n", len(m.PendingMerge))
		for _, e := range m.PendingMerge {
			fmt.Printf("    %s PR #%d (base %s) %s\n",
				e.Branch, e.PRNumber, shortSHA(e.BaseMainSHA), e.PRURL)
		}
	}

	if len(m.MergeHistory) > 0 {
		fmt.Printf("  Merged: %d\n", len(m.MergeHistory))
		start := len(m.MergeHistory) - 3
		if start < 0 {
			start = 0
		}
		for _, e := range m.MergeHistory[start:] {
			sha := e.CommitSHA
			if sha == "" {
				sha = "unknown commit"
			} else {
				sha = shortSHA(sha)
			}
			fmt.Printf("    %s merged as %s, %s ago\n",
				e.Branch, sha, formatDuration(time.Since(e.MergedAt)))
		}
	}
	return nil
}

func displayActive(repoPath string) {
	guard := idempotency.New(filepath.Join(repoPath, ".conveyor", "active-pipelines.json"), 0)
	if err := guard.Load(); err != nil {
		fmt.Printf("\nActive pipelines: unreadable (%v)\n", err)
		return
	}
	active := guard.Active()
	if len(active) == 0 {
		fmt.Println("\nActive pipelines: none")
		return
	}

	branches := make([]string, 0, len(active))
	for b := range active {
		branches = append(branches, b)
	}
	sort.Strings(branches)

	fmt.Printf("\nActive pipelines: %d\n", len(active))
	for _, b := range branches {
		fmt.Printf("  %s (request %s)\n", b, active[b])
	}
}

// displayResilience reports the breaker policy and the dead-letter
// backlog. Live breaker state belongs to the serving process; what is
// durable here is the policy and the queue on disk.
func displayResilience(repoPath string, cfg *config.Config) {
	cb := cfg.Resilience.CircuitBreaker
	fmt.Println("\nResilience:")
	fmt.Printf("  Agent breaker: trips after %d failures, reset %s\n",
		cb.Agent.FailureThreshold, cb.Agent.ResetTimeout())
	fmt.Printf("  Forge breaker: trips after %d failures, reset %s\n",
		cb.Forge.FailureThreshold, cb.Forge.ResetTimeout())

	if !cfg.Resilience.DLQ.Enabled {
		fmt.Println("  Dead letters: disabled")
		return
	}
	queue := dlq.New(dlq.Options{Path: statePath(repoPath, cfg.Resilience.DLQ.Path)}, nil)
	if depth := queue.Depth(); depth > 0 {
		fmt.Printf("  Dead letters: %s pending\n", color.YellowString("%d", depth))
	} else {
		fmt.Println("  Dead letters: none")
	}
}

func displayRuns(repoPath string) error {
	dbPath := state.DBPath(repoPath)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate run history: %w", err)
	}

	runs, err := db.ListRuns(nil, 8)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Println("\nRecent runs:")
	for _, r := range runs {
		extra := ""
		if r.Corrections > 0 {
			extra = fmt.Sprintf(", %d correction(s)", r.Corrections)
		}
		fmt.Printf("  %s %s: %s (tier %s, started %s ago%s)\n",
			runSymbol(r.Status), r.Branch, r.Status, r.Tier,
			formatDuration(time.Since(r.StartedAt)), extra)
	}
	return nil
}

func runSymbol(s state.RunStatus) string {
	switch s {
	case state.RunApproved:
		return color.GreenString("✓")
	case state.RunFailed, state.RunError:
		return color.RedString("✗")
	case state.RunStopped, state.RunInterrupted:
		return color.YellowString("⚠")
	default:
		return color.CyanString("●")
	}
}

func shortSHA(sha string) string {
	if len(sha) <= 7 {
		return sha
	}
	return sha[:7]
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
