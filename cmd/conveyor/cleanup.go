package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mood-agency/funny-sub004/internal/cleaner"
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/git"
	"github.com/mood-agency/funny-sub004/internal/state"
)

var (
	cleanupForce   bool
	cleanupVerbose bool
	cleanupDryRun  bool
	cleanupRuns    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove leftover worktrees and stale branches",
	Long: `Clean up what interrupted integrations and old pipelines left behind.

This command:
  - Removes integration worktrees under .conveyor/worktrees (sagas
    remove their worktree on the way out, so anything found here is
    crash debris)
  - Force-deletes pipeline and integration branches that are fully
    merged into the base and untouched for cleanup.stale_branch_days
  - Runs git worktree prune

With --runs:
  - Purges finished runs older than 30 days from the history database

Use this after a crash or an interrupted integration.

Examples:
  conveyor cleanup              # Interactive cleanup with confirmation
  conveyor cleanup --force      # Skip confirmation prompt
  conveyor cleanup --dry-run    # Show what would be removed
  conveyor cleanup -v           # Verbose output showing each removal
  conveyor cleanup --runs       # Also purge runs older than 30 days`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each removal")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().BoolVar(&cleanupRuns, "runs", false, "Purge finished runs older than 30 days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	repoPath, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	extraProtected, err := cleaner.LoadProtectedPatterns(config.ProtectedBranchesPath(repoPath))
	if err != nil {
		return fmt.Errorf("load protected branches: %w", err)
	}

	repo := git.NewRunner(repoPath)
	worktreesRoot := filepath.Join(repoPath, ".conveyor", "worktrees")
	clean := cleaner.New(repo, nil, cleaner.Options{
		StaleBranchDays:   cfg.Cleanup.StaleBranchDays,
		Protected:         slices.Concat(cfg.Cleanup.Protected, extraProtected),
		PipelinePrefix:    cfg.Branch.PipelinePrefix,
		IntegrationPrefix: cfg.Branch.IntegrationPrefix,
		WorktreesRoot:     worktreesRoot,
	})

	worktrees, err := listLeftoverWorktrees(worktreesRoot)
	if err != nil {
		return fmt.Errorf("list leftover worktrees: %w", err)
	}

	stale, err := clean.StaleBranches(cfg.Branch.Main)
	if err != nil {
		return fmt.Errorf("list stale branches: %w", err)
	}

	if len(worktrees) == 0 && len(stale) == 0 {
		fmt.Println("No leftover worktrees or stale branches found.")
		if cleanupRuns {
			return cleanupOldRuns(repoPath)
		}
		return nil
	}

	if len(worktrees) > 0 {
		fmt.Printf("Found %d leftover worktree(s):\n", len(worktrees))
		for _, wt := range worktrees {
			fmt.Printf("  - %s\n", wt)
		}
	}
	if len(stale) > 0 {
		fmt.Printf("Found %d stale branch(es) merged into %s:\n", len(stale), cfg.Branch.Main)
		for _, b := range stale {
			fmt.Printf("  - %s\n", b)
		}
	}
	fmt.Println()

	if cleanupDryRun {
		fmt.Println("Dry run mode - nothing was removed.")
	} else if !cleanupForce && !confirm("Remove these? [y/N] ") {
		fmt.Println("Cleanup cancelled.")
	} else {
		removed := removeWorktrees(repo, worktrees)
		deleted, err := clean.SweepStale(cfg.Branch.Main)
		if err != nil {
			return fmt.Errorf("sweep stale branches: %w", err)
		}
		if cleanupVerbose {
			for _, b := range deleted {
				fmt.Printf("Deleted: %s\n", b)
			}
		}
		fmt.Printf("Removed %d worktree(s) and %d branch(es).\n", removed, len(deleted))
	}

	if cleanupRuns {
		return cleanupOldRuns(repoPath)
	}
	return nil
}

// confirm prompts on stdout and reads a yes/no answer from stdin.
func confirm(prompt string) bool {
	fmt.Print(prompt)
	response, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

// listLeftoverWorktrees returns the directories under the provisioned
// worktrees root. A missing root means nothing was ever provisioned.
func listLeftoverWorktrees(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			paths = append(paths, filepath.Join(root, e.Name()))
		}
	}
	return paths, nil
}

// removeWorktrees detaches each worktree from git, falling back to a
// plain directory removal for debris git no longer tracks.
func removeWorktrees(repo *git.ExecRunner, paths []string) int {
	removed := 0
	for _, path := range paths {
		if err := repo.WorktreeRemove(path); err != nil {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				fmt.Printf("Warning: removing %s: %v\n", path, rmErr)
				continue
			}
		}
		if cleanupVerbose {
			fmt.Printf("Removed: %s\n", path)
		}
		removed++
	}
	if len(paths) > 0 {
		if err := repo.WorktreePrune(); err != nil {
			fmt.Printf("Warning: worktree prune: %v\n", err)
		}
	}
	return removed
}

// cleanupOldRuns purges finished runs older than 30 days.
func cleanupOldRuns(repoPath string) error {
	const runMaxAge = 30 * 24 * time.Hour // 30 days

	dbPath := state.DBPath(repoPath)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No run history found - no runs to purge.")
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

	if cleanupDryRun {
		runs, err := db.ListRuns(nil, 0)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		cutoff := time.Now().Add(-runMaxAge)
		count := 0
		for _, r := range runs {
			if r.CompletedAt != nil && r.CompletedAt.Before(cutoff) {
				count++
			}
		}
		fmt.Printf("Dry run: would purge %d run(s) older than 30 days.\n", count)
		return nil
	}

	purged, err := db.PurgeOldRuns(runMaxAge)
	if err != nil {
		return fmt.Errorf("purge old runs: %w", err)
	}
	if purged > 0 {
		fmt.Printf("Purged %d run(s) older than 30 days.\n", purged)
	} else {
		fmt.Println("No runs older than 30 days found.")
	}
	return nil
}

// findGitRoot finds the root of the git repository starting from the given directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
