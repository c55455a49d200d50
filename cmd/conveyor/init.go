package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize conveyor in this repository",
	Long: `Prepare a repository for conveyor.

This command:
  - Verifies git, gh and the claude CLI are installed
  - Creates the .conveyor state directory
  - Writes a starter .conveyor.yaml you can edit
  - Adds conveyor state paths to .gitignore`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already initialized")
}

func runInit(cmd *cobra.Command, args []string) error {
	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	conveyorDir := filepath.Join(repoPath, ".conveyor")
	if _, err := os.Stat(conveyorDir); err == nil && !initForce {
		return fmt.Errorf("directory already initialized; use --force to reinitialize")
	}

	fmt.Println("Initializing conveyor...")
	fmt.Println()

	if err := checkGitInstalled(); err != nil {
		return err
	}
	printStatus("✓", "git is installed", color.FgGreen)

	if _, err := os.Stat(filepath.Join(repoPath, ".git")); os.IsNotExist(err) {
		return fmt.Errorf("not a git repository; run 'git init' first")
	}
	printStatus("✓", "Git repository found", color.FgGreen)

	if _, err := exec.LookPath("gh"); err != nil {
		printStatus("⚠", "gh CLI not found; pull request creation will fail", color.FgYellow)
	} else {
		printStatus("✓", "gh CLI is installed", color.FgGreen)
	}

	if err := CheckAgentCLI(); err != nil {
		printStatus("⚠", "claude CLI not found; agent sessions will fail to start", color.FgYellow)
	} else {
		printStatus("✓", "claude CLI is installed", color.FgGreen)
	}

	for _, dir := range []string{
		conveyorDir,
		filepath.Join(conveyorDir, "logs"),
		filepath.Join(conveyorDir, "signals"),
		filepath.Join(conveyorDir, "worktrees"),
		filepath.Join(conveyorDir, "dlq"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	printStatus("✓", "Created .conveyor state directory", color.FgGreen)

	created, err := createProjectConfig(repoPath)
	if err != nil {
		return fmt.Errorf("writing project config: %w", err)
	}
	if created {
		printStatus("✓", "Wrote starter .conveyor.yaml", color.FgGreen)
	} else {
		printStatus("✓", ".conveyor.yaml already exists, left unchanged", color.FgGreen)
	}

	if err := updateGitignore(repoPath); err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	printStatus("✓", "Updated .gitignore", color.FgGreen)

	fmt.Printf("\n%s Conveyor initialization complete!\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  1. Review .conveyor.yaml and adjust tiers, branches and webhooks")
	fmt.Println()
	fmt.Println("  2. Run a pipeline:")
	fmt.Println("     conveyor run --branch feature/x --worktree ../feature-x")
	fmt.Println()
	fmt.Println("  3. Keep integration running:")
	fmt.Println("     conveyor serve")
	return nil
}

// checkGitInstalled checks if git is installed
func checkGitInstalled() error {
	_, err := exec.LookPath("git")
	if err != nil {
		return fmt.Errorf("git not found in PATH\n\n" +
			"Conveyor requires git to manage branches and worktrees.\n\n" +
			"Install git with:\n" +
			"  - macOS: brew install git\n" +
			"  - Ubuntu/Debian: sudo apt-get install git\n" +
			"  - Other: https://git-scm.com/downloads")
	}
	return nil
}

// createProjectConfig writes the .conveyor.yaml template unless one exists.
func createProjectConfig(repoPath string) (bool, error) {
	configPath := filepath.Join(repoPath, ".conveyor.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return false, nil
	}

	template := `# Conveyor project configuration.
# This file overrides defaults and ~/.config/conveyor/config.yaml.

# tiers:
#   small:
#     max_files: 5
#     max_lines: 200
#     agents: [implementer, tester]
#   medium:
#     max_files: 20
#     max_lines: 1000
#     agents: [planner, implementer, tester]
#   large:
#     agents: [planner, implementer, reviewer, tester]

# branch:
#   pipeline_prefix: pipeline/
#   integration_prefix: integration/
#   main: main

# director:
#   auto_trigger_delay_ms: 5000
#   schedule_interval_ms: 60000

# cleanup:
#   keep_on_failure: true
#   stale_branch_days: 7
#   protected: [main, master, release/*]

# adapters:
#   webhooks:
#     - url: https://example.com/hooks/conveyor
#       secret: ${WEBHOOK_SECRET}
#       events: [pipeline.*, integration.pr.*]
`

	if err := os.WriteFile(configPath, []byte(template), 0644); err != nil {
		return false, err
	}
	return true, nil
}

// updateGitignore adds conveyor state entries to .gitignore if not present
func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	entries := []string{
		".conveyor/",
		"conveyor",
	}

	needsUpdate := false
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			needsUpdate = true
			break
		}
	}
	if !needsUpdate {
		return nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}

	newContent.WriteString("\n# Conveyor\n")
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			newContent.WriteString(entry + "\n")
		}
	}

	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
