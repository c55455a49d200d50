// Package git provides an interface for git operations.
package git

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/mood-agency/funny-sub004/pkg/models"
)

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// run executes a git command and returns its output.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return nil
}

// Run executes an arbitrary git command with the given arguments.
// This is the public version of run() for generic git operations.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// CreateBranchFrom creates a new branch at the given start point.
func (r *ExecRunner) CreateBranchFrom(name, startPoint string) error {
	return r.runSilent("branch", name, startPoint)
}

// CheckoutBranch switches to the specified branch.
func (r *ExecRunner) CheckoutBranch(name string) error {
	return r.runSilent("checkout", name)
}

// BranchExists returns true if the local branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means branch doesn't exist (not an error)
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch deletes the specified local branch.
func (r *ExecRunner) DeleteBranch(name string) error {
	return r.runSilent("branch", "-D", name)
}

// DeleteBranchSafe deletes the branch only if its work is merged.
// git refuses with -d when the branch is unmerged or checked out in a
// worktree, which is exactly the guard callers want.
func (r *ExecRunner) DeleteBranchSafe(name string) error {
	return r.runSilent("branch", "-d", name)
}

// ListMergedBranches returns local branches fully merged into base.
// The base branch itself is excluded.
func (r *ExecRunner) ListMergedBranches(base string) ([]string, error) {
	out, err := r.run("branch", "--merged", base, "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || name == base {
			continue
		}
		branches = append(branches, name)
	}
	return branches, nil
}

// LastCommitTime returns the committer date of the branch tip.
func (r *ExecRunner) LastCommitTime(branch string) (time.Time, error) {
	out, err := r.run("log", "-1", "--format=%ct", branch, "--")
	if err != nil {
		return time.Time{}, err
	}
	secs, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit time %q: %w", out, err)
	}
	return time.Unix(secs, 0), nil
}

// RevParse resolves a ref to its commit SHA.
func (r *ExecRunner) RevParse(ref string) (string, error) {
	return r.run("rev-parse", ref)
}

// Status returns the output of git status --porcelain.
func (r *ExecRunner) Status() (string, error) {
	return r.run("status", "--porcelain")
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges() (bool, error) {
	status, err := r.Status()
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// DiffStats returns the file and line counts changed relative to base.
// Binary files count toward files but contribute no line counts.
func (r *ExecRunner) DiffStats(base string) (models.ChangeStats, error) {
	out, err := r.run("diff", "--numstat", base+"...HEAD")
	if err != nil {
		return models.ChangeStats{}, err
	}
	return parseNumstat(out), nil
}

// parseNumstat turns git diff --numstat output into aggregate counts.
func parseNumstat(out string) models.ChangeStats {
	var stats models.ChangeStats
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		stats.FilesChanged++
		if added, err := strconv.Atoi(fields[0]); err == nil {
			stats.LinesChanged += added
		}
		if deleted, err := strconv.Atoi(fields[1]); err == nil {
			stats.LinesChanged += deleted
		}
	}
	return stats
}

// ChangedFiles returns files changed on the current branch relative to base.
func (r *ExecRunner) ChangedFiles(base string) ([]string, error) {
	out, err := r.run("diff", "--name-only", base+"...HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ConflictedFiles returns a list of files with unmerged changes.
func (r *ExecRunner) ConflictedFiles() ([]string, error) {
	out, err := r.run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// HasConflictMarkers reports whether any of the given tracked files still
// contain conflict markers. With no paths the whole worktree is scanned.
func (r *ExecRunner) HasConflictMarkers(paths ...string) (bool, error) {
	args := []string{"grep", "-l", "-e", "^<<<<<<< ", "--"}
	args = append(args, paths...)
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		// Exit code 1 means no matches.
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("scan conflict markers: %w", err)
	}
	return true, nil
}

// Add stages the specified files for commit.
func (r *ExecRunner) Add(paths ...string) error {
	args := append([]string{"add"}, paths...)
	return r.runSilent(args...)
}

// Commit creates a new commit with the given message.
func (r *ExecRunner) Commit(message string) error {
	return r.runSilent("commit", "-m", message)
}

// CommitAll stages everything and commits with the given message.
func (r *ExecRunner) CommitAll(message string) error {
	if err := r.runSilent("add", "-A"); err != nil {
		return err
	}
	return r.Commit(message)
}

// MergeNoFFMessage merges the specified branch with --no-ff and a custom message.
func (r *ExecRunner) MergeNoFFMessage(branch, message string) error {
	return r.runSilent("merge", "--no-ff", "-m", message, branch)
}

// MergeAbort aborts an in-progress merge.
func (r *ExecRunner) MergeAbort() error {
	return r.runSilent("merge", "--abort")
}

// HasConflicts returns true if there are merge conflicts.
func (r *ExecRunner) HasConflicts() (bool, error) {
	status, err := r.Status()
	if err != nil {
		return false, err
	}
	// Check for conflict markers (UU, AA, DD, etc.)
	for _, line := range strings.Split(status, "\n") {
		if len(line) >= 2 {
			prefix := line[:2]
			if prefix == "UU" || prefix == "AA" || prefix == "DD" ||
				prefix == "AU" || prefix == "UA" || prefix == "DU" || prefix == "UD" {
				return true, nil
			}
		}
	}
	return false, nil
}

// Rebase rebases the current branch onto the specified base.
func (r *ExecRunner) Rebase(base string) error {
	return r.runSilent("rebase", base)
}

// RebaseAbort aborts an in-progress rebase.
func (r *ExecRunner) RebaseAbort() error {
	return r.runSilent("rebase", "--abort")
}

// RebaseContinue resumes an interrupted rebase. The editor is suppressed
// so the original commit messages are kept as-is.
func (r *ExecRunner) RebaseContinue() error {
	cmd := exec.Command("git", "rebase", "--continue")
	cmd.Dir = r.repoPath
	cmd.Env = append(os.Environ(), "GIT_EDITOR=true")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git rebase --continue: %w: %s", err, string(out))
	}
	return nil
}

// WorktreeAdd creates a new worktree at the given path for an existing branch.
func (r *ExecRunner) WorktreeAdd(path, branch string) error {
	return r.runSilent("worktree", "add", path, branch)
}

// WorktreeAddNewBranch creates a worktree with a new branch at the start point.
func (r *ExecRunner) WorktreeAddNewBranch(path, branch, startPoint string) error {
	return r.runSilent("worktree", "add", "-b", branch, path, startPoint)
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(path string) error {
	return r.runSilent("worktree", "remove", "--force", path)
}

// WorktreeList returns the worktrees of the repository.
func (r *ExecRunner) WorktreeList() ([]Worktree, error) {
	out, err := r.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(out), nil
}

// parseWorktreeList parses git worktree list --porcelain output.
// Entries are blocks of attribute lines separated by blank lines.
func parseWorktreeList(out string) []Worktree {
	var (
		worktrees []Worktree
		current   Worktree
	)
	flush := func() {
		if current.Path != "" {
			worktrees = append(worktrees, current)
		}
		current = Worktree{}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			flush()
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.HEAD = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			current.Branch = strings.TrimPrefix(ref, "refs/heads/")
		}
	}
	flush()
	return worktrees
}

// WorktreePrune removes stale worktree entries.
func (r *ExecRunner) WorktreePrune() error {
	return r.runSilent("worktree", "prune")
}

// HasRemote returns true if the named remote is configured.
func (r *ExecRunner) HasRemote(name string) (bool, error) {
	out, err := r.run("remote")
	if err != nil {
		return false, err
	}
	for _, remote := range strings.Split(out, "\n") {
		if strings.TrimSpace(remote) == name {
			return true, nil
		}
	}
	return false, nil
}

// Fetch fetches the given refs from the remote.
func (r *ExecRunner) Fetch(remote string, refs ...string) error {
	args := append([]string{"fetch", remote}, refs...)
	return r.runSilent(args...)
}

// Push pushes the branch to the remote, setting the upstream.
func (r *ExecRunner) Push(remote, branch string) error {
	return r.runSilent("push", "-u", remote, branch)
}

// PushForceWithLease force-pushes the branch to the remote.
func (r *ExecRunner) PushForceWithLease(remote, branch string) error {
	return r.runSilent("push", "--force-with-lease", remote, branch)
}

// DeleteRemoteBranch deletes the branch on the remote.
func (r *ExecRunner) DeleteRemoteBranch(remote, branch string) error {
	return r.runSilent("push", remote, "--delete", branch)
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
