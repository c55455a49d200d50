// Package git provides an interface for git operations.
package git

import (
	"time"

	"github.com/mood-agency/funny-sub004/pkg/models"
)

// Worktree describes a single entry from git worktree list.
type Worktree struct {
	// Path is the worktree's checkout directory.
	Path string
	// Branch is the short branch name, empty when detached.
	Branch string
	// HEAD is the commit the worktree is on.
	HEAD string
}

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateBranchFrom creates a new branch at the given start point.
	CreateBranchFrom(name, startPoint string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the local branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified local branch (force delete).
	DeleteBranch(name string) error
	// DeleteBranchSafe deletes the branch only if its work is merged.
	DeleteBranchSafe(name string) error
	// ListMergedBranches returns local branches fully merged into base.
	ListMergedBranches(base string) ([]string, error)
	// LastCommitTime returns the committer date of the branch tip.
	LastCommitTime(branch string) (time.Time, error)
	// RevParse resolves a ref to its commit SHA.
	RevParse(ref string) (string, error)
}

// DiffOperations defines the interface for git diff and status operations.
type DiffOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// DiffStats returns the file and line counts changed on the current
	// branch relative to base (triple-dot, so shared history is excluded).
	DiffStats(base string) (models.ChangeStats, error)
	// ChangedFiles returns files changed on the current branch relative to base.
	ChangedFiles(base string) ([]string, error)
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles() ([]string, error)
	// HasConflictMarkers reports whether any of the given tracked files
	// still contain conflict markers.
	HasConflictMarkers(paths ...string) (bool, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// Add stages the specified files for commit.
	Add(paths ...string) error
	// Commit creates a new commit with the given message.
	Commit(message string) error
	// CommitAll stages everything and commits with the given message.
	CommitAll(message string) error
}

// MergeOperations defines the interface for git merge and rebase operations.
type MergeOperations interface {
	// MergeNoFFMessage merges the specified branch with --no-ff and a custom message.
	MergeNoFFMessage(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// HasConflicts returns true if there are merge conflicts.
	HasConflicts() (bool, error)
	// Rebase rebases the current branch onto the specified base.
	Rebase(base string) error
	// RebaseAbort aborts an in-progress rebase.
	RebaseAbort() error
	// RebaseContinue resumes an interrupted rebase after its conflicts
	// were resolved and staged.
	RebaseContinue() error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a new worktree at the given path for an existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeAddNewBranch creates a worktree with a new branch at the start point.
	WorktreeAddNewBranch(path, branch, startPoint string) error
	// WorktreeRemove removes the worktree at the given path (force).
	WorktreeRemove(path string) error
	// WorktreeList returns the worktrees of the repository.
	WorktreeList() ([]Worktree, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// HasRemote returns true if the named remote is configured.
	HasRemote(name string) (bool, error)
	// Fetch fetches the given refs from the remote.
	Fetch(remote string, refs ...string) error
	// Push pushes the branch to the remote, setting the upstream.
	Push(remote, branch string) error
	// PushForceWithLease force-pushes the branch, refusing to clobber
	// commits the local ref does not know about.
	PushForceWithLease(remote, branch string) error
	// DeleteRemoteBranch deletes the branch on the remote.
	DeleteRemoteBranch(remote, branch string) error
}

// Runner defines the complete interface for git operations.
// This interface embeds all focused interfaces for full functionality.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	BranchOperations
	DiffOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	RemoteOperations
	// Run executes an arbitrary git command with the given arguments.
	// Returns the command output and an error if the command fails.
	Run(args ...string) (string, error)
}
