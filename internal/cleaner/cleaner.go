// Package cleaner deletes pipeline and integration branches once the
// work that produced them is finished.
package cleaner

import (
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mood-agency/funny-sub004/internal/bus"
)

// gitOps is the slice of git the cleaner needs.
type gitOps interface {
	BranchExists(name string) (bool, error)
	DeleteBranch(name string) error
	DeleteBranchSafe(name string) error
	ListMergedBranches(base string) ([]string, error)
	LastCommitTime(branch string) (time.Time, error)
	WorktreeRemove(path string) error
	WorktreePrune() error
	HasRemote(name string) (bool, error)
	DeleteRemoteBranch(remote, branch string) error
}

// Options configures cleanup policy.
type Options struct {
	// KeepOnFailure skips branch deletion for failed pipelines.
	KeepOnFailure bool
	// StaleBranchDays bounds how old a merged branch may be before the
	// stale sweep removes it. Zero disables the sweep.
	StaleBranchDays int
	// Protected lists branch names or glob patterns never deleted.
	Protected []string
	// PipelinePrefix and IntegrationPrefix scope the stale sweep to
	// branches this system created.
	PipelinePrefix    string
	IntegrationPrefix string
	// Remote names the remote for remote-branch deletes, usually origin.
	Remote string
	// WorktreesRoot is the directory of worktrees the system provisioned.
	// Worktrees outside it belong to callers and are left alone.
	WorktreesRoot string
}

// Cleaner removes branches and provisioned worktrees according to policy.
type Cleaner struct {
	repo   gitOps
	events *bus.Bus
	opts   Options
}

// New creates a Cleaner. events may be nil when no bus is wired.
func New(repo gitOps, events *bus.Bus, opts Options) *Cleaner {
	return &Cleaner{repo: repo, events: events, opts: opts}
}

// IsProtected reports whether the branch matches a protected name or
// pattern and must never be deleted.
func (c *Cleaner) IsProtected(branch string) bool {
	for _, pattern := range c.opts.Protected {
		if pattern == branch {
			return true
		}
		ok, err := doublestar.Match(pattern, branch)
		if err != nil {
			log.Printf("[cleaner] bad protected pattern %q: %v", pattern, err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// CleanupAfterCompletion attempts a guarded delete of the pipeline
// branch after a successful run. git refuses the delete while the
// branch's work is unmerged or checked out, so a branch awaiting
// integration survives and is retried by the post-merge path.
func (c *Cleaner) CleanupAfterCompletion(requestID, branch, pipelineBranch string) {
	c.publish(bus.EventCleanupStarted, requestID, map[string]any{
		"branch":          branch,
		"pipeline_branch": pipelineBranch,
		"trigger":         "completion",
	})

	var deleted []string
	if c.tryDelete(pipelineBranch, false) {
		deleted = append(deleted, pipelineBranch)
	}

	c.publish(bus.EventCleanupCompleted, requestID, map[string]any{
		"branch":  branch,
		"deleted": deleted,
		"trigger": "completion",
	})
}

// CleanupAfterFailure applies the keep-on-failure policy to a failed
// pipeline's branch and provisioned worktree.
func (c *Cleaner) CleanupAfterFailure(requestID, branch, pipelineBranch, worktreePath string) {
	if c.opts.KeepOnFailure {
		log.Printf("[cleaner] keeping %s for inspection (keep_on_failure)", pipelineBranch)
		return
	}

	c.publish(bus.EventCleanupStarted, requestID, map[string]any{
		"branch":          branch,
		"pipeline_branch": pipelineBranch,
		"trigger":         "failure",
	})

	var deleted []string
	c.removeOwnedWorktree(worktreePath)
	if c.tryDelete(pipelineBranch, true) {
		deleted = append(deleted, pipelineBranch)
	}

	c.publish(bus.EventCleanupCompleted, requestID, map[string]any{
		"branch":  branch,
		"deleted": deleted,
		"trigger": "failure",
	})
}

// CleanupAfterMerge removes both the pipeline and integration branches
// once the integration PR has merged, locally and on the remote.
func (c *Cleaner) CleanupAfterMerge(requestID, branch, pipelineBranch, integrationBranch string) {
	c.publish(bus.EventCleanupStarted, requestID, map[string]any{
		"branch":             branch,
		"pipeline_branch":    pipelineBranch,
		"integration_branch": integrationBranch,
		"trigger":            "merge",
	})

	var deleted []string
	for _, name := range []string{pipelineBranch, integrationBranch} {
		if name == "" {
			continue
		}
		if c.tryDelete(name, true) {
			deleted = append(deleted, name)
		}
	}

	// Only the integration branch was ever pushed.
	if integrationBranch != "" && c.opts.Remote != "" {
		if ok, err := c.repo.HasRemote(c.opts.Remote); err == nil && ok {
			if err := c.repo.DeleteRemoteBranch(c.opts.Remote, integrationBranch); err != nil {
				log.Printf("[cleaner] delete remote %s: %v", integrationBranch, err)
			}
		}
	}

	if err := c.repo.WorktreePrune(); err != nil {
		log.Printf("[cleaner] worktree prune: %v", err)
	}

	c.publish(bus.EventCleanupCompleted, requestID, map[string]any{
		"branch":  branch,
		"deleted": deleted,
		"trigger": "merge",
	})
}

// StaleBranches lists pipeline and integration branches that are fully
// merged into base and untouched for the configured age. Protected
// branches and foreign namespaces are excluded.
func (c *Cleaner) StaleBranches(base string) ([]string, error) {
	if c.opts.StaleBranchDays <= 0 {
		return nil, nil
	}
	merged, err := c.repo.ListMergedBranches(base)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-time.Duration(c.opts.StaleBranchDays) * 24 * time.Hour)
	var stale []string
	for _, name := range merged {
		if !c.ownsBranch(name) || c.IsProtected(name) {
			continue
		}
		at, err := c.repo.LastCommitTime(name)
		if err != nil {
			log.Printf("[cleaner] last commit time for %s: %v", name, err)
			continue
		}
		if at.After(cutoff) {
			continue
		}
		stale = append(stale, name)
	}
	return stale, nil
}

// SweepStale force-deletes the branches StaleBranches reports.
func (c *Cleaner) SweepStale(base string) (deleted []string, err error) {
	stale, err := c.StaleBranches(base)
	if err != nil {
		return nil, err
	}
	for _, name := range stale {
		if c.tryDelete(name, true) {
			deleted = append(deleted, name)
		}
	}
	if len(deleted) > 0 {
		log.Printf("[cleaner] stale sweep removed %d branches", len(deleted))
	}
	return deleted, nil
}

// ownsBranch reports whether the branch lives in a namespace this
// system created.
func (c *Cleaner) ownsBranch(name string) bool {
	if c.opts.PipelinePrefix != "" && strings.HasPrefix(name, c.opts.PipelinePrefix) {
		return true
	}
	if c.opts.IntegrationPrefix != "" && strings.HasPrefix(name, c.opts.IntegrationPrefix) {
		return true
	}
	return false
}

// tryDelete deletes one branch, forced or guarded. Returns true when
// the branch was removed.
func (c *Cleaner) tryDelete(name string, force bool) bool {
	if name == "" {
		return false
	}
	if c.IsProtected(name) {
		log.Printf("[cleaner] refusing to delete protected branch %s", name)
		return false
	}
	exists, err := c.repo.BranchExists(name)
	if err != nil {
		log.Printf("[cleaner] check %s: %v", name, err)
		return false
	}
	if !exists {
		return false
	}

	if force {
		err = c.repo.DeleteBranch(name)
	} else {
		err = c.repo.DeleteBranchSafe(name)
	}
	if err != nil {
		log.Printf("[cleaner] keeping %s: %v", name, err)
		return false
	}
	log.Printf("[cleaner] deleted branch %s", name)
	return true
}

// removeOwnedWorktree removes the worktree only when it lives under the
// provisioned worktrees root. Caller-supplied worktrees are not owned.
func (c *Cleaner) removeOwnedWorktree(path string) {
	if path == "" || c.opts.WorktreesRoot == "" {
		return
	}
	rel, err := filepath.Rel(c.opts.WorktreesRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return
	}
	if err := c.repo.WorktreeRemove(path); err != nil {
		log.Printf("[cleaner] remove worktree %s: %v", path, err)
	}
}

func (c *Cleaner) publish(t bus.EventType, requestID string, data map[string]any) {
	if c.events == nil {
		return
	}
	c.events.Publish(bus.Event{Type: t, RequestID: requestID, Data: data})
}
