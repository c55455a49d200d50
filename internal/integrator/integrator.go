// Package integrator merges approved pipeline branches into the base
// branch through a compensating saga: fetch, temp worktree, merge,
// conflict resolution, push, pull request.
package integrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/internal/breaker"
	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/errkind"
	"github.com/mood-agency/funny-sub004/internal/forge"
	"github.com/mood-agency/funny-sub004/internal/git"
	"github.com/mood-agency/funny-sub004/internal/manifest"
)

// GitOps is the slice of git the integrator needs. *git.ExecRunner
// satisfies it.
type GitOps interface {
	Fetch(remote string, refs ...string) error
	RevParse(ref string) (string, error)
	BranchExists(name string) (bool, error)
	DeleteBranch(name string) error
	WorktreeAddNewBranch(path, branch, startPoint string) error
	WorktreeRemove(path string) error
	PushForceWithLease(remote, branch string) error
	DeleteRemoteBranch(remote, branch string) error
	CheckoutBranch(name string) error
	MergeNoFFMessage(branch, message string) error
	MergeAbort() error
	ConflictedFiles() ([]string, error)
	HasConflictMarkers(paths ...string) (bool, error)
	HasChanges() (bool, error)
	CommitAll(message string) error
	Rebase(base string) error
	RebaseAbort() error
	RebaseContinue() error
}

// Result is what a successful integration produced.
type Result struct {
	PRNumber          int
	PRURL             string
	IntegrationBranch string
	BaseMainSHA       string
	ConflictsResolved bool
}

// Options configure the integrator beyond its collaborators.
type Options struct {
	// Remote is the push target, usually origin.
	Remote string
	// MainBranch is the default integration base.
	MainBranch string
	// IntegrationPrefix namespaces integration branches. Ends with "/".
	IntegrationPrefix string
	// WorktreesRoot hosts the temporary integration worktrees.
	WorktreesRoot string
	// Resolver drives the conflict agent. Nil makes every conflicted
	// merge fail the saga.
	Resolver ConflictResolver
	// NewGit builds git runners rooted at a directory. Nil shells out.
	NewGit func(dir string) GitOps
}

// Integrator runs integration sagas and rebase requests for one
// repository.
type Integrator struct {
	repoDir string
	repo    GitOps
	events  *bus.Bus
	forge   forge.Client
	agents  *breaker.Breaker
	forgeBr *breaker.Breaker
	opts    Options
}

// New creates an Integrator for the repository at repoDir. Session
// starts of the conflict agent go through agents; pushes and PR calls
// go through forgeBr.
func New(repoDir string, events *bus.Bus, forgeClient forge.Client, agents, forgeBr *breaker.Breaker, opts Options) *Integrator {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.MainBranch == "" {
		opts.MainBranch = "main"
	}
	if opts.IntegrationPrefix == "" {
		opts.IntegrationPrefix = "integration/"
	}
	if opts.WorktreesRoot == "" {
		opts.WorktreesRoot = filepath.Join(repoDir, ".conveyor", "worktrees")
	}
	if opts.NewGit == nil {
		opts.NewGit = func(dir string) GitOps { return git.NewRunner(dir) }
	}
	return &Integrator{
		repoDir: repoDir,
		repo:    opts.NewGit(repoDir),
		events:  events,
		forge:   forgeClient,
		agents:  agents,
		forgeBr: forgeBr,
		opts:    opts,
	}
}

// sagaContext carries working state across saga steps. Only the
// currently executing step mutates it.
type sagaContext struct {
	ctx   context.Context
	entry manifest.ReadyEntry

	base              string
	integrationBranch string
	worktreePath      string
	baseSHA           string
	conflictsResolved bool
	pr                *forge.PR
	wt                GitOps
}

// step is one unit of the saga. compensate is nil when the step has
// nothing to unwind.
type step struct {
	name       string
	run        func(*sagaContext) error
	compensate func(*sagaContext)
}

// Integrate runs the full saga for one ready entry. On any step failure
// the compensations of all completed steps run in reverse order, a
// safety-net cleanup removes the worktree and integration branch, and
// an integration.failed event is published.
func (in *Integrator) Integrate(ctx context.Context, entry manifest.ReadyEntry) (*Result, error) {
	base := entry.BaseBranch
	if base == "" {
		base = in.opts.MainBranch
	}
	sc := &sagaContext{
		ctx:               ctx,
		entry:             entry,
		base:              base,
		integrationBranch: in.opts.IntegrationPrefix + entry.Branch,
		worktreePath:      filepath.Join(in.opts.WorktreesRoot, "integration-"+pathSafe(entry.Branch)),
	}

	log.Printf("[integrator] %s: integrating %s into %s", entry.RequestID, entry.PipelineBranch, base)
	in.publish(bus.EventIntegrationStarted, entry.RequestID, map[string]any{
		"branch":             entry.Branch,
		"pipeline_branch":    entry.PipelineBranch,
		"integration_branch": sc.integrationBranch,
		"base_branch":        base,
	})

	steps := []step{
		{"fetch_main", in.fetchMain, nil},
		{"create_integration_branch", in.createIntegrationBranch, in.compensateWorktree},
		{"merge_pipeline", in.mergePipeline, in.compensateMerge},
		{"push_branch", in.pushBranch, in.compensatePush},
		{"create_pr", in.createPR, nil},
		{"cleanup_worktree", in.cleanupWorktree, nil},
	}

	for i, st := range steps {
		if err := st.run(sc); err != nil {
			log.Printf("[integrator] %s: step %s failed: %v", entry.RequestID, st.name, err)
			for j := i - 1; j >= 0; j-- {
				if steps[j].compensate != nil {
					steps[j].compensate(sc)
				}
			}
			in.safetyCleanup(sc)
			in.publish(bus.EventIntegrationFailed, entry.RequestID, map[string]any{
				"branch": entry.Branch,
				"step":   st.name,
				"error":  err.Error(),
			})
			return nil, err
		}
	}

	res := &Result{
		PRNumber:          sc.pr.Number,
		PRURL:             sc.pr.URL,
		IntegrationBranch: sc.integrationBranch,
		BaseMainSHA:       sc.baseSHA,
		ConflictsResolved: sc.conflictsResolved,
	}
	in.publish(bus.EventIntegrationCompleted, entry.RequestID, map[string]any{
		"branch":             entry.Branch,
		"integration_branch": res.IntegrationBranch,
		"pr_number":          res.PRNumber,
		"pr_url":             res.PRURL,
		"base_main_sha":      res.BaseMainSHA,
		"conflicts_resolved": res.ConflictsResolved,
	})
	return res, nil
}

// fetchMain fetches the effective base and records its remote SHA.
func (in *Integrator) fetchMain(sc *sagaContext) error {
	if err := in.repo.Fetch(in.opts.Remote, sc.base); err != nil {
		return errkind.E(errkind.ProcessFailure, "integrator.fetch_main", err)
	}
	sha, err := in.repo.RevParse(in.opts.Remote + "/" + sc.base)
	if err != nil {
		return errkind.E(errkind.ProcessFailure, "integrator.fetch_main", err)
	}
	sc.baseSHA = sha
	return nil
}

// createIntegrationBranch clears leftovers from an earlier attempt, then
// creates the temp worktree on a fresh integration branch at the remote
// base head.
func (in *Integrator) createIntegrationBranch(sc *sagaContext) error {
	in.removeLeftovers(sc)

	if err := os.MkdirAll(in.opts.WorktreesRoot, 0o755); err != nil {
		return errkind.E(errkind.PersistenceError, "integrator.create_branch", err)
	}
	start := in.opts.Remote + "/" + sc.base
	if err := in.repo.WorktreeAddNewBranch(sc.worktreePath, sc.integrationBranch, start); err != nil {
		return errkind.E(errkind.ProcessFailure, "integrator.create_branch", err)
	}
	sc.wt = in.opts.NewGit(sc.worktreePath)
	return nil
}

// mergePipeline merges the pipeline branch into the integration branch,
// handing conflicts to the resolver agent.
func (in *Integrator) mergePipeline(sc *sagaContext) error {
	msg := fmt.Sprintf("Merge %s into %s", sc.entry.PipelineBranch, sc.integrationBranch)
	err := sc.wt.MergeNoFFMessage(sc.entry.PipelineBranch, msg)
	if err == nil {
		sc.conflictsResolved = false
		return nil
	}

	files, ferr := sc.wt.ConflictedFiles()
	if ferr != nil || len(files) == 0 {
		return errkind.E(errkind.ProcessFailure, "integrator.merge", err)
	}

	log.Printf("[integrator] %s: %d conflicted files, invoking conflict agent", sc.entry.RequestID, len(files))
	in.publish(bus.EventIntegrationConflictDetected, sc.entry.RequestID, map[string]any{
		"branch": sc.entry.Branch,
		"files":  files,
		"count":  len(files),
	})

	if rerr := in.resolveConflicts(sc, files); rerr != nil {
		return rerr
	}
	sc.conflictsResolved = true
	in.publish(bus.EventIntegrationConflictResolved, sc.entry.RequestID, map[string]any{
		"branch": sc.entry.Branch,
		"files":  files,
	})
	return nil
}

// resolveConflicts runs the conflict agent in the worktree and verifies
// the resolution: no markers left, everything committed. A resolution
// the agent staged but forgot to commit is committed here with the
// canonical message.
func (in *Integrator) resolveConflicts(sc *sagaContext, files []string) error {
	if in.opts.Resolver == nil {
		return errkind.Errorf(errkind.MergeConflictUnresolved, "integrator.conflict", "no conflict resolver configured")
	}

	spec := agent.ConflictPromptSpec{
		IntegrationBranch: sc.integrationBranch,
		PipelineBranch:    sc.entry.PipelineBranch,
		BaseBranch:        sc.base,
		Files:             files,
	}
	err := in.agents.Do(func() error {
		return in.opts.Resolver(sc.ctx, sc.worktreePath, spec)
	})
	if err != nil {
		return errkind.E(errkind.MergeConflictUnresolved, "integrator.conflict", err)
	}

	if dirty, err := sc.wt.HasConflictMarkers(files...); err != nil {
		return errkind.E(errkind.ProcessFailure, "integrator.conflict", err)
	} else if dirty {
		return errkind.Errorf(errkind.MergeConflictUnresolved, "integrator.conflict", "conflict markers remain after resolution")
	}

	if changes, err := sc.wt.HasChanges(); err == nil && changes {
		if cerr := sc.wt.CommitAll(agent.ConflictCommitMessage(sc.entry.PipelineBranch)); cerr != nil {
			return errkind.E(errkind.MergeConflictUnresolved, "integrator.conflict", cerr)
		}
	}
	return nil
}

// pushBranch publishes the integration branch through the forge breaker.
func (in *Integrator) pushBranch(sc *sagaContext) error {
	err := in.forgeBr.Do(func() error {
		return sc.wt.PushForceWithLease(in.opts.Remote, sc.integrationBranch)
	})
	if err != nil {
		return errkind.E(errkind.ProcessFailure, "integrator.push", err)
	}
	return nil
}

// createPR opens the integration pull request through the forge breaker.
func (in *Integrator) createPR(sc *sagaContext) error {
	opts := forge.PROptions{
		Title: "Integrate: " + sc.entry.Branch,
		Body:  BuildPRBody(sc.entry, sc.conflictsResolved),
		Head:  sc.integrationBranch,
		Base:  sc.base,
	}
	err := in.forgeBr.Do(func() error {
		pr, err := in.forge.CreatePR(sc.ctx, opts)
		if err != nil {
			return err
		}
		sc.pr = pr
		return nil
	})
	if err != nil {
		return errkind.E(errkind.ProcessFailure, "integrator.create_pr", err)
	}

	in.publish(bus.EventIntegrationPRCreated, sc.entry.RequestID, map[string]any{
		"branch":             sc.entry.Branch,
		"integration_branch": sc.integrationBranch,
		"pr_number":          sc.pr.Number,
		"pr_url":             sc.pr.URL,
	})
	return nil
}

func (in *Integrator) cleanupWorktree(sc *sagaContext) error {
	if err := in.repo.WorktreeRemove(sc.worktreePath); err != nil {
		return errkind.E(errkind.ProcessFailure, "integrator.cleanup", err)
	}
	return nil
}

// compensateWorktree unwinds create_integration_branch.
func (in *Integrator) compensateWorktree(sc *sagaContext) {
	if err := in.repo.WorktreeRemove(sc.worktreePath); err != nil {
		log.Printf("[integrator] compensate worktree %s: %v", sc.worktreePath, err)
	}
	if exists, err := in.repo.BranchExists(sc.integrationBranch); err == nil && exists {
		if err := in.repo.DeleteBranch(sc.integrationBranch); err != nil {
			log.Printf("[integrator] compensate branch %s: %v", sc.integrationBranch, err)
		}
	}
}

// compensateMerge aborts a half-done merge. After a committed merge the
// abort is a no-op failure and is ignored.
func (in *Integrator) compensateMerge(sc *sagaContext) {
	if sc.wt == nil {
		return
	}
	_ = sc.wt.MergeAbort()
}

// compensatePush removes the pushed integration branch from the remote.
func (in *Integrator) compensatePush(sc *sagaContext) {
	if err := in.repo.DeleteRemoteBranch(in.opts.Remote, sc.integrationBranch); err != nil {
		log.Printf("[integrator] compensate remote %s: %v", sc.integrationBranch, err)
	}
}

// removeLeftovers clears the worktree directory and local integration
// branch an interrupted earlier attempt may have left behind.
func (in *Integrator) removeLeftovers(sc *sagaContext) {
	_ = in.repo.WorktreeRemove(sc.worktreePath)
	_ = os.RemoveAll(sc.worktreePath)
	if exists, err := in.repo.BranchExists(sc.integrationBranch); err == nil && exists {
		log.Printf("[integrator] removing leftover branch %s", sc.integrationBranch)
		_ = in.repo.DeleteBranch(sc.integrationBranch)
	}
}

// safetyCleanup is the out-of-band net for failed sagas: whatever the
// compensations did, the temp worktree and local integration branch
// must be gone afterwards.
func (in *Integrator) safetyCleanup(sc *sagaContext) {
	in.removeLeftovers(sc)
}

func (in *Integrator) publish(t bus.EventType, requestID string, data map[string]any) {
	if in.events == nil {
		return
	}
	in.events.Publish(bus.Event{Type: t, RequestID: requestID, Data: data})
}

// pathSafe turns a branch name into a directory-name-safe token.
func pathSafe(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}
