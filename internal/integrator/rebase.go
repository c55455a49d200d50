package integrator

import (
	"context"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/errkind"
	"github.com/mood-agency/funny-sub004/internal/manifest"
)

// Rebase replays a pending integration branch onto the current remote
// base after main moved underneath its PR. Independent of the saga: it
// works on the repository checkout, not a temp worktree. On success the
// branch is force-with-lease pushed, the checkout returns to the base
// branch, and the new base SHA is returned.
func (in *Integrator) Rebase(ctx context.Context, entry manifest.PendingMergeEntry) (string, error) {
	base := entry.BaseBranch
	if base == "" {
		base = in.opts.MainBranch
	}
	g := in.repo

	fail := func(err error) (string, error) {
		in.publish(bus.EventIntegrationPRRebaseFailed, entry.RequestID, map[string]any{
			"branch":             entry.Branch,
			"integration_branch": entry.IntegrationBranch,
			"error":              err.Error(),
		})
		return "", err
	}

	if err := g.Fetch(in.opts.Remote, base); err != nil {
		return fail(errkind.E(errkind.ProcessFailure, "integrator.rebase", err))
	}
	if err := g.CheckoutBranch(entry.IntegrationBranch); err != nil {
		return fail(errkind.E(errkind.ProcessFailure, "integrator.rebase", err))
	}

	conflictsResolved := false
	if err := g.Rebase(in.opts.Remote + "/" + base); err != nil {
		files, ferr := g.ConflictedFiles()
		if ferr != nil || len(files) == 0 {
			in.abandonRebase(base)
			return fail(errkind.E(errkind.RebaseFailed, "integrator.rebase", err))
		}

		in.publish(bus.EventIntegrationConflictDetected, entry.RequestID, map[string]any{
			"branch": entry.Branch,
			"files":  files,
			"count":  len(files),
		})
		if rerr := in.resolveRebaseConflicts(ctx, entry, base, files); rerr != nil {
			in.abandonRebase(base)
			return fail(errkind.E(errkind.RebaseFailed, "integrator.rebase", rerr))
		}
		if cerr := g.RebaseContinue(); cerr != nil {
			in.abandonRebase(base)
			return fail(errkind.E(errkind.RebaseFailed, "integrator.rebase", cerr))
		}
		conflictsResolved = true
		in.publish(bus.EventIntegrationConflictResolved, entry.RequestID, map[string]any{
			"branch": entry.Branch,
			"files":  files,
		})
	}

	err := in.forgeBr.Do(func() error {
		return g.PushForceWithLease(in.opts.Remote, entry.IntegrationBranch)
	})
	if err != nil {
		in.abandonRebase(base)
		return fail(errkind.E(errkind.ProcessFailure, "integrator.rebase", err))
	}

	if err := g.CheckoutBranch(base); err != nil {
		return fail(errkind.E(errkind.ProcessFailure, "integrator.rebase", err))
	}

	newBase, err := g.RevParse(in.opts.Remote + "/" + base)
	if err != nil {
		return fail(errkind.E(errkind.ProcessFailure, "integrator.rebase", err))
	}

	in.publish(bus.EventIntegrationPRRebased, entry.RequestID, map[string]any{
		"branch":             entry.Branch,
		"integration_branch": entry.IntegrationBranch,
		"new_base_sha":       newBase,
		"conflicts_resolved": conflictsResolved,
	})
	return newBase, nil
}

// resolveRebaseConflicts runs the conflict agent over the repository
// checkout while the rebase is stopped.
func (in *Integrator) resolveRebaseConflicts(ctx context.Context, entry manifest.PendingMergeEntry, base string, files []string) error {
	if in.opts.Resolver == nil {
		return errkind.Errorf(errkind.MergeConflictUnresolved, "integrator.rebase", "no conflict resolver configured")
	}
	spec := agent.ConflictPromptSpec{
		IntegrationBranch: entry.IntegrationBranch,
		PipelineBranch:    entry.PipelineBranch,
		BaseBranch:        base,
		Files:             files,
	}
	return in.agents.Do(func() error {
		return in.opts.Resolver(ctx, in.repoDir, spec)
	})
}

// abandonRebase aborts whatever rebase state is left and returns the
// checkout to the base branch. Both failures are tolerable: the abort
// is a no-op when nothing is in progress.
func (in *Integrator) abandonRebase(base string) {
	_ = in.repo.RebaseAbort()
	_ = in.repo.CheckoutBranch(base)
}
