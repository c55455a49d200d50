package integrator

import (
	"context"
	"errors"
	"testing"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/errkind"
	"github.com/mood-agency/funny-sub004/internal/manifest"
)

func pendingEntry() manifest.PendingMergeEntry {
	return manifest.PendingMergeEntry{
		ReadyEntry:        readyEntry(),
		PRNumber:          42,
		PRURL:             "https://github.com/acme/api/pull/42",
		IntegrationBranch: "integration/feature/login",
	}
}

func TestRebaseClean(t *testing.T) {
	g := newFakeGit()
	g.shas["origin/main"] = "bbb222"
	in, c := newTestIntegrator(t, g, &fakeForge{}, nil)

	sha, err := in.Rebase(context.Background(), pendingEntry())
	if err != nil {
		t.Fatalf("Rebase: %v", err)
	}
	if sha != "bbb222" {
		t.Errorf("sha = %q, want bbb222", sha)
	}

	co := g.callIndex("checkout integration/feature/login")
	rb := g.callIndex("rebase origin/main")
	push := g.callIndex("push --force-with-lease origin integration/feature/login")
	back := g.callIndex("checkout main")
	if co < 0 || rb < co || push < rb || back < push {
		t.Errorf("call order wrong: %v", g.calls)
	}

	ev := c.find(bus.EventIntegrationPRRebased)
	if ev == nil {
		t.Fatal("no pr.rebased event")
	}
	if ev.Data["new_base_sha"] != "bbb222" {
		t.Errorf("new_base_sha = %v", ev.Data["new_base_sha"])
	}
	if ev.Data["conflicts_resolved"] != false {
		t.Errorf("conflicts_resolved = %v", ev.Data["conflicts_resolved"])
	}
}

func TestRebaseConflictResolved(t *testing.T) {
	g := newFakeGit()
	g.shas["origin/main"] = "ccc333"
	g.failOn["rebase"] = errors.New("could not apply deadbeef")
	g.conflicted = []string{"cmd/api/main.go"}

	var gotDir string
	resolver := func(ctx context.Context, dir string, spec agent.ConflictPromptSpec) error {
		gotDir = dir
		return nil
	}
	in, c := newTestIntegrator(t, g, &fakeForge{}, resolver)

	sha, err := in.Rebase(context.Background(), pendingEntry())
	if err != nil {
		t.Fatalf("Rebase: %v", err)
	}
	if sha != "ccc333" {
		t.Errorf("sha = %q", sha)
	}

	// Rebase conflicts are resolved in the repository checkout, not a
	// temp worktree.
	if gotDir != "/repo" {
		t.Errorf("resolver dir = %q, want /repo", gotDir)
	}
	if !g.called("rebase --continue") {
		t.Errorf("rebase never continued: %v", g.calls)
	}

	ev := c.find(bus.EventIntegrationPRRebased)
	if ev == nil {
		t.Fatal("no pr.rebased event")
	}
	if ev.Data["conflicts_resolved"] != true {
		t.Errorf("conflicts_resolved = %v", ev.Data["conflicts_resolved"])
	}
	if c.find(bus.EventIntegrationConflictDetected) == nil || c.find(bus.EventIntegrationConflictResolved) == nil {
		t.Error("conflict events missing")
	}
}

func TestRebaseResolverFailureAbandons(t *testing.T) {
	g := newFakeGit()
	g.failOn["rebase"] = errors.New("could not apply deadbeef")
	g.conflicted = []string{"cmd/api/main.go"}

	resolver := func(ctx context.Context, dir string, spec agent.ConflictPromptSpec) error {
		return errors.New("agent gave up")
	}
	in, c := newTestIntegrator(t, g, &fakeForge{}, resolver)

	_, err := in.Rebase(context.Background(), pendingEntry())
	if !errkind.Is(err, errkind.RebaseFailed) {
		t.Fatalf("err = %v, want rebase_failed", err)
	}

	abort := g.callIndex("rebase --abort")
	back := g.callIndex("checkout main")
	if abort < 0 || back < abort {
		t.Errorf("rebase not abandoned cleanly: %v", g.calls)
	}
	if c.find(bus.EventIntegrationPRRebaseFailed) == nil {
		t.Error("no pr.rebase_failed event")
	}
	if c.find(bus.EventIntegrationPRRebased) != nil {
		t.Error("pr.rebased published for a failed rebase")
	}
}

func TestRebaseFailureWithoutConflicts(t *testing.T) {
	g := newFakeGit()
	g.failOn["rebase"] = errors.New("fatal: bad object")
	in, c := newTestIntegrator(t, g, &fakeForge{}, nil)

	_, err := in.Rebase(context.Background(), pendingEntry())
	if !errkind.Is(err, errkind.RebaseFailed) {
		t.Fatalf("err = %v, want rebase_failed", err)
	}
	if !g.called("rebase --abort") {
		t.Error("rebase state not aborted")
	}
	ev := c.find(bus.EventIntegrationPRRebaseFailed)
	if ev == nil {
		t.Fatal("no pr.rebase_failed event")
	}
	if ev.Data["integration_branch"] != "integration/feature/login" {
		t.Errorf("integration_branch = %v", ev.Data["integration_branch"])
	}
}

func TestRebasePushFailureAbandons(t *testing.T) {
	g := newFakeGit()
	g.failOn["push"] = errors.New("remote hung up")
	in, c := newTestIntegrator(t, g, &fakeForge{}, nil)

	_, err := in.Rebase(context.Background(), pendingEntry())
	if !errkind.Is(err, errkind.ProcessFailure) {
		t.Fatalf("err = %v, want process_failure", err)
	}
	if !g.called("checkout main") {
		t.Errorf("checkout not returned to base: %v", g.calls)
	}
	if c.find(bus.EventIntegrationPRRebaseFailed) == nil {
		t.Error("no pr.rebase_failed event")
	}
}
