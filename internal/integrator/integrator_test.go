package integrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/internal/breaker"
	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/errkind"
	"github.com/mood-agency/funny-sub004/internal/forge"
	"github.com/mood-agency/funny-sub004/internal/manifest"
	"github.com/mood-agency/funny-sub004/pkg/models"
)

// fakeGit records every git call and fails the methods a test arms
// through failOn. Branch and worktree existence are tracked so tests
// can assert what a failed saga left behind.
type fakeGit struct {
	calls      []string
	failOn     map[string]error
	branches   map[string]bool
	worktrees  map[string]bool
	shas       map[string]string
	conflicted []string
	markers    bool
	changes    bool
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		failOn:    map[string]error{},
		branches:  map[string]bool{},
		worktrees: map[string]bool{},
		shas:      map[string]string{"origin/main": "aaa111"},
	}
}

func (g *fakeGit) record(format string, args ...any) {
	g.calls = append(g.calls, fmt.Sprintf(format, args...))
}

func (g *fakeGit) Fetch(remote string, refs ...string) error {
	g.record("fetch %s %s", remote, strings.Join(refs, " "))
	return g.failOn["fetch"]
}

func (g *fakeGit) RevParse(ref string) (string, error) {
	g.record("rev-parse %s", ref)
	if err := g.failOn["rev-parse"]; err != nil {
		return "", err
	}
	sha, ok := g.shas[ref]
	if !ok {
		return "", fmt.Errorf("unknown ref %s", ref)
	}
	return sha, nil
}

func (g *fakeGit) BranchExists(name string) (bool, error) {
	return g.branches[name], nil
}

func (g *fakeGit) DeleteBranch(name string) error {
	g.record("branch -D %s", name)
	if err := g.failOn["delete-branch"]; err != nil {
		return err
	}
	delete(g.branches, name)
	return nil
}

func (g *fakeGit) WorktreeAddNewBranch(path, branch, startPoint string) error {
	g.record("worktree add %s %s %s", path, branch, startPoint)
	if err := g.failOn["worktree-add"]; err != nil {
		return err
	}
	g.branches[branch] = true
	g.worktrees[path] = true
	return nil
}

func (g *fakeGit) WorktreeRemove(path string) error {
	g.record("worktree remove %s", path)
	if err := g.failOn["worktree-remove"]; err != nil {
		return err
	}
	delete(g.worktrees, path)
	return nil
}

func (g *fakeGit) PushForceWithLease(remote, branch string) error {
	g.record("push --force-with-lease %s %s", remote, branch)
	return g.failOn["push"]
}

func (g *fakeGit) DeleteRemoteBranch(remote, branch string) error {
	g.record("push --delete %s %s", remote, branch)
	return g.failOn["delete-remote"]
}

func (g *fakeGit) CheckoutBranch(name string) error {
	g.record("checkout %s", name)
	return g.failOn["checkout"]
}

func (g *fakeGit) MergeNoFFMessage(branch, message string) error {
	g.record("merge --no-ff %s", branch)
	return g.failOn["merge"]
}

func (g *fakeGit) MergeAbort() error {
	g.record("merge --abort")
	return g.failOn["merge-abort"]
}

func (g *fakeGit) ConflictedFiles() ([]string, error) {
	return g.conflicted, g.failOn["conflicted-files"]
}

func (g *fakeGit) HasConflictMarkers(paths ...string) (bool, error) {
	return g.markers, g.failOn["markers"]
}

func (g *fakeGit) HasChanges() (bool, error) {
	return g.changes, g.failOn["has-changes"]
}

func (g *fakeGit) CommitAll(message string) error {
	g.record("commit %s", message)
	return g.failOn["commit"]
}

func (g *fakeGit) Rebase(base string) error {
	g.record("rebase %s", base)
	return g.failOn["rebase"]
}

func (g *fakeGit) RebaseAbort() error {
	g.record("rebase --abort")
	return g.failOn["rebase-abort"]
}

func (g *fakeGit) RebaseContinue() error {
	g.record("rebase --continue")
	return g.failOn["rebase-continue"]
}

var _ GitOps = (*fakeGit)(nil)

func (g *fakeGit) callIndex(call string) int {
	for i, c := range g.calls {
		if c == call {
			return i
		}
	}
	return -1
}

func (g *fakeGit) called(call string) bool { return g.callIndex(call) >= 0 }

func (g *fakeGit) countCalls(call string) int {
	n := 0
	for _, c := range g.calls {
		if c == call {
			n++
		}
	}
	return n
}

// fakeForge returns a fixed PR and remembers what it was asked to open.
type fakeForge struct {
	prs []forge.PROptions
	err error
}

func (f *fakeForge) CreatePR(ctx context.Context, opts forge.PROptions) (*forge.PR, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.prs = append(f.prs, opts)
	return &forge.PR{Number: 42, URL: "https://github.com/acme/api/pull/42"}, nil
}

func (f *fakeForge) ViewPR(ctx context.Context, branch string) (*forge.PRView, error) {
	return nil, nil
}

var _ forge.Client = (*fakeForge)(nil)

type capture struct {
	events []bus.Event
}

func newCapture(b *bus.Bus) *capture {
	c := &capture{}
	b.OnAll(func(ev bus.Event) { c.events = append(c.events, ev) })
	return c
}

func (c *capture) types() []bus.EventType {
	out := make([]bus.EventType, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

func (c *capture) find(t bus.EventType) *bus.Event {
	for i := range c.events {
		if c.events[i].Type == t {
			return &c.events[i]
		}
	}
	return nil
}

func newTestIntegrator(t *testing.T, g *fakeGit, fc forge.Client, resolver ConflictResolver) (*Integrator, *capture) {
	t.Helper()
	events := bus.New("")
	c := newCapture(events)
	in := New("/repo", events, fc, breaker.New("agent", 3, time.Minute), breaker.New("forge", 3, time.Minute), Options{
		WorktreesRoot: t.TempDir(),
		Resolver:      resolver,
		NewGit:        func(dir string) GitOps { return g },
	})
	return in, c
}

func readyEntry() manifest.ReadyEntry {
	return manifest.ReadyEntry{
		Branch:         "feature/login",
		PipelineBranch: "pipeline/feature/login",
		WorktreePath:   "/tmp/worktrees/feature-login",
		RequestID:      "req-1",
		Tier:           models.TierMedium,
		PipelineResult: map[string]any{
			"implementer": map[string]any{"status": "completed", "details": "patched session store"},
			"tester":      map[string]any{"status": "completed", "details": "all green"},
		},
	}
}

func equalEventTypes(got, want []bus.EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestIntegrateCleanMerge(t *testing.T) {
	g := newFakeGit()
	fc := &fakeForge{}
	in, c := newTestIntegrator(t, g, fc, nil)

	res, err := in.Integrate(context.Background(), readyEntry())
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	if res.PRNumber != 42 || res.PRURL != "https://github.com/acme/api/pull/42" {
		t.Errorf("PR = %d %q", res.PRNumber, res.PRURL)
	}
	if res.IntegrationBranch != "integration/feature/login" {
		t.Errorf("IntegrationBranch = %q", res.IntegrationBranch)
	}
	if res.BaseMainSHA != "aaa111" {
		t.Errorf("BaseMainSHA = %q", res.BaseMainSHA)
	}
	if res.ConflictsResolved {
		t.Error("ConflictsResolved = true for a clean merge")
	}

	want := []bus.EventType{
		bus.EventIntegrationStarted,
		bus.EventIntegrationPRCreated,
		bus.EventIntegrationCompleted,
	}
	if got := c.types(); !equalEventTypes(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	wt := filepath.Join(in.opts.WorktreesRoot, "integration-feature-login")
	add := g.callIndex("worktree add " + wt + " integration/feature/login origin/main")
	merge := g.callIndex("merge --no-ff pipeline/feature/login")
	push := g.callIndex("push --force-with-lease origin integration/feature/login")
	if add < 0 || merge < add || push < merge {
		t.Errorf("call order wrong: %v", g.calls)
	}
	if g.worktrees[wt] {
		t.Error("worktree still present after cleanup step")
	}

	if len(fc.prs) != 1 {
		t.Fatalf("CreatePR called %d times", len(fc.prs))
	}
	pr := fc.prs[0]
	if pr.Title != "Integrate: feature/login" || pr.Head != "integration/feature/login" || pr.Base != "main" {
		t.Errorf("PROptions = %+v", pr)
	}
	if !strings.Contains(pr.Body, "## Pipeline Results") {
		t.Errorf("PR body missing results section:\n%s", pr.Body)
	}
}

func TestIntegrateCompletedEventData(t *testing.T) {
	g := newFakeGit()
	in, c := newTestIntegrator(t, g, &fakeForge{}, nil)

	if _, err := in.Integrate(context.Background(), readyEntry()); err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	ev := c.find(bus.EventIntegrationCompleted)
	if ev == nil {
		t.Fatal("no integration.completed event")
	}
	if ev.RequestID != "req-1" {
		t.Errorf("RequestID = %q", ev.RequestID)
	}
	if ev.Data["branch"] != "feature/login" {
		t.Errorf("branch = %v", ev.Data["branch"])
	}
	if ev.Data["pr_number"] != 42 {
		t.Errorf("pr_number = %v", ev.Data["pr_number"])
	}
	if ev.Data["base_main_sha"] != "aaa111" {
		t.Errorf("base_main_sha = %v", ev.Data["base_main_sha"])
	}
}

func TestIntegrateConflictResolved(t *testing.T) {
	g := newFakeGit()
	g.failOn["merge"] = errors.New("exit status 1")
	g.conflicted = []string{"internal/auth/session.go"}
	g.markers = true
	g.changes = true

	var gotDir string
	var gotSpec agent.ConflictPromptSpec
	resolver := func(ctx context.Context, dir string, spec agent.ConflictPromptSpec) error {
		gotDir = dir
		gotSpec = spec
		g.markers = false
		g.changes = false // agent committed its resolution
		return nil
	}

	fc := &fakeForge{}
	in, c := newTestIntegrator(t, g, fc, resolver)

	res, err := in.Integrate(context.Background(), readyEntry())
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if !res.ConflictsResolved {
		t.Error("ConflictsResolved = false")
	}

	want := []bus.EventType{
		bus.EventIntegrationStarted,
		bus.EventIntegrationConflictDetected,
		bus.EventIntegrationConflictResolved,
		bus.EventIntegrationPRCreated,
		bus.EventIntegrationCompleted,
	}
	if got := c.types(); !equalEventTypes(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	det := c.find(bus.EventIntegrationConflictDetected)
	if det == nil {
		t.Fatal("no conflict.detected event")
	}
	if det.Data["count"] != 1 {
		t.Errorf("count = %v", det.Data["count"])
	}

	wantDir := filepath.Join(in.opts.WorktreesRoot, "integration-feature-login")
	if gotDir != wantDir {
		t.Errorf("resolver dir = %q, want %q", gotDir, wantDir)
	}
	if len(gotSpec.Files) != 1 || gotSpec.Files[0] != "internal/auth/session.go" {
		t.Errorf("resolver files = %v", gotSpec.Files)
	}
	if gotSpec.PipelineBranch != "pipeline/feature/login" || gotSpec.BaseBranch != "main" {
		t.Errorf("resolver spec = %+v", gotSpec)
	}

	if !strings.Contains(fc.prs[0].Body, "Merge conflicts were automatically resolved") {
		t.Error("PR body missing conflict resolution note")
	}
}

func TestIntegrateResolverForgotCommit(t *testing.T) {
	g := newFakeGit()
	g.failOn["merge"] = errors.New("exit status 1")
	g.conflicted = []string{"a.txt"}
	g.markers = true
	g.changes = true

	resolver := func(ctx context.Context, dir string, spec agent.ConflictPromptSpec) error {
		g.markers = false // resolved but never committed
		return nil
	}
	in, _ := newTestIntegrator(t, g, &fakeForge{}, resolver)

	if _, err := in.Integrate(context.Background(), readyEntry()); err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	want := "commit " + agent.ConflictCommitMessage("pipeline/feature/login")
	if !g.called(want) {
		t.Errorf("missing %q in %v", want, g.calls)
	}
}

func TestIntegrateMarkersRemain(t *testing.T) {
	g := newFakeGit()
	g.failOn["merge"] = errors.New("exit status 1")
	g.conflicted = []string{"a.txt"}
	g.markers = true

	resolver := func(ctx context.Context, dir string, spec agent.ConflictPromptSpec) error {
		return nil // claims success, leaves markers behind
	}
	fc := &fakeForge{}
	in, c := newTestIntegrator(t, g, fc, resolver)

	_, err := in.Integrate(context.Background(), readyEntry())
	if !errkind.Is(err, errkind.MergeConflictUnresolved) {
		t.Fatalf("err = %v, want merge_conflict_unresolved", err)
	}

	fail := c.find(bus.EventIntegrationFailed)
	if fail == nil {
		t.Fatal("no integration.failed event")
	}
	if fail.Data["step"] != "merge_pipeline" {
		t.Errorf("step = %v", fail.Data["step"])
	}
	if c.find(bus.EventIntegrationConflictResolved) != nil {
		t.Error("conflict.resolved published for an unresolved merge")
	}
	if !g.called("merge --abort") {
		t.Error("merge not aborted")
	}
	if len(fc.prs) != 0 {
		t.Error("PR created despite failed saga")
	}
}

func TestIntegrateNoResolverConfigured(t *testing.T) {
	g := newFakeGit()
	g.failOn["merge"] = errors.New("exit status 1")
	g.conflicted = []string{"a.txt"}

	in, _ := newTestIntegrator(t, g, &fakeForge{}, nil)

	_, err := in.Integrate(context.Background(), readyEntry())
	if !errkind.Is(err, errkind.MergeConflictUnresolved) {
		t.Fatalf("err = %v, want merge_conflict_unresolved", err)
	}
	if !strings.Contains(err.Error(), "no conflict resolver configured") {
		t.Errorf("err = %v", err)
	}
}

// A push failure must unwind the merge and the worktree but never touch
// the remote: the branch was not pushed.
func TestIntegratePushFailureCompensates(t *testing.T) {
	g := newFakeGit()
	g.failOn["push"] = errors.New("remote hung up")
	fc := &fakeForge{}
	in, c := newTestIntegrator(t, g, fc, nil)

	_, err := in.Integrate(context.Background(), readyEntry())
	if !errkind.Is(err, errkind.ProcessFailure) {
		t.Fatalf("err = %v, want process_failure", err)
	}

	fail := c.find(bus.EventIntegrationFailed)
	if fail == nil || fail.Data["step"] != "push_branch" {
		t.Fatalf("failed event = %+v", fail)
	}

	abort := g.callIndex("merge --abort")
	del := g.callIndex("branch -D integration/feature/login")
	if abort < 0 || del < abort {
		t.Errorf("compensation order wrong: %v", g.calls)
	}
	for _, call := range g.calls {
		if strings.HasPrefix(call, "push --delete") {
			t.Errorf("remote branch deleted without a push: %v", g.calls)
		}
	}
	if len(fc.prs) != 0 {
		t.Error("PR created despite failed saga")
	}
}

func TestIntegrateCreatePRFailureDeletesRemote(t *testing.T) {
	g := newFakeGit()
	fc := &fakeForge{err: errors.New("gh: 502")}
	in, c := newTestIntegrator(t, g, fc, nil)

	_, err := in.Integrate(context.Background(), readyEntry())
	if err == nil {
		t.Fatal("Integrate succeeded with a broken forge")
	}

	fail := c.find(bus.EventIntegrationFailed)
	if fail == nil || fail.Data["step"] != "create_pr" {
		t.Fatalf("failed event = %+v", fail)
	}
	if !g.called("push --delete origin integration/feature/login") {
		t.Errorf("pushed branch not removed from remote: %v", g.calls)
	}
	if !g.called("merge --abort") {
		t.Error("merge compensation skipped")
	}
}

// Whatever step fails, the saga leaves no worktree and no local
// integration branch behind.
func TestIntegrateFailureLeavesNothingBehind(t *testing.T) {
	for _, failing := range []string{"merge", "push", "worktree-add"} {
		t.Run(failing, func(t *testing.T) {
			g := newFakeGit()
			g.failOn[failing] = errors.New("boom")
			in, _ := newTestIntegrator(t, g, &fakeForge{}, nil)

			if _, err := in.Integrate(context.Background(), readyEntry()); err == nil {
				t.Fatal("Integrate succeeded")
			}
			wt := filepath.Join(in.opts.WorktreesRoot, "integration-feature-login")
			if g.worktrees[wt] {
				t.Error("temp worktree survived the failure")
			}
			if g.branches["integration/feature/login"] {
				t.Error("integration branch survived the failure")
			}
		})
	}
}

func TestIntegrateClearsLeftoversFromEarlierAttempt(t *testing.T) {
	g := newFakeGit()
	g.branches["integration/feature/login"] = true
	in, _ := newTestIntegrator(t, g, &fakeForge{}, nil)

	if _, err := in.Integrate(context.Background(), readyEntry()); err != nil {
		t.Fatalf("Integrate: %v", err)
	}

	wt := filepath.Join(in.opts.WorktreesRoot, "integration-feature-login")
	del := g.callIndex("branch -D integration/feature/login")
	add := g.callIndex("worktree add " + wt + " integration/feature/login origin/main")
	if del < 0 || add < del {
		t.Errorf("leftover branch not removed before worktree add: %v", g.calls)
	}
}

func TestIntegrateBaseBranchOverride(t *testing.T) {
	g := newFakeGit()
	g.shas["origin/develop"] = "ddd444"
	fc := &fakeForge{}
	in, _ := newTestIntegrator(t, g, fc, nil)

	entry := readyEntry()
	entry.BaseBranch = "develop"
	res, err := in.Integrate(context.Background(), entry)
	if err != nil {
		t.Fatalf("Integrate: %v", err)
	}
	if res.BaseMainSHA != "ddd444" {
		t.Errorf("BaseMainSHA = %q", res.BaseMainSHA)
	}
	if !g.called("fetch origin develop") {
		t.Errorf("did not fetch develop: %v", g.calls)
	}
	if fc.prs[0].Base != "develop" {
		t.Errorf("PR base = %q", fc.prs[0].Base)
	}
}

func TestIntegrateFetchFailure(t *testing.T) {
	g := newFakeGit()
	g.failOn["fetch"] = errors.New("network down")
	in, c := newTestIntegrator(t, g, &fakeForge{}, nil)

	_, err := in.Integrate(context.Background(), readyEntry())
	if !errkind.Is(err, errkind.ProcessFailure) {
		t.Fatalf("err = %v, want process_failure", err)
	}
	fail := c.find(bus.EventIntegrationFailed)
	if fail == nil || fail.Data["step"] != "fetch_main" {
		t.Fatalf("failed event = %+v", fail)
	}
}
