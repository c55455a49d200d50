// Package orchestrator is the composition root. It accepts pipeline
// requests, holds the idempotency guard, and wires the event bus
// reactions that move a finished pipeline through the manifest, the
// director, the integrator and branch cleanup.
package orchestrator

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/cleaner"
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/errkind"
	"github.com/mood-agency/funny-sub004/internal/idempotency"
	"github.com/mood-agency/funny-sub004/internal/manifest"
	"github.com/mood-agency/funny-sub004/pkg/models"
)

// PipelineRunner runs submitted requests to a terminal state.
type PipelineRunner interface {
	Run(ctx context.Context, req *models.PipelineRequest) error
	Stop(requestID string) error
}

// Rebaser replays a pending integration branch onto a moved base.
type Rebaser interface {
	Rebase(ctx context.Context, entry manifest.PendingMergeEntry) (string, error)
}

// CycleTrigger asks the director for a debounced integration cycle.
type CycleTrigger interface {
	Trigger()
}

// BranchCleanup deletes the branches a pipeline leaves behind.
type BranchCleanup interface {
	CleanupAfterCompletion(requestID, branch, pipelineBranch string)
	CleanupAfterFailure(requestID, branch, pipelineBranch, worktreePath string)
	CleanupAfterMerge(requestID, branch, pipelineBranch, integrationBranch string)
}

var _ BranchCleanup = (*cleaner.Cleaner)(nil)

// Config names the collaborators the orchestrator wires together.
type Config struct {
	// Cfg is the resolved configuration.
	Cfg *config.Config
	// Bus is the event bus everything reacts over.
	Bus *bus.Bus
	// Runner executes pipelines.
	Runner PipelineRunner
	// Manifest owns the branch-flow record.
	Manifest *manifest.Manager
	// Guard enforces one active pipeline per branch.
	Guard *idempotency.Guard
	// Cleaner deletes finished branches. Nil disables cleanup.
	Cleaner BranchCleanup
	// Rebaser serves rebase_needed events. Nil disables rebasing.
	Rebaser Rebaser
	// Director receives debounced triggers after completions. Nil
	// means cycles only happen on the schedule interval.
	Director CycleTrigger
	// Debug is the file-backed debug logger. Nil means no-op.
	Debug *DebugLogger
}

// Orchestrator coordinates the flow request -> runner -> manifest ->
// director -> integrator -> cleanup.
type Orchestrator struct {
	cfg      *config.Config
	events   *bus.Bus
	runner   PipelineRunner
	mngr     *manifest.Manager
	guard    *idempotency.Guard
	cleaner  BranchCleanup
	rebaser  Rebaser
	director CycleTrigger
	debug    *DebugLogger

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
	wg     sync.WaitGroup
}

// New wires an orchestrator over its collaborators and subscribes the
// reactive handlers.
func New(c Config) *Orchestrator {
	o := &Orchestrator{
		cfg:      c.Cfg,
		events:   c.Bus,
		runner:   c.Runner,
		mngr:     c.Manifest,
		guard:    c.Guard,
		cleaner:  c.Cleaner,
		rebaser:  c.Rebaser,
		director: c.Director,
		debug:    c.Debug,
		timers:   make(map[*time.Timer]struct{}),
	}
	if o.debug == nil {
		o.debug = NopLogger()
	}
	o.wire()
	return o
}

// Submit validates and launches one pipeline run. It returns once the
// run is accepted; the run proceeds on its own goroutine and settles
// through events. A missing request ID is filled in.
func (o *Orchestrator) Submit(ctx context.Context, req *models.PipelineRequest) error {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if err := req.Validate(o.cfg.Branch.PipelinePrefix); err != nil {
		return errkind.E(errkind.Validation, "orchestrator.submit", err)
	}
	if res := o.guard.Check(req.Branch); res.IsDuplicate {
		return errkind.Errorf(errkind.Conflict, "orchestrator.submit",
			"branch %s already has an active pipeline (request %s)", req.Branch, res.ExistingRequestID)
	}
	o.guard.Register(req.Branch, req.RequestID)
	o.debug.Log("submit %s branch=%s worktree=%s", req.RequestID, req.Branch, req.WorktreePath)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.runner.Run(ctx, req); err != nil {
			log.Printf("[orchestrator] %s: run ended: %v", req.RequestID, err)
		}
	}()
	return nil
}

// Stop winds down one running pipeline.
func (o *Orchestrator) Stop(requestID string) error {
	o.debug.Log("stop %s", requestID)
	return o.runner.Stop(requestID)
}

// StopSignal adapts Stop to the signal watcher's callback, absorbing
// the not-found error a stale signal file produces.
func (o *Orchestrator) StopSignal(requestID string) {
	if err := o.Stop(requestID); err != nil {
		log.Printf("[orchestrator] stop signal for %s: %v", requestID, err)
	}
}

// Wait blocks until every submitted run has settled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels pending scheduled cleanups and flushes the guard. It
// does not wait for in-flight runs; use Wait for that.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	for tm := range o.timers {
		tm.Stop()
	}
	o.timers = make(map[*time.Timer]struct{})
	o.mu.Unlock()

	if err := o.guard.Flush(); err != nil {
		log.Printf("[orchestrator] flush guard: %v", err)
	}
}

// wire subscribes every reactive handler. Handlers filter on event
// type, absorb their own errors, and never propagate to the bus.
func (o *Orchestrator) wire() {
	o.events.On(bus.EventPipelineCompleted, o.onPipelineCompleted)
	o.events.On(bus.EventPipelineCompleted, o.releaseGuard)
	o.events.On(bus.EventPipelineFailed, o.releaseGuard)
	o.events.On(bus.EventPipelineStopped, o.releaseGuard)
	o.events.On(bus.EventPipelineFailed, o.onPipelineFailed)
	o.events.On(bus.EventDirectorPRRebaseNeeded, o.onRebaseNeeded)
	o.events.On(bus.EventIntegrationPRMerged, o.onPRMerged)
}

// onPipelineCompleted appends the finished pipeline to the manifest's
// ready compartment, schedules the pipeline-branch delete and nudges
// the director.
func (o *Orchestrator) onPipelineCompleted(ev bus.Event) {
	entry := readyEntryFrom(ev, o.cfg.Director.DefaultPriority)
	if entry.Branch == "" {
		log.Printf("[orchestrator] completed event for %s has no branch, skipping manifest", ev.RequestID)
		return
	}
	if err := o.mngr.AddToReady(entry); err != nil {
		log.Printf("[orchestrator] add %s to ready: %v", entry.Branch, err)
		return
	}
	o.debug.Log("ready += %s (request %s, priority %d)", entry.Branch, ev.RequestID, entry.Priority)

	if o.cleaner != nil {
		requestID, branch, pipelineBranch := ev.RequestID, entry.Branch, entry.PipelineBranch
		o.schedule(o.cfg.Director.AutoTriggerDelay(), func() {
			o.cleaner.CleanupAfterCompletion(requestID, branch, pipelineBranch)
		})
	}
	if o.director != nil {
		o.director.Trigger()
	}
}

// releaseGuard frees the branch on any terminal pipeline event.
func (o *Orchestrator) releaseGuard(ev bus.Event) {
	branch := str(ev.Data, "branch")
	if branch == "" {
		return
	}
	o.guard.Release(branch)
}

// onPipelineFailed cleans up what the failed run left behind. The
// cleaner honours keep_on_failure itself.
func (o *Orchestrator) onPipelineFailed(ev bus.Event) {
	if o.cleaner == nil {
		return
	}
	d := ev.Data
	o.cleaner.CleanupAfterFailure(ev.RequestID, str(d, "branch"), str(d, "pipeline_branch"), str(d, "worktree_path"))
}

// onRebaseNeeded locates the pending entry the director flagged and
// replays its integration branch onto the new base. The stored base
// SHA only moves after a fully successful rebase.
func (o *Orchestrator) onRebaseNeeded(ev bus.Event) {
	branch := str(ev.Data, "branch")
	if branch == "" || o.rebaser == nil {
		return
	}
	entry := o.findPending(branch)
	if entry == nil {
		log.Printf("[orchestrator] rebase needed for %s but no pending entry", branch)
		return
	}

	sha, err := o.rebaser.Rebase(context.Background(), *entry)
	if err != nil {
		log.Printf("[orchestrator] rebase %s: %v", branch, err)
		return
	}
	if err := o.mngr.UpdatePendingMergeBaseSHA(branch, sha); err != nil {
		log.Printf("[orchestrator] update base sha for %s: %v", branch, err)
		return
	}
	o.debug.Log("rebased %s onto %s", branch, sha)
}

// onPRMerged retires a pending entry whose PR merged externally and
// deletes both of its branches.
func (o *Orchestrator) onPRMerged(ev bus.Event) {
	d := ev.Data
	branch := str(d, "branch")
	if branch == "" {
		return
	}

	// Inbound notifications may omit the branch names the cleaner
	// needs; the pending entry still has them.
	entry := o.findPending(branch)

	if err := o.mngr.MoveToMergeHistory(branch, str(d, "commit_sha")); err != nil {
		log.Printf("[orchestrator] move %s to merge history: %v", branch, err)
		return
	}
	o.debug.Log("merge history += %s", branch)

	if o.cleaner == nil {
		return
	}
	requestID := ev.RequestID
	pipelineBranch := str(d, "pipeline_branch")
	integrationBranch := str(d, "integration_branch")
	if entry != nil {
		if requestID == "" {
			requestID = entry.RequestID
		}
		if pipelineBranch == "" {
			pipelineBranch = entry.PipelineBranch
		}
		if integrationBranch == "" {
			integrationBranch = entry.IntegrationBranch
		}
	}
	o.cleaner.CleanupAfterMerge(requestID, branch, pipelineBranch, integrationBranch)
}

// findPending returns a copy of the pending entry for branch, or nil.
func (o *Orchestrator) findPending(branch string) *manifest.PendingMergeEntry {
	snap, err := o.mngr.Snapshot()
	if err != nil {
		log.Printf("[orchestrator] manifest snapshot: %v", err)
		return nil
	}
	for i := range snap.PendingMerge {
		if snap.PendingMerge[i].Branch == branch {
			entry := snap.PendingMerge[i]
			return &entry
		}
	}
	return nil
}

// schedule runs fn after delay unless Close happens first.
func (o *Orchestrator) schedule(delay time.Duration, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		fn()
		o.mu.Lock()
		delete(o.timers, tm)
		o.mu.Unlock()
	})
	o.timers[tm] = struct{}{}
}

// readyEntryFrom builds the manifest entry out of a terminal event's
// enriched data. Priority and depends_on come from the request
// metadata the event carries.
func readyEntryFrom(ev bus.Event, defaultPriority int) manifest.ReadyEntry {
	d := ev.Data
	return manifest.ReadyEntry{
		Branch:             str(d, "branch"),
		PipelineBranch:     str(d, "pipeline_branch"),
		WorktreePath:       str(d, "worktree_path"),
		BaseBranch:         str(d, "base_branch"),
		RequestID:          ev.RequestID,
		Tier:               models.Tier(str(d, "tier")),
		PipelineResult:     pipelineResultFrom(d),
		CorrectionsApplied: strs(d["corrections_applied"]),
		Priority:           intOr(ev.Metadata["priority"], defaultPriority),
		DependsOn:          strs(ev.Metadata["depends_on"]),
	}
}

// pipelineResultFrom shapes the per-agent record the PR body renders:
// every agent the stream started is recorded as completed, since a
// pipeline only completes when its agents did.
func pipelineResultFrom(d map[string]any) map[string]any {
	agents := map[string]any{}
	for _, name := range strs(d["agents_started"]) {
		agents[name] = map[string]any{"status": "completed"}
	}
	result := map[string]any{"agents": agents}
	for _, key := range []string{"result", "duration_ms", "num_turns", "cost_usd"} {
		if v, ok := d[key]; ok {
			result[key] = v
		}
	}
	return result
}

func str(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

// strs tolerates both []string published in process and []any after a
// JSON round trip.
func strs(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func intOr(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
