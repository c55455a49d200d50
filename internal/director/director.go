// Package director serialises the progression of ready branches into
// integration. One cycle observes the remote base head, flags pending
// pull requests that fell behind it, and dispatches at most one ready
// entry to the integrator.
package director

import (
	"context"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/errkind"
	"github.com/mood-agency/funny-sub004/internal/graph"
	"github.com/mood-agency/funny-sub004/internal/integrator"
	"github.com/mood-agency/funny-sub004/internal/manifest"
)

// gitOps is the slice of git the director needs to observe the remote.
type gitOps interface {
	Fetch(remote string, refs ...string) error
	RevParse(ref string) (string, error)
}

// Dispatcher hands one ready entry to the integrator.
type Dispatcher interface {
	Integrate(ctx context.Context, entry manifest.ReadyEntry) (*integrator.Result, error)
}

// Options configure scheduling.
type Options struct {
	// Remote is where the base branch head is observed, usually origin.
	Remote string
	// MainBranch is the base whose head gates rebase detection.
	MainBranch string
	// Interval drives periodic cycles. Zero disables the ticker.
	Interval time.Duration
	// TriggerDelay debounces reactive cycle triggers.
	TriggerDelay time.Duration
}

// Director owns integration scheduling for one repository.
type Director struct {
	repo       gitOps
	mngr       *manifest.Manager
	dispatcher Dispatcher
	events     *bus.Bus
	opts       Options

	// running makes cycles mutually exclusive.
	running atomic.Bool

	mu      sync.Mutex
	timer   *time.Timer
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// New creates a Director. events may be nil when no bus is wired.
func New(repo gitOps, mngr *manifest.Manager, dispatcher Dispatcher, events *bus.Bus, opts Options) *Director {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.MainBranch == "" {
		opts.MainBranch = "main"
	}
	return &Director{
		repo:       repo,
		mngr:       mngr,
		dispatcher: dispatcher,
		events:     events,
		opts:       opts,
	}
}

// Start activates periodic scheduling. With a zero interval the
// director only cycles when triggered.
func (d *Director) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.stopCh = make(chan struct{})

	d.publish(bus.EventDirectorActivated, "", map[string]any{
		"interval_ms": d.opts.Interval.Milliseconds(),
	})
	if d.opts.Interval <= 0 {
		return
	}
	d.wg.Add(1)
	go d.loop(d.stopCh)
}

func (d *Director) loop(stopCh chan struct{}) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.RunCycle(context.Background()); err != nil {
				log.Printf("[director] scheduled cycle: %v", err)
			}
		case <-stopCh:
			return
		}
	}
}

// Stop halts periodic scheduling and cancels any pending trigger.
func (d *Director) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	close(d.stopCh)
	d.mu.Unlock()
	d.wg.Wait()
}

// Trigger schedules a cycle after the configured debounce delay.
// Triggers landing inside the window collapse into a single cycle.
func (d *Director) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.opts.TriggerDelay, func() {
		if err := d.RunCycle(context.Background()); err != nil {
			log.Printf("[director] triggered cycle: %v", err)
		}
	})
}

// RunCycle executes one scheduling cycle: observe the remote base head,
// flag stale pending PRs, dispatch the best eligible ready entry. A
// cycle arriving while another runs is skipped.
func (d *Director) RunCycle(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		log.Printf("[director] cycle already running, skipping")
		return nil
	}
	defer d.running.Store(false)

	head, err := d.observeMainHead()
	if err != nil {
		return err
	}
	if err := d.mngr.UpdateMainHead(head); err != nil {
		log.Printf("[director] recording main head: %v", err)
	}

	snap, err := d.mngr.Snapshot()
	if err != nil {
		return err
	}

	rebases := 0
	for _, pending := range snap.PendingMerge {
		if pending.BaseMainSHA == head {
			continue
		}
		rebases++
		log.Printf("[director] %s: PR #%d is behind %s (%s)", pending.Branch, pending.PRNumber, d.opts.MainBranch, head)
		d.publish(bus.EventDirectorPRRebaseNeeded, pending.RequestID, map[string]any{
			"branch":   pending.Branch,
			"new_base": head,
		})
	}

	queue := graph.Build(snap.Ready, mergedBranches(snap.MergeHistory))
	eligible := queue.Eligible()
	entry := pickNext(eligible)
	dispatched := false
	if entry != nil {
		dispatched = true
		d.dispatch(ctx, *entry)
	}

	for _, cycle := range queue.Stalled() {
		log.Printf("[director] dependency cycle stalls integration: %s", strings.Join(cycle, " -> "))
	}
	if entry == nil && len(snap.Ready) > 0 {
		for branch, deps := range queue.Unresolved() {
			log.Printf("[director] %s waits on branches not queued or merged: %v", branch, deps)
		}
	}

	d.publish(bus.EventDirectorCycleCompleted, "", map[string]any{
		"dispatched":     dispatched,
		"blocked":        len(snap.Ready) - len(eligible),
		"rebases_needed": rebases,
	})
	return nil
}

// dispatch hands one entry to the integrator and records the outcome.
// A failed integration leaves the entry in ready for the next cycle.
func (d *Director) dispatch(ctx context.Context, entry manifest.ReadyEntry) {
	log.Printf("[director] dispatching %s (priority %d)", entry.Branch, entry.Priority)
	d.publish(bus.EventDirectorIntegrationDispatched, entry.RequestID, map[string]any{
		"branch":   entry.Branch,
		"priority": entry.Priority,
	})

	res, err := d.dispatcher.Integrate(ctx, entry)
	if err != nil {
		log.Printf("[director] integration of %s failed: %v", entry.Branch, err)
		d.publish(bus.EventDirectorIntegrationFailed, entry.RequestID, map[string]any{
			"branch": entry.Branch,
			"error":  err.Error(),
		})
		return
	}

	move := manifest.PendingMergeInfo{
		PRNumber:          res.PRNumber,
		PRURL:             res.PRURL,
		IntegrationBranch: res.IntegrationBranch,
		BaseMainSHA:       res.BaseMainSHA,
	}
	if err := d.mngr.MoveToPendingMerge(entry.Branch, move); err != nil {
		log.Printf("[director] recording PR #%d for %s: %v", res.PRNumber, entry.Branch, err)
		d.publish(bus.EventDirectorIntegrationFailed, entry.RequestID, map[string]any{
			"branch": entry.Branch,
			"error":  err.Error(),
		})
		return
	}
	d.publish(bus.EventDirectorIntegrationPRCreated, entry.RequestID, map[string]any{
		"branch":    entry.Branch,
		"pr_number": res.PRNumber,
		"pr_url":    res.PRURL,
	})
}

// observeMainHead fetches the base branch and resolves its remote head.
func (d *Director) observeMainHead() (string, error) {
	if err := d.repo.Fetch(d.opts.Remote, d.opts.MainBranch); err != nil {
		return "", errkind.E(errkind.ProcessFailure, "director.observe", err)
	}
	sha, err := d.repo.RevParse(d.opts.Remote + "/" + d.opts.MainBranch)
	if err != nil {
		return "", errkind.E(errkind.ProcessFailure, "director.observe", err)
	}
	return sha, nil
}

// pickNext picks the integration candidate among eligible entries:
// highest priority first, then earliest ready_at, then
// lexicographically smallest branch.
func pickNext(eligible []manifest.ReadyEntry) *manifest.ReadyEntry {
	var best *manifest.ReadyEntry
	for i := range eligible {
		e := &eligible[i]
		if best == nil || precedes(e, best) {
			best = e
		}
	}
	return best
}

func precedes(a, b *manifest.ReadyEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ReadyAt.Equal(b.ReadyAt) {
		return a.ReadyAt.Before(b.ReadyAt)
	}
	return a.Branch < b.Branch
}

func mergedBranches(history []manifest.HistoryEntry) map[string]bool {
	merged := make(map[string]bool, len(history))
	for _, h := range history {
		merged[h.Branch] = true
	}
	return merged
}

func (d *Director) publish(t bus.EventType, requestID string, data map[string]any) {
	if d.events == nil {
		return
	}
	d.events.Publish(bus.Event{Type: t, RequestID: requestID, Data: data})
}
