// Package runner executes pipeline requests end to end: classify the
// change, provision the execution environment, supervise the agent
// session, and translate its stream into lifecycle events on the bus.
package runner

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/internal/breaker"
	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/errkind"
	"github.com/mood-agency/funny-sub004/internal/git"
	"github.com/mood-agency/funny-sub004/internal/sandbox"
	"github.com/mood-agency/funny-sub004/pkg/models"
)

const defaultStopGrace = 10 * time.Second

// StatsFunc computes change statistics for a worktree against a base
// branch.
type StatsFunc func(worktreePath, baseBranch string) (models.ChangeStats, error)

// GitStats is the production StatsFunc, shelling to git in the worktree.
func GitStats(worktreePath, baseBranch string) (models.ChangeStats, error) {
	return git.NewRunner(worktreePath).DiffStats(baseBranch)
}

// SessionConfig is what a session factory needs to build one session.
type SessionConfig struct {
	Dir            string
	Model          string
	PermissionMode string
	MaxTurns       int
	Spawner        sandbox.Spawner
}

// SessionFactory builds the agent session a run drives. Tests inject
// scripted sessions; production defaults to the claude subprocess.
type SessionFactory func(sc SessionConfig) agent.Session

func cliSessionFactory(sc SessionConfig) agent.Session {
	return agent.NewCLISession(agent.CLIOptions{
		Dir:            sc.Dir,
		Model:          sc.Model,
		PermissionMode: sc.PermissionMode,
		MaxTurns:       sc.MaxTurns,
		Spawner:        sc.Spawner,
	})
}

// Options configure a Runner beyond its collaborators.
type Options struct {
	// Stats computes change statistics. Nil shells to git.
	Stats StatsFunc
	// NewSession builds agent sessions. Nil means the CLI backend.
	NewSession SessionFactory
	// StopGrace is how long Stop waits after interrupting a session
	// before killing it. Zero means 10s.
	StopGrace time.Duration
}

// Runner owns every in-flight pipeline run.
type Runner struct {
	cfg        *config.Config
	events     *bus.Bus
	agents     *breaker.Breaker
	sandbox    *sandbox.Provisioner
	stats      StatsFunc
	newSession SessionFactory
	stopGrace  time.Duration

	mu   sync.Mutex
	runs map[string]*pipelineRun
}

// New creates a Runner publishing to events and guarding session starts
// with the agents breaker.
func New(cfg *config.Config, events *bus.Bus, agents *breaker.Breaker, sb *sandbox.Provisioner, opts Options) *Runner {
	if opts.Stats == nil {
		opts.Stats = GitStats
	}
	if opts.NewSession == nil {
		opts.NewSession = cliSessionFactory
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = defaultStopGrace
	}
	return &Runner{
		cfg:        cfg,
		events:     events,
		agents:     agents,
		sandbox:    sb,
		stats:      opts.Stats,
		newSession: opts.NewSession,
		stopGrace:  opts.StopGrace,
		runs:       make(map[string]*pipelineRun),
	}
}

// Run executes one request to a terminal state. It blocks until the
// session ends; callers that need concurrency run it on its own
// goroutine. A session that produces a result settles the run through
// events and returns nil, whatever the outcome; infrastructure failures
// (validation, classification, session start, crash, stop) return an
// error after the corresponding events are published.
func (r *Runner) Run(ctx context.Context, req *models.PipelineRequest) error {
	if err := req.Validate(r.cfg.Branch.PipelinePrefix); err != nil {
		return errkind.E(errkind.Validation, "runner.run", err)
	}

	base := req.BaseBranch
	if base == "" {
		base = r.cfg.Branch.Main
	}
	run := &pipelineRun{
		state: &State{
			RequestID:      req.RequestID,
			Status:         models.StatusAccepted,
			PipelineBranch: r.cfg.Branch.PipelinePrefix + req.Branch,
			BaseBranch:     base,
			StartedAt:      time.Now().UTC(),
			Request:        *req,
		},
		translator: &translator{},
	}

	r.mu.Lock()
	if _, exists := r.runs[req.RequestID]; exists {
		r.mu.Unlock()
		return errkind.Errorf(errkind.Conflict, "runner.run", "request %s is already running", req.RequestID)
	}
	r.runs[req.RequestID] = run
	r.mu.Unlock()
	defer r.drop(req.RequestID)

	log.Printf("[runner] %s: accepted branch %s (worktree %s)", req.RequestID, req.Branch, req.WorktreePath)
	r.publish(run, bus.EventPipelineAccepted, map[string]any{
		"branch":        req.Branch,
		"worktree_path": req.WorktreePath,
	}, false)

	tier, stats, err := r.classify(req, base)
	if err != nil {
		return r.abort(run, err)
	}
	run.setTier(tier)
	run.transition(models.StatusRunning)
	r.publish(run, bus.EventPipelineTierClassified, map[string]any{
		"tier":          string(tier),
		"files_changed": stats.FilesChanged,
		"lines_changed": stats.LinesChanged,
	}, false)

	env := r.sandbox.Provision(req.WorktreePath)
	switch {
	case env.Spawner.Isolated():
		r.publish(run, bus.EventPipelineContainersReady, map[string]any{
			"runtime": string(env.Runtime),
			"image":   env.Image,
		}, false)
	case env.Fallback:
		r.publish(run, bus.EventPipelineMessage, map[string]any{
			"message": "no container runtime available, running the agent directly",
		}, false)
	}

	prompt := agent.BuildPipelinePrompt(agent.PipelinePromptSpec{
		Branch:         req.Branch,
		PipelineBranch: run.state.PipelineBranch,
		BaseBranch:     base,
		Tier:           tier,
		Agents:         r.roster(req, tier),
		MaxCorrections: r.cfg.AutoCorrection.MaxAttempts,
	})

	session := r.newSession(r.sessionConfig(req, env))
	run.setSession(session)

	if err := r.agents.Do(func() error { return session.Start(ctx, prompt) }); err != nil {
		return r.abort(run, err)
	}

	return r.consume(run, session)
}

// Stop asks a running pipeline to wind down. A stop arriving after the
// session's result has been observed is ignored.
func (r *Runner) Stop(requestID string) error {
	r.mu.Lock()
	run := r.runs[requestID]
	r.mu.Unlock()
	if run == nil {
		return errkind.Errorf(errkind.NotFound, "runner.stop", "no active pipeline for request %s", requestID)
	}
	if run.sawResult.Load() {
		log.Printf("[runner] %s: stop requested after result, ignoring", requestID)
		return nil
	}
	run.stopped.Store(true)
	session := run.getSession()
	if session == nil {
		return nil
	}
	log.Printf("[runner] %s: stopping session", requestID)
	return session.Stop(r.stopGrace)
}

// Snapshot returns a copy of an active run's state, or nil when the
// request is not running.
func (r *Runner) Snapshot(requestID string) *State {
	r.mu.Lock()
	run := r.runs[requestID]
	r.mu.Unlock()
	if run == nil {
		return nil
	}
	return run.snapshot()
}

// Active returns the request IDs of in-flight runs, sorted.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Runner) drop(requestID string) {
	r.mu.Lock()
	delete(r.runs, requestID)
	r.mu.Unlock()
}

// classify resolves the tier for a request. A forced tier in the
// request config skips the stats computation entirely.
func (r *Runner) classify(req *models.PipelineRequest, base string) (models.Tier, models.ChangeStats, error) {
	if req.Config != nil && req.Config.Tier != "" {
		return req.Config.Tier, models.ChangeStats{}, nil
	}
	stats, err := r.stats(req.WorktreePath, base)
	if err != nil {
		return "", models.ChangeStats{}, errkind.E(errkind.ProcessFailure, "runner.classify", err)
	}
	return classifyTier(stats, &r.cfg.Tiers), stats, nil
}

func (r *Runner) roster(req *models.PipelineRequest, tier models.Tier) []string {
	if req.Config != nil && len(req.Config.Agents) > 0 {
		return req.Config.Agents
	}
	return r.cfg.Tiers.Get(tier).Agents
}

func (r *Runner) sessionConfig(req *models.PipelineRequest, env *sandbox.Environment) SessionConfig {
	sc := SessionConfig{
		Dir:            req.WorktreePath,
		Model:          r.cfg.Agents.Pipeline.Model,
		PermissionMode: r.cfg.Agents.Pipeline.PermissionMode,
		MaxTurns:       r.cfg.Agents.Pipeline.MaxTurns,
		Spawner:        env.Spawner,
	}
	if req.Config != nil {
		if req.Config.Model != "" {
			sc.Model = req.Config.Model
		}
		if req.Config.MaxTurns > 0 {
			sc.MaxTurns = req.Config.MaxTurns
		}
	}
	return sc
}

// consume drains the session stream, applying each message to the run,
// then settles the terminal state from how the session ended.
func (r *Runner) consume(run *pipelineRun, session agent.Session) error {
	for msg := range session.Messages() {
		r.handle(run, msg)
	}
	waitErr := session.Wait()

	if run.sawResult.Load() {
		return nil
	}
	if run.stopped.Load() {
		run.transition(models.StatusFailed)
		r.publish(run, bus.EventPipelineStopped, map[string]any{
			"reason": "stopped by request",
		}, true)
		return errkind.Errorf(errkind.AgentFailure, "runner.run", "pipeline %s stopped by request", run.state.RequestID)
	}

	// The process went away without ever producing a result.
	run.transition(models.StatusError)
	data := map[string]any{"error": "Agent process exited unexpectedly"}
	if waitErr != nil {
		data["detail"] = waitErr.Error()
	}
	r.publish(run, bus.EventPipelineFailed, data, true)
	return errkind.E(errkind.AgentCrash, "runner.run", waitErr)
}

// handle forwards one stream message verbatim, then applies whatever
// lifecycle events it translates to.
func (r *Runner) handle(run *pipelineRun, msg agent.Message) {
	r.publish(run, bus.EventPipelineCLIMessage, map[string]any{
		"message": msg.Encode(),
	}, false)

	if msg.IsInit() {
		run.noteSession(msg.SessionID, msg.Model)
	}
	if msg.Type == agent.MessageTypeResult {
		run.sawResult.Store(true)
	}

	for _, ev := range run.translator.translate(&msg) {
		r.apply(run, ev)
	}
}

// apply moves the run's state for one lifecycle event and publishes it.
func (r *Runner) apply(run *pipelineRun, ev lifecycle) {
	terminal := false
	switch ev.Type {
	case bus.EventPipelineAgentStarted:
		if name, ok := ev.Data["agent_name"].(string); ok {
			run.addAgent(name)
		}
		// A dispatch while correcting means the announced pass is
		// underway again.
		if run.status() == models.StatusCorrecting {
			run.transition(models.StatusRunning)
		}
	case bus.EventPipelineCorrecting:
		run.transition(models.StatusCorrecting)
		if text, ok := ev.Data["text"].(string); ok {
			run.addCorrection(text)
		}
	case bus.EventPipelineCompleted:
		run.transition(models.StatusApproved)
		terminal = true
	case bus.EventPipelineFailed:
		run.transition(models.StatusFailed)
		terminal = true
	}
	r.publish(run, ev.Type, ev.Data, terminal)
}

// abort settles a run that failed outside the agent stream, before or
// during session start.
func (r *Runner) abort(run *pipelineRun, err error) error {
	run.transition(models.StatusError)
	r.publish(run, bus.EventPipelineFailed, map[string]any{
		"error": err.Error(),
	}, true)
	return err
}

// publish emits one event for the run. Terminal events are enriched with
// the state fields downstream handlers key on and carry the request
// metadata.
func (r *Runner) publish(run *pipelineRun, t bus.EventType, data map[string]any, terminal bool) {
	if terminal {
		run.enrich(data)
	}
	run.incEvents()
	ev := bus.Event{
		Type:      t,
		RequestID: run.state.RequestID,
		Data:      data,
	}
	if terminal {
		ev.Metadata = copyMetadata(run.state.Request.Metadata)
	}
	r.events.Publish(ev)
}

func copyMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
