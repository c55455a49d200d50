package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/mood-agency/funny-sub004/internal/breaker"
	"github.com/mood-agency/funny-sub004/internal/bus"
	"github.com/mood-agency/funny-sub004/internal/cleaner"
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/director"
	"github.com/mood-agency/funny-sub004/internal/forge"
	"github.com/mood-agency/funny-sub004/internal/git"
	"github.com/mood-agency/funny-sub004/internal/idempotency"
	"github.com/mood-agency/funny-sub004/internal/integrator"
	"github.com/mood-agency/funny-sub004/internal/manifest"
	"github.com/mood-agency/funny-sub004/internal/orchestrator"
	"github.com/mood-agency/funny-sub004/internal/runner"
	"github.com/mood-agency/funny-sub004/internal/sandbox"
	"github.com/mood-agency/funny-sub004/internal/state"
)

// stack is the assembled pipeline machinery shared by run and serve.
type stack struct {
	cfg      *config.Config
	repoPath string

	events   *bus.Bus
	runner   *runner.Runner
	mngr     *manifest.Manager
	guard    *idempotency.Guard
	clean    *cleaner.Cleaner
	integ    *integrator.Integrator
	director *director.Director
	orch     *orchestrator.Orchestrator
	agentBr  *breaker.Breaker
	forgeBr  *breaker.Breaker
	debug    *orchestrator.DebugLogger

	// store is the run-history database. May be nil; history is
	// best-effort and nothing in the pipeline path depends on it.
	store *state.DB
}

// statePath resolves a possibly relative state file against the repository.
func statePath(repoPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(repoPath, p)
}

// buildStack wires the pipeline machinery for the repository at repoPath.
// interval enables the director's periodic cycles; zero leaves the
// director trigger-only.
func buildStack(repoPath string, cfg *config.Config, interval time.Duration) (*stack, error) {
	events := bus.New(statePath(repoPath, cfg.Events.Path))

	agentBr := breaker.New("agent",
		cfg.Resilience.CircuitBreaker.Agent.FailureThreshold,
		cfg.Resilience.CircuitBreaker.Agent.ResetTimeout())
	forgeBr := breaker.New("forge",
		cfg.Resilience.CircuitBreaker.Forge.FailureThreshold,
		cfg.Resilience.CircuitBreaker.Forge.ResetTimeout())

	sb := sandbox.NewProvisioner(sandbox.Options{
		Enabled: cfg.Sandbox.Enabled,
		Image:   cfg.Sandbox.Image,
		Env:     os.Environ(),
	})

	guard := idempotency.New(filepath.Join(repoPath, ".conveyor", "active-pipelines.json"), 0)
	if err := guard.Load(); err != nil {
		return nil, fmt.Errorf("load active pipelines: %w", err)
	}

	repo := git.NewRunner(repoPath)
	mngr := manifest.NewManager(filepath.Join(repoPath, ".conveyor", "manifest.json"), cfg.Branch.Main)

	resolver, err := conflictResolver(cfg)
	if err != nil {
		return nil, err
	}
	sessions, err := pipelineSessions(cfg)
	if err != nil {
		return nil, err
	}

	integ := integrator.New(repoPath, events, forge.NewGitHub(nil, repoPath), agentBr, forgeBr, integrator.Options{
		MainBranch:        cfg.Branch.Main,
		IntegrationPrefix: cfg.Branch.IntegrationPrefix,
		Resolver:          resolver,
	})

	dir := director.New(repo, mngr, integ, events, director.Options{
		MainBranch:   cfg.Branch.Main,
		Interval:     interval,
		TriggerDelay: cfg.Director.AutoTriggerDelay(),
	})

	extraProtected, err := cleaner.LoadProtectedPatterns(config.ProtectedBranchesPath(repoPath))
	if err != nil {
		return nil, fmt.Errorf("load protected branches: %w", err)
	}

	clean := cleaner.New(repo, events, cleaner.Options{
		KeepOnFailure:     cfg.Cleanup.KeepOnFailure,
		StaleBranchDays:   cfg.Cleanup.StaleBranchDays,
		Protected:         slices.Concat(cfg.Cleanup.Protected, extraProtected),
		PipelinePrefix:    cfg.Branch.PipelinePrefix,
		IntegrationPrefix: cfg.Branch.IntegrationPrefix,
		WorktreesRoot:     filepath.Join(repoPath, ".conveyor", "worktrees"),
	})

	debug := orchestrator.NopLogger()
	if cfg.Logging.Level == "debug" {
		debug = orchestrator.NewDebugLoggerForRepo(repoPath)
	}

	s := &stack{
		cfg:      cfg,
		repoPath: repoPath,
		events:   events,
		runner:   runner.New(cfg, events, agentBr, sb, runner.Options{NewSession: sessions}),
		mngr:     mngr,
		guard:    guard,
		clean:    clean,
		integ:    integ,
		director: dir,
		agentBr:  agentBr,
		forgeBr:  forgeBr,
		debug:    debug,
	}

	s.orch = orchestrator.New(orchestrator.Config{
		Cfg:      cfg,
		Bus:      events,
		Runner:   s.runner,
		Manifest: mngr,
		Guard:    guard,
		Cleaner:  clean,
		Rebaser:  integ,
		Director: dir,
		Debug:    debug,
	})

	if db, err := state.OpenProject(repoPath); err != nil {
		fmt.Printf("Warning: run history unavailable: %v\n", err)
	} else if err := db.Migrate(); err != nil {
		fmt.Printf("Warning: run history migrations failed: %v\n", err)
		db.Close()
	} else {
		s.store = db
		state.NewRecorder(db).Attach(events)
	}

	return s, nil
}

// close winds the stack down. In-flight runs are not waited for; callers
// that need that call orch.Wait first.
func (s *stack) close() {
	s.director.Stop()
	s.orch.Close()
	if err := s.events.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "closing event journal: %v\n", err)
	}
	s.debug.Close()
	if s.store != nil {
		s.store.Close()
	}
}
