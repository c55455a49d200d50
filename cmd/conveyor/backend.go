package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/integrator"
	"github.com/mood-agency/funny-sub004/internal/runner"
)

// Agent sessions default to the claude CLI subprocess. Setting
// CONVEYOR_USE_API=1, or backend: api on an agent role, switches that
// role to direct Anthropic API execution with local tool calls.
// CONVEYOR_USE_BEDROCK=1 routes API requests through AWS Bedrock using
// the ambient AWS credential chain.

func useAPI(backend string) bool {
	return backend == "api" || os.Getenv("CONVEYOR_USE_API") == "1"
}

func useBedrock() bool {
	return os.Getenv("CONVEYOR_USE_BEDROCK") == "1"
}

// apiClient builds an API client for one agent role.
func apiClient(ctx context.Context, cfg *config.Config, model string) (*agent.Client, error) {
	cc := agent.ClientConfig{
		Model:      model,
		UseBedrock: useBedrock(),
	}
	if !cc.UseBedrock {
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("api backend: %w (set ANTHROPIC_API_KEY or anthropic.api_key)", err)
		}
		cc.APIKey = key
	}
	return agent.NewClient(ctx, cc)
}

// pipelineSessions returns the runner's session factory for the
// configured pipeline backend. Nil keeps the CLI default.
func pipelineSessions(cfg *config.Config) (runner.SessionFactory, error) {
	if !useAPI(cfg.Agents.Pipeline.Backend) {
		return nil, nil
	}
	// Fail fast on missing credentials; per-session clients below can
	// only repeat this outcome.
	if _, err := apiClient(context.Background(), cfg, cfg.Agents.Pipeline.Model); err != nil {
		return nil, err
	}
	return func(sc runner.SessionConfig) agent.Session {
		client, err := apiClient(context.Background(), cfg, sc.Model)
		if err != nil {
			log.Printf("[cmd] api client unavailable (%v), using the claude CLI for this session", err)
			return agent.NewCLISession(agent.CLIOptions{
				Dir:            sc.Dir,
				Model:          sc.Model,
				PermissionMode: sc.PermissionMode,
				MaxTurns:       sc.MaxTurns,
				Spawner:        sc.Spawner,
			})
		}
		return agent.NewAPISession(client, agent.APIOptions{Dir: sc.Dir, MaxTurns: sc.MaxTurns})
	}, nil
}

// conflictResolver returns the integrator's conflict resolver for the
// configured conflict-agent backend.
func conflictResolver(cfg *config.Config) (integrator.ConflictResolver, error) {
	if !useAPI(cfg.Agents.Conflict.Backend) {
		return integrator.AgentResolver(cfg.Agents.Conflict), nil
	}
	client, err := apiClient(context.Background(), cfg, cfg.Agents.Conflict.Model)
	if err != nil {
		return nil, err
	}
	return integrator.APIResolver(cfg.Agents.Conflict, client), nil
}
