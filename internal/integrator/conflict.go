package integrator

import (
	"context"
	"log"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/internal/config"
	"github.com/mood-agency/funny-sub004/internal/errkind"
)

// ConflictResolver drives an agent session that resolves merge or
// rebase conflicts inside dir. A nil error means the session finished
// with a successful result; verification of the tree is the caller's
// job.
type ConflictResolver func(ctx context.Context, dir string, spec agent.ConflictPromptSpec) error

// AgentResolver returns the production resolver, running a claude
// session with the conflict agent settings.
func AgentResolver(cfg config.AgentConfig) ConflictResolver {
	return func(ctx context.Context, dir string, spec agent.ConflictPromptSpec) error {
		session := agent.NewCLISession(agent.CLIOptions{
			Dir:            dir,
			Model:          cfg.Model,
			PermissionMode: cfg.PermissionMode,
			MaxTurns:       cfg.MaxTurns,
		})
		return resolveConflicts(ctx, session, spec)
	}
}

// APIResolver returns a resolver running the conflict session directly
// against the API through client, with tool calls executed locally.
func APIResolver(cfg config.AgentConfig, client *agent.Client) ConflictResolver {
	return func(ctx context.Context, dir string, spec agent.ConflictPromptSpec) error {
		session := agent.NewAPISession(client, agent.APIOptions{
			Dir:      dir,
			MaxTurns: cfg.MaxTurns,
		})
		return resolveConflicts(ctx, session, spec)
	}
}

// resolveConflicts drives one conflict session to its result and
// classifies the outcome.
func resolveConflicts(ctx context.Context, session agent.Session, spec agent.ConflictPromptSpec) error {
	if err := session.Start(ctx, agent.BuildConflictPrompt(spec)); err != nil {
		return err
	}

	var result *agent.Message
	for msg := range session.Messages() {
		if msg.Type == agent.MessageTypeResult {
			m := msg
			result = &m
		}
	}
	waitErr := session.Wait()

	switch {
	case result == nil && waitErr != nil:
		return errkind.E(errkind.AgentCrash, "integrator.conflict_agent", waitErr)
	case result == nil:
		return errkind.Errorf(errkind.AgentCrash, "integrator.conflict_agent", "conflict agent exited without a result")
	case result.IsError:
		return errkind.Errorf(errkind.AgentFailure, "integrator.conflict_agent", "conflict agent failed: %s", firstLine(result.Result))
	}
	log.Printf("[integrator] conflict agent resolved %d files", len(spec.Files))
	return nil
}

// firstLine keeps error strings single-line for logs and events.
func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
