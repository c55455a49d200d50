package models

import (
	"fmt"
	"strings"
)

// PipelineRequest asks the orchestrator to run an agent pipeline on a branch.
type PipelineRequest struct {
	// RequestID uniquely identifies the request. Owned by the caller.
	RequestID string `json:"request_id"`
	// Branch is the source branch the pipeline works on.
	Branch string `json:"branch"`
	// WorktreePath is the caller-provided checkout the agent session runs in.
	WorktreePath string `json:"worktree_path"`
	// BaseBranch is the integration target. Empty means the configured main branch.
	BaseBranch string `json:"base_branch,omitempty"`
	// Config carries per-request overrides, if any.
	Config *RequestConfig `json:"config,omitempty"`
	// Metadata is propagated opaquely into terminal pipeline events.
	// The keys "priority" and "depends_on" influence integration scheduling.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RequestConfig overrides pipeline settings for a single request.
type RequestConfig struct {
	// Tier forces a size classification instead of computing one.
	Tier Tier `json:"tier,omitempty"`
	// Agents overrides the agent roster for the classified tier.
	Agents []string `json:"agents,omitempty"`
	// Model overrides the configured agent model.
	Model string `json:"model,omitempty"`
	// MaxTurns overrides the configured turn limit for the agent session.
	MaxTurns int `json:"max_turns,omitempty"`
}

// Validate checks the request for structural problems. pipelinePrefix is the
// branch namespace reserved for pipeline session branches.
func (r *PipelineRequest) Validate(pipelinePrefix string) error {
	if r.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if r.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	if r.WorktreePath == "" {
		return fmt.Errorf("worktree_path is required")
	}
	if pipelinePrefix != "" && strings.HasPrefix(r.Branch, pipelinePrefix) {
		return fmt.Errorf("branch %q is inside the reserved prefix %q", r.Branch, pipelinePrefix)
	}
	if r.Config != nil && r.Config.Tier != "" && !r.Config.Tier.Valid() {
		return fmt.Errorf("unknown tier %q", r.Config.Tier)
	}
	return nil
}
