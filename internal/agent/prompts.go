package agent

import (
	"fmt"
	"strings"

	"github.com/mood-agency/funny-sub004/pkg/models"
)

// PipelinePromptSpec carries everything the pipeline prompt needs.
type PipelinePromptSpec struct {
	// Branch is the source branch under review.
	Branch string
	// PipelineBranch is the working branch the session must create.
	PipelineBranch string
	// BaseBranch is the eventual integration target.
	BaseBranch string
	// Tier is the size classification of the change.
	Tier models.Tier
	// Agents is the roster to dispatch, in order.
	Agents []string
	// MaxCorrections bounds the fix-and-rerun cycles.
	MaxCorrections int
}

// BuildPipelinePrompt renders the opening prompt for a pipeline
// session. The wording is load-bearing in two places: sub-agents must
// be dispatched through the Task tool, and correction passes must be
// announced as "correction cycle N", since downstream consumers key
// progress reporting off both.
func BuildPipelinePrompt(spec PipelinePromptSpec) string {
	var sb strings.Builder

	sb.WriteString("You are orchestrating a review pipeline for branch `")
	sb.WriteString(spec.Branch)
	sb.WriteString("`.\n\n")

	sb.WriteString("## Setup\n\n")
	fmt.Fprintf(&sb, "Create the working branch `%s` from `%s` and do all work on it.\n",
		spec.PipelineBranch, spec.Branch)
	fmt.Fprintf(&sb, "Never commit to `%s`", spec.Branch)
	if spec.BaseBranch != "" && spec.BaseBranch != spec.Branch {
		fmt.Fprintf(&sb, " or `%s`", spec.BaseBranch)
	}
	sb.WriteString(" directly.\n\n")

	sb.WriteString("## Pipeline\n\n")
	fmt.Fprintf(&sb, "This change is classified as tier %s. Dispatch each of these agents\n", spec.Tier)
	sb.WriteString("in order as a sub-agent, using the Task tool, and collect their findings:\n\n")
	for _, agent := range spec.Agents {
		fmt.Fprintf(&sb, "- %s\n", agent)
	}
	sb.WriteString("\n")

	sb.WriteString("## Corrections\n\n")
	sb.WriteString("If an agent reports problems, fix them and re-run the agents that\n")
	sb.WriteString("failed. Announce each pass by saying \"correction cycle N\" before it\n")
	fmt.Fprintf(&sb, "starts. Run at most %d correction cycles; if problems remain after\n", spec.MaxCorrections)
	sb.WriteString("the last one, stop and report the remaining issues honestly.\n\n")

	sb.WriteString("## Finish\n\n")
	fmt.Fprintf(&sb, "Commit all work on `%s` with clear messages. End with a\n", spec.PipelineBranch)
	sb.WriteString("summary of what each agent found and what was changed.\n")

	return sb.String()
}

// ConflictPromptSpec describes a merge conflict an agent must resolve.
type ConflictPromptSpec struct {
	// IntegrationBranch is the branch the merge stopped on.
	IntegrationBranch string
	// PipelineBranch is the branch that was being merged in.
	PipelineBranch string
	// BaseBranch is the branch the integration branch was cut from.
	BaseBranch string
	// Files are the paths git reported as conflicted.
	Files []string
}

// ConflictCommitMessage is the commit message the resolver agent is
// told to use. Verification after the session looks for it.
func ConflictCommitMessage(pipelineBranch string) string {
	return fmt.Sprintf("fix(integration): resolve merge conflicts for %s", pipelineBranch)
}

// BuildConflictPrompt renders the prompt for a conflict resolution
// session running inside the integration worktree.
func BuildConflictPrompt(spec ConflictPromptSpec) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are resolving merge conflicts on branch `%s`.\n\n", spec.IntegrationBranch)
	fmt.Fprintf(&sb, "A merge of `%s` into `%s` (cut from `%s`) stopped with\nconflicts in these files:\n\n",
		spec.PipelineBranch, spec.IntegrationBranch, spec.BaseBranch)
	for _, f := range spec.Files {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	sb.WriteString("\n## Instructions\n\n")
	sb.WriteString("1. Read each conflicted file and understand both sides of the conflict.\n")
	fmt.Fprintf(&sb, "2. Resolve every conflict semantically. When the sides contradict,\n   prefer the intent of the `%s` changes, but keep fixes\n   that arrived on `%s`.\n",
		spec.PipelineBranch, spec.BaseBranch)
	sb.WriteString("3. Remove every conflict marker (<<<<<<<, =======, >>>>>>>).\n")
	fmt.Fprintf(&sb, "4. Stage the resolved files and commit with exactly this message:\n   %s\n",
		ConflictCommitMessage(spec.PipelineBranch))
	fmt.Fprintf(&sb, "5. Remain on `%s`. Do not push, merge, or switch branches.\n",
		spec.IntegrationBranch)

	return sb.String()
}
