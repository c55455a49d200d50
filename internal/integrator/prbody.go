package integrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mood-agency/funny-sub004/internal/manifest"
)

// BuildPRBody renders the integration pull request description from a
// ready entry's pipeline record. Agent rows come from the record's
// "agents" submap when present; otherwise the record itself is read as
// the agent map.
func BuildPRBody(entry manifest.ReadyEntry, conflictsResolved bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Pipeline Results (Tier: %s)\n\n", entry.Tier)
	b.WriteString("| Agent | Status | Details |\n")
	b.WriteString("|-------|--------|--------|\n")
	agents := agentRecords(entry.PipelineResult)
	if len(agents) == 0 {
		b.WriteString("| - | - | no per-agent record |\n")
	}
	for _, name := range sortedKeys(agents) {
		status, details := agentRow(agents[name])
		fmt.Fprintf(&b, "| %s | %s | %s |\n", name, status, details)
	}

	if len(entry.CorrectionsApplied) > 0 {
		b.WriteString("\n### Corrections Applied\n\n")
		for _, c := range entry.CorrectionsApplied {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	if conflictsResolved {
		b.WriteString("\n### Conflict Resolution\n\n")
		b.WriteString("Merge conflicts were automatically resolved by the conflict agent.\n")
	}

	fmt.Fprintf(&b, "\n---\nRequest ID: %s\n", entry.RequestID)
	return b.String()
}

func agentRecords(result map[string]any) map[string]any {
	if sub, ok := result["agents"].(map[string]any); ok {
		return sub
	}
	return result
}

// agentRow reads one agent's record out of the pipeline result. Unknown
// shapes degrade to a bare completed row rather than failing the PR.
func agentRow(v any) (status, details string) {
	status, details = "completed", "-"
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	if s, ok := m["status"].(string); ok && s != "" {
		status = s
	}
	if d, ok := m["details"].(string); ok && d != "" {
		details = d
	}
	return
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
