package integrator

import (
	"strings"
	"testing"
)

func TestBuildPRBody(t *testing.T) {
	entry := readyEntry()
	entry.CorrectionsApplied = []string{"correction cycle 1: re-ran failing tests"}

	body := BuildPRBody(entry, true)

	if !strings.Contains(body, "## Pipeline Results (Tier: medium)") {
		t.Errorf("missing tier heading:\n%s", body)
	}
	impl := strings.Index(body, "| implementer | completed | patched session store |")
	test := strings.Index(body, "| tester | completed | all green |")
	if impl < 0 || test < impl {
		t.Errorf("agent rows missing or unsorted:\n%s", body)
	}
	if !strings.Contains(body, "### Corrections Applied") {
		t.Errorf("missing corrections section:\n%s", body)
	}
	if !strings.Contains(body, "- correction cycle 1: re-ran failing tests") {
		t.Errorf("missing correction bullet:\n%s", body)
	}
	if !strings.Contains(body, "Merge conflicts were automatically resolved by the conflict agent.") {
		t.Errorf("missing conflict note:\n%s", body)
	}
	if !strings.Contains(body, "Request ID: req-1") {
		t.Errorf("missing request id footer:\n%s", body)
	}
}

func TestBuildPRBodyWithoutOptionalSections(t *testing.T) {
	entry := readyEntry()
	body := BuildPRBody(entry, false)

	if strings.Contains(body, "### Corrections Applied") {
		t.Error("corrections section present without corrections")
	}
	if strings.Contains(body, "### Conflict Resolution") {
		t.Error("conflict section present for a clean merge")
	}
}

func TestBuildPRBodyEmptyRecord(t *testing.T) {
	entry := readyEntry()
	entry.PipelineResult = nil
	body := BuildPRBody(entry, false)

	if !strings.Contains(body, "| - | - | no per-agent record |") {
		t.Errorf("missing placeholder row:\n%s", body)
	}
}

func TestBuildPRBodyNestedAgentsRecord(t *testing.T) {
	entry := readyEntry()
	entry.PipelineResult = map[string]any{
		"agents": map[string]any{
			"implementer": map[string]any{"status": "completed", "details": "3 files"},
		},
		"result":      "done",
		"duration_ms": 1234,
		"cost_usd":    0.42,
	}
	body := BuildPRBody(entry, false)

	if !strings.Contains(body, "| implementer | completed | 3 files |") {
		t.Errorf("missing agent row:\n%s", body)
	}
	if strings.Contains(body, "| result |") || strings.Contains(body, "| duration_ms |") {
		t.Errorf("scalar record keys rendered as agents:\n%s", body)
	}
}

func TestBuildPRBodyDegradesUnknownShapes(t *testing.T) {
	entry := readyEntry()
	entry.PipelineResult = map[string]any{"reviewer": "done"}
	body := BuildPRBody(entry, false)

	if !strings.Contains(body, "| reviewer | completed | - |") {
		t.Errorf("unknown shape not degraded:\n%s", body)
	}
}
