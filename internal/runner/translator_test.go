package runner

import (
	"strings"
	"testing"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/internal/bus"
)

func initMsg(sessionID, model string) agent.Message {
	return agent.Message{
		Type:      agent.MessageTypeSystem,
		Subtype:   agent.SubtypeInit,
		SessionID: sessionID,
		Model:     model,
	}
}

func textMsg(text string) agent.Message {
	return agent.Message{
		Type: agent.MessageTypeAssistant,
		Message: &agent.Payload{
			Role:    "assistant",
			Content: []agent.ContentBlock{{Type: "text", Text: text}},
		},
	}
}

func dispatchMsg(id, tool string, input map[string]any) agent.Message {
	return agent.Message{
		Type: agent.MessageTypeAssistant,
		Message: &agent.Payload{
			Role:    "assistant",
			Content: []agent.ContentBlock{{Type: "tool_use", ID: id, Name: tool, Input: input}},
		},
	}
}

func resultMsg(isError bool, result string) agent.Message {
	return agent.Message{
		Type:         agent.MessageTypeResult,
		Subtype:      agent.SubtypeSuccess,
		IsError:      isError,
		Result:       result,
		DurationMS:   1234,
		NumTurns:     7,
		TotalCostUSD: 0.42,
	}
}

func TestTranslateInit(t *testing.T) {
	tr := &translator{}
	msg := initMsg("sess-1", "claude-sonnet-4-5")
	events := tr.translate(&msg)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != bus.EventPipelineStarted {
		t.Fatalf("type = %s, want %s", ev.Type, bus.EventPipelineStarted)
	}
	if ev.Data["session_id"] != "sess-1" || ev.Data["model"] != "claude-sonnet-4-5" {
		t.Errorf("data = %v", ev.Data)
	}
}

func TestTranslateDispatch(t *testing.T) {
	tr := &translator{}
	msg := dispatchMsg("toolu_01", "Task", map[string]any{"subagent_type": "tester", "prompt": "run the tests"})
	events := tr.translate(&msg)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Type != bus.EventPipelineAgentStarted {
		t.Fatalf("type = %s, want %s", ev.Type, bus.EventPipelineAgentStarted)
	}
	if ev.Data["tool_use_id"] != "toolu_01" {
		t.Errorf("tool_use_id = %v", ev.Data["tool_use_id"])
	}
	if ev.Data["agent_name"] != "tester" {
		t.Errorf("agent_name = %v", ev.Data["agent_name"])
	}
	if tr.agentsStarted != 1 {
		t.Errorf("agentsStarted = %d, want 1", tr.agentsStarted)
	}
}

func TestTranslateDispatchNameFallbacks(t *testing.T) {
	tr := &translator{}

	msg := dispatchMsg("t1", "Task", map[string]any{"description": "Run linter"})
	events := tr.translate(&msg)
	if got := events[0].Data["agent_name"]; got != "Run linter" {
		t.Errorf("agent_name = %v, want description fallback", got)
	}

	msg = dispatchMsg("t2", "dispatch_agent", nil)
	events = tr.translate(&msg)
	if got := events[0].Data["agent_name"]; got != "dispatch_agent" {
		t.Errorf("agent_name = %v, want tool name fallback", got)
	}
}

func TestTranslateMultipleDispatchesInOneMessage(t *testing.T) {
	tr := &translator{}
	msg := agent.Message{
		Type: agent.MessageTypeAssistant,
		Message: &agent.Payload{
			Role: "assistant",
			Content: []agent.ContentBlock{
				{Type: "text", Text: "Dispatching both agents now."},
				{Type: "tool_use", ID: "t1", Name: "Task", Input: map[string]any{"subagent_type": "implementer"}},
				{Type: "tool_use", ID: "t2", Name: "Task", Input: map[string]any{"subagent_type": "tester"}},
			},
		},
	}
	events := tr.translate(&msg)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if tr.agentsStarted != 2 {
		t.Errorf("agentsStarted = %d, want 2", tr.agentsStarted)
	}
}

func TestTranslateNonDispatchToolUse(t *testing.T) {
	tr := &translator{}
	tr.agentsStarted = 1
	msg := dispatchMsg("t1", "Bash", map[string]any{"command": "go test ./..."})
	if events := tr.translate(&msg); events != nil {
		t.Errorf("Bash tool use translated to %v, want nil", events)
	}
}

func TestCorrectionBeforeAnyAgentIgnored(t *testing.T) {
	tr := &translator{}
	msg := textMsg("Starting correction cycle 1")
	if events := tr.translate(&msg); events != nil {
		t.Errorf("correction before any agent start translated to %v, want nil", events)
	}
}

func TestCorrectionAfterAgentStart(t *testing.T) {
	tr := &translator{}
	d := dispatchMsg("t1", "Task", map[string]any{"subagent_type": "tester"})
	tr.translate(&d)

	msg := textMsg("Starting correction cycle 1: the tester found two failures.")
	events := tr.translate(&msg)
	if len(events) != 1 || events[0].Type != bus.EventPipelineCorrecting {
		t.Fatalf("got %v, want one correcting event", events)
	}
	if events[0].Data["correction_number"] != 1 {
		t.Errorf("correction_number = %v, want 1", events[0].Data["correction_number"])
	}
	if text, _ := events[0].Data["text"].(string); !strings.Contains(text, "correction cycle 1") {
		t.Errorf("text = %q", text)
	}
}

func TestSecondAnnouncementInCycleIgnored(t *testing.T) {
	tr := &translator{}
	d := dispatchMsg("t1", "Task", map[string]any{"subagent_type": "tester"})
	tr.translate(&d)

	first := textMsg("Starting correction cycle 1")
	tr.translate(&first)

	second := textMsg("Re-running the failing agents")
	if events := tr.translate(&second); events != nil {
		t.Errorf("second announcement in-cycle translated to %v, want nil", events)
	}
	if tr.corrections != 1 {
		t.Errorf("corrections = %d, want 1", tr.corrections)
	}
}

func TestDispatchClosesCorrectionCycle(t *testing.T) {
	tr := &translator{}
	msgs := []agent.Message{
		dispatchMsg("t1", "Task", map[string]any{"subagent_type": "tester"}),
		textMsg("Starting correction cycle 1"),
		dispatchMsg("t2", "Task", map[string]any{"subagent_type": "tester"}),
		textMsg("Starting correction cycle 2"),
	}
	var correcting []lifecycle
	for i := range msgs {
		for _, ev := range tr.translate(&msgs[i]) {
			if ev.Type == bus.EventPipelineCorrecting {
				correcting = append(correcting, ev)
			}
		}
	}
	if len(correcting) != 2 {
		t.Fatalf("got %d correcting events, want 2", len(correcting))
	}
	if correcting[1].Data["correction_number"] != 2 {
		t.Errorf("second correction_number = %v, want 2", correcting[1].Data["correction_number"])
	}
}

func TestCorrectionTextRequiresTextOnlyMessage(t *testing.T) {
	tr := &translator{}
	d := dispatchMsg("t1", "Task", map[string]any{"subagent_type": "tester"})
	tr.translate(&d)

	msg := agent.Message{
		Type: agent.MessageTypeAssistant,
		Message: &agent.Payload{
			Role: "assistant",
			Content: []agent.ContentBlock{
				{Type: "text", Text: "Applying the fix now."},
				{Type: "tool_use", ID: "t2", Name: "Bash", Input: map[string]any{"command": "make lint"}},
			},
		},
	}
	if events := tr.translate(&msg); events != nil {
		t.Errorf("mixed text and tool use translated to %v, want nil", events)
	}
}

func TestTranslateResultSuccess(t *testing.T) {
	tr := &translator{corrections: 2}
	msg := resultMsg(false, "All agents passed.")
	events := tr.translate(&msg)
	if len(events) != 1 || events[0].Type != bus.EventPipelineCompleted {
		t.Fatalf("got %v, want one completed event", events)
	}
	data := events[0].Data
	if data["subtype"] != agent.SubtypeSuccess {
		t.Errorf("subtype = %v", data["subtype"])
	}
	if data["result"] != "All agents passed." {
		t.Errorf("result = %v", data["result"])
	}
	if data["duration_ms"] != int64(1234) || data["num_turns"] != 7 {
		t.Errorf("duration_ms = %v num_turns = %v", data["duration_ms"], data["num_turns"])
	}
	if data["cost_usd"] != 0.42 {
		t.Errorf("cost_usd = %v", data["cost_usd"])
	}
	if data["corrections_count"] != 2 {
		t.Errorf("corrections_count = %v, want 2", data["corrections_count"])
	}
}

func TestTranslateResultError(t *testing.T) {
	tr := &translator{}
	msg := resultMsg(true, "tester could not be satisfied")
	events := tr.translate(&msg)
	if len(events) != 1 || events[0].Type != bus.EventPipelineFailed {
		t.Fatalf("got %v, want one failed event", events)
	}
	data := events[0].Data
	if data["errors"] != "tester could not be satisfied" {
		t.Errorf("errors = %v", data["errors"])
	}
	if data["corrections_count"] != 0 {
		t.Errorf("corrections_count = %v, want 0", data["corrections_count"])
	}
}

func TestTranslateUserAndUnknownMessages(t *testing.T) {
	tr := &translator{}
	user := agent.Message{Type: agent.MessageTypeUser}
	if events := tr.translate(&user); events != nil {
		t.Errorf("user message translated to %v, want nil", events)
	}
	sys := agent.Message{Type: agent.MessageTypeSystem, Subtype: "status"}
	if events := tr.translate(&sys); events != nil {
		t.Errorf("non-init system message translated to %v, want nil", events)
	}
}

func TestCorrectionPatterns(t *testing.T) {
	matches := []string{
		"Starting correction cycle 1",
		"Correction Cycle 2: addressing the review feedback",
		"Re-running the failing agents",
		"rerunning failing tests now",
		"Applying the fix for the import cycle",
		"applying fixes to the handler",
		"Fixed the nil deref, will re-run the tester",
		"fixing the race and re-running everything",
		"The agents that failed will be re-run",
		"agent failed, scheduling a re-run",
		"beginning correction pass over the diff",
		"one more correction attempt",
		"second correction round",
	}
	for _, text := range matches {
		if !matchesCorrection(text) {
			t.Errorf("matchesCorrection(%q) = false, want true", text)
		}
	}

	nonMatches := []string{
		"All agents completed successfully",
		"No corrections were needed",
		"Running the test suite",
		"The fix will land in the next release",
		"Dispatching the tester agent",
	}
	for _, text := range nonMatches {
		if matchesCorrection(text) {
			t.Errorf("matchesCorrection(%q) = true, want false", text)
		}
	}
}

func TestClipText(t *testing.T) {
	if got := clipText("short", 10); got != "short" {
		t.Errorf("clipText = %q", got)
	}
	long := strings.Repeat("x", 300)
	got := clipText(long, 200)
	if len(got) != 203 || !strings.HasSuffix(got, "...") {
		t.Errorf("clipText length = %d, suffix %q", len(got), got[len(got)-3:])
	}
}
