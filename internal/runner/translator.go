package runner

import (
	"regexp"

	"github.com/mood-agency/funny-sub004/internal/agent"
	"github.com/mood-agency/funny-sub004/internal/bus"
)

// dispatchTools are the tool names that launch a sub-agent inside the
// session. Anything else (Bash, Edit, ...) is ordinary tool traffic.
var dispatchTools = map[string]bool{
	"Task":           true,
	"dispatch_agent": true,
}

// correctionPatterns recognize the session announcing a self-correction
// pass in plain text. The pipeline prompt asks for "correction cycle N"
// wording, but sessions paraphrase, so several forms are accepted.
var correctionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)correction\s+cycle`),
	regexp.MustCompile(`(?i)re-?runn?ing\s+(the\s+)?failing`),
	regexp.MustCompile(`(?i)applying\s+(the\s+)?fix`),
	regexp.MustCompile(`(?i)fix(ing|ed)\s+.*\bre-?run`),
	regexp.MustCompile(`(?i)agents?\s+(that\s+)?failed.*re-?run`),
	regexp.MustCompile(`(?i)\bcorrection\s+(round|attempt|pass)\b`),
}

func matchesCorrection(text string) bool {
	for _, p := range correctionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// lifecycle is one event a stream message translates to.
type lifecycle struct {
	Type bus.EventType
	Data map[string]any
}

// translator turns one session's message stream into lifecycle events.
// It carries the per-run sub-state the translation rules depend on: how
// many agents have been dispatched, whether a correction cycle is
// underway, and how many corrections have been announced.
type translator struct {
	agentsStarted     int
	corrections       int
	inCorrectionCycle bool
}

// translate returns the lifecycle events for one message, or nil when
// the message carries none. User messages (tool results) and system
// messages other than init translate to nothing.
func (t *translator) translate(msg *agent.Message) []lifecycle {
	switch msg.Type {
	case agent.MessageTypeSystem:
		if msg.IsInit() {
			return []lifecycle{{bus.EventPipelineStarted, map[string]any{
				"session_id": msg.SessionID,
				"model":      msg.Model,
			}}}
		}
	case agent.MessageTypeAssistant:
		return t.translateAssistant(msg)
	case agent.MessageTypeResult:
		return t.translateResult(msg)
	}
	return nil
}

func (t *translator) translateAssistant(msg *agent.Message) []lifecycle {
	uses := msg.ToolUses()

	var events []lifecycle
	for _, use := range uses {
		if !dispatchTools[use.Name] {
			continue
		}
		t.agentsStarted++
		// Dispatching closes the announcement phase of a correction
		// cycle; the next announcement counts as a new cycle.
		t.inCorrectionCycle = false
		events = append(events, lifecycle{bus.EventPipelineAgentStarted, map[string]any{
			"tool_use_id": use.ID,
			"agent_name":  agentName(use),
			"input":       use.Input,
		}})
	}
	if len(uses) > 0 {
		// Correction announcements only count on text-only messages.
		return events
	}

	text := msg.Text()
	if text == "" || t.agentsStarted == 0 || t.inCorrectionCycle {
		return nil
	}
	if !matchesCorrection(text) {
		return nil
	}
	t.corrections++
	t.inCorrectionCycle = true
	return []lifecycle{{bus.EventPipelineCorrecting, map[string]any{
		"correction_number": t.corrections,
		"text":              clipText(text, 200),
	}}}
}

func (t *translator) translateResult(msg *agent.Message) []lifecycle {
	t.inCorrectionCycle = false
	if msg.IsError {
		return []lifecycle{{bus.EventPipelineFailed, map[string]any{
			"errors":            msg.Result,
			"result":            msg.Result,
			"duration_ms":       msg.DurationMS,
			"cost_usd":          msg.TotalCostUSD,
			"corrections_count": t.corrections,
		}}}
	}
	return []lifecycle{{bus.EventPipelineCompleted, map[string]any{
		"subtype":           msg.Subtype,
		"result":            msg.Result,
		"duration_ms":       msg.DurationMS,
		"num_turns":         msg.NumTurns,
		"cost_usd":          msg.TotalCostUSD,
		"corrections_count": t.corrections,
	}}}
}

// agentName pulls the sub-agent identity out of a dispatch call. The
// Task tool names the agent in subagent_type and describes it in
// description; either serves, falling back to the tool name itself.
func agentName(use agent.ContentBlock) string {
	if name := use.InputString("subagent_type"); name != "" {
		return name
	}
	if name := use.InputString("description"); name != "" {
		return name
	}
	return use.Name
}

func clipText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
