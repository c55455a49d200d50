// Package agent runs Claude Code sessions and exposes their output as
// a uniform stream of typed messages. Two backends implement the same
// Session interface: a claude subprocess in stream-json mode, and a
// direct Anthropic API loop that synthesizes the identical message
// shapes so consumers never need to know which one produced them.
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message types on the stream.
const (
	MessageTypeSystem    = "system"
	MessageTypeAssistant = "assistant"
	MessageTypeUser      = "user"
	MessageTypeResult    = "result"
)

// Subtypes that matter to consumers.
const (
	SubtypeInit     = "init"
	SubtypeSuccess  = "success"
	SubtypeMaxTurns = "error_max_turns"
	SubtypeError    = "error_during_execution"
)

// ContentBlock is one block inside an assistant or user payload.
type ContentBlock struct {
	// Type is "text", "tool_use" or "tool_result".
	Type string `json:"type"`
	// Text carries the body of a text block.
	Text string `json:"text,omitempty"`
	// ID identifies a tool_use block.
	ID string `json:"id,omitempty"`
	// Name is the tool being invoked.
	Name string `json:"name,omitempty"`
	// Input holds the tool invocation arguments.
	Input map[string]any `json:"input,omitempty"`
	// ToolUseID links a tool_result back to its tool_use.
	ToolUseID string `json:"tool_use_id,omitempty"`
	// Content is the tool result body, string or block list.
	Content json.RawMessage `json:"content,omitempty"`
	// IsError marks a failed tool result.
	IsError bool `json:"is_error,omitempty"`
}

// Payload is the nested Anthropic message inside assistant and user events.
type Payload struct {
	Role    string         `json:"role,omitempty"`
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"content"`
}

// Message is one event on an agent's output stream. Which fields are
// populated depends on Type: system/init carries the session identity,
// assistant and user carry a Payload, and result carries the terminal
// fields.
type Message struct {
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Model     string   `json:"model,omitempty"`
	Message   *Payload `json:"message,omitempty"`

	IsError      bool    `json:"is_error,omitempty"`
	Result       string  `json:"result,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`

	// Raw is the line this message was decoded from, kept for event
	// payloads and journaling. Synthesized messages re-encode on demand.
	Raw json.RawMessage `json:"-"`
}

// ParseMessage decodes one line of stream-json output. Blank lines
// yield (nil, nil) so callers can skip them without special-casing.
func ParseMessage(line []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("parse stream message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("stream message has no type")
	}
	msg.Raw = append(json.RawMessage(nil), trimmed...)
	return &msg, nil
}

// Encode returns the message as a JSON line. The original line is
// returned verbatim when the message came off the wire.
func (m *Message) Encode() json.RawMessage {
	if len(m.Raw) > 0 {
		return m.Raw
	}
	data, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// IsInit reports whether the message is the session banner.
func (m *Message) IsInit() bool {
	return m.Type == MessageTypeSystem && m.Subtype == SubtypeInit
}

// Text concatenates the text blocks of the payload.
func (m *Message) Text() string {
	if m.Message == nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range m.Message.Content {
		if b.Type != "text" || b.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(b.Text)
	}
	return sb.String()
}

// ToolUses returns the tool_use blocks of the payload.
func (m *Message) ToolUses() []ContentBlock {
	if m.Message == nil {
		return nil
	}
	var uses []ContentBlock
	for _, b := range m.Message.Content {
		if b.Type == "tool_use" {
			uses = append(uses, b)
		}
	}
	return uses
}

// InputString returns a string argument from a tool_use input, or ""
// when absent or not a string.
func (b ContentBlock) InputString(key string) string {
	v, ok := b.Input[key].(string)
	if !ok {
		return ""
	}
	return v
}
