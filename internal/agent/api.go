package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
)

// defaultAPIMaxTurns bounds the tool loop when no limit is configured.
const defaultAPIMaxTurns = 50

// APIOptions configure a direct API session.
type APIOptions struct {
	// Dir is the worktree tool calls execute in.
	Dir string
	// MaxTurns caps the tool loop. Zero means the default.
	MaxTurns int
	// System is the system prompt, if any.
	System string
}

// APISession runs the agent conversation directly against the Anthropic
// API, executing tool calls locally. It synthesizes the same message
// stream a claude subprocess would produce: a system init banner, one
// assistant message per turn, one user message per batch of tool
// results, and a terminal result.
type APISession struct {
	client   *Client
	opts     APIOptions
	tools    *ToolExecutor
	messages chan Message
	done     chan struct{}
	runErr   error
	cancel   context.CancelFunc
	stopOnce sync.Once
}

var _ Session = (*APISession)(nil)

// NewAPISession prepares an API-backed session over the given client.
func NewAPISession(client *Client, opts APIOptions) *APISession {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = defaultAPIMaxTurns
	}
	return &APISession{
		client:   client,
		opts:     opts,
		tools:    NewToolExecutor(opts.Dir),
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
	}
}

// Start launches the conversation loop in the background.
func (s *APISession) Start(ctx context.Context, prompt string) error {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx, prompt)
	return nil
}

// Messages returns the synthesized stream. Closed when the loop ends.
func (s *APISession) Messages() <-chan Message { return s.messages }

// Wait blocks until the loop ends. It returns non-nil only when the
// session was cancelled before producing a result; API failures are
// reported on the stream as an error result instead.
func (s *APISession) Wait() error {
	<-s.done
	return s.runErr
}

// Stop cancels the conversation. The grace period is ignored since
// cancellation takes effect at the next API or tool boundary.
func (s *APISession) Stop(grace time.Duration) error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}

func (s *APISession) run(ctx context.Context, prompt string) {
	defer close(s.done)
	defer close(s.messages)

	start := time.Now()
	sessionID := uuid.NewString()
	model := string(s.client.Model())

	s.emit(ctx, Message{
		Type:      MessageTypeSystem,
		Subtype:   SubtypeInit,
		SessionID: sessionID,
		Model:     model,
	})

	conv := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	}
	tools := ToolDefinitions()

	for turn := 1; turn <= s.opts.MaxTurns; turn++ {
		resp, err := s.client.CreateMessage(ctx, s.opts.System, conv, tools)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled. No result, like a killed subprocess.
				s.runErr = ctx.Err()
				return
			}
			s.emit(ctx, s.result(Message{
				Subtype:  SubtypeError,
				IsError:  true,
				Result:   fmt.Sprintf("API request failed: %v", err),
				NumTurns: turn - 1,
			}, sessionID, start))
			return
		}

		blocks := blocksFromResponse(resp)
		s.emit(ctx, Message{
			Type:      MessageTypeAssistant,
			SessionID: sessionID,
			Message:   &Payload{Role: "assistant", Model: model, Content: blocks},
		})

		toolUses := collectToolUses(resp)
		if len(toolUses) == 0 || resp.StopReason == anthropic.StopReasonEndTurn {
			s.emit(ctx, s.result(Message{
				Subtype:  SubtypeSuccess,
				Result:   textOfResponse(resp),
				NumTurns: turn,
			}, sessionID, start))
			return
		}

		conv = append(conv, resp.ToParam())
		var resultParams []anthropic.ContentBlockParamUnion
		var resultBlocks []ContentBlock
		for _, use := range toolUses {
			if ctx.Err() != nil {
				s.runErr = ctx.Err()
				return
			}
			tr := s.tools.Execute(ctx, use.Name, json.RawMessage(use.JSON.Input.Raw()))
			resultParams = append(resultParams,
				anthropic.NewToolResultBlock(use.ID, tr.Content, tr.IsError))
			content, _ := json.Marshal(tr.Content)
			resultBlocks = append(resultBlocks, ContentBlock{
				Type:      "tool_result",
				ToolUseID: use.ID,
				Content:   content,
				IsError:   tr.IsError,
			})
		}
		conv = append(conv, anthropic.NewUserMessage(resultParams...))
		s.emit(ctx, Message{
			Type:      MessageTypeUser,
			SessionID: sessionID,
			Message:   &Payload{Role: "user", Content: resultBlocks},
		})
	}

	s.emit(ctx, s.result(Message{
		Subtype:  SubtypeMaxTurns,
		IsError:  true,
		Result:   fmt.Sprintf("conversation did not finish within %d turns", s.opts.MaxTurns),
		NumTurns: s.opts.MaxTurns,
	}, sessionID, start))
}

// result fills the terminal fields shared by every result message.
func (s *APISession) result(m Message, sessionID string, start time.Time) Message {
	m.Type = MessageTypeResult
	m.SessionID = sessionID
	m.DurationMS = time.Since(start).Milliseconds()
	m.TotalCostUSD = s.client.Usage().Cost(string(s.client.Model()))
	return m
}

// emit delivers a message unless the session was cancelled.
func (s *APISession) emit(ctx context.Context, m Message) {
	select {
	case s.messages <- m:
	case <-ctx.Done():
	}
}

// blocksFromResponse converts SDK content blocks into stream blocks.
func blocksFromResponse(resp *anthropic.Message) []ContentBlock {
	var blocks []ContentBlock
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			blocks = append(blocks, ContentBlock{Type: "text", Text: b.Text})
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal([]byte(b.JSON.Input.Raw()), &input)
			blocks = append(blocks, ContentBlock{
				Type:  "tool_use",
				ID:    b.ID,
				Name:  b.Name,
				Input: input,
			})
		}
	}
	return blocks
}

// collectToolUses pulls the tool_use blocks out of a response.
func collectToolUses(resp *anthropic.Message) []anthropic.ToolUseBlock {
	var uses []anthropic.ToolUseBlock
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			uses = append(uses, b)
		}
	}
	return uses
}

// textOfResponse concatenates the text blocks of a response.
func textOfResponse(resp *anthropic.Message) string {
	var text string
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			if text != "" {
				text += "\n"
			}
			text += b.Text
		}
	}
	return text
}
