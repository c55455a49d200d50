package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// defaultMaxTokens caps a single API response.
const defaultMaxTokens = 8192

// ClientConfig configures direct Anthropic API access.
type ClientConfig struct {
	// Model is the model requests are sent to. Empty selects a default.
	Model string
	// APIKey authenticates direct API access. Ignored on Bedrock.
	APIKey string
	// UseBedrock routes requests through AWS Bedrock.
	UseBedrock bool
	// AWSRegion selects the Bedrock region. Empty uses the AWS default chain.
	AWSRegion string
	// AWSProfile selects a shared-config profile for Bedrock.
	AWSProfile string
	// MaxTokens caps tokens per response. Zero means the default.
	MaxTokens int64
}

// Client wraps the Anthropic SDK with Bedrock model translation and
// usage tracking shared across a session's turns.
type Client struct {
	sdk       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	usage     *UsageTracker
}

// NewClient builds an API client for direct or Bedrock access.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_5_20250929
	}

	var opts []option.RequestOption
	if cfg.UseBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
		model = translateModelForBedrock(model)
	} else {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("api key is required for direct API access")
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Client{
		sdk:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		usage:     &UsageTracker{},
	}, nil
}

// Model returns the model identifier requests are sent to, after any
// Bedrock translation.
func (c *Client) Model() anthropic.Model { return c.model }

// Usage returns the client's accumulated token usage.
func (c *Client) Usage() *UsageTracker { return c.usage }

// CreateMessage sends one conversation turn and records its token usage.
func (c *Client) CreateMessage(ctx context.Context, system string, msgs []anthropic.MessageParam, tools []anthropic.ToolUnionParam) (*anthropic.Message, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	c.usage.Add(resp.Usage)
	return resp, nil
}

// translateModelForBedrock converts Anthropic model names to Bedrock
// cross-region inference profile IDs (us.anthropic.{model}-v1:0).
// Names already in Bedrock format pass through untouched.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	if strings.Contains(string(model), "anthropic.") {
		return model
	}
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219:  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if translated, ok := bedrockModels[model]; ok {
		return anthropic.Model(translated)
	}
	return model
}

// ModelPricing is the cost per million tokens for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// modelPricing holds list prices keyed by model family. Bedrock profile
// IDs embed the bare model name, so lookups match on substring.
var modelPricing = map[string]ModelPricing{
	"claude-opus-4":    {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-sonnet-4":  {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-haiku-4-5": {InputPerMillion: 1.00, OutputPerMillion: 5.00},
	"claude-3-5-haiku": {InputPerMillion: 0.80, OutputPerMillion: 4.00},
}

// pricingFor finds the price table entry for a model, if known.
func pricingFor(model string) (ModelPricing, bool) {
	for family, p := range modelPricing {
		if strings.Contains(model, family) {
			return p, true
		}
	}
	return ModelPricing{}, false
}

// UsageTracker accumulates token usage across conversation turns.
type UsageTracker struct {
	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
}

// Add records the usage of one response.
func (t *UsageTracker) Add(usage anthropic.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTokens += usage.InputTokens
	t.outputTokens += usage.OutputTokens
}

// Tokens returns the accumulated input and output token counts.
func (t *UsageTracker) Tokens() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTokens, t.outputTokens
}

// Cost estimates the accumulated spend in USD for the given model.
// Unknown models cost zero rather than guessing.
func (t *UsageTracker) Cost(model string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := pricingFor(model)
	if !ok {
		return 0
	}
	return float64(t.inputTokens)/1e6*p.InputPerMillion +
		float64(t.outputTokens)/1e6*p.OutputPerMillion
}
