package main

import (
	"strings"
	"testing"

	"github.com/mood-agency/funny-sub004/internal/config"
)

func TestMaskSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.Anthropic.APIKey = "sk-ant-REDACTED"
	cfg.Adapters.Webhooks = []config.WebhookConfig{
		{URL: "https://example.com/hooks", Secret: "hunter2"},
		{URL: "https://example.com/open"},
	}

	masked := maskSecrets(cfg)

	if strings.Contains(masked.Anthropic.APIKey, "abcdefghijklmnop") {
		t.Errorf("API key not masked: %q", masked.Anthropic.APIKey)
	}
	if !strings.HasPrefix(masked.Anthropic.APIKey, "sk-ant-") {
		t.Errorf("masked key lost its prefix: %q", masked.Anthropic.APIKey)
	}
	if masked.Adapters.Webhooks[0].Secret != "****" {
		t.Errorf("webhook secret = %q, want ****", masked.Adapters.Webhooks[0].Secret)
	}
	if masked.Adapters.Webhooks[1].Secret != "" {
		t.Errorf("empty webhook secret = %q, want empty", masked.Adapters.Webhooks[1].Secret)
	}

	// The original must stay untouched.
	if cfg.Anthropic.APIKey != "sk-ant-REDACTED" {
		t.Error("masking mutated the original API key")
	}
	if cfg.Adapters.Webhooks[0].Secret != "hunter2" {
		t.Error("masking mutated the original webhook secret")
	}
}
