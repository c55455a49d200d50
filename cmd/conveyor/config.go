package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mood-agency/funny-sub004/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Print the configuration conveyor resolves for this directory, as YAML.

Values merge, highest precedence first:
  1. Environment variables (CONVEYOR_*, ANTHROPIC_API_KEY)
  2. Project config (.conveyor.yaml, found upward from here)
  3. User config (~/.config/conveyor/config.yaml)
  4. Built-in defaults

Secrets are masked in the output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if p := config.GetProjectConfigPath(); p != "" {
			fmt.Printf("# project config: %s\n", p)
		}
		if p := config.GetUserConfigPath(); p != "" {
			if _, err := os.Stat(p); err == nil {
				fmt.Printf("# user config: %s\n", p)
			}
		}

		out, err := yaml.Marshal(maskSecrets(cfg))
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

// maskSecrets copies the config with credential fields replaced by
// display-safe values.
func maskSecrets(cfg *config.Config) *config.Config {
	masked := *cfg
	masked.Anthropic.APIKey = config.MaskAPIKey(cfg.Anthropic.APIKey)
	masked.Adapters.Webhooks = make([]config.WebhookConfig, len(cfg.Adapters.Webhooks))
	copy(masked.Adapters.Webhooks, cfg.Adapters.Webhooks)
	for i := range masked.Adapters.Webhooks {
		if masked.Adapters.Webhooks[i].Secret != "" {
			masked.Adapters.Webhooks[i].Secret = "****"
		}
	}
	return &masked
}
