// Package config handles configuration loading for conveyor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mood-agency/funny-sub004/pkg/models"
)

// Config holds all configuration for conveyor.
type Config struct {
	Tiers          TiersConfig          `mapstructure:"tiers" yaml:"tiers"`
	Branch         BranchConfig         `mapstructure:"branch" yaml:"branch"`
	Agents         AgentsConfig         `mapstructure:"agents" yaml:"agents"`
	AutoCorrection AutoCorrectionConfig `mapstructure:"auto_correction" yaml:"auto_correction"`
	Resilience     ResilienceConfig     `mapstructure:"resilience" yaml:"resilience"`
	Director       DirectorConfig       `mapstructure:"director" yaml:"director"`
	Cleanup        CleanupConfig        `mapstructure:"cleanup" yaml:"cleanup"`
	Adapters       AdaptersConfig       `mapstructure:"adapters" yaml:"adapters"`
	Events         EventsConfig         `mapstructure:"events" yaml:"events"`
	Sandbox        SandboxConfig        `mapstructure:"sandbox" yaml:"sandbox"`
	Logging        LoggingConfig        `mapstructure:"logging" yaml:"logging"`
	Anthropic      AnthropicConfig      `mapstructure:"anthropic" yaml:"anthropic"`
}

// TierThresholds bounds one tier and names its agent roster.
type TierThresholds struct {
	// MaxFiles is the inclusive upper bound on files changed. Ignored for large.
	MaxFiles int `mapstructure:"max_files" yaml:"max_files"`
	// MaxLines is the inclusive upper bound on lines changed. Ignored for large.
	MaxLines int `mapstructure:"max_lines" yaml:"max_lines"`
	// Agents is the roster dispatched for this tier.
	Agents []string `mapstructure:"agents" yaml:"agents"`
}

// TiersConfig holds the monotone threshold chain small < medium < large.
type TiersConfig struct {
	Small  TierThresholds `mapstructure:"small" yaml:"small"`
	Medium TierThresholds `mapstructure:"medium" yaml:"medium"`
	Large  TierThresholds `mapstructure:"large" yaml:"large"`
}

// Get returns the thresholds for the given tier.
func (tc *TiersConfig) Get(tier models.Tier) TierThresholds {
	switch tier {
	case models.TierSmall:
		return tc.Small
	case models.TierMedium:
		return tc.Medium
	case models.TierLarge:
		return tc.Large
	default:
		return tc.Medium
	}
}

// BranchConfig names the branch namespaces the system owns.
type BranchConfig struct {
	// PipelinePrefix is the namespace for agent session branches. Must end with "/".
	PipelinePrefix string `mapstructure:"pipeline_prefix" yaml:"pipeline_prefix"`
	// IntegrationPrefix is the namespace for integration branches. Must end with "/".
	IntegrationPrefix string `mapstructure:"integration_prefix" yaml:"integration_prefix"`
	// Main is the default base branch.
	Main string `mapstructure:"main" yaml:"main"`
}

// AgentConfig configures one agent role.
type AgentConfig struct {
	// Model selects the model the agent session runs on.
	Model string `mapstructure:"model" yaml:"model"`
	// PermissionMode is passed through to the agent CLI.
	PermissionMode string `mapstructure:"permission_mode" yaml:"permission_mode"`
	// MaxTurns bounds the session length.
	MaxTurns int `mapstructure:"max_turns" yaml:"max_turns"`
	// Backend selects "cli" (subprocess) or "api" (direct API) execution.
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// AgentsConfig holds the two agent roles the system runs.
type AgentsConfig struct {
	Pipeline AgentConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Conflict AgentConfig `mapstructure:"conflict" yaml:"conflict"`
}

// AutoCorrectionConfig bounds self-correction cycles.
type AutoCorrectionConfig struct {
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeoutMS   int `mapstructure:"reset_timeout_ms" yaml:"reset_timeout_ms"`
}

// ResetTimeout returns the reset timeout as a duration.
func (b BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(b.ResetTimeoutMS) * time.Millisecond
}

// CircuitBreakerConfig holds the two named breakers.
type CircuitBreakerConfig struct {
	Agent BreakerConfig `mapstructure:"agent" yaml:"agent"`
	Forge BreakerConfig `mapstructure:"forge" yaml:"forge"`
}

// DLQConfig configures the dead-letter queue.
type DLQConfig struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled"`
	Path          string  `mapstructure:"path" yaml:"path"`
	MaxRetries    int     `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelayMS   int     `mapstructure:"base_delay_ms" yaml:"base_delay_ms"`
	BackoffFactor float64 `mapstructure:"backoff_factor" yaml:"backoff_factor"`
}

// BaseDelay returns the backoff seed as a duration.
func (d DLQConfig) BaseDelay() time.Duration {
	return time.Duration(d.BaseDelayMS) * time.Millisecond
}

// ResilienceConfig groups breaker and DLQ settings.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
	DLQ            DLQConfig            `mapstructure:"dlq" yaml:"dlq"`
}

// DirectorConfig configures integration scheduling.
type DirectorConfig struct {
	// AutoTriggerDelayMS debounces reactive cycles after pipeline completion.
	AutoTriggerDelayMS int `mapstructure:"auto_trigger_delay_ms" yaml:"auto_trigger_delay_ms"`
	// DefaultPriority is assigned to ready entries without an explicit priority.
	DefaultPriority int `mapstructure:"default_priority" yaml:"default_priority"`
	// ScheduleIntervalMS drives periodic cycles. Zero disables the interval.
	ScheduleIntervalMS int `mapstructure:"schedule_interval_ms" yaml:"schedule_interval_ms"`
}

// AutoTriggerDelay returns the reactive debounce as a duration.
func (d DirectorConfig) AutoTriggerDelay() time.Duration {
	return time.Duration(d.AutoTriggerDelayMS) * time.Millisecond
}

// ScheduleInterval returns the periodic interval as a duration.
func (d DirectorConfig) ScheduleInterval() time.Duration {
	return time.Duration(d.ScheduleIntervalMS) * time.Millisecond
}

// CleanupConfig configures post-completion branch deletion.
type CleanupConfig struct {
	// KeepOnFailure skips pipeline-branch deletion after failed runs.
	KeepOnFailure bool `mapstructure:"keep_on_failure" yaml:"keep_on_failure"`
	// StaleBranchDays is the age after which the sweep removes leftover branches.
	StaleBranchDays int `mapstructure:"stale_branch_days" yaml:"stale_branch_days"`
	// Protected lists glob patterns of branches that must never be deleted.
	Protected []string `mapstructure:"protected" yaml:"protected"`
}

// WebhookConfig configures one outbound webhook.
type WebhookConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
	// Secret is sent as X-Webhook-Secret when non-empty.
	Secret string `mapstructure:"secret" yaml:"secret"`
	// Events filters delivery to matching event types. Glob patterns allowed.
	// Empty delivers everything.
	Events []string `mapstructure:"events" yaml:"events"`
	// TimeoutMS bounds one delivery attempt. Zero means 10s.
	TimeoutMS int `mapstructure:"timeout_ms" yaml:"timeout_ms"`
}

// Timeout returns the per-delivery timeout as a duration.
func (w WebhookConfig) Timeout() time.Duration {
	if w.TimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(w.TimeoutMS) * time.Millisecond
}

// AdaptersConfig configures outbound delivery adapters.
type AdaptersConfig struct {
	// RetryIntervalMS is the DLQ retry scan interval.
	RetryIntervalMS int `mapstructure:"retry_interval_ms" yaml:"retry_interval_ms"`
	// Webhooks lists outbound webhook targets.
	Webhooks []WebhookConfig `mapstructure:"webhooks" yaml:"webhooks"`
}

// RetryInterval returns the DLQ scan interval as a duration.
func (a AdaptersConfig) RetryInterval() time.Duration {
	return time.Duration(a.RetryIntervalMS) * time.Millisecond
}

// EventsConfig configures the event journal.
type EventsConfig struct {
	// Path is the NDJSON journal file.
	Path string `mapstructure:"path" yaml:"path"`
}

// SandboxConfig configures isolated execution for agent sessions.
type SandboxConfig struct {
	// Enabled permits container isolation when a runtime is present.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Image is the container image agents run in. Empty runs agents
	// directly on the host even when a runtime is available.
	Image string `mapstructure:"image" yaml:"image"`
}

// LoggingConfig configures log verbosity.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AnthropicConfig holds credentials for the direct-API agent backend.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
}

// Load loads configuration from XDG paths, project overrides, and environment
// variables. Precedence (highest to lowest):
// 1. Environment variables (CONVEYOR_*, ANTHROPIC_API_KEY)
// 2. Project config (.conveyor.yaml in current directory or parent)
// 3. User config (~/.config/conveyor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CONVEYOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file, on top of defaults.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the loader cannot express.
func (c *Config) Validate() error {
	if !strings.HasSuffix(c.Branch.PipelinePrefix, "/") {
		return fmt.Errorf("branch.pipeline_prefix %q must end with /", c.Branch.PipelinePrefix)
	}
	if !strings.HasSuffix(c.Branch.IntegrationPrefix, "/") {
		return fmt.Errorf("branch.integration_prefix %q must end with /", c.Branch.IntegrationPrefix)
	}
	if c.Branch.PipelinePrefix == c.Branch.IntegrationPrefix {
		return fmt.Errorf("branch prefixes must differ, both are %q", c.Branch.PipelinePrefix)
	}
	if c.Branch.Main == "" {
		return fmt.Errorf("branch.main must not be empty")
	}
	if c.Tiers.Small.MaxFiles <= 0 || c.Tiers.Small.MaxLines <= 0 {
		return fmt.Errorf("tiers.small thresholds must be positive")
	}
	if c.Tiers.Medium.MaxFiles < c.Tiers.Small.MaxFiles || c.Tiers.Medium.MaxLines < c.Tiers.Small.MaxLines {
		return fmt.Errorf("tiers.medium thresholds must not be below tiers.small")
	}
	if c.AutoCorrection.MaxAttempts < 0 {
		return fmt.Errorf("auto_correction.max_attempts must not be negative")
	}
	if c.Resilience.DLQ.BackoffFactor < 1 {
		return fmt.Errorf("resilience.dlq.backoff_factor must be at least 1")
	}
	for i, hook := range c.Adapters.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("adapters.webhooks[%d].url must not be empty", i)
		}
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	// Tier thresholds. Large is unbounded; its limits are ignored.
	v.SetDefault("tiers.small.max_files", 5)
	v.SetDefault("tiers.small.max_lines", 200)
	v.SetDefault("tiers.small.agents", []string{"implementer", "tester"})
	v.SetDefault("tiers.medium.max_files", 20)
	v.SetDefault("tiers.medium.max_lines", 1000)
	v.SetDefault("tiers.medium.agents", []string{"planner", "implementer", "tester"})
	v.SetDefault("tiers.large.max_files", 0)
	v.SetDefault("tiers.large.max_lines", 0)
	v.SetDefault("tiers.large.agents", []string{"planner", "implementer", "reviewer", "tester"})

	// Branch namespaces
	v.SetDefault("branch.pipeline_prefix", "pipeline/")
	v.SetDefault("branch.integration_prefix", "integration/")
	v.SetDefault("branch.main", "main")

	// Agent roles
	v.SetDefault("agents.pipeline.model", "sonnet")
	v.SetDefault("agents.pipeline.permission_mode", "acceptEdits")
	v.SetDefault("agents.pipeline.max_turns", 50)
	v.SetDefault("agents.pipeline.backend", "cli")
	v.SetDefault("agents.conflict.model", "sonnet")
	v.SetDefault("agents.conflict.permission_mode", "acceptEdits")
	v.SetDefault("agents.conflict.max_turns", 30)
	v.SetDefault("agents.conflict.backend", "cli")

	// Correction cycles
	v.SetDefault("auto_correction.max_attempts", 3)

	// Circuit breakers
	v.SetDefault("resilience.circuit_breaker.agent.failure_threshold", 3)
	v.SetDefault("resilience.circuit_breaker.agent.reset_timeout_ms", 30000)
	v.SetDefault("resilience.circuit_breaker.forge.failure_threshold", 3)
	v.SetDefault("resilience.circuit_breaker.forge.reset_timeout_ms", 60000)

	// Dead-letter queue
	v.SetDefault("resilience.dlq.enabled", true)
	v.SetDefault("resilience.dlq.path", ".conveyor/dlq")
	v.SetDefault("resilience.dlq.max_retries", 5)
	v.SetDefault("resilience.dlq.base_delay_ms", 1000)
	v.SetDefault("resilience.dlq.backoff_factor", 2.0)

	// Director
	v.SetDefault("director.auto_trigger_delay_ms", 5000)
	v.SetDefault("director.default_priority", 0)
	v.SetDefault("director.schedule_interval_ms", 60000)

	// Cleanup
	v.SetDefault("cleanup.keep_on_failure", true)
	v.SetDefault("cleanup.stale_branch_days", 7)
	v.SetDefault("cleanup.protected", []string{"main", "master", "release/*"})

	// Adapters
	v.SetDefault("adapters.retry_interval_ms", 30000)

	// Event journal
	v.SetDefault("events.path", ".conveyor/events.ndjson")

	// Sandbox
	v.SetDefault("sandbox.enabled", true)
	v.SetDefault("sandbox.image", "")

	// Logging
	v.SetDefault("logging.level", "info")

	// Anthropic credentials for the API backend
	v.SetDefault("anthropic.api_key", "")
}

// getUserConfigDir returns the XDG config directory for conveyor.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conveyor")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conveyor")
	}
	return filepath.Join(home, ".config", "conveyor")
}

// findProjectConfig searches for .conveyor.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".conveyor.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		// Defaults always unmarshal; a failure here is a programming error.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// GetAPIKey returns the Anthropic API key for the direct-API agent backend.
// The environment variable wins over the config file.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}

	if cfg != nil && cfg.Anthropic.APIKey != "" {
		key := os.ExpandEnv(cfg.Anthropic.APIKey)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, nil
		}
	}

	return "", ErrNoAPIKey
}

// MaskAPIKey returns a display-safe version of an API key, keeping the
// prefix and the last four characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 12 {
		return "****"
	}
	return key[:7] + "..." + key[len(key)-4:]
}
