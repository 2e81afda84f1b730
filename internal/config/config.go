// Package config handles home-agent configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./home-agent.yaml, ~/.config/home-agent/config.yaml,
// /etc/home-agent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"home-agent.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "home-agent", "config.yaml"))
	}

	paths = append(paths, "/etc/home-agent/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all home-agent configuration.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Model      ModelConfig      `yaml:"model"`
	Jellyseerr JellyseerrConfig `yaml:"jellyseerr"`
	Agent      AgentConfig      `yaml:"agent"`
	DBPath     string           `yaml:"db_path"`
	LogLevel   string           `yaml:"log_level"`
}

// TelegramConfig defines the Telegram bot connection and authorization.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	// AllowedUserIDs is the whitelist of Telegram user IDs permitted to
	// talk to the agent. An empty list rejects everyone.
	AllowedUserIDs []int64 `yaml:"allowed_user_ids"`
	// PollTimeoutSec is the long-poll timeout for getUpdates (default 30).
	PollTimeoutSec int `yaml:"poll_timeout_sec"`
	// RateLimitPerMin caps messages per sender per minute (0 = unlimited).
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// ModelConfig defines the LLM provider settings.
type ModelConfig struct {
	// Name is the model identifier sent to the provider
	// (e.g. "qwen/qwq-32b:free").
	Name string `yaml:"name"`
	// BaseURL is the OpenAI-compatible API root
	// (default: https://openrouter.ai/api/v1).
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// MaxRetries is the number of additional attempts after a 429 (default 3).
	MaxRetries int `yaml:"max_retries"`
	// BaseDelaySec is the first retry delay in seconds (default 1).
	BaseDelaySec int `yaml:"base_delay_sec"`
	// MaxDelaySec caps the exponential backoff (default 30).
	MaxDelaySec int `yaml:"max_delay_sec"`
}

// JellyseerrConfig defines the media-request service connection.
type JellyseerrConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// AgentConfig tunes the conversation driver.
type AgentConfig struct {
	// HistoryPairs is the number of complete request/response pairs
	// kept in the model's context window (default 20).
	HistoryPairs int `yaml:"history_pairs"`
	// DefaultLanguage is the reply language for profiles whose locale
	// hint is absent or unmapped (default "English").
	DefaultLanguage string `yaml:"default_language"`
	// MaxToolRounds bounds tool-call iterations per turn (default 8).
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all tunables at their defaults.
// Secrets (bot token, API keys) have no defaults and must come from
// the config file.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeoutSec: 30,
		},
		Model: ModelConfig{
			Name:         "qwen/qwq-32b:free",
			BaseURL:      "https://openrouter.ai/api/v1",
			MaxRetries:   3,
			BaseDelaySec: 1,
			MaxDelaySec:  30,
		},
		Jellyseerr: JellyseerrConfig{
			URL: "http://localhost:5055",
		},
		Agent: AgentConfig{
			HistoryPairs:    20,
			DefaultLanguage: "English",
			MaxToolRounds:   8,
		},
		DBPath:   "data/home-agent.db",
		LogLevel: "info",
	}
}

// Validate checks that required settings are present. Optional and
// evolving fields default silently; missing secrets are an error at
// startup rather than a confusing failure mid-conversation.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Jellyseerr.APIKey == "" {
		return fmt.Errorf("jellyseerr.api_key is required")
	}
	if c.Agent.HistoryPairs < 0 {
		return fmt.Errorf("agent.history_pairs must not be negative")
	}
	return nil
}
