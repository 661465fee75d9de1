package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Companion CompanionConfig `json:"companion"`
	Provider  ProviderConfig  `json:"provider"`
	Gateway   GatewayConfig   `json:"gateway"`
	Memory    MemoryConfig    `json:"memory"`
	Schedule  ScheduleConfig  `json:"schedule"`
}

type CompanionConfig struct {
	Workspace   string `json:"workspace" env:"COMPANION_WORKSPACE"`
	Name        string `json:"name" env:"COMPANION_NAME"`
	DefaultMode string `json:"default_mode" env:"COMPANION_DEFAULT_MODE"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"COMPANION_PROVIDER_API_KEY"`
	APIBase string `json:"api_base" env:"COMPANION_PROVIDER_API_BASE"`
	Model   string `json:"model" env:"COMPANION_PROVIDER_MODEL"`
	Proxy   string `json:"proxy,omitempty" env:"COMPANION_PROVIDER_PROXY"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"COMPANION_GATEWAY_HOST"`
	Port int    `json:"port" env:"COMPANION_GATEWAY_PORT"`
}

type MemoryConfig struct {
	// Timeout for the blocking extraction/detection/synthesis LLM calls.
	// The chat stream has no such cap; it is user-visible and cancellable.
	LLMTimeoutSeconds int `json:"llm_timeout_seconds" env:"COMPANION_MEMORY_LLM_TIMEOUT_SECONDS"`
	InsightExpiryDays int `json:"insight_expiry_days" env:"COMPANION_MEMORY_INSIGHT_EXPIRY_DAYS"`
	StaleGoalDays     int `json:"stale_goal_days" env:"COMPANION_MEMORY_STALE_GOAL_DAYS"`
}

type ScheduleConfig struct {
	Enabled     bool   `json:"enabled" env:"COMPANION_SCHEDULE_ENABLED"`
	InsightCron string `json:"insight_cron" env:"COMPANION_SCHEDULE_INSIGHT_CRON"`
	DailyCron   string `json:"daily_cron" env:"COMPANION_SCHEDULE_DAILY_CRON"`
	WeeklyCron  string `json:"weekly_cron" env:"COMPANION_SCHEDULE_WEEKLY_CRON"`
}

func DefaultConfig() *Config {
	return &Config{
		Companion: CompanionConfig{
			Workspace:   "~/.companion/workspace",
			Name:        "Companion",
			DefaultMode: "assistant",
		},
		Provider: ProviderConfig{
			APIBase: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-5.2",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18890,
		},
		Memory: MemoryConfig{
			LLMTimeoutSeconds: 60,
			InsightExpiryDays: 3,
			StaleGoalDays:     7,
		},
		Schedule: ScheduleConfig{
			Enabled:     true,
			InsightCron: "0 * * * *",
			DailyCron:   "0 21 * * *",
			WeeklyCron:  "0 18 * * 0",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envErr := env.Parse(cfg); envErr != nil {
				return nil, envErr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks the settings required before any LLM-backed component starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("provider.api_key is required (or COMPANION_PROVIDER_API_KEY)")
	}
	if strings.TrimSpace(c.Companion.Workspace) == "" {
		return fmt.Errorf("companion.workspace is required")
	}
	return nil
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Companion.Workspace)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
