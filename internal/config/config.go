// Package config handles configuration loading and management for hive.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for hive.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Team      TeamConfig      `mapstructure:"team"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// TeamConfig holds agent team settings.
type TeamConfig struct {
	// Teammates is how many worker agents to spawn.
	Teammates int `mapstructure:"teammates"`
	// FailureThreshold is the fraction of failed tasks that aborts the run.
	FailureThreshold float64 `mapstructure:"failure_threshold"`
}

// ProtocolConfig holds message-exchange settings.
type ProtocolConfig struct {
	// ResponseDeadline is how long a request may await a response.
	ResponseDeadline time.Duration `mapstructure:"response_deadline"`
	// MaxOutstanding caps simultaneous awaiting requests per agent.
	MaxOutstanding int `mapstructure:"max_outstanding"`
}

// LoopConfig holds agent loop settings.
type LoopConfig struct {
	// MaxSteps bounds reasoning iterations per task.
	MaxSteps int `mapstructure:"max_steps"`
	// StepTimeout bounds one reasoning step call.
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	// PollInterval bounds how long an idle worker waits between work checks.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DBPath is the SQLite database path. Empty means the project-local
	// default under .hive/.
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Verbose enables the colorized run trace.
	Verbose bool `mapstructure:"verbose"`
	// DebugLog is the debug log file path. Empty disables debug logging.
	DebugLog string `mapstructure:"debug_log"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.hive.yaml in current directory or parent)
// 3. User config (~/.config/hive/config.yaml)
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
			// Project config takes precedence over user config.
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
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

	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("team.teammates", cfg.Team.Teammates)
	v.Set("team.failure_threshold", cfg.Team.FailureThreshold)
	v.Set("protocol.response_deadline", cfg.Protocol.ResponseDeadline.String())
	v.Set("protocol.max_outstanding", cfg.Protocol.MaxOutstanding)
	v.Set("loop.max_steps", cfg.Loop.MaxSteps)
	v.Set("loop.step_timeout", cfg.Loop.StepTimeout.String())
	v.Set("loop.poll_interval", cfg.Loop.PollInterval.String())
	v.Set("storage.db_path", cfg.Storage.DBPath)
	v.Set("logging.verbose", cfg.Logging.Verbose)
	v.Set("logging.debug_log", cfg.Logging.DebugLog)

	return v.WriteConfig()
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
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")

	v.SetDefault("team.teammates", 3)
	v.SetDefault("team.failure_threshold", 0.5)

	v.SetDefault("protocol.response_deadline", "30s")
	v.SetDefault("protocol.max_outstanding", 1)

	v.SetDefault("loop.max_steps", 20)
	v.SetDefault("loop.step_timeout", "2m")
	v.SetDefault("loop.poll_interval", "250ms")

	v.SetDefault("storage.db_path", "")

	v.SetDefault("logging.verbose", false)
	v.SetDefault("logging.debug_log", "")
}

// getUserConfigDir returns the XDG config directory for hive.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "hive")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "hive")
	}
	return filepath.Join(home, ".config", "hive")
}

// findProjectConfig searches for .hive.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".hive.yaml")
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
	return &Config{
		Team: TeamConfig{
			Teammates:        3,
			FailureThreshold: 0.5,
		},
		Protocol: ProtocolConfig{
			ResponseDeadline: 30 * time.Second,
			MaxOutstanding:   1,
		},
		Loop: LoopConfig{
			MaxSteps:     20,
			StepTimeout:  2 * time.Minute,
			PollInterval: 250 * time.Millisecond,
		},
	}
}
