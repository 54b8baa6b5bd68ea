package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify hive configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/hive/config.yaml
Project-specific overrides can be placed in .hive.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("team.teammates: %d\n", cfg.Team.Teammates)
	fmt.Printf("team.failure_threshold: %g\n", cfg.Team.FailureThreshold)
	fmt.Printf("protocol.response_deadline: %s\n", cfg.Protocol.ResponseDeadline)
	fmt.Printf("protocol.max_outstanding: %d\n", cfg.Protocol.MaxOutstanding)
	fmt.Printf("loop.max_steps: %d\n", cfg.Loop.MaxSteps)
	fmt.Printf("loop.step_timeout: %s\n", cfg.Loop.StepTimeout)
	fmt.Printf("loop.poll_interval: %s\n", cfg.Loop.PollInterval)
	fmt.Printf("storage.db_path: %s\n", cfg.Storage.DBPath)
	fmt.Printf("logging.verbose: %t\n", cfg.Logging.Verbose)
	fmt.Printf("logging.debug_log: %s\n", cfg.Logging.DebugLog)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		return config.MaskAPIKey(cfg.Anthropic.APIKey), nil
	case "anthropic.model":
		return cfg.Anthropic.Model, nil
	case "team.teammates":
		return strconv.Itoa(cfg.Team.Teammates), nil
	case "team.failure_threshold":
		return strconv.FormatFloat(cfg.Team.FailureThreshold, 'g', -1, 64), nil
	case "protocol.response_deadline":
		return cfg.Protocol.ResponseDeadline.String(), nil
	case "protocol.max_outstanding":
		return strconv.Itoa(cfg.Protocol.MaxOutstanding), nil
	case "loop.max_steps":
		return strconv.Itoa(cfg.Loop.MaxSteps), nil
	case "loop.step_timeout":
		return cfg.Loop.StepTimeout.String(), nil
	case "loop.poll_interval":
		return cfg.Loop.PollInterval.String(), nil
	case "storage.db_path":
		return cfg.Storage.DBPath, nil
	case "logging.verbose":
		return strconv.FormatBool(cfg.Logging.Verbose), nil
	case "logging.debug_log":
		return cfg.Logging.DebugLog, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "team.teammates":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for teammates: %w", err)
		}
		cfg.Team.Teammates = n
	case "team.failure_threshold":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for failure_threshold: %w", err)
		}
		if f <= 0 || f > 1 {
			return fmt.Errorf("failure_threshold must be in (0, 1]")
		}
		cfg.Team.FailureThreshold = f
	case "protocol.response_deadline":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for response_deadline: %w", err)
		}
		cfg.Protocol.ResponseDeadline = d
	case "protocol.max_outstanding":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_outstanding: %w", err)
		}
		cfg.Protocol.MaxOutstanding = n
	case "loop.max_steps":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_steps: %w", err)
		}
		cfg.Loop.MaxSteps = n
	case "loop.step_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for step_timeout: %w", err)
		}
		cfg.Loop.StepTimeout = d
	case "loop.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for poll_interval: %w", err)
		}
		cfg.Loop.PollInterval = d
	case "storage.db_path":
		cfg.Storage.DBPath = value
	case "logging.verbose":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for verbose: %w", err)
		}
		cfg.Logging.Verbose = b
	case "logging.debug_log":
		cfg.Logging.DebugLog = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
