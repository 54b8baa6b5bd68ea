package config

import (
	"errors"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when neither the environment nor the config file
// carries an Anthropic API key.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// configKey resolves the key stored in the config file, expanding env var
// references like ${ANTHROPIC_API_KEY}. Returns "" when nothing usable is
// configured, including when an env reference expanded to nothing.
func configKey(cfg *Config) string {
	if cfg == nil || cfg.Anthropic.APIKey == "" {
		return ""
	}
	key := os.ExpandEnv(cfg.Anthropic.APIKey)
	if key == "" || strings.HasPrefix(key, "${") {
		return ""
	}
	return key
}

// GetAPIKey returns the Anthropic API key, preferring the environment
// variable over the config file.
func GetAPIKey(cfg *Config) (string, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}
	if key := configKey(cfg); key != "" {
		return key, nil
	}
	return "", ErrNoAPIKey
}

// ValidateAPIKey checks the shape of a key without calling Anthropic.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey renders a key for display: the "sk-ant-" prefix, an ellipsis,
// and the last four characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource says where GetAPIKey found the key.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource reports the source GetAPIKey would use, without returning
// the key itself.
func GetAPIKeySource(cfg *Config) KeySource {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return KeySourceEnv
	}
	if configKey(cfg) != "" {
		return KeySourceConfig
	}
	return KeySourceNone
}
