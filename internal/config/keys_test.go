package config

import (
	"errors"
	"testing"
)

func TestGetAPIKey(t *testing.T) {
	t.Run("environment wins over config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}
		key, err := GetAPIKey(cfg)
		if err != nil {
			t.Fatalf("GetAPIKey: %v", err)
		}
		if key != "sk-ant-env-key" {
			t.Errorf("key = %q, want env key", key)
		}
	})

	t.Run("falls back to config", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}
		key, err := GetAPIKey(cfg)
		if err != nil {
			t.Fatalf("GetAPIKey: %v", err)
		}
		if key != "sk-ant-config-key" {
			t.Errorf("key = %q, want config key", key)
		}
	})

	t.Run("unexpanded env reference is no key", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")
		t.Setenv("HIVE_MISSING_KEY", "")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "${HIVE_MISSING_KEY}"}}
		if _, err := GetAPIKey(cfg); !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("err = %v, want ErrNoAPIKey", err)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		if _, err := GetAPIKey(&Config{}); !errors.Is(err, ErrNoAPIKey) {
			t.Errorf("err = %v, want ErrNoAPIKey", err)
		}
	})
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", "sk-ant-REDACTED", false},
		{"empty key", "", true},
		{"wrong prefix", "sk-openai-12345678901234567890", true},
		{"too short", "sk-ant-abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"long key keeps prefix and tail", "sk-ant-REDACTED", "sk-ant-...wxyz"},
		{"empty key", "", "(not set)"},
		{"short key fully hidden", "short", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaskAPIKey(tt.key); got != tt.want {
				t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestGetAPIKeySource(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env-key")

		if src := GetAPIKeySource(&Config{}); src != KeySourceEnv {
			t.Errorf("source = %v, want %v", src, KeySourceEnv)
		}
	})

	t.Run("config file", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		cfg := &Config{Anthropic: AnthropicConfig{APIKey: "sk-ant-config-key"}}
		if src := GetAPIKeySource(cfg); src != KeySourceConfig {
			t.Errorf("source = %v, want %v", src, KeySourceConfig)
		}
	})

	t.Run("none", func(t *testing.T) {
		t.Setenv("ANTHROPIC_API_KEY", "")

		if src := GetAPIKeySource(&Config{}); src != KeySourceNone {
			t.Errorf("source = %v, want %v", src, KeySourceNone)
		}
	})
}
