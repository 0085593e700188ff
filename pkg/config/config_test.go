package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandEnvVarsInData(t *testing.T) {
	os.Setenv("LITCRITIC_TEST_VAL", "hello")
	defer os.Unsetenv("LITCRITIC_TEST_VAL")

	tests := []struct {
		name  string
		input interface{}
		want  interface{}
	}{
		{"plain string", "no vars here", "no vars here"},
		{"braced", "${LITCRITIC_TEST_VAL}", "hello"},
		{"simple", "$LITCRITIC_TEST_VAL", "hello"},
		{"default used", "${LITCRITIC_TEST_MISSING:-fallback}", "fallback"},
		{"default unused", "${LITCRITIC_TEST_VAL:-fallback}", "hello"},
		{"numeric coercion", "${LITCRITIC_TEST_MISSING:-42}", 42},
		{"bool coercion", "${LITCRITIC_TEST_MISSING:-true}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandEnvVarsInData(tt.input)
			if got != tt.want {
				t.Errorf("ExpandEnvVarsInData(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnvVarsInDataNested(t *testing.T) {
	os.Setenv("LITCRITIC_TEST_KEY", "sk-test")
	defer os.Unsetenv("LITCRITIC_TEST_KEY")

	input := map[string]interface{}{
		"api_key": "${LITCRITIC_TEST_KEY}",
		"nested": map[string]interface{}{
			"list": []interface{}{"$LITCRITIC_TEST_KEY", "static"},
		},
	}

	result, ok := ExpandEnvVarsInData(input).(map[string]interface{})
	if !ok {
		t.Fatal("expected map result")
	}
	if result["api_key"] != "sk-test" {
		t.Errorf("api_key = %v, want sk-test", result["api_key"])
	}
	nested := result["nested"].(map[string]interface{})
	list := nested["list"].([]interface{})
	if list[0] != "sk-test" || list[1] != "static" {
		t.Errorf("nested list = %v", list)
	}
}

func TestGetProviderAPIKey(t *testing.T) {
	os.Setenv("ANTHROPIC_API_KEY", "ant-key")
	os.Setenv("OPENAI_API_KEY", "oai-key")
	defer os.Unsetenv("ANTHROPIC_API_KEY")
	defer os.Unsetenv("OPENAI_API_KEY")

	if got := GetProviderAPIKey("anthropic"); got != "ant-key" {
		t.Errorf("anthropic key = %q", got)
	}
	if got := GetProviderAPIKey("openai"); got != "oai-key" {
		t.Errorf("openai key = %q", got)
	}
	if got := GetProviderAPIKey("unknown"); got != "" {
		t.Errorf("unknown provider key = %q, want empty", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	// Point at a nonexistent config so only defaults apply.
	os.Setenv("USER_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	defer os.Unsetenv("USER_CONFIG_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Model != "sonnet" {
		t.Errorf("Model = %q, want sonnet", cfg.Model)
	}
	if cfg.MaxTokens != 8192 {
		t.Errorf("MaxTokens = %d, want 8192", cfg.MaxTokens)
	}
	if cfg.LensPreset != "auto" {
		t.Errorf("LensPreset = %q, want auto", cfg.LensPreset)
	}
	if cfg.DatabaseFile != DefaultDatabaseFile {
		t.Errorf("DatabaseFile = %q", cfg.DatabaseFile)
	}
	if cfg.Discovery.TTL != 24*time.Hour {
		t.Errorf("Discovery.TTL = %v", cfg.Discovery.TTL)
	}
	if cfg.Discovery.Timeout != 8*time.Second {
		t.Errorf("Discovery.Timeout = %v", cfg.Discovery.Timeout)
	}
	if cfg.Discovery.Enabled {
		t.Error("discovery should default to disabled")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
model: gpt-4o
max_tokens: 4096
lens_preset: prose-first
lens_weights:
  prose: 2.0
  structure: 0.5
discovery:
  enabled: true
  ttl: 1h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	os.Setenv("USER_CONFIG_PATH", path)
	defer os.Unsetenv("USER_CONFIG_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Model != "gpt-4o" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d", cfg.MaxTokens)
	}
	if cfg.LensWeights["prose"] != 2.0 {
		t.Errorf("prose weight = %v", cfg.LensWeights["prose"])
	}
	if !cfg.Discovery.Enabled {
		t.Error("discovery should be enabled")
	}
	if cfg.Discovery.TTL != time.Hour {
		t.Errorf("Discovery.TTL = %v, want 1h", cfg.Discovery.TTL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	os.Setenv("USER_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	os.Setenv("MODEL_DISCOVERY_ENABLED", "true")
	os.Setenv("MODEL_DISCOVERY_TTL_SECONDS", "600")
	os.Setenv("MODEL_DISCOVERY_TIMEOUT_SECONDS", "3")
	os.Setenv("MODEL_CACHE_PATH", "/tmp/models.json")
	defer func() {
		os.Unsetenv("USER_CONFIG_PATH")
		os.Unsetenv("MODEL_DISCOVERY_ENABLED")
		os.Unsetenv("MODEL_DISCOVERY_TTL_SECONDS")
		os.Unsetenv("MODEL_DISCOVERY_TIMEOUT_SECONDS")
		os.Unsetenv("MODEL_CACHE_PATH")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !cfg.Discovery.Enabled {
		t.Error("env should enable discovery")
	}
	if cfg.Discovery.TTL != 10*time.Minute {
		t.Errorf("Discovery.TTL = %v, want 10m", cfg.Discovery.TTL)
	}
	if cfg.Discovery.Timeout != 3*time.Second {
		t.Errorf("Discovery.Timeout = %v, want 3s", cfg.Discovery.Timeout)
	}
	if cfg.Discovery.CachePath != "/tmp/models.json" {
		t.Errorf("CachePath = %q", cfg.Discovery.CachePath)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := &UserConfig{MaxTokens: 100, LensWeights: map[string]float64{"prose": 5.0}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range weight")
	}

	cfg = &UserConfig{MaxTokens: 0}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max_tokens")
	}
}
