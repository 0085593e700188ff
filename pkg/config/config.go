package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// DefaultDatabaseFile is the per-project session database filename.
const DefaultDatabaseFile = ".lit-critic.db"

// UserConfig carries user-level defaults loaded from USER_CONFIG_PATH
// (falling back to ~/.litcritic/config.yaml). Every field has a working
// default; a missing config file is not an error.
type UserConfig struct {
	Model           string             `yaml:"model"`
	DiscussionModel string             `yaml:"discussion_model"`
	MaxTokens       int                `yaml:"max_tokens"`
	LensPreset      string             `yaml:"lens_preset"`
	LensWeights     map[string]float64 `yaml:"lens_weights"`
	DatabaseFile    string             `yaml:"database_file"`
	Listen          string             `yaml:"listen"`
	Discovery       DiscoveryConfig    `yaml:"discovery"`
}

// DiscoveryConfig controls the optional model-discovery refresh loop.
type DiscoveryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	TTL       time.Duration `yaml:"ttl"`
	Timeout   time.Duration `yaml:"timeout"`
	CachePath string        `yaml:"cache_path"`
}

// ConfigPath resolves the user config location: USER_CONFIG_PATH wins,
// otherwise ~/.litcritic/config.yaml.
func ConfigPath() string {
	if p := os.Getenv("USER_CONFIG_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".litcritic", "config.yaml")
}

// Load reads, expands and decodes the user config, then applies defaults
// and environment overrides.
func Load() (*UserConfig, error) {
	cfg := &UserConfig{}

	path := ConfigPath()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			raw, err := parseBytes(data)
			if err != nil {
				return nil, fmt.Errorf("user config %s: %w", path, err)
			}
			expanded, _ := ExpandEnvVarsInData(raw).(map[string]interface{})
			if err := decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("user config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("user config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseBytes(data []byte) (map[string]interface{}, error) {
	var result map[string]interface{}
	if err := yaml.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML: %w", err)
	}
	return result, nil
}

func decode(input map[string]interface{}, output *UserConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}
	return nil
}

func (c *UserConfig) applyDefaults() {
	if c.Model == "" {
		c.Model = "sonnet"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8192
	}
	if c.LensPreset == "" {
		c.LensPreset = "auto"
	}
	if c.DatabaseFile == "" {
		c.DatabaseFile = DefaultDatabaseFile
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Discovery.TTL == 0 {
		c.Discovery.TTL = 24 * time.Hour
	}
	if c.Discovery.Timeout == 0 {
		c.Discovery.Timeout = 8 * time.Second
	}
	if c.Discovery.CachePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Discovery.CachePath = filepath.Join(home, ".litcritic", "models.json")
		}
	}

	// Environment knobs override file values.
	c.Discovery.Enabled = envBool("MODEL_DISCOVERY_ENABLED", c.Discovery.Enabled)
	if ttl := envInt("MODEL_DISCOVERY_TTL_SECONDS", 0); ttl > 0 {
		c.Discovery.TTL = time.Duration(ttl) * time.Second
	}
	if timeout := envInt("MODEL_DISCOVERY_TIMEOUT_SECONDS", 0); timeout > 0 {
		c.Discovery.Timeout = time.Duration(timeout) * time.Second
	}
	if p := os.Getenv("MODEL_CACHE_PATH"); p != "" {
		c.Discovery.CachePath = p
	}
}

// Validate rejects values no component can work with.
func (c *UserConfig) Validate() error {
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	for lens, w := range c.LensWeights {
		if w < 0.0 || w > 3.0 {
			return fmt.Errorf("lens weight %s=%v out of range [0.0, 3.0]", lens, w)
		}
	}
	return nil
}
