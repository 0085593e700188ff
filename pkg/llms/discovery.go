package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"litcritic/pkg/config"
	"litcritic/pkg/utils"
)

// Discovery refreshes the model registry from the provider list endpoints
// on a TTL. Failures are logged and leave the baseline untouched. A JSON
// cache on disk avoids hitting the APIs on every process start.
type Discovery struct {
	registry *Registry
	cfg      config.DiscoveryConfig
	client   *http.Client

	anthropicHost string
	openaiHost    string
}

type modelCache struct {
	FetchedAt time.Time   `json:"fetched_at"`
	Models    []ModelInfo `json:"models"`
}

func NewDiscovery(registry *Registry, cfg config.DiscoveryConfig) *Discovery {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Discovery{
		registry:      registry,
		cfg:           cfg,
		client:        &http.Client{Timeout: timeout},
		anthropicHost: "https://api.anthropic.com",
		openaiHost:    "https://api.openai.com",
	}
}

// Start loads the cache, refreshes it when stale, and keeps refreshing on
// the configured TTL until ctx is cancelled. It returns immediately; all
// work happens in a background goroutine.
func (d *Discovery) Start(ctx context.Context) {
	if !d.cfg.Enabled {
		return
	}

	ttl := d.cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	go func() {
		if !d.loadCache(ttl) {
			if err := d.Refresh(ctx); err != nil {
				slog.Warn("model discovery failed, using baseline models", "error", err)
			}
		}

		ticker := time.NewTicker(ttl)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Refresh(ctx); err != nil {
					slog.Warn("model discovery refresh failed", "error", err)
				}
			}
		}
	}()
}

// Refresh queries every provider with a configured API key and merges the
// results. It errors only when no provider produced anything.
func (d *Discovery) Refresh(ctx context.Context) error {
	var discovered []ModelInfo
	var errs []string

	if key := config.GetProviderAPIKey(ProviderAnthropic); key != "" {
		models, err := d.fetchAnthropicModels(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Sprintf("anthropic: %v", err))
		} else {
			discovered = append(discovered, models...)
		}
	}

	if key := config.GetProviderAPIKey(ProviderOpenAI); key != "" {
		models, err := d.fetchOpenAIModels(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Sprintf("openai: %v", err))
		} else {
			discovered = append(discovered, models...)
		}
	}

	if len(discovered) == 0 {
		if len(errs) > 0 {
			return fmt.Errorf("model discovery produced nothing: %s", strings.Join(errs, "; "))
		}
		return fmt.Errorf("model discovery skipped: no provider API keys configured")
	}

	d.registry.Merge(discovered)
	slog.Debug("model discovery merged", "count", len(discovered))

	if err := d.writeCache(discovered); err != nil {
		slog.Warn("failed to write model cache", "error", err)
	}
	return nil
}

func (d *Discovery) fetchAnthropicModels(ctx context.Context, apiKey string) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", d.anthropicHost+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	body, err := d.fetch(req)
	if err != nil {
		return nil, err
	}

	var listResp struct {
		Data []struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]ModelInfo, 0, len(listResp.Data))
	for _, m := range listResp.Data {
		if !strings.HasPrefix(m.ID, "claude-") {
			continue
		}
		label := m.DisplayName
		if label == "" {
			label = m.ID
		}
		models = append(models, ModelInfo{ID: m.ID, Provider: ProviderAnthropic, Label: label})
	}
	return models, nil
}

var openaiExcludedKinds = []string{
	"audio", "realtime", "transcribe", "tts", "search", "image", "embedding", "moderation",
}

func (d *Discovery) fetchOpenAIModels(ctx context.Context, apiKey string) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", d.openaiHost+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	body, err := d.fetch(req)
	if err != nil {
		return nil, err
	}

	var listResp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]ModelInfo, 0, len(listResp.Data))
	for _, m := range listResp.Data {
		if !strings.HasPrefix(m.ID, "gpt-") || isExcludedOpenAIModel(m.ID) {
			continue
		}
		models = append(models, ModelInfo{ID: m.ID, Provider: ProviderOpenAI, Label: m.ID})
	}
	return models, nil
}

func isExcludedOpenAIModel(id string) bool {
	for _, kind := range openaiExcludedKinds {
		if strings.Contains(id, kind) {
			return true
		}
	}
	return false
}

func (d *Discovery) fetch(req *http.Request) ([]byte, error) {
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// loadCache merges the cached models and reports whether the cache is still
// fresh enough to skip an immediate refresh.
func (d *Discovery) loadCache(ttl time.Duration) bool {
	path, err := d.cachePath()
	if err != nil {
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	var cache modelCache
	if err := json.Unmarshal(data, &cache); err != nil {
		slog.Warn("ignoring malformed model cache", "path", path, "error", err)
		return false
	}

	d.registry.Merge(cache.Models)
	return time.Since(cache.FetchedAt) < ttl
}

func (d *Discovery) writeCache(models []ModelInfo) error {
	path, err := d.cachePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(modelCache{FetchedAt: time.Now(), Models: models}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (d *Discovery) cachePath() (string, error) {
	if d.cfg.CachePath != "" {
		if err := os.MkdirAll(filepath.Dir(d.cfg.CachePath), 0755); err != nil {
			return "", err
		}
		return d.cfg.CachePath, nil
	}
	dir, err := utils.EnsureUserDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "models.json"), nil
}
