package llms

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// DefaultModel is the short name used when no model is configured.
const DefaultModel = "sonnet"

// ModelInfo describes one resolvable model. MaxTokens is the provider's
// output token ceiling, used to cap requested max_tokens.
type ModelInfo struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens"`
	Label     string `json:"label"`
}

// Registry resolves short model names and full model IDs to ModelInfo. It is
// process-wide and safe for concurrent use; discovery merges onto it while
// readers take snapshot copies.
type Registry struct {
	mu     sync.RWMutex
	models map[string]ModelInfo
}

func baselineModels() map[string]ModelInfo {
	return map[string]ModelInfo{
		"sonnet":      {ID: "claude-sonnet-4-5", Provider: ProviderAnthropic, MaxTokens: 64000, Label: "Claude Sonnet 4.5"},
		"opus":        {ID: "claude-opus-4-1", Provider: ProviderAnthropic, MaxTokens: 32000, Label: "Claude Opus 4.1"},
		"haiku":       {ID: "claude-haiku-4-5", Provider: ProviderAnthropic, MaxTokens: 64000, Label: "Claude Haiku 4.5"},
		"gpt-4o":      {ID: "gpt-4o", Provider: ProviderOpenAI, MaxTokens: 16384, Label: "GPT-4o"},
		"gpt-4o-mini": {ID: "gpt-4o-mini", Provider: ProviderOpenAI, MaxTokens: 16384, Label: "GPT-4o mini"},
		"gpt-4.1":     {ID: "gpt-4.1", Provider: ProviderOpenAI, MaxTokens: 32768, Label: "GPT-4.1"},
	}
}

func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]ModelInfo)}
	for name, info := range baselineModels() {
		r.models[name] = info
		r.models[info.ID] = info
	}
	return r
}

// Resolve maps a short name or full model ID to ModelInfo. The returned
// value is a copy; mutating it does not affect the registry.
func (r *Registry) Resolve(name string) (ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.models[name]
	if !ok {
		return ModelInfo{}, fmt.Errorf("unknown model '%s' (known: %s)", name, strings.Join(r.shortNamesLocked(), ", "))
	}
	return info, nil
}

// List returns all registered models, deduplicated by ID and sorted.
func (r *Registry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.models))
	out := make([]ModelInfo, 0, len(r.models))
	for _, info := range r.models {
		if seen[info.ID] {
			continue
		}
		seen[info.ID] = true
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Merge adds or updates entries keyed by model ID. It never removes
// anything, so a partial or failed discovery pass leaves the baseline
// intact.
func (r *Registry) Merge(models []ModelInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, info := range models {
		if info.ID == "" || info.Provider == "" {
			continue
		}
		if info.MaxTokens <= 0 {
			if existing, ok := r.models[info.ID]; ok {
				info.MaxTokens = existing.MaxTokens
			} else {
				info.MaxTokens = 8192
			}
		}
		r.models[info.ID] = info
	}
}

// Snapshot returns a copy of every alias → model mapping.
func (r *Registry) Snapshot() map[string]ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ModelInfo, len(r.models))
	for name, info := range r.models {
		out[name] = info
	}
	return out
}

func (r *Registry) shortNamesLocked() []string {
	names := make([]string, 0, len(r.models))
	for name, info := range r.models {
		if name != info.ID {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NewProviderForModel constructs the wire client for a model's provider.
func NewProviderForModel(info ModelInfo, cfg ProviderConfig) (Provider, error) {
	switch info.Provider {
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider '%s' for model '%s'", info.Provider, info.ID)
	}
}
