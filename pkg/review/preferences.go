package review

import (
	"fmt"
	"sort"
	"strings"
)

// Built-in lens presets. Auto is resolved to single-scene or multi-scene by
// scene count before use.
const (
	PresetBalanced    = "balanced"
	PresetProseFirst  = "prose-first"
	PresetStoryLogic  = "story-logic"
	PresetClarityPass = "clarity-pass"
	PresetSingleScene = "single-scene"
	PresetMultiScene  = "multi-scene"
	PresetAuto        = "auto"
)

// Lens weight bounds.
const (
	MinWeight = 0.0
	MaxWeight = 3.0
)

// Severity base scores for re-ranking.
const (
	baseCritical = 100
	baseMajor    = 30
	baseMinor    = 10
)

var presetWeights = map[string]map[string]float64{
	PresetBalanced: {
		LensProse: 1.0, LensStructure: 1.0, LensLogic: 1.0,
		LensClarity: 1.0, LensContinuity: 1.0, LensDialogue: 1.0,
	},
	PresetProseFirst: {
		LensProse: 2.0, LensStructure: 0.7, LensLogic: 0.8,
		LensClarity: 1.0, LensContinuity: 0.8, LensDialogue: 1.5,
	},
	PresetStoryLogic: {
		LensProse: 0.6, LensStructure: 1.5, LensLogic: 2.0,
		LensClarity: 1.0, LensContinuity: 1.8, LensDialogue: 0.6,
	},
	PresetClarityPass: {
		LensProse: 1.0, LensStructure: 0.6, LensLogic: 1.2,
		LensClarity: 2.0, LensContinuity: 0.8, LensDialogue: 1.0,
	},
	PresetSingleScene: {
		LensProse: 1.5, LensStructure: 0.8, LensLogic: 1.0,
		LensClarity: 1.2, LensContinuity: 0.7, LensDialogue: 1.3,
	},
	PresetMultiScene: {
		LensProse: 0.8, LensStructure: 1.5, LensLogic: 1.2,
		LensClarity: 1.0, LensContinuity: 1.5, LensDialogue: 0.8,
	},
}

// Presets returns the selectable preset names, auto last.
func Presets() []string {
	names := make([]string, 0, len(presetWeights)+1)
	for name := range presetWeights {
		names = append(names, name)
	}
	sort.Strings(names)
	return append(names, PresetAuto)
}

// LensPreferences pairs a resolved preset name with the effective per-lens
// weights governing finding order.
type LensPreferences struct {
	Preset  string             `json:"preset"`
	Weights map[string]float64 `json:"weights"`
}

// ResolvePreset maps a preset name to concrete weights. Auto (and the empty
// name) resolves to single-scene when sceneCount ≤ 1, multi-scene otherwise.
// The returned weights are a copy; callers may merge overrides onto them.
func ResolvePreset(name string, sceneCount int) (*LensPreferences, error) {
	resolved := name
	if resolved == "" {
		resolved = PresetAuto
	}
	if resolved == PresetAuto {
		if sceneCount <= 1 {
			resolved = PresetSingleScene
		} else {
			resolved = PresetMultiScene
		}
	}
	base, ok := presetWeights[resolved]
	if !ok {
		return nil, fmt.Errorf("unknown lens preset '%s' (known: %s)", name, strings.Join(Presets(), ", "))
	}
	weights := make(map[string]float64, len(base))
	for lens, w := range base {
		weights[lens] = w
	}
	return &LensPreferences{Preset: resolved, Weights: weights}, nil
}

// ValidateWeights checks that every override names a known lens and falls
// within [MinWeight, MaxWeight].
func ValidateWeights(overrides map[string]float64) error {
	for lens, w := range overrides {
		if !ValidLens(lens) {
			return fmt.Errorf("unknown lens '%s' in weight overrides", lens)
		}
		if w < MinWeight || w > MaxWeight {
			return fmt.Errorf("lens weight %s=%g out of range [%g, %g]", lens, w, MinWeight, MaxWeight)
		}
	}
	return nil
}

// ApplyOverrides validates the overrides and merges them onto the preset
// weights.
func (p *LensPreferences) ApplyOverrides(overrides map[string]float64) error {
	if err := ValidateWeights(overrides); err != nil {
		return err
	}
	if p.Weights == nil {
		p.Weights = make(map[string]float64, len(overrides))
	}
	for lens, w := range overrides {
		p.Weights[lens] = w
	}
	return nil
}

// Weight returns the weight for a lens. Missing entries (and a nil receiver)
// weigh 1.0 so unconfigured lenses rank purely by severity.
func (p *LensPreferences) Weight(lens string) float64 {
	if p == nil || p.Weights == nil {
		return 1.0
	}
	w, ok := p.Weights[lens]
	if !ok {
		return 1.0
	}
	return w
}

// SeverityBase returns the base score for a severity.
func SeverityBase(severity string) int {
	switch severity {
	case SeverityCritical:
		return baseCritical
	case SeverityMinor:
		return baseMinor
	}
	return baseMajor
}

// Score ranks a finding: severity base times the strongest weight among the
// lenses that flagged it.
func (p *LensPreferences) Score(f *Finding) float64 {
	lenses := f.FlaggedBy
	if len(lenses) == 0 {
		lenses = []string{f.Lens}
	}
	best := 0.0
	for _, lens := range lenses {
		if w := p.Weight(lens); w > best {
			best = w
		}
	}
	return float64(SeverityBase(f.Severity)) * best
}

// Rerank orders findings by preference score, highest first, and renumbers
// them 1..N. Equal scores keep their insertion order.
func Rerank(findings []*Finding, p *LensPreferences) {
	sort.SliceStable(findings, func(i, j int) bool {
		return p.Score(findings[i]) > p.Score(findings[j])
	})
	Renumber(findings)
}

// Renumber rewrites Number fields sequentially from 1.
func Renumber(findings []*Finding) {
	for i, f := range findings {
		f.Number = i + 1
	}
}
