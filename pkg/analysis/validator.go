package analysis

import (
	"encoding/json"
	"fmt"
	"math"

	"litcritic/pkg/review"
)

// requiredFindingKeys must be present on every coordinator finding.
var requiredFindingKeys = []string{"number", "severity", "lens", "location", "evidence", "impact", "options"}

// ValidateCoordinatorOutput enforces the report_findings contract on the raw
// tool input and patches what it can: severity coercion, defaulted optional
// keys, line-endpoint sanity. It returns the patched map plus a warning per
// coercion. Structural problems it cannot patch come back as a
// *CoordinationError naming the offender.
func ValidateCoordinatorOutput(raw map[string]any) (map[string]any, []string, error) {
	var warnings []string

	for _, key := range []string{"glossary_issues", "summary", "findings"} {
		if _, ok := raw[key]; !ok {
			return nil, warnings, &CoordinationError{Message: fmt.Sprintf("coordinator output missing required key '%s'", key)}
		}
	}

	findings, ok := raw["findings"].([]any)
	if !ok {
		return nil, warnings, &CoordinationError{Message: "coordinator output key 'findings' is not a list"}
	}

	if _, ok := raw["glossary_issues"].([]any); !ok {
		raw["glossary_issues"] = []any{}
		warnings = append(warnings, "glossary_issues was not a list; reset to empty")
	}
	for _, key := range []string{"conflicts", "ambiguities"} {
		if _, ok := raw[key].([]any); !ok {
			raw[key] = []any{}
		}
	}

	for i, entry := range findings {
		f, ok := entry.(map[string]any)
		if !ok {
			return nil, warnings, &CoordinationError{Message: fmt.Sprintf("finding %d is not an object", i+1)}
		}
		for _, key := range requiredFindingKeys {
			if _, ok := f[key]; !ok {
				return nil, warnings, &CoordinationError{Message: fmt.Sprintf("finding %d missing required key '%s'", i+1, key)}
			}
		}

		sevRaw, _ := f["severity"].(string)
		severity, coerced := review.NormalizeSeverity(sevRaw)
		if coerced {
			warnings = append(warnings, fmt.Sprintf("finding %d: severity %v coerced to %s", i+1, f["severity"], severity))
		}
		f["severity"] = severity

		switch opts := f["options"].(type) {
		case []any:
		case string:
			f["options"] = []any{opts}
			warnings = append(warnings, fmt.Sprintf("finding %d: options was a bare string; wrapped", i+1))
		default:
			return nil, warnings, &CoordinationError{Message: fmt.Sprintf("finding %d key 'options' is not a list", i+1)}
		}

		if fb, ok := f["flagged_by"].([]any); !ok || len(fb) == 0 {
			if lens, ok := f["lens"].(string); ok && lens != "" {
				f["flagged_by"] = []any{lens}
			} else {
				f["flagged_by"] = []any{}
			}
		}

		if at, ok := f["ambiguity_type"]; ok {
			switch at {
			case review.AmbiguityUnclear, review.AmbiguityPossiblyIntentional:
			case "", nil:
				delete(f, "ambiguity_type")
			default:
				warnings = append(warnings, fmt.Sprintf("finding %d: unknown ambiguity_type %v dropped", i+1, at))
				delete(f, "ambiguity_type")
			}
		}

		normalizeLineEndpoints(f)
	}

	return raw, warnings, nil
}

// normalizeLineEndpoints coerces non-integer or sub-1 endpoints to absent
// and swaps a reversed pair.
func normalizeLineEndpoints(f map[string]any) {
	start, okStart := intValue(f["line_start"])
	end, okEnd := intValue(f["line_end"])
	if okStart && start < 1 {
		okStart = false
	}
	if okEnd && end < 1 {
		okEnd = false
	}

	if okStart {
		f["line_start"] = start
	} else {
		delete(f, "line_start")
	}
	if okEnd {
		f["line_end"] = end
	} else {
		delete(f, "line_end")
	}
	if okStart && okEnd && start > end {
		f["line_start"], f["line_end"] = end, start
	}
}

// intValue accepts the integer shapes JSON decoding can produce.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
