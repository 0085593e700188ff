package analysis

import (
	"strings"
	"testing"
)

func validOutput() map[string]any {
	return map[string]any{
		"glossary_issues": []any{},
		"summary":         map[string]any{"assessment": "Solid scene."},
		"findings": []any{
			map[string]any{
				"number":   float64(1),
				"severity": "major",
				"lens":     "prose",
				"location": "opening paragraph",
				"evidence": "the rain fell down",
				"impact":   "redundant phrasing",
				"options":  []any{"cut 'down'"},
			},
		},
	}
}

func firstFinding(t *testing.T, raw map[string]any) map[string]any {
	t.Helper()
	findings, ok := raw["findings"].([]any)
	if !ok || len(findings) == 0 {
		t.Fatalf("no findings in %v", raw)
	}
	f, ok := findings[0].(map[string]any)
	if !ok {
		t.Fatalf("finding is %T, want map", findings[0])
	}
	return f
}

func TestValidateAcceptsWellFormedOutput(t *testing.T) {
	out, warnings, err := ValidateCoordinatorOutput(validOutput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	f := firstFinding(t, out)
	if got := f["severity"]; got != "major" {
		t.Errorf("severity = %v, want major", got)
	}
}

func TestValidateMissingTopLevelKey(t *testing.T) {
	for _, key := range []string{"glossary_issues", "summary", "findings"} {
		raw := validOutput()
		delete(raw, key)
		_, _, err := ValidateCoordinatorOutput(raw)
		if err == nil {
			t.Fatalf("missing %s: expected error", key)
		}
		if !strings.Contains(err.Error(), key) {
			t.Errorf("missing %s: error %q does not name the key", key, err)
		}
	}
}

func TestValidateFindingsNotAList(t *testing.T) {
	raw := validOutput()
	raw["findings"] = "none"
	_, _, err := ValidateCoordinatorOutput(raw)
	if err == nil || !strings.Contains(err.Error(), "'findings' is not a list") {
		t.Fatalf("error = %v, want findings-not-a-list", err)
	}
}

func TestValidateGlossaryIssuesReset(t *testing.T) {
	raw := validOutput()
	raw["glossary_issues"] = "the Veil is misused"
	out, warnings, err := ValidateCoordinatorOutput(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := out["glossary_issues"].([]any); !ok || len(got) != 0 {
		t.Errorf("glossary_issues = %v, want empty list", out["glossary_issues"])
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "glossary_issues") {
		t.Errorf("warnings = %v, want one glossary_issues warning", warnings)
	}
}

func TestValidateOptionalListsDefaulted(t *testing.T) {
	out, _, err := ValidateCoordinatorOutput(validOutput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, key := range []string{"conflicts", "ambiguities"} {
		if _, ok := out[key].([]any); !ok {
			t.Errorf("%s = %v, want empty list", key, out[key])
		}
	}
}

func TestValidateFindingMissingKey(t *testing.T) {
	raw := validOutput()
	delete(firstFinding(t, raw), "impact")
	_, _, err := ValidateCoordinatorOutput(raw)
	if err == nil || !strings.Contains(err.Error(), "finding 1 missing required key 'impact'") {
		t.Fatalf("error = %v, want missing-impact", err)
	}
}

func TestValidateFindingNotAnObject(t *testing.T) {
	raw := validOutput()
	raw["findings"] = []any{"just a string"}
	_, _, err := ValidateCoordinatorOutput(raw)
	if err == nil || !strings.Contains(err.Error(), "finding 1 is not an object") {
		t.Fatalf("error = %v, want not-an-object", err)
	}
}

func TestValidateSeverityCaseInsensitive(t *testing.T) {
	raw := validOutput()
	firstFinding(t, raw)["severity"] = " MAJOR "
	out, warnings, err := ValidateCoordinatorOutput(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := firstFinding(t, out)["severity"]; got != "major" {
		t.Errorf("severity = %v, want major", got)
	}
	if len(warnings) != 0 {
		t.Errorf("case folding should not warn, got %v", warnings)
	}
}

func TestValidateSeverityCoercedWithWarning(t *testing.T) {
	raw := validOutput()
	firstFinding(t, raw)["severity"] = "blocker"
	out, warnings, err := ValidateCoordinatorOutput(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := firstFinding(t, out)["severity"]; got != "major" {
		t.Errorf("severity = %v, want major", got)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "coerced") {
		t.Errorf("warnings = %v, want one coercion warning", warnings)
	}
}

func TestValidateOptionsBareStringWrapped(t *testing.T) {
	raw := validOutput()
	firstFinding(t, raw)["options"] = "cut the whole line"
	out, warnings, err := ValidateCoordinatorOutput(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opts, ok := firstFinding(t, out)["options"].([]any)
	if !ok || len(opts) != 1 || opts[0] != "cut the whole line" {
		t.Errorf("options = %v, want wrapped single entry", firstFinding(t, out)["options"])
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "options") {
		t.Errorf("warnings = %v, want one options warning", warnings)
	}
}

func TestValidateOptionsWrongType(t *testing.T) {
	raw := validOutput()
	firstFinding(t, raw)["options"] = 3
	_, _, err := ValidateCoordinatorOutput(raw)
	if err == nil || !strings.Contains(err.Error(), "'options' is not a list") {
		t.Fatalf("error = %v, want options-not-a-list", err)
	}
}

func TestValidateFlaggedByDefaultsToLens(t *testing.T) {
	out, _, err := ValidateCoordinatorOutput(validOutput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fb, ok := firstFinding(t, out)["flagged_by"].([]any)
	if !ok || len(fb) != 1 || fb[0] != "prose" {
		t.Errorf("flagged_by = %v, want [prose]", firstFinding(t, out)["flagged_by"])
	}
}

func TestValidateFlaggedByEmptyDefaultsToLens(t *testing.T) {
	raw := validOutput()
	firstFinding(t, raw)["flagged_by"] = []any{}
	out, _, err := ValidateCoordinatorOutput(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fb, _ := firstFinding(t, out)["flagged_by"].([]any)
	if len(fb) != 1 || fb[0] != "prose" {
		t.Errorf("flagged_by = %v, want [prose]", fb)
	}
}

func TestValidateAmbiguityType(t *testing.T) {
	cases := []struct {
		name     string
		value    any
		want     any
		warnings int
	}{
		{"known kept", "unclear", "unclear", 0},
		{"empty dropped", "", nil, 0},
		{"nil dropped", nil, nil, 0},
		{"unknown dropped with warning", "mystery", nil, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validOutput()
			firstFinding(t, raw)["ambiguity_type"] = tc.value
			out, warnings, err := ValidateCoordinatorOutput(raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got, present := firstFinding(t, out)["ambiguity_type"]
			if tc.want == nil && present {
				t.Errorf("ambiguity_type = %v, want absent", got)
			}
			if tc.want != nil && got != tc.want {
				t.Errorf("ambiguity_type = %v, want %v", got, tc.want)
			}
			if len(warnings) != tc.warnings {
				t.Errorf("warnings = %v, want %d", warnings, tc.warnings)
			}
		})
	}
}

func TestValidateLineEndpoints(t *testing.T) {
	cases := []struct {
		name      string
		start     any
		end       any
		wantStart any
		wantEnd   any
	}{
		{"floats become ints", float64(10), float64(14), 10, 14},
		{"reversed pair swapped", float64(14), float64(10), 10, 14},
		{"sub-1 dropped", float64(0), float64(14), nil, 14},
		{"fractional dropped", 10.5, float64(14), nil, 14},
		{"null dropped", nil, nil, nil, nil},
		{"string dropped", "ten", float64(14), nil, 14},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validOutput()
			f := firstFinding(t, raw)
			f["line_start"] = tc.start
			f["line_end"] = tc.end
			out, _, err := ValidateCoordinatorOutput(raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := firstFinding(t, out)
			checkEndpoint(t, "line_start", got, tc.wantStart)
			checkEndpoint(t, "line_end", got, tc.wantEnd)
		})
	}
}

func checkEndpoint(t *testing.T, key string, f map[string]any, want any) {
	t.Helper()
	got, present := f[key]
	if want == nil {
		if present {
			t.Errorf("%s = %v, want absent", key, got)
		}
		return
	}
	if got != want {
		t.Errorf("%s = %v (%T), want %v", key, got, got, want)
	}
}
