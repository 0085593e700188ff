package analysis

import (
	"reflect"
	"testing"

	"litcritic/pkg/review"
)

func TestToolSchemaShape(t *testing.T) {
	schema, err := ToolSchema()
	if err != nil {
		t.Fatalf("ToolSchema: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("type = %v, want object", schema["type"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Error("$schema should be stripped")
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("properties = %T, want map", schema["properties"])
	}
	for _, key := range []string{"glossary_issues", "summary", "findings", "conflicts", "ambiguities"} {
		if _, ok := props[key]; !ok {
			t.Errorf("properties missing %s", key)
		}
	}

	required, ok := schema["required"].([]any)
	if !ok {
		t.Fatalf("required = %T, want list", schema["required"])
	}
	want := map[string]bool{"glossary_issues": true, "summary": true, "findings": true}
	for _, r := range required {
		delete(want, r.(string))
	}
	if len(want) != 0 {
		t.Errorf("required is missing %v", want)
	}
}

func TestDecodePayload(t *testing.T) {
	raw := coordinatorInput(findingInput("prose", "major", 10, 14))
	payload, err := decodePayload(raw)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if len(payload.Findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(payload.Findings))
	}
	fr := payload.Findings[0]
	if fr.Number != 1 || fr.Lens != "prose" || fr.Severity != "major" {
		t.Errorf("finding = %+v", fr)
	}
	if fr.LineStart == nil || *fr.LineStart != 10 || fr.LineEnd == nil || *fr.LineEnd != 14 {
		t.Errorf("lines = %v-%v, want 10-14", fr.LineStart, fr.LineEnd)
	}
	if payload.Summary.Assessment == "" {
		t.Error("summary assessment not decoded")
	}
}

func TestToFindingDefaults(t *testing.T) {
	f := toFinding(FindingReport{
		Number:   3,
		Severity: "Critical",
		Lens:     "dialogue",
		Location: "the argument",
		Evidence: "said he said",
		Impact:   "attribution soup",
		Options:  []string{"trim the tags"},
	})
	if f.Severity != review.SeverityCritical {
		t.Errorf("severity = %s, want critical", f.Severity)
	}
	if f.Status != review.StatusPending {
		t.Errorf("status = %s, want pending", f.Status)
	}
	if want := []string{"dialogue"}; !reflect.DeepEqual(f.FlaggedBy, want) {
		t.Errorf("flagged_by = %v, want %v", f.FlaggedBy, want)
	}
	if f.LineStart != nil || f.LineEnd != nil {
		t.Errorf("lines = %v-%v, want unset", f.LineStart, f.LineEnd)
	}
}
