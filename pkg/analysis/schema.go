package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"litcritic/pkg/review"
)

// Tool the coordinator is forced to call.
const (
	ToolName        = "report_findings"
	ToolDescription = "Report the consolidated and deduplicated review findings for the scene."
)

// Summary is the coordinator's overall read of the scene.
type Summary struct {
	Assessment string   `json:"assessment" jsonschema:"required,description=Two or three sentences on the scene as a whole"`
	Strengths  []string `json:"strengths,omitempty"`
	Priorities []string `json:"priorities,omitempty" jsonschema:"description=What the author should fix first"`
}

// FindingReport is one finding as the coordinator emits it, before
// conversion into the review domain model.
type FindingReport struct {
	Number        int      `json:"number" jsonschema:"required"`
	Severity      string   `json:"severity" jsonschema:"required,description=One of critical major minor"`
	Lens          string   `json:"lens" jsonschema:"required,description=The primary analyst for this finding"`
	Location      string   `json:"location" jsonschema:"required,description=Human-readable position in the scene"`
	LineStart     *int     `json:"line_start,omitempty" jsonschema:"description=First line of the passage as printed"`
	LineEnd       *int     `json:"line_end,omitempty" jsonschema:"description=Last line of the passage as printed"`
	Evidence      string   `json:"evidence" jsonschema:"required,description=The offending text quoted"`
	Impact        string   `json:"impact" jsonschema:"required,description=Why it hurts the scene"`
	Options       []string `json:"options" jsonschema:"required,description=Two or three concrete fixes"`
	FlaggedBy     []string `json:"flagged_by,omitempty" jsonschema:"description=Every analyst that flagged this passage"`
	AmbiguityType string   `json:"ambiguity_type,omitempty"`
}

// reportPayload is the complete report_findings input shape. The tool schema
// the wire clients send is generated from this struct.
type reportPayload struct {
	GlossaryIssues []string        `json:"glossary_issues" jsonschema:"required,description=Terms used against their glossary entry"`
	Summary        Summary         `json:"summary" jsonschema:"required"`
	Findings       []FindingReport `json:"findings" jsonschema:"required"`
	Conflicts      []string        `json:"conflicts,omitempty" jsonschema:"description=Points where the analysts disagree"`
	Ambiguities    []string        `json:"ambiguities,omitempty" jsonschema:"description=Passages whose meaning is uncertain"`
}

// ToolSchema builds the report_findings input schema as a plain map, the
// form both wire clients accept.
func ToolSchema() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(&reportPayload{})

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s schema: %w", ToolName, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding %s schema: %w", ToolName, err)
	}

	// Not meaningful for LLM tool declarations.
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

// decodePayload turns a validated coordinator map into typed structs. Weak
// typing absorbs the float64 numbers JSON decoding produces.
func decodePayload(raw map[string]any) (*reportPayload, error) {
	var out reportPayload
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, err
	}
	return &out, nil
}

// toFinding converts a coordinator finding into the domain model. Findings
// enter review life pending.
func toFinding(fr FindingReport) *review.Finding {
	severity, _ := review.NormalizeSeverity(fr.Severity)
	f := &review.Finding{
		Number:        fr.Number,
		Severity:      severity,
		Lens:          fr.Lens,
		Location:      fr.Location,
		LineStart:     fr.LineStart,
		LineEnd:       fr.LineEnd,
		Evidence:      fr.Evidence,
		Impact:        fr.Impact,
		Options:       fr.Options,
		FlaggedBy:     fr.FlaggedBy,
		AmbiguityType: fr.AmbiguityType,
		Status:        review.StatusPending,
	}
	if len(f.FlaggedBy) == 0 && f.Lens != "" {
		f.FlaggedBy = []string{f.Lens}
	}
	return f
}
