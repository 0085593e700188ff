// Package service is the stateless core: the three review operations
// (analyze, discuss, re-evaluate) behind one interface, callable in-process
// or over HTTP. The core holds no session state and no credentials; every
// request carries its own model configuration, and per-provider API keys
// come only from the request body.
package service

import (
	"fmt"

	"litcritic/pkg/analysis"
	"litcritic/pkg/llms"
	"litcritic/pkg/prompt"
	"litcritic/pkg/review"
)

// Discussion action types. The concrete finding status rides in
// ActionPayload.LegacyStatus.
const (
	ActionDefend            = "defend"
	ActionWithdraw          = "withdraw"
	ActionRevise            = "revise"
	ActionEscalate          = "escalate"
	ActionExtractPreference = "extract_preference"
)

// Stream event kinds for /v1/discuss served as server-sent events.
const (
	StreamKindToken = "token"
	StreamKindDone  = "done"
	StreamKindError = "error"
)

// ValidationError reports a request that cannot be served as sent. The HTTP
// façade maps it to a 400; transient upstream trouble maps to 5xx instead.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// ModelConfig selects and credentials the model for one request. APIKeys
// maps provider name to key; the core reads keys from nowhere else.
type ModelConfig struct {
	AnalysisModel   string            `json:"analysis_model"`
	APIKeys         map[string]string `json:"api_keys"`
	MaxTokens       int               `json:"max_tokens,omitempty"`
	ProviderOptions map[string]any    `json:"provider_options,omitempty"`
}

func (c *ModelConfig) validate() error {
	if c.AnalysisModel == "" {
		return &ValidationError{Field: "model_config.analysis_model", Message: "model name is required"}
	}
	return nil
}

// Meta closes every response: the fully-resolved model id, wall-clock
// timings in milliseconds where the operation tracks them, and token usage
// when the provider reports it.
type Meta struct {
	ModelUsed  string           `json:"model_used"`
	Timings    map[string]int64 `json:"timings,omitempty"`
	TokenUsage *llms.Usage      `json:"token_usage,omitempty"`
}

// AnalyzeRequest asks for a full analysis pass over one scene text.
type AnalyzeRequest struct {
	SceneText       string                  `json:"scene_text"`
	Indexes         map[string]string       `json:"indexes,omitempty"`
	LearningContext *prompt.LearningContext `json:"learning_context,omitempty"`
	LensPreferences *review.LensPreferences `json:"lens_preferences,omitempty"`
	SceneCount      int                     `json:"scene_count,omitempty"`
	ModelConfig     ModelConfig             `json:"model_config"`
}

// Validate checks required fields. Unknown-field rejection happens at the
// decoder, not here.
func (r *AnalyzeRequest) Validate() error {
	if r.SceneText == "" {
		return &ValidationError{Field: "scene_text", Message: "scene text is required"}
	}
	if r.LensPreferences != nil {
		for lens := range r.LensPreferences.Weights {
			if !review.ValidLens(lens) {
				return &ValidationError{Field: "lens_preferences.weights", Message: fmt.Sprintf("unknown lens '%s'", lens)}
			}
		}
	}
	return r.ModelConfig.validate()
}

// AnalyzeResponse carries the merged, re-ranked finding list plus whatever
// non-fatal trouble the pipeline survived.
type AnalyzeResponse struct {
	Findings       []*review.Finding `json:"findings"`
	GlossaryIssues []string          `json:"glossary_issues"`
	Summary        analysis.Summary  `json:"summary"`
	Conflicts      []string          `json:"conflicts,omitempty"`
	Ambiguities    []string          `json:"ambiguities,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	Meta           Meta              `json:"meta"`
}

// DiscussRequest is one author turn over one finding. DiscussionContext is
// the prior dialogue already condensed by the caller; the core trusts it
// as sent.
type DiscussRequest struct {
	SceneText         string                  `json:"scene_text"`
	Finding           *review.Finding         `json:"finding"`
	DiscussionContext []review.DiscussionTurn `json:"discussion_context,omitempty"`
	UserMessage       string                  `json:"user_message"`
	PriorOutcomes     string                  `json:"prior_outcomes,omitempty"`
	SceneChanged      bool                    `json:"scene_changed,omitempty"`
	ModelConfig       ModelConfig             `json:"model_config"`
}

// Validate checks required fields.
func (r *DiscussRequest) Validate() error {
	if r.SceneText == "" {
		return &ValidationError{Field: "scene_text", Message: "scene text is required"}
	}
	if r.Finding == nil {
		return &ValidationError{Field: "finding", Message: "finding is required"}
	}
	if r.UserMessage == "" {
		return &ValidationError{Field: "user_message", Message: "user message is required"}
	}
	return r.ModelConfig.validate()
}

// Action is the discussion verdict in transport form: a coarse action type
// plus the concrete legacy status for callers that drive the state machine
// directly.
type Action struct {
	Type    string        `json:"type"`
	Payload ActionPayload `json:"payload"`
}

// ActionPayload carries the pre-action status vocabulary.
type ActionPayload struct {
	LegacyStatus string `json:"legacy_status"`
}

// DiscussResponse is the critic's turn after tag extraction. UpdatedFinding
// is set when the reply carried a revision the core applied to a copy of
// the request finding; ChangeDescription summarises what changed.
type DiscussResponse struct {
	Response            string          `json:"response"`
	Action              Action          `json:"action"`
	UpdatedFinding      *review.Finding `json:"updated_finding,omitempty"`
	ChangeDescription   string          `json:"change_description,omitempty"`
	ExtractedPreference string          `json:"extracted_preference,omitempty"`
	Ambiguity           string          `json:"ambiguity,omitempty"`
	Meta                Meta            `json:"meta"`
}

// DiscussStreamEvent is one server-sent event from a streaming discuss
// call: token events carry reply text as it arrives, then exactly one done
// (Response set) or error (Error set).
type DiscussStreamEvent struct {
	Kind     string           `json:"kind"`
	Text     string           `json:"text,omitempty"`
	Response *DiscussResponse `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ReEvaluateRequest asks whether a stale finding survives the edited scene.
type ReEvaluateRequest struct {
	Finding     *review.Finding `json:"finding"`
	SceneText   string          `json:"scene_text"`
	ModelConfig ModelConfig     `json:"model_config"`
}

// Validate checks required fields.
func (r *ReEvaluateRequest) Validate() error {
	if r.Finding == nil {
		return &ValidationError{Field: "finding", Message: "finding is required"}
	}
	if r.SceneText == "" {
		return &ValidationError{Field: "scene_text", Message: "scene text is required"}
	}
	return r.ModelConfig.validate()
}

// ReEvaluateResponse carries the verdict: updated comes with the finding
// rewritten against the current text, withdrawn with the critic's reason.
type ReEvaluateResponse struct {
	Status         string          `json:"status"`
	UpdatedFinding *review.Finding `json:"updated_finding,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Meta           Meta            `json:"meta"`
}

// actionForStatus maps a parsed discussion status to the transport action
// type. An extracted preference on an open turn surfaces as
// extract_preference so callers commit the rule even though no status
// changed.
func actionForStatus(status, preference string) string {
	switch status {
	case review.StatusRevised:
		return ActionRevise
	case review.StatusEscalated:
		return ActionEscalate
	case review.OutcomeConceded, review.StatusWithdrawn:
		return ActionWithdraw
	case review.OutcomeContinue:
		if preference != "" {
			return ActionExtractPreference
		}
		return ActionDefend
	default:
		// accepted and rejected are author verdicts the critic noted while
		// standing by the finding.
		return ActionDefend
	}
}
