package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"litcritic/pkg/analysis"
	"litcritic/pkg/discussion"
	"litcritic/pkg/llms"
	"litcritic/pkg/observability"
	"litcritic/pkg/prompt"
	"litcritic/pkg/review"
)

const defaultReEvalTimeout = 60 * time.Second

// Core is the stateless review engine: three operations, no session state,
// no ambient credentials. The platform calls it in-process by default; the
// HTTP façade and client expose the same interface over the wire.
type Core interface {
	Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error)
	Discuss(ctx context.Context, req *DiscussRequest) (*DiscussResponse, error)
	DiscussStream(ctx context.Context, req *DiscussRequest) (<-chan DiscussStreamEvent, error)
	ReEvaluate(ctx context.Context, req *ReEvaluateRequest) (*ReEvaluateResponse, error)
}

// Engine implements Core by composing the analysis pipeline, the discussion
// engine, and the re-evaluation call. Each request constructs its own
// provider client from the model config and closes it when done.
type Engine struct {
	registry       *llms.Registry
	builder        prompt.Builder
	analysisOpts   analysis.Options
	discussTimeout time.Duration
	reEvalTimeout  time.Duration

	// newProvider constructs the per-request wire client; swapped in tests.
	newProvider func(llms.ModelInfo, llms.ProviderConfig) (llms.Provider, error)
}

var _ Core = (*Engine)(nil)

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithAnalysisOptions sets the pipeline knobs for analyze calls.
func WithAnalysisOptions(opts analysis.Options) EngineOption {
	return func(e *Engine) { e.analysisOpts = opts }
}

// WithPromptBuilder swaps the prompt template set.
func WithPromptBuilder(b prompt.Builder) EngineOption {
	return func(e *Engine) { e.builder = b }
}

// WithDiscussionTimeout sets the per-turn discussion timeout.
func WithDiscussionTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.discussTimeout = d }
}

// WithReEvaluationTimeout sets the per-call re-evaluation timeout.
func WithReEvaluationTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.reEvalTimeout = d }
}

// NewEngine builds the core engine. A nil registry gets the baseline model
// table.
func NewEngine(registry *llms.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry:      registry,
		builder:       prompt.New(),
		reEvalTimeout: defaultReEvalTimeout,
		newProvider:   llms.NewProviderForModel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = llms.NewRegistry()
	}
	return e
}

// providerFor resolves the short model name and constructs the provider
// client keyed from the request. Resolution and key failures are validation
// errors; only the client construction itself can fail transiently.
func (e *Engine) providerFor(cfg ModelConfig) (llms.Provider, llms.ModelInfo, error) {
	info, err := e.registry.Resolve(cfg.AnalysisModel)
	if err != nil {
		return nil, llms.ModelInfo{}, &ValidationError{Field: "model_config.analysis_model", Message: err.Error()}
	}
	key := cfg.APIKeys[info.Provider]
	if key == "" {
		return nil, llms.ModelInfo{}, &ValidationError{
			Field:   "model_config.api_keys",
			Message: fmt.Sprintf("no API key supplied for provider '%s'", info.Provider),
		}
	}
	provider, err := e.newProvider(info, llms.ProviderConfig{APIKey: key})
	if err != nil {
		return nil, llms.ModelInfo{}, err
	}
	return provider, info, nil
}

func maxTokensFor(cfg ModelConfig, info llms.ModelInfo) int {
	if cfg.MaxTokens > 0 {
		return cfg.MaxTokens
	}
	return info.MaxTokens
}

// Analyze runs the full pipeline pass for one scene.
func (e *Engine) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	provider, info, err := e.providerFor(req.ModelConfig)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	prefs := req.LensPreferences
	if prefs == nil {
		prefs, err = review.ResolvePreset("", req.SceneCount)
		if err != nil {
			return nil, err
		}
	}

	pipeline, err := analysis.NewPipeline(provider, e.builder, e.analysisOpts)
	if err != nil {
		return nil, err
	}
	res, err := pipeline.Analyze(ctx, analysis.AnalyzeInput{
		SceneText:  req.SceneText,
		Indexes:    req.Indexes,
		Learning:   req.LearningContext,
		Model:      info.ID,
		MaxTokens:  maxTokensFor(req.ModelConfig, info),
		Prefs:      prefs,
		SceneCount: req.SceneCount,
	})
	if err != nil {
		return nil, err
	}

	return &AnalyzeResponse{
		Findings:       res.Findings,
		GlossaryIssues: res.GlossaryIssues,
		Summary:        res.Summary,
		Conflicts:      res.Conflicts,
		Ambiguities:    res.Ambiguities,
		Warnings:       analyzeWarnings(res),
		Meta: Meta{
			ModelUsed:  info.ID,
			Timings:    timingsMillis(res.Timings),
			TokenUsage: usagePtr(res.TokenUsage),
		},
	}, nil
}

// Discuss runs one blocking discussion turn.
func (e *Engine) Discuss(ctx context.Context, req *DiscussRequest) (*DiscussResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	provider, info, err := e.providerFor(req.ModelConfig)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	eng := discussion.NewEngine(provider, e.builder, e.discussTimeout)
	start := time.Now()
	res, err := eng.Discuss(ctx, e.discussInput(req, info))
	if err != nil {
		return nil, err
	}
	return e.discussResponse(req, res, info, time.Since(start)), nil
}

// DiscussStream runs one discussion turn streaming: token events as the
// reply arrives, then exactly one done or error event.
func (e *Engine) DiscussStream(ctx context.Context, req *DiscussRequest) (<-chan DiscussStreamEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	provider, info, err := e.providerFor(req.ModelConfig)
	if err != nil {
		return nil, err
	}

	eng := discussion.NewEngine(provider, e.builder, e.discussTimeout)
	start := time.Now()
	src, err := eng.DiscussStream(ctx, e.discussInput(req, info))
	if err != nil {
		provider.Close()
		return nil, err
	}

	out := make(chan DiscussStreamEvent)
	go func() {
		defer close(out)
		defer provider.Close()
		for ev := range src {
			switch ev.Kind {
			case discussion.EventToken:
				out <- DiscussStreamEvent{Kind: StreamKindToken, Text: ev.Text}
			case discussion.EventError:
				out <- DiscussStreamEvent{Kind: StreamKindError, Error: ev.Err.Error()}
				return
			case discussion.EventDone:
				resp := e.discussResponse(req, ev.Result, info, time.Since(start))
				out <- DiscussStreamEvent{Kind: StreamKindDone, Response: resp}
				return
			}
		}
	}()
	return out, nil
}

func (e *Engine) discussInput(req *DiscussRequest, info llms.ModelInfo) discussion.DiscussInput {
	return discussion.DiscussInput{
		Finding:        req.Finding,
		SceneText:      req.SceneText,
		PriorOutcomes:  req.PriorOutcomes,
		CondensedTurns: req.DiscussionContext,
		UserMessage:    req.UserMessage,
		SceneChanged:   req.SceneChanged,
		Model:          info.ID,
		MaxTokens:      maxTokensFor(req.ModelConfig, info),
	}
}

// discussResponse converts a parsed critic reply into the wire shape. A
// revision is applied to a copy of the request finding; the caller's
// original is never mutated.
func (e *Engine) discussResponse(req *DiscussRequest, res *discussion.Result, info llms.ModelInfo, elapsed time.Duration) *DiscussResponse {
	resp := &DiscussResponse{
		Response: res.Display,
		Action: Action{
			Type:    actionForStatus(res.Status, res.Preference),
			Payload: ActionPayload{LegacyStatus: res.Status},
		},
		ExtractedPreference: res.Preference,
		Ambiguity:           res.Ambiguity,
		Meta: Meta{
			ModelUsed: info.ID,
			Timings:   map[string]int64{"total": elapsed.Milliseconds()},
		},
	}
	if res.Revision != nil {
		updated := req.Finding.Clone()
		prior := review.ApplyFindingRevision(updated, res.Revision)
		resp.UpdatedFinding = updated
		resp.ChangeDescription = review.DescribeRevision(prior, updated)
	}
	return resp
}

// ReEvaluate asks the model whether a stale finding survives the edited
// scene and applies the verdict to a copy of the request finding.
func (e *Engine) ReEvaluate(ctx context.Context, req *ReEvaluateRequest) (*ReEvaluateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	provider, info, err := e.providerFor(req.ModelConfig)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	system, user := e.builder.BuildReEvaluation(req.Finding, prompt.NumberLines(req.SceneText))
	tctx, cancel := context.WithTimeout(ctx, e.reEvalTimeout)
	defer cancel()

	start := time.Now()
	out, err := provider.CreateMessage(tctx, llms.ChatRequest{
		Model:     info.ID,
		System:    system,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: user}},
		MaxTokens: maxTokensFor(req.ModelConfig, info),
	})
	if err != nil {
		recordReEvaluation(ctx, "error")
		return nil, err
	}

	verdict, err := parseVerdict(out.Text)
	if err != nil {
		recordReEvaluation(ctx, "error")
		return nil, err
	}

	updated := req.Finding.Clone()
	if err := review.ApplyReEvaluationResult(updated, verdict); err != nil {
		recordReEvaluation(ctx, "error")
		return nil, err
	}
	recordReEvaluation(ctx, verdict.Status)

	resp := &ReEvaluateResponse{
		Status: verdict.Status,
		Meta: Meta{
			ModelUsed:  info.ID,
			Timings:    map[string]int64{"total": time.Since(start).Milliseconds()},
			TokenUsage: usagePtr(out.Usage),
		},
	}
	switch verdict.Status {
	case review.ReEvalUpdated:
		resp.UpdatedFinding = updated
	case review.ReEvalWithdrawn:
		resp.Reason = verdict.Reason
	}
	return resp, nil
}

// parseVerdict extracts the JSON verdict object from a model reply,
// tolerating code fences and prose around the object.
func parseVerdict(text string) (review.ReEvaluationResult, error) {
	var verdict review.ReEvaluationResult
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return verdict, fmt.Errorf("re-evaluation reply carried no JSON object: %s", excerpt(text))
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdict); err != nil {
		return verdict, fmt.Errorf("failed to parse re-evaluation verdict: %w", err)
	}
	if verdict.Status != review.ReEvalUpdated && verdict.Status != review.ReEvalWithdrawn {
		return verdict, fmt.Errorf("re-evaluation verdict has unknown status '%s'", verdict.Status)
	}
	return verdict, nil
}

func excerpt(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 120 {
		return text[:120] + "..."
	}
	return text
}

func analyzeWarnings(res *analysis.AnalyzeResult) []string {
	warnings := append([]string(nil), res.Warnings...)
	for _, lens := range review.Lenses() {
		if err, ok := res.LensFailures[lens]; ok {
			warnings = append(warnings, fmt.Sprintf("lens %s failed: %v", lens, err))
		}
	}
	return warnings
}

func timingsMillis(t analysis.Timings) map[string]int64 {
	out := make(map[string]int64, len(t.Lenses)+2)
	for lens, d := range t.Lenses {
		out[lens] = d.Milliseconds()
	}
	out["coordinator"] = t.Coordinator.Milliseconds()
	out["total"] = t.Total.Milliseconds()
	return out
}

func usagePtr(u llms.Usage) *llms.Usage {
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return nil
	}
	v := u
	return &v
}

func recordReEvaluation(ctx context.Context, outcome string) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordReEvaluation(ctx, outcome)
	}
}
