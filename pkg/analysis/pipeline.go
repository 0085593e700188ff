// Package analysis runs one editorial pass end to end: six analyst
// completions fanned out in parallel, chunked coordination through a forced
// report_findings tool call, structural validation with patch-and-warn
// semantics, cross-chunk dedup, and lens-weighted re-ranking.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"litcritic/pkg/httpclient"
	"litcritic/pkg/llms"
	"litcritic/pkg/observability"
	"litcritic/pkg/prompt"
	"litcritic/pkg/review"
	"litcritic/pkg/utils"
)

const rawExcerptLen = 200

// Options are the pipeline's knobs. Zero values take defaults.
type Options struct {
	LensTimeout        time.Duration // per analyst call, default 60s
	CoordinatorTimeout time.Duration // per coordinator call, default 120s
	MaxAttempts        int           // single-call fallback attempts, default 3
	BackoffBase        time.Duration // fallback backoff base, default 2s
}

func (o *Options) applyDefaults() {
	if o.LensTimeout <= 0 {
		o.LensTimeout = 60 * time.Second
	}
	if o.CoordinatorTimeout <= 0 {
		o.CoordinatorTimeout = 120 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
}

// AnalyzeInput is one analysis request. Model must already be resolved to a
// full provider model ID, and Prefs to a concrete preset.
type AnalyzeInput struct {
	SceneText  string
	Indexes    map[string]string
	Learning   *prompt.LearningContext
	Model      string
	MaxTokens  int
	Prefs      *review.LensPreferences
	SceneCount int
}

// Timings breaks down where an analysis spent its time.
type Timings struct {
	Lenses      map[string]time.Duration
	Coordinator time.Duration
	Total       time.Duration
}

// AnalyzeResult is a completed analysis. LensFailures and Warnings carry the
// non-fatal trouble encountered on the way.
type AnalyzeResult struct {
	Findings       []*review.Finding
	GlossaryIssues []string
	Summary        Summary
	Conflicts      []string
	Ambiguities    []string
	LensFailures   map[string]error
	Warnings       []string
	Timings        Timings
	TokenUsage     llms.Usage
}

// Pipeline drives one analysis against a single provider client.
type Pipeline struct {
	provider llms.Provider
	builder  prompt.Builder
	schema   map[string]any
	opts     Options
}

// NewPipeline builds a pipeline. A nil builder gets the default templates.
func NewPipeline(provider llms.Provider, builder prompt.Builder, opts Options) (*Pipeline, error) {
	opts.applyDefaults()
	if builder == nil {
		builder = prompt.New()
	}
	schema, err := ToolSchema()
	if err != nil {
		return nil, fmt.Errorf("building %s schema: %w", ToolName, err)
	}
	return &Pipeline{provider: provider, builder: builder, schema: schema, opts: opts}, nil
}

// Analyze runs the full pass: lens fan-out, chunked coordination with
// single-call fallback, merge, re-rank. Partial lens or chunk failure is
// recorded and survived; analysis fails only when no finding list could be
// coordinated at all.
func (p *Pipeline) Analyze(ctx context.Context, in AnalyzeInput) (*AnalyzeResult, error) {
	start := time.Now()
	res := &AnalyzeResult{
		LensFailures: make(map[string]error),
		Timings:      Timings{Lenses: make(map[string]time.Duration)},
	}

	sc := prompt.SceneContext{
		NumberedScene: prompt.NumberLines(in.SceneText),
		Indexes:       in.Indexes,
		Learning:      in.Learning,
		SceneCount:    in.SceneCount,
	}

	reports := p.runLenses(ctx, sc, in, res)
	if len(reports) == 0 {
		err := &CoordinationError{Message: "no analyst call succeeded"}
		p.recordAnalysis(ctx, in, time.Since(start), 0, err)
		return nil, err
	}

	coordStart := time.Now()
	var chunkFindings [][]*review.Finding
	chunksOK := 0
	for _, chunk := range review.ChunkOrder() {
		if !chunkHasReport(chunk, reports) {
			continue
		}
		system, user, err := p.builder.BuildChunkCoordinator(chunk, reports, sc)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("chunk %s: %v", chunk, err))
			continue
		}
		payload, warns, err := p.callCoordinator(ctx, system, user, in, res, "chunk "+chunk)
		res.Warnings = append(res.Warnings, warns...)
		if err != nil {
			slog.Warn("coordinator chunk failed", "chunk", chunk, "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("chunk %s failed: %v", chunk, err))
			continue
		}
		chunksOK++
		chunkFindings = append(chunkFindings, p.collectPayload(res, payload))
	}

	if chunksOK == 0 {
		slog.Warn("all coordinator chunks failed, falling back to single call")
		payload, warns, err := p.singleCallFallback(ctx, reports, sc, in, res)
		res.Warnings = append(res.Warnings, warns...)
		if err != nil {
			p.recordAnalysis(ctx, in, time.Since(start), 0, err)
			return nil, err
		}
		chunkFindings = append(chunkFindings, p.collectPayload(res, payload))
	}
	res.Timings.Coordinator = time.Since(coordStart)

	res.Findings = MergeFindings(chunkFindings)
	review.Rerank(res.Findings, in.Prefs)

	res.Timings.Total = time.Since(start)
	p.recordAnalysis(ctx, in, res.Timings.Total, len(res.Findings), nil)
	return res, nil
}

type lensOutcome struct {
	lens     string
	report   string
	usage    llms.Usage
	duration time.Duration
	err      error
}

// runLenses fans the six analyst calls out in parallel and collects their
// reports. Failures land in res.LensFailures; they never abort the group.
func (p *Pipeline) runLenses(ctx context.Context, sc prompt.SceneContext, in AnalyzeInput, res *AnalyzeResult) map[string]string {
	g, gctx := errgroup.WithContext(ctx)
	outcomes := make(chan lensOutcome)

	for _, lens := range review.Lenses() {
		g.Go(func() error {
			callStart := time.Now()
			report, usage, err := p.runLens(gctx, lens, sc, in)
			outcomes <- lensOutcome{lens: lens, report: report, usage: usage, duration: time.Since(callStart), err: err}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(outcomes)
	}()

	reports := make(map[string]string)
	for out := range outcomes {
		res.Timings.Lenses[out.lens] = out.duration
		res.TokenUsage.InputTokens += out.usage.InputTokens
		res.TokenUsage.OutputTokens += out.usage.OutputTokens
		if out.err != nil {
			slog.Warn("lens call failed", "lens", out.lens, "error", out.err)
			res.LensFailures[out.lens] = out.err
			continue
		}
		reports[out.lens] = out.report
	}
	return reports
}

func (p *Pipeline) runLens(ctx context.Context, lens string, sc prompt.SceneContext, in AnalyzeInput) (string, llms.Usage, error) {
	system, user, err := p.builder.BuildLens(lens, sc)
	if err != nil {
		return "", llms.Usage{}, err
	}
	lctx, cancel := context.WithTimeout(ctx, p.opts.LensTimeout)
	defer cancel()

	out, err := p.provider.CreateMessage(lctx, llms.ChatRequest{
		Model:     in.Model,
		MaxTokens: in.MaxTokens,
		System:    system,
		Messages:  []llms.Message{{Role: llms.RoleUser, Content: user}},
	})
	if err != nil {
		return "", llms.Usage{}, err
	}
	if out.Truncated {
		// A cut-off plain-text report is still usable input for the
		// coordinator; only structured tool output must be complete.
		slog.Debug("lens report truncated", "lens", lens)
	}
	return out.Text, out.Usage, nil
}

// callCoordinator makes one forced report_findings call and validates it.
func (p *Pipeline) callCoordinator(ctx context.Context, system, user string, in AnalyzeInput, res *AnalyzeResult, label string) (*reportPayload, []string, error) {
	cctx, cancel := context.WithTimeout(ctx, p.opts.CoordinatorTimeout)
	defer cancel()

	out, err := p.provider.CreateMessageWithTool(cctx, llms.ToolRequest{
		ChatRequest: llms.ChatRequest{
			Model:     in.Model,
			MaxTokens: in.MaxTokens,
			System:    system,
			Messages:  []llms.Message{{Role: llms.RoleUser, Content: user}},
		},
		ToolName:        ToolName,
		ToolDescription: ToolDescription,
		ToolSchema:      p.schema,
	})
	if err != nil {
		return nil, nil, err
	}
	res.TokenUsage.InputTokens += out.Usage.InputTokens
	res.TokenUsage.OutputTokens += out.Usage.OutputTokens

	if out.Truncated {
		return nil, nil, &CoordinationError{
			Message:    label + " coordinator output truncated",
			RawExcerpt: utils.Truncate(out.RawText, rawExcerptLen),
		}
	}

	patched, warns, err := ValidateCoordinatorOutput(out.Input)
	if err != nil {
		attachExcerpt(err, out.RawText)
		return nil, warns, err
	}
	payload, err := decodePayload(patched)
	if err != nil {
		return nil, warns, &CoordinationError{
			Message:    label + " coordinator output does not decode: " + err.Error(),
			RawExcerpt: utils.Truncate(out.RawText, rawExcerptLen),
		}
	}
	return payload, warns, nil
}

// singleCallFallback coordinates every surviving lens report in one call,
// retrying transient failures with exponential backoff. Structural failures
// are not retried.
func (p *Pipeline) singleCallFallback(ctx context.Context, reports map[string]string, sc prompt.SceneContext, in AnalyzeInput, res *AnalyzeResult) (*reportPayload, []string, error) {
	system, user := p.builder.BuildSingleCoordinator(reports, sc)

	var allWarns []string
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.opts.BackoffBase << (attempt - 2)
			slog.Warn("single-call coordinator retrying", "attempt", attempt, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, allWarns, ctx.Err()
			}
		}

		payload, warns, err := p.callCoordinator(ctx, system, user, in, res, "single-call")
		allWarns = append(allWarns, warns...)
		if err == nil {
			return payload, allWarns, nil
		}
		lastErr = err
		if !httpclient.IsTransient(err) {
			var ce *CoordinationError
			if errors.As(err, &ce) {
				ce.Attempts = attempt
				return nil, allWarns, ce
			}
			return nil, allWarns, &CoordinationError{Message: "single-call coordinator failed: " + err.Error(), Attempts: attempt}
		}
	}
	return nil, allWarns, &CoordinationError{Message: "single-call coordinator failed: " + lastErr.Error(), Attempts: p.opts.MaxAttempts}
}

// collectPayload folds one coordinator payload into the result and returns
// its findings converted to the domain model.
func (p *Pipeline) collectPayload(res *AnalyzeResult, payload *reportPayload) []*review.Finding {
	res.GlossaryIssues = appendUnique(res.GlossaryIssues, payload.GlossaryIssues)
	res.Conflicts = append(res.Conflicts, payload.Conflicts...)
	res.Ambiguities = append(res.Ambiguities, payload.Ambiguities...)
	mergeSummaries(&res.Summary, payload.Summary)

	findings := make([]*review.Finding, 0, len(payload.Findings))
	for _, fr := range payload.Findings {
		findings = append(findings, toFinding(fr))
	}
	return findings
}

func chunkHasReport(chunk string, reports map[string]string) bool {
	for _, lens := range review.ChunkLenses(chunk) {
		if _, ok := reports[lens]; ok {
			return true
		}
	}
	return false
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

func mergeSummaries(dst *Summary, src Summary) {
	if src.Assessment != "" {
		if dst.Assessment != "" {
			dst.Assessment += "\n"
		}
		dst.Assessment += src.Assessment
	}
	dst.Strengths = append(dst.Strengths, src.Strengths...)
	dst.Priorities = append(dst.Priorities, src.Priorities...)
}

func attachExcerpt(err error, raw string) {
	var ce *CoordinationError
	if errors.As(err, &ce) && ce.RawExcerpt == "" {
		ce.RawExcerpt = utils.Truncate(raw, rawExcerptLen)
	}
}

func (p *Pipeline) recordAnalysis(ctx context.Context, in AnalyzeInput, d time.Duration, findings int, err error) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordAnalysis(ctx, presetName(in.Prefs), d, findings, err)
	}
}

func presetName(p *review.LensPreferences) string {
	if p == nil || p.Preset == "" {
		return "none"
	}
	return p.Preset
}
