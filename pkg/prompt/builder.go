// Package prompt assembles every prompt the engine sends: the six analyst
// calls, the chunked and single-call coordinators, the per-finding
// discussion system prompt, and the stale-finding re-evaluation request.
// Callers pass scene text already run through NumberLines, so every prompt
// refers to the same L-numbers the findings cite.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"litcritic/pkg/review"
)

// Canonical project index names, in the order prompts render them.
var indexOrder = []string{"CANON", "CAST", "GLOSSARY", "STYLE", "THREADS", "TIMELINE"}

// IndexNames returns the canonical index names in render order.
func IndexNames() []string {
	return append([]string(nil), indexOrder...)
}

// NumberLines prefixes every line of text with its 1-based number in the
// form "L001: ", padded to the digit count of the total line count, minimum
// three. A single trailing newline does not count as a line.
func NumberLines(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	width := len(fmt.Sprintf("%d", len(lines)))
	if width < 3 {
		width = 3
	}
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "L%0*d: %s\n", width, i+1, line)
	}
	return b.String()
}

// LearningContext is the author's accumulated track record as rendered into
// analysis prompts. It is also the wire shape of the analyze request's
// learning_context field.
type LearningContext struct {
	ReviewCount          int      `json:"review_count,omitempty"`
	Preferences          []string `json:"preferences,omitempty"`
	BlindSpots           []string `json:"blind_spots,omitempty"`
	Resolutions          []string `json:"resolutions,omitempty"`
	AmbiguityIntentional []string `json:"ambiguity_intentional,omitempty"`
	AmbiguityAccidental  []string `json:"ambiguity_accidental,omitempty"`
}

func (lc *LearningContext) empty() bool {
	if lc == nil {
		return true
	}
	return len(lc.Preferences) == 0 && len(lc.BlindSpots) == 0 &&
		len(lc.Resolutions) == 0 && len(lc.AmbiguityIntentional) == 0 &&
		len(lc.AmbiguityAccidental) == 0
}

// SceneContext carries the shared inputs of the analysis prompts: the scene
// already numbered via NumberLines, the project index contents keyed by
// canonical name, and the author's learning context when the project has
// history.
type SceneContext struct {
	NumberedScene string
	Indexes       map[string]string
	Learning      *LearningContext
	SceneCount    int
}

// Builder produces the prompts for each engine call. The default
// implementation is a fixed template set; alternative builders can restyle
// the prompts without touching the pipeline or the discussion engine.
type Builder interface {
	// BuildLens returns the system and user prompts for one analyst call.
	BuildLens(lens string, sc SceneContext) (system, user string, err error)

	// BuildChunkCoordinator returns the prompts for one coordinator chunk.
	// reports maps lens name to that analyst's raw report and may omit
	// lenses that failed.
	BuildChunkCoordinator(chunk string, reports map[string]string, sc SceneContext) (system, user string, err error)

	// BuildSingleCoordinator returns the prompts for the all-lens fallback
	// coordinator call.
	BuildSingleCoordinator(reports map[string]string, sc SceneContext) (system, user string)

	// BuildDiscussionSystem returns the system prompt for one discussion
	// turn. priorOutcomes is empty until another finding has an outcome.
	BuildDiscussionSystem(f *review.Finding, numberedScene, priorOutcomes string) string

	// BuildReEvaluation returns the prompts asking whether a stale finding
	// survives the edited scene. The reply is a bare JSON verdict.
	BuildReEvaluation(f *review.Finding, numberedScene string) (system, user string)
}

// DefaultBuilder is the stock template set.
type DefaultBuilder struct{}

var _ Builder = (*DefaultBuilder)(nil)

// New creates the default prompt builder.
func New() *DefaultBuilder {
	return &DefaultBuilder{}
}

// BuildLens implements Builder.
func (b *DefaultBuilder) BuildLens(lens string, sc SceneContext) (string, string, error) {
	persona, ok := lensPersonas[lens]
	if !ok {
		return "", "", fmt.Errorf("unknown lens '%s'", lens)
	}

	var sys strings.Builder
	sys.WriteString(persona)
	sys.WriteString("\n\n")
	sys.WriteString(severityRubric)
	sys.WriteString("\n\n")
	sys.WriteString(findingContract)

	var usr strings.Builder
	writeIndexes(&usr, sc.Indexes)
	writeLearning(&usr, sc.Learning)
	writeScene(&usr, sc)
	fmt.Fprintf(&usr, "Report your findings as the %s analyst.\n", lens)

	return strings.TrimSpace(sys.String()), strings.TrimSpace(usr.String()), nil
}

// BuildChunkCoordinator implements Builder.
func (b *DefaultBuilder) BuildChunkCoordinator(chunk string, reports map[string]string, sc SceneContext) (string, string, error) {
	label, ok := chunkLabels[chunk]
	if !ok {
		return "", "", fmt.Errorf("unknown coordinator chunk '%s'", chunk)
	}
	sys := fmt.Sprintf(coordinatorSystem, label)
	usr := coordinatorUser(review.ChunkLenses(chunk), reports, sc)
	return strings.TrimSpace(sys), strings.TrimSpace(usr), nil
}

// BuildSingleCoordinator implements Builder.
func (b *DefaultBuilder) BuildSingleCoordinator(reports map[string]string, sc SceneContext) (string, string) {
	sys := fmt.Sprintf(coordinatorSystem, "full panel (every analyst report that succeeded)")
	usr := coordinatorUser(review.Lenses(), reports, sc)
	return strings.TrimSpace(sys), strings.TrimSpace(usr)
}

// BuildDiscussionSystem implements Builder.
func (b *DefaultBuilder) BuildDiscussionSystem(f *review.Finding, numberedScene, priorOutcomes string) string {
	var sb strings.Builder
	sb.WriteString(discussionRole)
	sb.WriteString("\n\n")
	writeFindingBlock(&sb, f)
	writeNumbered(&sb, "SCENE (line-numbered)", numberedScene)
	if strings.TrimSpace(priorOutcomes) != "" {
		sb.WriteString("## EARLIER FINDINGS THIS SESSION\n\n")
		sb.WriteString(strings.TrimSpace(priorOutcomes))
		sb.WriteString("\n\n")
	}
	sb.WriteString(discussionTagProtocol)
	return strings.TrimSpace(sb.String())
}

// BuildReEvaluation implements Builder.
func (b *DefaultBuilder) BuildReEvaluation(f *review.Finding, numberedScene string) (string, string) {
	var usr strings.Builder
	writeFindingBlock(&usr, f)
	usr.WriteString("The line numbers above refer to the pre-edit text and may be stale.\n\n")
	writeNumbered(&usr, "CURRENT SCENE (line-numbered)", numberedScene)
	usr.WriteString("Deliver your verdict as a single JSON object now.\n")
	return reEvaluationSystem, strings.TrimSpace(usr.String())
}

func coordinatorUser(lenses []string, reports map[string]string, sc SceneContext) string {
	var b strings.Builder
	if g := sc.Indexes["GLOSSARY"]; strings.TrimSpace(g) != "" {
		fmt.Fprintf(&b, "## GLOSSARY\n\n%s\n\n", strings.TrimSpace(g))
	}
	writeScene(&b, sc)
	b.WriteString("## ANALYST REPORTS\n\n")
	for _, lens := range lenses {
		report := reports[lens]
		if strings.TrimSpace(report) == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s ANALYST\n\n%s\n\n", strings.ToUpper(lens), strings.TrimSpace(report))
	}
	b.WriteString("Consolidate these reports now by calling report_findings exactly once.\n")
	return b.String()
}

func writeIndexes(b *strings.Builder, indexes map[string]string) {
	names := presentIndexes(indexes)
	if len(names) == 0 {
		return
	}
	b.WriteString("## PROJECT INDEXES\n\n")
	for _, name := range names {
		fmt.Fprintf(b, "### %s\n\n%s\n\n", name, strings.TrimSpace(indexes[name]))
	}
}

// presentIndexes returns the names with non-empty content: canonical ones
// first in render order, anything else sorted after them.
func presentIndexes(indexes map[string]string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, name := range indexOrder {
		if strings.TrimSpace(indexes[name]) != "" {
			names = append(names, name)
			seen[name] = true
		}
	}
	var extra []string
	for name, content := range indexes {
		if !seen[name] && strings.TrimSpace(content) != "" {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

func writeLearning(b *strings.Builder, lc *LearningContext) {
	if lc.empty() {
		return
	}
	b.WriteString("## AUTHOR TRACK RECORD\n\n")
	if lc.ReviewCount > 0 {
		fmt.Fprintf(b, "Reviews completed for this project: %d.\n\n", lc.ReviewCount)
	}
	writeList(b, "Standing preferences (do not flag what these permit):", lc.Preferences)
	writeList(b, "Known blind spots (look extra hard for these):", lc.BlindSpots)
	writeList(b, "Resolutions from earlier discussions:", lc.Resolutions)
	writeList(b, "Ambiguities the author confirmed intentional (do not re-flag):", lc.AmbiguityIntentional)
	writeList(b, "Ambiguities the author admitted were accidental:", lc.AmbiguityAccidental)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString("\n")
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func writeScene(b *strings.Builder, sc SceneContext) {
	b.WriteString("## SCENE (line-numbered)\n\n")
	if sc.SceneCount > 1 {
		fmt.Fprintf(b, "This submission contains %d scenes separated by SCENE BOUNDARY markers.\n\n", sc.SceneCount)
	}
	b.WriteString(sc.NumberedScene)
	if !strings.HasSuffix(sc.NumberedScene, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeNumbered(b *strings.Builder, heading, numberedScene string) {
	b.WriteString("## ")
	b.WriteString(heading)
	b.WriteString("\n\n")
	b.WriteString(numberedScene)
	if !strings.HasSuffix(numberedScene, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeFindingBlock(b *strings.Builder, f *review.Finding) {
	fmt.Fprintf(b, "## FINDING #%d\n\n", f.Number)
	fmt.Fprintf(b, "- Severity: %s\n", f.Severity)
	fmt.Fprintf(b, "- Lens: %s\n", f.Lens)
	fmt.Fprintf(b, "- Location: %s\n", f.Location)
	fmt.Fprintf(b, "- Lines: %s\n", lineRange(f))
	if f.ScenePath != "" {
		fmt.Fprintf(b, "- Scene file: %s\n", f.ScenePath)
	}
	fmt.Fprintf(b, "- Evidence: \"%s\"\n", f.Evidence)
	fmt.Fprintf(b, "- Impact: %s\n", f.Impact)
	if len(f.Options) > 0 {
		b.WriteString("- Options:\n")
		for i, opt := range f.Options {
			fmt.Fprintf(b, "  %d. %s\n", i+1, opt)
		}
	}
	b.WriteString("\n")
}

func lineRange(f *review.Finding) string {
	if f.HasLines() {
		return fmt.Sprintf("%d-%d", *f.LineStart, *f.LineEnd)
	}
	return "not anchored to specific lines"
}
