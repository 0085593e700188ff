package prompt

import (
	"strings"
	"testing"

	"litcritic/pkg/review"
)

func intp(i int) *int { return &i }

func sampleFinding() *review.Finding {
	return &review.Finding{
		Number:    3,
		Severity:  review.SeverityMajor,
		Lens:      review.LensContinuity,
		Location:  "the hallway exchange",
		LineStart: intp(10),
		LineEnd:   intp(14),
		Evidence:  "the lamp is lit twice",
		Impact:    "breaks continuity of the blackout",
		Options:   []string{"cut the second lighting", "move the blackout later"},
		Status:    review.StatusPending,
	}
}

func TestNumberLines(t *testing.T) {
	got := NumberLines("first\nsecond\nthird")
	want := "L001: first\nL002: second\nL003: third\n"
	if got != want {
		t.Errorf("NumberLines = %q, want %q", got, want)
	}
}

func TestNumberLinesTrailingNewline(t *testing.T) {
	got := NumberLines("only\n")
	want := "L001: only\n"
	if got != want {
		t.Errorf("NumberLines = %q, want %q", got, want)
	}

	if got := NumberLines(""); got != "" {
		t.Errorf("NumberLines(empty) = %q, want empty", got)
	}
}

func TestNumberLinesWidthAdapts(t *testing.T) {
	got := NumberLines(strings.Repeat("x\n", 1000))
	if !strings.HasPrefix(got, "L0001: x\n") {
		t.Errorf("first line = %q, want L0001 prefix", firstLine(got))
	}
	if !strings.Contains(got, "L1000: x\n") {
		t.Error("missing L1000 line")
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func TestBuildLens(t *testing.T) {
	sc := SceneContext{
		NumberedScene: NumberLines("The lamp went out.\nShe lit it again."),
		Indexes: map[string]string{
			"CANON": "The city has no electricity.",
			"CAST":  "Mara: night watchwoman.",
		},
		Learning: &LearningContext{
			ReviewCount: 4,
			Preferences: []string{"[prose] Sentence fragments are deliberate"},
		},
	}

	system, user, err := New().BuildLens(review.LensProse, sc)
	if err != nil {
		t.Fatalf("BuildLens: %v", err)
	}

	if !strings.Contains(system, "prose analyst") {
		t.Error("system prompt missing persona")
	}
	if !strings.Contains(system, "Severity scale:") {
		t.Error("system prompt missing severity rubric")
	}
	for _, want := range []string{
		"### CANON",
		"The city has no electricity.",
		"## AUTHOR TRACK RECORD",
		"Sentence fragments are deliberate",
		"L001: The lamp went out.",
		"Report your findings as the prose analyst.",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}

func TestBuildLensUnknown(t *testing.T) {
	_, _, err := New().BuildLens("grammar", SceneContext{NumberedScene: "L001: x\n"})
	if err == nil || !strings.Contains(err.Error(), "unknown lens") {
		t.Errorf("err = %v, want unknown lens error", err)
	}
}

func TestBuildLensOmitsEmptySections(t *testing.T) {
	sc := SceneContext{NumberedScene: "L001: x\n"}
	_, user, err := New().BuildLens(review.LensClarity, sc)
	if err != nil {
		t.Fatalf("BuildLens: %v", err)
	}
	if strings.Contains(user, "PROJECT INDEXES") {
		t.Error("index section rendered with no indexes")
	}
	if strings.Contains(user, "AUTHOR TRACK RECORD") {
		t.Error("learning section rendered with no learning")
	}
}

func TestBuildLensIndexOrder(t *testing.T) {
	sc := SceneContext{
		NumberedScene: "L001: x\n",
		Indexes: map[string]string{
			"NOTES":    "loose notes",
			"TIMELINE": "day three",
			"CANON":    "facts",
		},
	}
	_, user, err := New().BuildLens(review.LensContinuity, sc)
	if err != nil {
		t.Fatalf("BuildLens: %v", err)
	}

	canon := strings.Index(user, "### CANON")
	timeline := strings.Index(user, "### TIMELINE")
	notes := strings.Index(user, "### NOTES")
	if canon < 0 || timeline < 0 || notes < 0 {
		t.Fatalf("missing index sections: canon=%d timeline=%d notes=%d", canon, timeline, notes)
	}
	if !(canon < timeline && timeline < notes) {
		t.Errorf("index order canon=%d timeline=%d notes=%d, want canonical before extras", canon, timeline, notes)
	}
}

func TestBuildChunkCoordinator(t *testing.T) {
	sc := SceneContext{
		NumberedScene: "L001: The lamp went out.\n",
		Indexes:       map[string]string{"GLOSSARY": "lamp: oil-burning only"},
	}
	reports := map[string]string{
		review.LensLogic:      "logic report body",
		review.LensContinuity: "continuity report body",
		review.LensProse:      "prose report body",
	}

	system, user, err := New().BuildChunkCoordinator(review.ChunkCoherence, reports, sc)
	if err != nil {
		t.Fatalf("BuildChunkCoordinator: %v", err)
	}

	if !strings.Contains(system, "coherence chunk") {
		t.Error("system prompt missing chunk label")
	}
	if !strings.Contains(system, "report_findings") {
		t.Error("system prompt missing tool name")
	}
	for _, want := range []string{"### LOGIC ANALYST", "logic report body", "### CONTINUITY ANALYST", "## GLOSSARY"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if strings.Contains(user, "PROSE ANALYST") {
		t.Error("coherence chunk must not include the prose report")
	}
	if strings.Contains(user, "CLARITY ANALYST") {
		t.Error("missing clarity report must be skipped, not rendered empty")
	}
}

func TestBuildChunkCoordinatorUnknown(t *testing.T) {
	_, _, err := New().BuildChunkCoordinator("pacing", nil, SceneContext{})
	if err == nil || !strings.Contains(err.Error(), "unknown coordinator chunk") {
		t.Errorf("err = %v, want unknown chunk error", err)
	}
}

func TestBuildSingleCoordinator(t *testing.T) {
	sc := SceneContext{NumberedScene: "L001: x\n"}
	reports := map[string]string{
		review.LensDialogue: "dialogue report",
		review.LensProse:    "prose report",
	}

	system, user := New().BuildSingleCoordinator(reports, sc)
	if !strings.Contains(system, "full panel") {
		t.Error("system prompt missing full-panel label")
	}

	prose := strings.Index(user, "### PROSE ANALYST")
	dialogue := strings.Index(user, "### DIALOGUE ANALYST")
	if prose < 0 || dialogue < 0 {
		t.Fatalf("missing reports: prose=%d dialogue=%d", prose, dialogue)
	}
	if prose > dialogue {
		t.Error("reports not in canonical lens order")
	}
}

func TestBuildDiscussionSystem(t *testing.T) {
	f := sampleFinding()
	scene := "L001: The lamp went out.\nL002: She lit it again.\n"
	prior := "- Finding #1 [prose, major]: accepted (Accepted by author)"

	got := New().BuildDiscussionSystem(f, scene, prior)

	for _, want := range []string{
		"## FINDING #3",
		"- Severity: major",
		"- Lens: continuity",
		"- Location: the hallway exchange",
		"- Lines: 10-14",
		"- Evidence: \"the lamp is lit twice\"",
		"  1. cut the second lighting",
		"  2. move the blackout later",
		"## EARLIER FINDINGS THIS SESSION",
		"Finding #1 [prose, major]",
		"[CONTINUE]",
		"[CONCEDED]",
		"[ESCALATED]",
		"[REVISION]",
		"[PREFERENCE:",
		"[AMBIGUITY:INTENTIONAL]",
		"L002: She lit it again.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("discussion prompt missing %q", want)
		}
	}
}

func TestBuildDiscussionSystemNoPriorOutcomes(t *testing.T) {
	got := New().BuildDiscussionSystem(sampleFinding(), "L001: x\n", "")
	if strings.Contains(got, "EARLIER FINDINGS THIS SESSION") {
		t.Error("prior-outcomes section rendered when empty")
	}
}

func TestBuildDiscussionSystemNoLines(t *testing.T) {
	f := sampleFinding()
	f.LineStart = nil
	f.LineEnd = nil
	got := New().BuildDiscussionSystem(f, "L001: x\n", "")
	if !strings.Contains(got, "- Lines: not anchored to specific lines") {
		t.Error("unanchored finding should say so in the finding block")
	}
}

func TestBuildReEvaluation(t *testing.T) {
	f := sampleFinding()
	f.Stale = true
	scene := "L001: The lamp stayed dark.\n"

	system, user := New().BuildReEvaluation(f, scene)

	if !strings.Contains(system, `"status": "updated"`) || !strings.Contains(system, `"status": "withdrawn"`) {
		t.Error("system prompt missing verdict shapes")
	}
	for _, want := range []string{
		"## FINDING #3",
		"may be stale",
		"## CURRENT SCENE (line-numbered)",
		"L001: The lamp stayed dark.",
		"single JSON object",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("re-evaluation user prompt missing %q", want)
		}
	}
}
