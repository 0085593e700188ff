package scenediff

import (
	"context"
	"fmt"
	"log/slog"

	"litcritic/pkg/observability"
	"litcritic/pkg/review"
)

// SceneReader re-reads the session's scene files from disk, returning the
// concatenated text (with boundary markers for multi-scene sessions) and its
// content hash.
type SceneReader interface {
	ReadScenes(paths []string) (text string, hash string, err error)
}

// ReEvaluator asks the core whether a stale finding still applies to the
// edited scene.
type ReEvaluator interface {
	ReEvaluate(ctx context.Context, f *review.Finding, sceneText string) (review.ReEvaluationResult, error)
}

// Saver persists the detector's work. *store.Store satisfies it.
type Saver interface {
	SaveFinding(ctx context.Context, sessionID string, f *review.Finding) error
	Checkpoint(ctx context.Context, sess *review.Session, changed ...*review.Finding) (bool, error)
}

// ReEvaluation is one re-evaluated finding in a change report.
type ReEvaluation struct {
	Number int    `json:"number"`
	Status string `json:"status"`
}

// ChangeReport summarises one detection pass over an edited scene.
type ChangeReport struct {
	Changed     bool           `json:"changed"`
	Adjusted    int            `json:"adjusted"`
	Stale       int            `json:"stale"`
	NoLines     int            `json:"no_lines"`
	ReEvaluated []ReEvaluation `json:"re_evaluated"`
	// Completed is true when clearing stale findings finished the session.
	Completed bool `json:"completed"`
}

// Detector watches for scene edits mid-session and reconciles findings with
// the new text.
type Detector struct {
	reader SceneReader
	reEval ReEvaluator
	saver  Saver
}

func NewDetector(reader SceneReader, reEval ReEvaluator, saver Saver) *Detector {
	return &Detector{reader: reader, reEval: reEval, saver: saver}
}

// DetectAndApply re-reads the scene and, when it changed, adjusts every
// finding from currentIndex on, persists the touched rows, and re-evaluates
// each newly-stale finding that is still in play. Returns nil when the scene
// is unchanged, which also makes a second pass over the same edit a no-op.
func (d *Detector) DetectAndApply(ctx context.Context, sess *review.Session, currentIndex int) (*ChangeReport, error) {
	report, candidates, err := d.detectAndAdjust(ctx, sess, currentIndex)
	if report == nil || err != nil {
		return report, err
	}

	for _, f := range candidates {
		if verdict, ok := d.reEvaluate(ctx, sess, f); ok {
			report.ReEvaluated = append(report.ReEvaluated, ReEvaluation{Number: f.Number, Status: verdict})
		}
	}
	return d.finish(ctx, sess, report)
}

// ReviewCurrentFinding performs the same diff and remap over all remaining
// findings but re-evaluates only the finding at currentIndex, stale or
// newly stale.
func (d *Detector) ReviewCurrentFinding(ctx context.Context, sess *review.Session, currentIndex int) (*ChangeReport, error) {
	report, _, err := d.detectAndAdjust(ctx, sess, currentIndex)
	if report == nil || err != nil {
		return report, err
	}

	if currentIndex >= 0 && currentIndex < len(sess.Findings) {
		f := sess.Findings[currentIndex]
		if f.Stale && inPlay(f) {
			if verdict, ok := d.reEvaluate(ctx, sess, f); ok {
				report.ReEvaluated = append(report.ReEvaluated, ReEvaluation{Number: f.Number, Status: verdict})
			}
		}
	}
	return d.finish(ctx, sess, report)
}

// detectAndAdjust runs steps shared by both entry points: re-read, diff,
// adjust, persist. It returns (nil, nil, nil) when the scene is unchanged,
// and otherwise the in-progress report plus the newly-stale findings that
// qualify for re-evaluation.
func (d *Detector) detectAndAdjust(ctx context.Context, sess *review.Session, currentIndex int) (*ChangeReport, []*review.Finding, error) {
	newText, newHash, err := d.reader.ReadScenes(sess.ScenePaths)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to re-read scenes: %w", err)
	}
	if newHash == sess.SceneHash {
		return nil, nil, nil
	}
	if sess.SceneText == "" {
		return nil, nil, fmt.Errorf("session %s has no scene text loaded", sess.ID)
	}

	diff := Compute(sess.SceneText, newText)
	report := &ChangeReport{Changed: true}
	var touched []*review.Finding
	var candidates []*review.Finding

	for i := currentIndex; i >= 0 && i < len(sess.Findings); i++ {
		f := sess.Findings[i]
		wasStale := f.Stale
		switch AdjustFinding(f, diff) {
		case AdjustNoLines:
			report.NoLines++
		case AdjustStale:
			report.Stale++
			touched = append(touched, f)
			if !wasStale && inPlay(f) {
				candidates = append(candidates, f)
			}
		case AdjustRemapped:
			report.Adjusted++
			touched = append(touched, f)
		}
	}

	sess.SceneText = newText
	sess.SceneHash = newHash
	completed, err := d.saver.Checkpoint(ctx, sess, touched...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to persist adjusted findings: %w", err)
	}
	report.Completed = completed

	slog.Info("scene edit detected",
		"session_id", sess.ID,
		"adjusted", report.Adjusted,
		"stale", report.Stale,
		"no_lines", report.NoLines)
	return report, candidates, nil
}

// reEvaluate runs one finding through the core and applies the verdict.
// Failures are logged and skipped; one bad call must not sink the pass.
func (d *Detector) reEvaluate(ctx context.Context, sess *review.Session, f *review.Finding) (string, bool) {
	result, err := d.reEval.ReEvaluate(ctx, f, sess.SceneText)
	if err != nil {
		slog.Warn("re-evaluation failed", "finding", f.Number, "error", err)
		recordReEvaluation(ctx, "error")
		return "", false
	}
	if err := review.ApplyReEvaluationResult(f, result); err != nil {
		slog.Warn("re-evaluation returned an unusable verdict", "finding", f.Number, "error", err)
		recordReEvaluation(ctx, "error")
		return "", false
	}
	recordReEvaluation(ctx, result.Status)
	if err := d.saver.SaveFinding(ctx, sess.ID, f); err != nil {
		slog.Warn("failed to persist re-evaluated finding", "finding", f.Number, "error", err)
	}
	return result.Status, true
}

func (d *Detector) finish(ctx context.Context, sess *review.Session, report *ChangeReport) (*ChangeReport, error) {
	if len(report.ReEvaluated) > 0 {
		completed, err := d.saver.Checkpoint(ctx, sess)
		if err != nil {
			return report, fmt.Errorf("failed to checkpoint after re-evaluation: %w", err)
		}
		report.Completed = report.Completed || completed
	}
	return report, nil
}

func inPlay(f *review.Finding) bool {
	return f.Status != review.StatusWithdrawn && f.Status != review.StatusRejected
}

func recordReEvaluation(ctx context.Context, outcome string) {
	if m := observability.GetGlobalMetrics(); m != nil {
		m.RecordReEvaluation(ctx, outcome)
	}
}
