package scenediff

import (
	"context"
	"errors"
	"strings"
	"testing"

	"litcritic/pkg/review"
	"litcritic/pkg/utils"
)

type fakeReader struct {
	text  string
	err   error
	calls int
}

func (r *fakeReader) ReadScenes(paths []string) (string, string, error) {
	r.calls++
	if r.err != nil {
		return "", "", r.err
	}
	return r.text, utils.HashText(r.text), nil
}

type fakeReEvaluator struct {
	results map[int]review.ReEvaluationResult
	errs    map[int]error
	calls   []int
}

func (e *fakeReEvaluator) ReEvaluate(_ context.Context, f *review.Finding, _ string) (review.ReEvaluationResult, error) {
	e.calls = append(e.calls, f.Number)
	if err := e.errs[f.Number]; err != nil {
		return review.ReEvaluationResult{}, err
	}
	return e.results[f.Number], nil
}

type fakeSaver struct {
	checkpoints   int
	savedFindings []int
}

func (s *fakeSaver) SaveFinding(_ context.Context, _ string, f *review.Finding) error {
	s.savedFindings = append(s.savedFindings, f.Number)
	return nil
}

func (s *fakeSaver) Checkpoint(_ context.Context, sess *review.Session, _ ...*review.Finding) (bool, error) {
	s.checkpoints++
	return review.RecomputeCompletion(sess), nil
}

const detectorScene = "The hall was dark.\nMira lit the lamp.\nThe wick sputtered.\nShe sat by the window.\nRain traced the glass.\n"

func detectorSession(t *testing.T) *review.Session {
	t.Helper()
	sess := review.NewSession(
		[]string{"scenes/ch01.md"},
		detectorScene,
		utils.HashText(detectorScene),
		"claude-sonnet-4-20250514",
		nil,
	)
	sess.SetFindings([]*review.Finding{
		{Number: 1, Severity: review.SeverityMinor, Lens: review.LensProse,
			LineStart: intp(1), LineEnd: intp(1), Status: review.StatusPending},
		{Number: 2, Severity: review.SeverityMajor, Lens: review.LensContinuity,
			LineStart: intp(2), LineEnd: intp(2), Evidence: "Mira lit the lamp.",
			Status: review.StatusPending},
		{Number: 3, Severity: review.SeverityMinor, Lens: review.LensClarity,
			Status: review.StatusPending},
		{Number: 4, Severity: review.SeverityMinor, Lens: review.LensProse,
			LineStart: intp(4), LineEnd: intp(4), Status: review.StatusRejected},
	})
	return sess
}

func TestDetectAndApplyNoChange(t *testing.T) {
	reader := &fakeReader{text: detectorScene}
	saver := &fakeSaver{}
	d := NewDetector(reader, &fakeReEvaluator{}, saver)

	report, err := d.DetectAndApply(context.Background(), detectorSession(t), 0)
	if err != nil {
		t.Fatalf("DetectAndApply() error = %v", err)
	}
	if report != nil {
		t.Errorf("report = %+v, want nil for unchanged scene", report)
	}
	if saver.checkpoints != 0 {
		t.Errorf("checkpoints = %d, want 0", saver.checkpoints)
	}
}

func TestDetectAndApplyReadFailure(t *testing.T) {
	reader := &fakeReader{err: errors.New("scene file vanished")}
	d := NewDetector(reader, &fakeReEvaluator{}, &fakeSaver{})

	_, err := d.DetectAndApply(context.Background(), detectorSession(t), 0)
	if err == nil || !strings.Contains(err.Error(), "failed to re-read scenes") {
		t.Errorf("error = %v, want re-read failure", err)
	}
}

func TestDetectAndApplyAdjustsAndReEvaluates(t *testing.T) {
	// Line 2 is deleted; everything below shifts up by one.
	edited := "The hall was dark.\nThe wick sputtered.\nShe sat by the window.\nRain traced the glass.\n"
	reader := &fakeReader{text: edited}
	reEval := &fakeReEvaluator{results: map[int]review.ReEvaluationResult{
		2: {Status: review.ReEvalWithdrawn, Reason: "the duplicate lighting was cut"},
	}}
	saver := &fakeSaver{}
	d := NewDetector(reader, reEval, saver)
	sess := detectorSession(t)

	report, err := d.DetectAndApply(context.Background(), sess, 0)
	if err != nil {
		t.Fatalf("DetectAndApply() error = %v", err)
	}
	if !report.Changed {
		t.Error("report.Changed = false")
	}
	if report.Adjusted != 2 || report.Stale != 1 || report.NoLines != 1 {
		t.Errorf("report = %d adjusted / %d stale / %d no_lines, want 2/1/1",
			report.Adjusted, report.Stale, report.NoLines)
	}

	if got := *sess.Findings[0].LineStart; got != 1 {
		t.Errorf("finding 1 start = %d, want 1", got)
	}
	if got := *sess.Findings[3].LineStart; got != 3 {
		t.Errorf("finding 4 start = %d, want remapped 3", got)
	}

	// The stale continuity finding was withdrawn by re-evaluation.
	f2 := sess.Findings[1]
	if f2.Status != review.StatusWithdrawn {
		t.Errorf("finding 2 status = %q, want withdrawn", f2.Status)
	}
	if f2.OutcomeReason != "Withdrawn after re-evaluation: the duplicate lighting was cut" {
		t.Errorf("OutcomeReason = %q", f2.OutcomeReason)
	}
	if f2.Stale {
		t.Error("re-evaluated finding should no longer be stale")
	}
	if len(report.ReEvaluated) != 1 || report.ReEvaluated[0] != (ReEvaluation{Number: 2, Status: review.ReEvalWithdrawn}) {
		t.Errorf("ReEvaluated = %+v", report.ReEvaluated)
	}

	// Rejected findings are never sent for re-evaluation.
	for _, n := range reEval.calls {
		if n == 4 {
			t.Error("rejected finding 4 was re-evaluated")
		}
	}

	if sess.SceneText != edited || sess.SceneHash != utils.HashText(edited) {
		t.Error("session scene text/hash not updated")
	}
	if saver.checkpoints != 2 {
		t.Errorf("checkpoints = %d, want 2", saver.checkpoints)
	}
	if len(saver.savedFindings) != 1 || saver.savedFindings[0] != 2 {
		t.Errorf("savedFindings = %v, want [2]", saver.savedFindings)
	}
}

func TestDetectAndApplySkipsFindingsBeforeCursor(t *testing.T) {
	// A line inserted at the top shifts every line down by one.
	edited := "A cold wind blew.\n" + detectorScene
	reader := &fakeReader{text: edited}
	d := NewDetector(reader, &fakeReEvaluator{}, &fakeSaver{})
	sess := detectorSession(t)

	report, err := d.DetectAndApply(context.Background(), sess, 1)
	if err != nil {
		t.Fatalf("DetectAndApply() error = %v", err)
	}
	if got := *sess.Findings[0].LineStart; got != 1 {
		t.Errorf("finding before cursor was touched: start = %d", got)
	}
	if got := *sess.Findings[1].LineStart; got != 3 {
		t.Errorf("finding 2 start = %d, want 3", got)
	}
	if got := *sess.Findings[3].LineStart; got != 5 {
		t.Errorf("finding 4 start = %d, want 5", got)
	}
	if report.Adjusted != 2 || report.Stale != 0 {
		t.Errorf("report = %d adjusted / %d stale, want 2/0", report.Adjusted, report.Stale)
	}
}

func TestDetectAndApplyReEvaluationFailureIsNonFatal(t *testing.T) {
	edited := "The hall was dark.\nThe wick sputtered.\nShe sat by the window.\nRain traced the glass.\n"
	reader := &fakeReader{text: edited}
	reEval := &fakeReEvaluator{errs: map[int]error{2: errors.New("model unavailable")}}
	d := NewDetector(reader, reEval, &fakeSaver{})
	sess := detectorSession(t)

	report, err := d.DetectAndApply(context.Background(), sess, 0)
	if err != nil {
		t.Fatalf("DetectAndApply() error = %v", err)
	}
	if len(report.ReEvaluated) != 0 {
		t.Errorf("ReEvaluated = %+v, want empty", report.ReEvaluated)
	}
	f2 := sess.Findings[1]
	if !f2.Stale || f2.Status != review.StatusPending {
		t.Errorf("failed re-evaluation should leave finding stale and pending, got %v/%q", f2.Stale, f2.Status)
	}
}

func TestDetectAndApplyWithdrawalCompletesSession(t *testing.T) {
	sess := detectorSession(t)
	sess.Findings[0].Status = review.StatusAccepted
	sess.Findings[2].Status = review.StatusAccepted
	sess.RecomputeCounters()

	edited := "The hall was dark.\nThe wick sputtered.\nShe sat by the window.\nRain traced the glass.\n"
	reader := &fakeReader{text: edited}
	reEval := &fakeReEvaluator{results: map[int]review.ReEvaluationResult{
		2: {Status: review.ReEvalWithdrawn, Reason: "resolved by the edit"},
	}}
	d := NewDetector(reader, reEval, &fakeSaver{})

	report, err := d.DetectAndApply(context.Background(), sess, 0)
	if err != nil {
		t.Fatalf("DetectAndApply() error = %v", err)
	}
	if !report.Completed {
		t.Error("withdrawing the last open finding should complete the session")
	}
	if sess.Status != review.SessionCompleted {
		t.Errorf("session status = %q, want completed", sess.Status)
	}
}

func TestDetectAndApplyIdempotent(t *testing.T) {
	edited := "The hall was dark.\nThe wick sputtered.\nShe sat by the window.\nRain traced the glass.\n"
	reader := &fakeReader{text: edited}
	reEval := &fakeReEvaluator{results: map[int]review.ReEvaluationResult{
		2: {Status: review.ReEvalUpdated, LineStart: intp(1), LineEnd: intp(2)},
	}}
	d := NewDetector(reader, reEval, &fakeSaver{})
	sess := detectorSession(t)
	ctx := context.Background()

	first, err := d.DetectAndApply(ctx, sess, 0)
	if err != nil {
		t.Fatalf("first pass error = %v", err)
	}
	if first == nil || !first.Changed {
		t.Fatalf("first pass report = %+v", first)
	}

	second, err := d.DetectAndApply(ctx, sess, 0)
	if err != nil {
		t.Fatalf("second pass error = %v", err)
	}
	if second != nil {
		t.Errorf("second pass report = %+v, want nil", second)
	}
	if len(reEval.calls) != 1 {
		t.Errorf("re-evaluation ran %d times, want 1", len(reEval.calls))
	}
}

func TestReviewCurrentFindingOnlyReEvaluatesCursor(t *testing.T) {
	// Lines 1 and 2 both deleted: findings 1 and 2 go stale.
	edited := "The wick sputtered.\nShe sat by the window.\nRain traced the glass.\n"
	reader := &fakeReader{text: edited}
	reEval := &fakeReEvaluator{results: map[int]review.ReEvaluationResult{
		1: {Status: review.ReEvalUpdated, LineStart: intp(1), LineEnd: intp(1), Evidence: "The wick sputtered."},
	}}
	saver := &fakeSaver{}
	d := NewDetector(reader, reEval, saver)
	sess := detectorSession(t)

	report, err := d.ReviewCurrentFinding(context.Background(), sess, 0)
	if err != nil {
		t.Fatalf("ReviewCurrentFinding() error = %v", err)
	}
	if report.Stale != 2 {
		t.Errorf("report.Stale = %d, want 2", report.Stale)
	}
	if len(reEval.calls) != 1 || reEval.calls[0] != 1 {
		t.Errorf("re-evaluation calls = %v, want [1]", reEval.calls)
	}

	f1 := sess.Findings[0]
	if f1.Stale || *f1.LineStart != 1 || f1.Evidence != "The wick sputtered." {
		t.Errorf("finding 1 after update = stale %v, start %d, evidence %q",
			f1.Stale, *f1.LineStart, f1.Evidence)
	}
	f2 := sess.Findings[1]
	if !f2.Stale || f2.Status != review.StatusPending {
		t.Errorf("finding 2 should stay stale and pending, got %v/%q", f2.Stale, f2.Status)
	}
	if len(report.ReEvaluated) != 1 || report.ReEvaluated[0].Status != review.ReEvalUpdated {
		t.Errorf("ReEvaluated = %+v", report.ReEvaluated)
	}
}
