package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"litcritic/pkg/config"
	"litcritic/pkg/review"
	"litcritic/pkg/service"
	"litcritic/pkg/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open("", filepath.Join(t.TempDir(), "lit-critic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// fakeCore scripts the three operations so platform flows run without a
// provider.
type fakeCore struct {
	findings []*review.Finding

	discussStatus     string
	discussPreference string
	discussUpdated    *review.Finding

	reEvalStatus string

	analyzeCalls  int
	discussCalls  int
	reEvalCalls   int
	lastDiscuss   *service.DiscussRequest
	lastReEvalReq *service.ReEvaluateRequest
}

func (c *fakeCore) Analyze(ctx context.Context, req *service.AnalyzeRequest) (*service.AnalyzeResponse, error) {
	c.analyzeCalls++
	if err := req.Validate(); err != nil {
		return nil, err
	}
	findings := make([]*review.Finding, len(c.findings))
	for i, f := range c.findings {
		findings[i] = f.Clone()
	}
	return &service.AnalyzeResponse{
		Findings:       findings,
		GlossaryIssues: []string{"'Mira' appears as 'Meera' in CAST.md"},
		Meta:           service.Meta{ModelUsed: req.ModelConfig.AnalysisModel},
	}, nil
}

func (c *fakeCore) Discuss(ctx context.Context, req *service.DiscussRequest) (*service.DiscussResponse, error) {
	c.discussCalls++
	c.lastDiscuss = req
	return &service.DiscussResponse{
		Response:            "On reflection the lamp reads fine.",
		Action:              service.Action{Payload: service.ActionPayload{LegacyStatus: c.discussStatus}},
		UpdatedFinding:      c.discussUpdated,
		ExtractedPreference: c.discussPreference,
		Meta:                service.Meta{ModelUsed: req.ModelConfig.AnalysisModel},
	}, nil
}

func (c *fakeCore) DiscussStream(ctx context.Context, req *service.DiscussRequest) (<-chan service.DiscussStreamEvent, error) {
	resp, err := c.Discuss(ctx, req)
	if err != nil {
		return nil, err
	}
	ch := make(chan service.DiscussStreamEvent, 2)
	ch <- service.DiscussStreamEvent{Kind: service.StreamKindToken, Text: resp.Response}
	ch <- service.DiscussStreamEvent{Kind: service.StreamKindDone, Response: resp}
	close(ch)
	return ch, nil
}

func (c *fakeCore) ReEvaluate(ctx context.Context, req *service.ReEvaluateRequest) (*service.ReEvaluateResponse, error) {
	c.reEvalCalls++
	c.lastReEvalReq = req
	resp := &service.ReEvaluateResponse{Status: c.reEvalStatus}
	if c.reEvalStatus == review.ReEvalWithdrawn {
		resp.Reason = "the duplicated lamp line is gone"
	}
	return resp, nil
}

func pendingFinding(number int, lens string, line int) *review.Finding {
	return &review.Finding{
		Number:    number,
		Severity:  review.SeverityMajor,
		Lens:      lens,
		Location:  fmt.Sprintf("near line %d", line),
		LineStart: intp(line),
		LineEnd:   intp(line),
		Evidence:  "Mira lit the lamp.",
		Impact:    "the hall was already lit",
		Status:    review.StatusPending,
	}
}

func intp(n int) *int {
	v := n
	return &v
}

func newTestPlatform(t *testing.T, core service.Core) (*Platform, string) {
	t.Helper()
	dir := projectDir(t)

	st := openTestStore(t)
	cfg := &config.UserConfig{Model: "sonnet", MaxTokens: 8192}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	p, err := New(context.Background(), dir, core, st, cfg)
	require.NoError(t, err)
	return p, dir
}

func startTestSession(t *testing.T, p *Platform, dir string) *review.Session {
	t.Helper()
	scene := writeScene(t, dir, "ch01.md", "The hall was dark.\nMira lit the lamp.\nShe lit it again.\n")
	sess, _, err := p.StartSession(context.Background(), StartOptions{ScenePaths: []string{scene}})
	require.NoError(t, err)
	return sess
}

func TestStartSession(t *testing.T) {
	core := &fakeCore{findings: []*review.Finding{
		pendingFinding(1, review.LensProse, 2),
		pendingFinding(2, review.LensContinuity, 3),
	}}
	p, dir := newTestPlatform(t, core)

	sess := startTestSession(t, p, dir)
	assert.Equal(t, 1, core.analyzeCalls)
	assert.Equal(t, 2, sess.TotalFindings)
	assert.Equal(t, review.SessionActive, sess.Status)
	assert.Equal(t, review.PresetSingleScene, sess.Preferences.Preset)
	assert.NotEmpty(t, sess.IndexContextHash)
	assert.Len(t, sess.GlossaryIssues, 1)

	// The session row is already persisted.
	loaded, err := p.Store().LoadSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.TotalFindings)
}

func TestStartSessionRequiresAPIKeyOnlyInRequest(t *testing.T) {
	core := &fakeCore{findings: []*review.Finding{pendingFinding(1, review.LensProse, 2)}}
	p, dir := newTestPlatform(t, core)
	startTestSession(t, p, dir)

	cfgKeys := p.modelConfig("sonnet", 0).APIKeys
	assert.Equal(t, "sk-ant-test", cfgKeys["anthropic"])
}

func TestAcceptRejectCompletesSession(t *testing.T) {
	core := &fakeCore{findings: []*review.Finding{
		pendingFinding(1, review.LensProse, 2),
		pendingFinding(2, review.LensContinuity, 3),
	}}
	p, dir := newTestPlatform(t, core)
	sess := startTestSession(t, p, dir)
	ctx := context.Background()

	_, err := p.AcceptCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, review.StatusAccepted, sess.Findings[0].Status)
	assert.Equal(t, 1, sess.CurrentIndex)
	assert.Len(t, p.Learning().Session.Acceptances, 1)

	_, err = p.RejectCurrent(ctx, "intentional repetition")
	require.NoError(t, err)
	assert.Equal(t, review.StatusRejected, sess.Findings[1].Status)
	assert.Equal(t, review.SessionCompleted, sess.Status)
	assert.NotNil(t, sess.CompletedAt)

	// Completion bumps the review count exactly once and drains signals.
	assert.Equal(t, 1, p.Learning().ReviewCount)
	assert.NotEmpty(t, p.Learning().Resolutions, "the rejection drained into a resolution entry")
}

func TestDiscussConcededWithdraws(t *testing.T) {
	core := &fakeCore{
		findings:      []*review.Finding{pendingFinding(1, review.LensProse, 2)},
		discussStatus: review.OutcomeConceded,
	}
	p, dir := newTestPlatform(t, core)
	sess := startTestSession(t, p, dir)

	resp, err := p.DiscussCurrent(context.Background(), "it is a different lamp")
	require.NoError(t, err)

	f := sess.Findings[0]
	assert.Equal(t, review.StatusWithdrawn, f.Status)
	assert.Equal(t, review.SessionCompleted, sess.Status)
	assert.Len(t, f.DiscussionTurns, 2)
	assert.Equal(t, resp.Response, f.DiscussionTurns[1].Content)
	assert.Equal(t, "it is a different lamp", core.lastDiscuss.UserMessage)
	assert.False(t, core.lastDiscuss.SceneChanged)
}

func TestDiscussContinueKeepsFindingOpen(t *testing.T) {
	core := &fakeCore{
		findings:      []*review.Finding{pendingFinding(1, review.LensProse, 2)},
		discussStatus: review.OutcomeContinue,
	}
	p, dir := newTestPlatform(t, core)
	sess := startTestSession(t, p, dir)

	_, err := p.DiscussCurrent(context.Background(), "what about the pacing?")
	require.NoError(t, err)
	assert.Equal(t, review.StatusPending, sess.Findings[0].Status)
	assert.Equal(t, 0, sess.CurrentIndex)
	assert.Equal(t, review.SessionActive, sess.Status)
}

func TestDiscussRevisionCopiesUpdatedFields(t *testing.T) {
	updated := pendingFinding(1, review.LensProse, 2)
	updated.Severity = review.SeverityMinor
	updated.Evidence = "She lit it again."
	updated.RevisionHistory = []review.RevisionSnapshot{{Severity: review.SeverityMajor}}

	core := &fakeCore{
		findings:       []*review.Finding{pendingFinding(1, review.LensProse, 2)},
		discussStatus:  review.StatusRevised,
		discussUpdated: updated,
	}
	p, dir := newTestPlatform(t, core)
	sess := startTestSession(t, p, dir)

	_, err := p.DiscussCurrent(context.Background(), "surely this is minor")
	require.NoError(t, err)

	f := sess.Findings[0]
	assert.Equal(t, review.StatusRevised, f.Status)
	assert.Equal(t, review.SeverityMinor, f.Severity)
	assert.Equal(t, "She lit it again.", f.Evidence)
	require.Len(t, f.RevisionHistory, 1)
	assert.Equal(t, review.SessionActive, sess.Status, "revised is not terminal")
}

func TestResumeRoundTrip(t *testing.T) {
	core := &fakeCore{findings: []*review.Finding{
		pendingFinding(1, review.LensProse, 2),
		pendingFinding(2, review.LensContinuity, 3),
	}}
	p, dir := newTestPlatform(t, core)
	sess := startTestSession(t, p, dir)
	ctx := context.Background()

	_, err := p.AcceptCurrent(ctx)
	require.NoError(t, err)

	// Fresh platform over the same store simulates a new process.
	p2, err := New(ctx, dir, core, p.Store(), p.cfg)
	require.NoError(t, err)

	resumed, recheck, err := p2.Resume(ctx)
	require.NoError(t, err)
	assert.Nil(t, recheck)
	assert.Equal(t, sess.ID, resumed.ID)
	assert.Equal(t, 1, resumed.CurrentIndex)
	assert.NotEmpty(t, resumed.SceneText)
	assert.Len(t, p2.Learning().Session.Acceptances, 1, "signals survive resume")
}

func TestResumeRejectsEditedScene(t *testing.T) {
	core := &fakeCore{findings: []*review.Finding{pendingFinding(1, review.LensProse, 2)}}
	p, dir := newTestPlatform(t, core)
	startTestSession(t, p, dir)

	writeScene(t, dir, "ch01.md", "A completely different scene.\n")
	_, _, err := p.Resume(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "scene")
}

func TestDetectSceneChangesReEvaluatesStale(t *testing.T) {
	core := &fakeCore{
		findings:     []*review.Finding{pendingFinding(1, review.LensProse, 2)},
		reEvalStatus: review.ReEvalWithdrawn,
	}
	p, dir := newTestPlatform(t, core)
	sess := startTestSession(t, p, dir)

	// Rewrite the flagged line so the finding's range cannot be remapped.
	writeScene(t, dir, "ch01.md", "The hall was dark.\nA candle flickered instead.\nShe lit it again.\n")

	report, err := p.DetectSceneChanges(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.True(t, report.Changed)
	assert.Equal(t, 1, core.reEvalCalls)
	assert.Equal(t, review.StatusWithdrawn, sess.Findings[0].Status)
	assert.True(t, report.Completed)
	assert.Equal(t, 1, p.Learning().ReviewCount)
}

func TestAnswerAmbiguity(t *testing.T) {
	core := &fakeCore{findings: []*review.Finding{pendingFinding(1, review.LensClarity, 2)}}
	p, dir := newTestPlatform(t, core)
	startTestSession(t, p, dir)

	require.NoError(t, p.AnswerAmbiguity(context.Background(), true))
	require.Len(t, p.Learning().Session.AmbiguityAnswers, 1)
	assert.True(t, p.Learning().Session.AmbiguityAnswers[0].Intentional)
}

func TestSkipToLens(t *testing.T) {
	core := &fakeCore{findings: []*review.Finding{
		pendingFinding(1, review.LensProse, 2),
		pendingFinding(2, review.LensStructure, 3),
		pendingFinding(3, review.LensLogic, 3),
	}}
	p, dir := newTestPlatform(t, core)
	sess := startTestSession(t, p, dir)
	ctx := context.Background()

	idx, err := p.SkipToLens(ctx, review.ChunkStructure)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	idx, err = p.SkipToLens(ctx, review.ChunkCoherence)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 2, sess.CurrentIndex)

	_, err = p.SkipToLens(ctx, "nonsense")
	assert.Error(t, err)
}

func TestAbandon(t *testing.T) {
	core := &fakeCore{findings: []*review.Finding{pendingFinding(1, review.LensProse, 2)}}
	p, dir := newTestPlatform(t, core)
	sess := startTestSession(t, p, dir)
	ctx := context.Background()

	require.NoError(t, p.Abandon(ctx))
	assert.Nil(t, p.Session())

	loaded, err := p.Store().LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, review.SessionAbandoned, loaded.Status)

	// No review count for an abandoned session.
	assert.Equal(t, 0, p.Learning().ReviewCount)
}

func TestLearningFileImportOnce(t *testing.T) {
	dir := projectDir(t)
	content := "# Learning: veilfall\n\nReviews completed: 4\n\n## Preferences\n\n- Allow sentence fragments in action beats\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, LearningFile), []byte(content), 0644))

	st := openTestStore(t)
	cfg := &config.UserConfig{Model: "sonnet", MaxTokens: 8192}
	core := &fakeCore{}
	ctx := context.Background()

	p, err := New(ctx, dir, core, st, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Learning().ReviewCount)
	require.Len(t, p.Learning().Preferences, 1)

	// A second open over the same database does not re-import.
	p2, err := New(ctx, dir, core, st, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, p2.Learning().ReviewCount)
	assert.Len(t, p2.Learning().Preferences, 1)
}

func TestExportLearningFile(t *testing.T) {
	core := &fakeCore{}
	p, dir := newTestPlatform(t, core)
	p.Learning().ReviewCount = 2

	path, err := p.ExportLearningFile()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, LearningFile), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Reviews completed: 2")
	assert.Equal(t, 2, p.Learning().ReviewCount, "export never touches the count")
}

func TestCondenseTurns(t *testing.T) {
	var turns []review.DiscussionTurn
	for i := 0; i < 6; i++ {
		turns = append(turns,
			review.DiscussionTurn{Role: review.TurnUser, Content: fmt.Sprintf("question %d", i)},
			review.DiscussionTurn{Role: review.TurnAssistant, Content: fmt.Sprintf("answer %d", i)},
		)
	}
	turns = append(turns,
		review.DiscussionTurn{Role: review.TurnUser, Content: ""},
		review.DiscussionTurn{Role: "tool", Content: "not a dialogue turn"},
	)

	got := condenseTurns(turns)
	require.Len(t, got, condensedTurnLimit)
	assert.Equal(t, "question 2", got[0].Content, "oldest turns dropped first")
	assert.Equal(t, "answer 5", got[len(got)-1].Content)
}

func TestCondenseTurnsShortHistory(t *testing.T) {
	turns := []review.DiscussionTurn{
		{Role: review.TurnUser, Content: "why?"},
		{Role: review.TurnAssistant, Content: "because the hall was lit"},
	}
	assert.Equal(t, turns, condenseTurns(turns))
}
