package platform

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"litcritic/pkg/config"
	"litcritic/pkg/learning"
	"litcritic/pkg/llms"
	"litcritic/pkg/prompt"
	"litcritic/pkg/review"
	"litcritic/pkg/scenediff"
	"litcritic/pkg/service"
	"litcritic/pkg/store"
	"litcritic/pkg/utils"
)

// condensedTurnLimit is how many prior discussion turns ride along on each
// /v1/discuss call. Older turns stay persisted but drop out of the model's
// context.
const condensedTurnLimit = 8

// Platform owns session state and all project I/O, and drives the stateless
// core. One Platform serves one project directory; its methods serialise
// access to the active session, so web handlers and the CLI loop can share
// it.
type Platform struct {
	projectDir string
	cfg        *config.UserConfig
	core       service.Core
	store      *store.Store

	mu       sync.Mutex
	session  *review.Session
	learning *learning.Learning
	detector *scenediff.Detector
}

// New opens a platform over a validated project directory. A pre-existing
// LEARNING.md is folded into a fresh database once; after that the database
// is authoritative.
func New(ctx context.Context, projectDir string, core service.Core, st *store.Store, cfg *config.UserConfig) (*Platform, error) {
	if err := Preflight(projectDir); err != nil {
		return nil, err
	}
	if abs, err := filepath.Abs(projectDir); err == nil {
		projectDir = abs
	}

	l, err := st.LoadLearning(ctx, filepath.Base(projectDir))
	if err != nil {
		return nil, err
	}

	p := &Platform{
		projectDir: projectDir,
		cfg:        cfg,
		core:       core,
		store:      st,
		learning:   l,
	}
	p.detector = scenediff.NewDetector(SceneLoader{}, &coreReEvaluator{p: p}, st)

	if err := p.importLearningFile(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// importLearningFile performs the one-time LEARNING.md import: only when the
// database has no learning yet and the file exists.
func (p *Platform) importLearningFile(ctx context.Context) error {
	if p.learning.TotalEntries() > 0 || p.learning.ReviewCount > 0 {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(p.projectDir, LearningFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", LearningFile, err)
	}

	imported := learning.ImportMarkdown(string(data))
	added, err := learning.MergeEntries(ctx, p.store, p.learning, imported)
	if err != nil {
		return fmt.Errorf("failed to import %s: %w", LearningFile, err)
	}
	if imported.ReviewCount > p.learning.ReviewCount {
		p.learning.ReviewCount = imported.ReviewCount
		if err := p.store.SaveLearningMeta(ctx, p.learning); err != nil {
			return err
		}
	}
	if added > 0 {
		slog.Info("imported learning file", "entries", added, "file", LearningFile)
	}
	return nil
}

// Session returns the active in-memory session, nil when none is attached.
func (p *Platform) Session() *review.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Learning returns the project's learning state.
func (p *Platform) Learning() *learning.Learning {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.learning
}

// Store exposes the persistence handle for session management commands.
func (p *Platform) Store() *store.Store {
	return p.store
}

// ProjectDir returns the validated project directory.
func (p *Platform) ProjectDir() string {
	return p.projectDir
}

// StartOptions configure a new review session.
type StartOptions struct {
	ScenePaths      []string
	Model           string
	DiscussionModel string
	LensPreset      string
	LensWeights     map[string]float64
	MaxTokens       int
}

// StartSession loads scenes and indexes, runs the full analysis pass through
// the core, and persists the resulting session as the active one.
func (p *Platform) StartSession(ctx context.Context, opts StartOptions) (*review.Session, *service.AnalyzeResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	scenes, err := LoadScenes(opts.ScenePaths)
	if err != nil {
		return nil, nil, err
	}
	indexes, err := LoadIndexes(p.projectDir)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range indexes.Missing {
		if name != LearningFile {
			slog.Warn("index file missing", "file", name)
		}
	}

	prefs, err := review.ResolvePreset(opts.LensPreset, len(opts.ScenePaths))
	if err != nil {
		return nil, nil, err
	}
	if err := prefs.ApplyOverrides(opts.LensWeights); err != nil {
		return nil, nil, err
	}

	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}

	resp, err := p.core.Analyze(ctx, &service.AnalyzeRequest{
		SceneText:       scenes.Text,
		Indexes:         indexes.Contents,
		LearningContext: p.learningContext(),
		LensPreferences: prefs,
		SceneCount:      len(opts.ScenePaths),
		ModelConfig:     p.modelConfig(model, opts.MaxTokens),
	})
	if err != nil {
		return nil, nil, err
	}

	sess := review.NewSession(opts.ScenePaths, scenes.Text, scenes.Hash, model, prefs)
	sess.DiscussionModel = opts.DiscussionModel
	sess.GlossaryIssues = resp.GlossaryIssues
	sess.IndexContextHash = indexes.Manifest
	sess.SetFindings(resp.Findings)
	if sess.MultiScene() {
		for _, f := range sess.Findings {
			if f.LineStart != nil {
				f.ScenePath = scenes.SceneFor(*f.LineStart)
			}
		}
	}

	p.learning.ResetSession()
	sess.LearningSignals = p.learning.Session

	if err := p.store.SaveSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	p.session = sess
	slog.Info("analysis complete",
		"session_id", sess.ID,
		"findings", len(sess.Findings),
		"model", model,
		"preset", prefs.Preset)
	return sess, resp, nil
}

// Resume reattaches the most recent active session. The scene files must
// still match the saved state: same path set, same content hash. Index
// drift is re-checked and recorded on the session.
func (p *Platform) Resume(ctx context.Context) (*review.Session, *IndexRecheck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sess, err := p.store.LatestActiveSession(ctx)
	if err != nil {
		return nil, nil, err
	}

	scenes, err := LoadScenes(sess.ScenePaths)
	if err != nil {
		return nil, nil, err
	}
	if err := store.ValidateScene(sess, scenes.Paths, scenes.Hash); err != nil {
		return nil, nil, err
	}
	sess.SceneText = scenes.Text

	recheck, err := ReCheckIndexContext(p.projectDir, sess)
	if err != nil {
		return nil, nil, err
	}
	if _, err := p.store.Checkpoint(ctx, sess); err != nil {
		return nil, nil, err
	}

	p.session = sess
	p.learning.Session = sess.LearningSignals
	return sess, recheck, nil
}

// AttachSession installs an already-loaded session, for session view
// commands that bypass Resume's scene validation.
func (p *Platform) AttachSession(sess *review.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = sess
	p.learning.Session = sess.LearningSignals
}

// AcceptCurrent accepts the finding under the cursor and advances to the
// next unresolved finding. The scene is re-checked for edits first.
func (p *Platform) AcceptCurrent(ctx context.Context) (*scenediff.ChangeReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report, f, err := p.beforeTransition(ctx)
	if err != nil {
		return report, err
	}
	review.ApplyAcceptance(f, p.learning)
	if _, err := p.afterMutation(ctx, f); err != nil {
		return report, err
	}
	p.advanceLocked()
	return report, nil
}

// RejectCurrent rejects the finding under the cursor with the author's
// reason and advances.
func (p *Platform) RejectCurrent(ctx context.Context, reason string) (*scenediff.ChangeReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report, f, err := p.beforeTransition(ctx)
	if err != nil {
		return report, err
	}
	review.ApplyRejection(f, p.learning, reason, "")
	if _, err := p.afterMutation(ctx, f); err != nil {
		return report, err
	}
	p.advanceLocked()
	return report, nil
}

// DiscussCurrent runs one discussion turn over the finding under the cursor
// and applies whatever outcome the critic's tags carry. Terminal outcomes
// advance the cursor.
func (p *Platform) DiscussCurrent(ctx context.Context, message string) (*service.DiscussResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report, f, err := p.beforeTransition(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := p.core.Discuss(ctx, p.discussRequestLocked(f, message, report))
	if err != nil {
		return nil, err
	}
	if err := p.applyDiscussResponseLocked(ctx, f, message, resp); err != nil {
		return resp, err
	}
	if f.IsTerminal() {
		p.advanceLocked()
	}
	return resp, nil
}

// DiscussCurrentStream is DiscussCurrent over the streaming endpoint: reply
// text arrives through onToken as it is generated, and the final parsed
// response is applied exactly as in the non-streaming path.
func (p *Platform) DiscussCurrentStream(ctx context.Context, message string, onToken func(string)) (*service.DiscussResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report, f, err := p.beforeTransition(ctx)
	if err != nil {
		return nil, err
	}

	events, err := p.core.DiscussStream(ctx, p.discussRequestLocked(f, message, report))
	if err != nil {
		return nil, err
	}

	var resp *service.DiscussResponse
	for ev := range events {
		switch ev.Kind {
		case service.StreamKindToken:
			if onToken != nil {
				onToken(ev.Text)
			}
		case service.StreamKindDone:
			resp = ev.Response
		case service.StreamKindError:
			return nil, fmt.Errorf("discussion stream failed: %s", ev.Error)
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("discussion stream ended without a result")
	}

	if err := p.applyDiscussResponseLocked(ctx, f, message, resp); err != nil {
		return resp, err
	}
	if f.IsTerminal() {
		p.advanceLocked()
	}
	return resp, nil
}

func (p *Platform) discussRequestLocked(f *review.Finding, message string, report *scenediff.ChangeReport) *service.DiscussRequest {
	sess := p.session
	return &service.DiscussRequest{
		SceneText:         sess.SceneText,
		Finding:           f,
		DiscussionContext: condenseTurns(f.DiscussionTurns),
		UserMessage:       message,
		PriorOutcomes:     review.PriorOutcomesSummary(sess.Findings, f.Number),
		SceneChanged:      report != nil && report.Changed,
		ModelConfig:       p.modelConfig(p.discussionModelLocked(), 0),
	}
}

// applyDiscussResponseLocked records the turn, copies an applied revision
// back onto the session's finding, applies the parsed outcome, and saves.
func (p *Platform) applyDiscussResponseLocked(ctx context.Context, f *review.Finding, message string, resp *service.DiscussResponse) error {
	sess := p.session

	// Persist the turn unprefixed; the scene-edited note only travelled on
	// the API-side copy.
	f.DiscussionTurns = append(f.DiscussionTurns,
		review.DiscussionTurn{Role: review.TurnUser, Content: message},
		review.DiscussionTurn{Role: review.TurnAssistant, Content: resp.Response},
	)
	sess.AppendDiscussion(review.TurnUser, message)
	sess.AppendDiscussion(review.TurnAssistant, resp.Response)

	if resp.UpdatedFinding != nil {
		f.Severity = resp.UpdatedFinding.Severity
		f.Evidence = resp.UpdatedFinding.Evidence
		f.Impact = resp.UpdatedFinding.Impact
		f.Options = append([]string(nil), resp.UpdatedFinding.Options...)
		f.RevisionHistory = append([]review.RevisionSnapshot(nil), resp.UpdatedFinding.RevisionHistory...)
	}
	review.ApplyDiscussionOutcome(f, p.learning, review.DiscussionOutcome{
		Status:         resp.Action.Payload.LegacyStatus,
		ResponseText:   resp.Response,
		UserMessage:    message,
		ChangeDesc:     resp.ChangeDescription,
		PreferenceRule: resp.ExtractedPreference,
		Ambiguity:      resp.Ambiguity,
	})

	_, err := p.afterMutation(ctx, f)
	return err
}

// AnswerAmbiguity records the author's classification of the current
// finding's ambiguity as intentional or accidental.
func (p *Platform) AnswerAmbiguity(ctx context.Context, intentional bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f := p.currentLocked()
	if f == nil {
		return fmt.Errorf("no finding under the cursor")
	}
	p.learning.RecordAmbiguityAnswer(f.Location, utils.Truncate(f.Evidence, 100), intentional)
	_, err := p.afterMutation(ctx)
	return err
}

// Advance moves the cursor to the first unresolved finding, or past the end
// when everything is resolved, and persists the position.
func (p *Platform) Advance(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked()
	_, err := p.store.Checkpoint(ctx, p.session)
	return err
}

// GotoIndex moves the cursor to a specific finding index.
func (p *Platform) GotoIndex(ctx context.Context, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.session.Findings) {
		return fmt.Errorf("finding index %d out of range", index)
	}
	p.session.CurrentIndex = index
	_, err := p.store.Checkpoint(ctx, p.session)
	return err
}

// SkipToLens jumps to the next unresolved finding of a later chunk:
// "structure" skips prose findings, "coherence" skips prose, structure and
// dialogue.
func (p *Platform) SkipToLens(ctx context.Context, target string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := review.NextIndexForLens(p.session.Findings, p.session.CurrentIndex, target)
	if idx < 0 {
		return -1, fmt.Errorf("no unresolved %s findings ahead", target)
	}
	p.session.CurrentIndex = idx
	if _, err := p.store.Checkpoint(ctx, p.session); err != nil {
		return -1, err
	}
	return idx, nil
}

// DetectSceneChanges runs the full detect-and-apply pass: remap every
// finding from the cursor on and re-evaluate the newly stale ones.
func (p *Platform) DetectSceneChanges(ctx context.Context) (*scenediff.ChangeReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report, err := p.detector.DetectAndApply(ctx, p.session, p.session.CurrentIndex)
	if err != nil {
		return report, err
	}
	if report != nil && report.Completed {
		if err := learning.OnSessionCompleted(ctx, p.store, p.learning); err != nil {
			return report, err
		}
	}
	return report, nil
}

// Abandon marks the active session abandoned and detaches it.
func (p *Platform) Abandon(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return fmt.Errorf("no active session")
	}
	p.session.Status = review.SessionAbandoned
	if err := p.store.SaveSession(ctx, p.session); err != nil {
		return err
	}
	p.session = nil
	return nil
}

// ExportLearningFile writes the deterministic LEARNING.md export to the
// project root and returns its path. Exporting never touches the review
// count.
func (p *Platform) ExportLearningFile() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := filepath.Join(p.projectDir, LearningFile)
	if err := os.WriteFile(path, []byte(learning.ExportMarkdown(p.learning)), 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", LearningFile, err)
	}
	return path, nil
}

// beforeTransition re-checks the scene for edits and returns the finding
// under the cursor. Re-evaluation may resolve the current finding; the
// caller still gets it, and the state machine tolerates re-applying a
// decision on a withdrawn finding.
func (p *Platform) beforeTransition(ctx context.Context) (*scenediff.ChangeReport, *review.Finding, error) {
	if p.session == nil {
		return nil, nil, fmt.Errorf("no active session")
	}
	report, err := p.detector.ReviewCurrentFinding(ctx, p.session, p.session.CurrentIndex)
	if err != nil {
		// A failed re-read must not block review; the author may be mid-save.
		slog.Warn("scene re-check failed", "error", err)
	}
	if report != nil && report.Completed {
		if err := learning.OnSessionCompleted(ctx, p.store, p.learning); err != nil {
			return report, nil, err
		}
	}
	f := p.currentLocked()
	if f == nil {
		return report, nil, fmt.Errorf("no finding under the cursor")
	}
	return report, f, nil
}

// afterMutation is the auto-save chokepoint: checkpoint the session row plus
// changed findings, persist learning signals, and bump the review count on
// the completion edge.
func (p *Platform) afterMutation(ctx context.Context, changed ...*review.Finding) (bool, error) {
	p.session.LearningSignals = p.learning.Session
	completed, err := p.store.Checkpoint(ctx, p.session, changed...)
	if err != nil {
		return false, err
	}
	if err := learning.PersistSessionLearning(ctx, p.store, p.session.ID, p.learning); err != nil {
		return completed, err
	}
	if completed {
		if err := learning.OnSessionCompleted(ctx, p.store, p.learning); err != nil {
			return completed, err
		}
		slog.Info("session complete", "session_id", p.session.ID,
			"accepted", p.session.AcceptedCount,
			"rejected", p.session.RejectedCount,
			"withdrawn", p.session.WithdrawnCount)
	}
	return completed, nil
}

func (p *Platform) currentLocked() *review.Finding {
	if p.session == nil {
		return nil
	}
	return p.session.CurrentFinding()
}

func (p *Platform) advanceLocked() {
	idx := review.FirstUnresolvedIndex(p.session.Findings)
	if idx < 0 {
		idx = len(p.session.Findings)
	}
	p.session.CurrentIndex = idx
}

func (p *Platform) discussionModelLocked() string {
	if p.session.DiscussionModel != "" {
		return p.session.DiscussionModel
	}
	return p.session.Model
}

// modelConfig assembles the per-request model configuration. Keys come from
// the environment here, on the platform side; the core never reads ambient
// credentials.
func (p *Platform) modelConfig(model string, maxTokens int) service.ModelConfig {
	keys := make(map[string]string, 2)
	for _, provider := range []string{llms.ProviderAnthropic, llms.ProviderOpenAI} {
		if key := config.GetProviderAPIKey(provider); key != "" {
			keys[provider] = key
		}
	}
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	return service.ModelConfig{
		AnalysisModel: model,
		APIKeys:       keys,
		MaxTokens:     maxTokens,
	}
}

// learningContext renders the long-term learning lists into the analyze
// request's wire shape, nil when the project has no history yet.
func (p *Platform) learningContext() *prompt.LearningContext {
	l := p.learning
	if l == nil || (l.TotalEntries() == 0 && l.ReviewCount == 0) {
		return nil
	}
	return &prompt.LearningContext{
		ReviewCount:          l.ReviewCount,
		Preferences:          descriptions(l.Preferences),
		BlindSpots:           descriptions(l.BlindSpots),
		Resolutions:          descriptions(l.Resolutions),
		AmbiguityIntentional: descriptions(l.AmbiguityIntentional),
		AmbiguityAccidental:  descriptions(l.AmbiguityAccidental),
	}
}

func descriptions(entries []learning.Entry) []string {
	if len(entries) == 0 {
		return nil
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Description
	}
	return out
}

// condenseTurns keeps the last turns with a usable role and non-empty
// content, dropping malformed entries before they reach the wire.
func condenseTurns(turns []review.DiscussionTurn) []review.DiscussionTurn {
	valid := make([]review.DiscussionTurn, 0, len(turns))
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		if t.Role != review.TurnUser && t.Role != review.TurnAssistant {
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) > condensedTurnLimit {
		valid = valid[len(valid)-condensedTurnLimit:]
	}
	return valid
}

// coreReEvaluator adapts the core's re-evaluation endpoint to the
// scene-change detector's interface.
type coreReEvaluator struct {
	p *Platform
}

func (a *coreReEvaluator) ReEvaluate(ctx context.Context, f *review.Finding, sceneText string) (review.ReEvaluationResult, error) {
	resp, err := a.p.core.ReEvaluate(ctx, &service.ReEvaluateRequest{
		Finding:     f,
		SceneText:   sceneText,
		ModelConfig: a.p.modelConfig(a.p.session.Model, 0),
	})
	if err != nil {
		return review.ReEvaluationResult{}, err
	}

	result := review.ReEvaluationResult{Status: resp.Status, Reason: resp.Reason}
	if resp.UpdatedFinding != nil {
		result.LineStart = resp.UpdatedFinding.LineStart
		result.LineEnd = resp.UpdatedFinding.LineEnd
		result.Location = resp.UpdatedFinding.Location
		result.Evidence = resp.UpdatedFinding.Evidence
		result.Severity = resp.UpdatedFinding.Severity
	}
	return result, nil
}
