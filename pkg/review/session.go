package review

import (
	"time"

	"github.com/google/uuid"

	"litcritic/pkg/learning"
)

// Session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionAbandoned = "abandoned"
)

// Session owns one review pass: an ordered sequence of findings plus
// progress, and the identity of the scene text they were raised against.
type Session struct {
	ID              string   `json:"session_id"`
	ScenePaths      []string `json:"scene_paths"`
	SceneHash       string   `json:"scene_hash"`
	Model           string   `json:"model"`
	DiscussionModel string   `json:"discussion_model,omitempty"`

	CurrentIndex int        `json:"current_index"`
	Status       string     `json:"status"`
	Findings     []*Finding `json:"findings"`

	GlossaryIssues    []string         `json:"glossary_issues"`
	DiscussionHistory []DiscussionTurn `json:"discussion_history"`
	Preferences       *LensPreferences `json:"lens_preferences,omitempty"`

	// LearningSignals mirrors the learning working lists gathered during
	// this session, so a resumed session picks up where it left off.
	LearningSignals learning.SessionSignals `json:"learning_session"`

	// Index-context staleness bookkeeping; see the persistence layer.
	IndexContextHash   string   `json:"index_context_hash,omitempty"`
	IndexContextStale  bool     `json:"index_context_stale"`
	IndexRerunPrompted bool     `json:"index_rerun_prompted"`
	IndexChangedFiles  []string `json:"index_changed_files,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	TotalFindings  int `json:"total_findings"`
	AcceptedCount  int `json:"accepted_count"`
	RejectedCount  int `json:"rejected_count"`
	WithdrawnCount int `json:"withdrawn_count"`

	// SceneText is the current concatenated scene content, held in memory
	// for prompts and diffing. It is never persisted; the stored hash guards
	// against drift on resume.
	SceneText string `json:"-"`
}

// NewSession creates an active session over the given scenes.
func NewSession(scenePaths []string, sceneText, sceneHash, model string, prefs *LensPreferences) *Session {
	return &Session{
		ID:          uuid.NewString(),
		ScenePaths:  append([]string(nil), scenePaths...),
		SceneText:   sceneText,
		SceneHash:   sceneHash,
		Model:       model,
		Status:      SessionActive,
		Preferences: prefs,
		CreatedAt:   time.Now().UTC(),
	}
}

// MultiScene reports whether the session spans more than one scene file.
func (s *Session) MultiScene() bool {
	return len(s.ScenePaths) > 1
}

// SetFindings installs the analysis results and resets review progress.
func (s *Session) SetFindings(findings []*Finding) {
	s.Findings = findings
	s.CurrentIndex = 0
	s.RecomputeCounters()
}

// RecomputeCounters refreshes the denormalised status counters.
func (s *Session) RecomputeCounters() {
	s.TotalFindings = len(s.Findings)
	s.AcceptedCount, s.RejectedCount, s.WithdrawnCount = 0, 0, 0
	for _, f := range s.Findings {
		switch f.Status {
		case StatusAccepted:
			s.AcceptedCount++
		case StatusRejected:
			s.RejectedCount++
		case StatusWithdrawn:
			s.WithdrawnCount++
		}
	}
}

// CurrentFinding returns the finding at the cursor, or nil when the cursor
// is out of range.
func (s *Session) CurrentFinding() *Finding {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Findings) {
		return nil
	}
	return s.Findings[s.CurrentIndex]
}

// FindingByNumber returns the finding with the given number, or nil.
func (s *Session) FindingByNumber(n int) *Finding {
	for _, f := range s.Findings {
		if f.Number == n {
			return f
		}
	}
	return nil
}

// AppendDiscussion appends one turn to the session-wide discussion log.
func (s *Session) AppendDiscussion(role, content string) {
	s.DiscussionHistory = append(s.DiscussionHistory, DiscussionTurn{Role: role, Content: content})
}
