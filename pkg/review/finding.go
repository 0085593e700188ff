// Package review holds the domain model for one editorial pass over a
// scene: findings with their lifecycle, the owning session, lens-preference
// re-ranking, and the pure state machine that applies author and critic
// decisions. Nothing in this package performs I/O; persistence and transport
// live elsewhere.
package review

import "strings"

// Severity levels, strongest first.
const (
	SeverityCritical = "critical"
	SeverityMajor    = "major"
	SeverityMinor    = "minor"
)

// Analytical lenses. Each produces raw findings independently; the
// coordinator merges and deduplicates them.
const (
	LensProse      = "prose"
	LensStructure  = "structure"
	LensLogic      = "logic"
	LensClarity    = "clarity"
	LensContinuity = "continuity"
	LensDialogue   = "dialogue"
)

// Finding statuses. Terminal statuses end review of the finding; revised and
// escalated keep it open for further discussion.
const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusRevised   = "revised"
	StatusWithdrawn = "withdrawn"
	StatusEscalated = "escalated"
)

// Ambiguity classifications a finding may carry. Empty means none.
const (
	AmbiguityUnclear             = "unclear"
	AmbiguityPossiblyIntentional = "ambiguous_possibly_intentional"
)

// Coordinator chunks. Lenses are grouped so each coordination call fits its
// output token budget; the pipeline processes chunks in this fixed order.
const (
	ChunkProse     = "prose"
	ChunkStructure = "structure"
	ChunkCoherence = "coherence"
)

// Discussion turn roles.
const (
	TurnUser      = "user"
	TurnAssistant = "assistant"
)

// Lenses returns all lens names in canonical order.
func Lenses() []string {
	return []string{LensProse, LensStructure, LensLogic, LensClarity, LensContinuity, LensDialogue}
}

// ValidLens reports whether name is a known lens.
func ValidLens(name string) bool {
	switch name {
	case LensProse, LensStructure, LensLogic, LensClarity, LensContinuity, LensDialogue:
		return true
	}
	return false
}

// ValidStatus reports whether status is a known finding status.
func ValidStatus(status string) bool {
	switch status {
	case StatusPending, StatusAccepted, StatusRejected, StatusRevised, StatusWithdrawn, StatusEscalated:
		return true
	}
	return false
}

// IsTerminalStatus reports whether a status ends review of a finding.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusAccepted, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// NormalizeSeverity lowercases and trims a raw severity value. Unknown
// values coerce to major; the second return reports whether that happened.
func NormalizeSeverity(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return s, false
	}
	return SeverityMajor, true
}

// SeverityRank orders severities for comparison: critical > major > minor.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// ChunkOrder returns the coordinator chunks in processing order.
func ChunkOrder() []string {
	return []string{ChunkProse, ChunkStructure, ChunkCoherence}
}

// ChunkLenses returns the lenses grouped under a chunk, nil for an unknown
// chunk. Dialogue rides with prose; the three coherence lenses overlap most
// and are coordinated together.
func ChunkLenses(chunk string) []string {
	switch chunk {
	case ChunkProse:
		return []string{LensProse, LensDialogue}
	case ChunkStructure:
		return []string{LensStructure}
	case ChunkCoherence:
		return []string{LensLogic, LensClarity, LensContinuity}
	}
	return nil
}

// DiscussionTurn is one message in a finding's discussion, or in the
// session-wide log.
type DiscussionTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RevisionSnapshot captures the revisable fields of a finding before a
// revision overwrites them.
type RevisionSnapshot struct {
	Severity string   `json:"severity"`
	Evidence string   `json:"evidence"`
	Impact   string   `json:"impact"`
	Options  []string `json:"options"`
}

// Finding is one editorial observation. Identity fields come from analysis;
// review state mutates through the state machine.
type Finding struct {
	Number    int    `json:"number"`
	Severity  string `json:"severity"`
	Lens      string `json:"lens"`
	Location  string `json:"location"`
	LineStart *int   `json:"line_start"`
	LineEnd   *int   `json:"line_end"`
	ScenePath string `json:"scene_path,omitempty"`
	Evidence  string `json:"evidence"`
	Impact    string `json:"impact"`

	Options       []string `json:"options"`
	FlaggedBy     []string `json:"flagged_by"`
	AmbiguityType string   `json:"ambiguity_type,omitempty"`

	Stale           bool               `json:"stale"`
	Status          string             `json:"status"`
	AuthorResponse  string             `json:"author_response,omitempty"`
	DiscussionTurns []DiscussionTurn   `json:"discussion_turns"`
	RevisionHistory []RevisionSnapshot `json:"revision_history"`
	OutcomeReason   string             `json:"outcome_reason,omitempty"`
}

// IsTerminal reports whether the finding has reached a terminal status.
func (f *Finding) IsTerminal() bool {
	return IsTerminalStatus(f.Status)
}

// HasLines reports whether the finding carries a concrete line range.
func (f *Finding) HasLines() bool {
	return f.LineStart != nil && f.LineEnd != nil
}

// Snapshot captures the revisable fields as they currently stand.
func (f *Finding) Snapshot() RevisionSnapshot {
	return RevisionSnapshot{
		Severity: f.Severity,
		Evidence: f.Evidence,
		Impact:   f.Impact,
		Options:  append([]string(nil), f.Options...),
	}
}

// Clone returns a deep copy, so callers can mutate without aliasing.
func (f *Finding) Clone() *Finding {
	c := *f
	if f.LineStart != nil {
		v := *f.LineStart
		c.LineStart = &v
	}
	if f.LineEnd != nil {
		v := *f.LineEnd
		c.LineEnd = &v
	}
	c.Options = append([]string(nil), f.Options...)
	c.FlaggedBy = append([]string(nil), f.FlaggedBy...)
	c.DiscussionTurns = append([]DiscussionTurn(nil), f.DiscussionTurns...)
	if f.RevisionHistory != nil {
		c.RevisionHistory = make([]RevisionSnapshot, len(f.RevisionHistory))
		for i, r := range f.RevisionHistory {
			c.RevisionHistory[i] = r
			c.RevisionHistory[i].Options = append([]string(nil), r.Options...)
		}
	}
	return &c
}
