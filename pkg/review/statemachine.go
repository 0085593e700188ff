package review

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"litcritic/pkg/learning"
	"litcritic/pkg/utils"
)

// Discussion outcome statuses that are not finding statuses. Continue leaves
// the finding untouched; conceded maps to the terminal withdrawn status.
const (
	OutcomeContinue = "continue"
	OutcomeConceded = "conceded"
)

// Re-evaluation result statuses.
const (
	ReEvalUpdated   = "updated"
	ReEvalWithdrawn = "withdrawn"
)

// Excerpt lengths for learning patterns and outcome summaries.
const (
	excerptLen       = 100
	summaryReasonLen = 80
)

// ApplyAcceptance marks a finding accepted and records an acceptance signal
// on the learning working lists.
func ApplyAcceptance(f *Finding, l *learning.Learning) {
	f.Status = StatusAccepted
	f.OutcomeReason = "Accepted by author"
	if l != nil {
		l.RecordAcceptance(f.Lens, utils.Truncate(f.Evidence, excerptLen))
	}
}

// ApplyRejection marks a finding rejected with the author's reason and
// records a rejection signal. preferenceRule may be empty.
func ApplyRejection(f *Finding, l *learning.Learning, reason, preferenceRule string) {
	f.Status = StatusRejected
	f.AuthorResponse = reason
	f.OutcomeReason = "Rejected: " + utils.Truncate(reason, excerptLen)
	if l != nil {
		l.RecordRejection(f.Lens, utils.Truncate(f.Evidence, excerptLen), utils.Truncate(reason, excerptLen), preferenceRule)
	}
}

// DiscussionOutcome is one parsed critic reply, ready to apply to a finding.
type DiscussionOutcome struct {
	// Status is the parsed tag status: continue, accepted, rejected,
	// conceded, revised, withdrawn, or escalated.
	Status string

	// ResponseText is the critic's reply with tags stripped.
	ResponseText string

	// UserMessage is the author's message that prompted the reply.
	UserMessage string

	// ChangeDesc summarises an applied revision, e.g.
	// "severity major → minor". Used for revised and escalated outcomes.
	ChangeDesc string

	// PreferenceRule is the author preference extracted from a
	// [PREFERENCE: ...] tag, if any.
	PreferenceRule string

	// Ambiguity is "intentional" or "accidental" when the critic classified
	// the passage, otherwise empty.
	Ambiguity string
}

// ApplyDiscussionOutcome applies one discussion turn's outcome: finding
// status, canonical outcome reason, and learning signals. A continue outcome
// leaves the finding untouched apart from ambiguity recording.
func ApplyDiscussionOutcome(f *Finding, l *learning.Learning, o DiscussionOutcome) {
	switch o.Status {
	case StatusAccepted:
		f.Status = StatusAccepted
		f.OutcomeReason = "Accepted by author"
	case StatusRejected:
		f.Status = StatusRejected
		f.AuthorResponse = o.UserMessage
		f.OutcomeReason = "Rejected: " + utils.Truncate(o.UserMessage, excerptLen)
	case OutcomeConceded, StatusWithdrawn:
		f.Status = StatusWithdrawn
		f.AuthorResponse = o.UserMessage
		f.OutcomeReason = "Withdrawn by critic: " + utils.Truncate(o.ResponseText, excerptLen)
	case StatusRevised:
		f.Status = StatusRevised
		f.OutcomeReason = "Revised: " + o.ChangeDesc
	case StatusEscalated:
		f.Status = StatusEscalated
		f.OutcomeReason = "Escalated: " + o.ChangeDesc
	}

	if l == nil {
		return
	}
	if o.PreferenceRule != "" {
		l.RecordRejection(f.Lens, utils.Truncate(f.Evidence, excerptLen), utils.Truncate(o.UserMessage, excerptLen), o.PreferenceRule)
	}
	switch o.Status {
	case StatusAccepted:
		l.RecordAcceptance(f.Lens, utils.Truncate(f.Evidence, excerptLen))
	case StatusRejected, OutcomeConceded, StatusWithdrawn:
		if o.PreferenceRule == "" {
			l.RecordRejection(f.Lens, utils.Truncate(f.Evidence, excerptLen), utils.Truncate(o.UserMessage, excerptLen), "")
		}
	}
	if o.Ambiguity != "" {
		l.RecordAmbiguityAnswer(f.Location, utils.Truncate(f.Evidence, excerptLen), o.Ambiguity == "intentional")
	}
}

// ApplyFindingRevision pushes the current snapshot onto the revision history
// and overwrites only the fields present in the revision, returning the
// prior snapshot. Recognised keys: severity, evidence, impact, options.
// Values of the wrong type are ignored.
func ApplyFindingRevision(f *Finding, fields map[string]any) RevisionSnapshot {
	prior := f.Snapshot()
	f.RevisionHistory = append(f.RevisionHistory, prior)

	if v, ok := fields["severity"]; ok {
		if s, ok := v.(string); ok {
			f.Severity, _ = NormalizeSeverity(s)
		}
	}
	if v, ok := fields["evidence"]; ok {
		if s, ok := v.(string); ok {
			f.Evidence = s
		}
	}
	if v, ok := fields["impact"]; ok {
		if s, ok := v.(string); ok {
			f.Impact = s
		}
	}
	if v, ok := fields["options"]; ok {
		switch opts := v.(type) {
		case []string:
			f.Options = append([]string(nil), opts...)
		case []any:
			collected := make([]string, 0, len(opts))
			for _, o := range opts {
				if s, ok := o.(string); ok {
					collected = append(collected, s)
				}
			}
			f.Options = collected
		}
	}
	return prior
}

// DescribeRevision summarises what changed between a prior snapshot and the
// finding's current fields, e.g. "severity major → minor".
func DescribeRevision(prior RevisionSnapshot, f *Finding) string {
	var parts []string
	if prior.Severity != f.Severity {
		parts = append(parts, fmt.Sprintf("severity %s → %s", prior.Severity, f.Severity))
	}
	if prior.Evidence != f.Evidence {
		parts = append(parts, "evidence updated")
	}
	if prior.Impact != f.Impact {
		parts = append(parts, "impact updated")
	}
	if !slices.Equal(prior.Options, f.Options) {
		parts = append(parts, "options updated")
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}

// ReEvaluationResult is the core's verdict on a stale finding after scene
// edits.
type ReEvaluationResult struct {
	Status    string `json:"status"`
	LineStart *int   `json:"line_start,omitempty"`
	LineEnd   *int   `json:"line_end,omitempty"`
	Location  string `json:"location,omitempty"`
	Evidence  string `json:"evidence,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// ApplyReEvaluationResult applies a re-evaluation verdict. Updated overwrites
// the line range, location, evidence, and severity; withdrawn sets the
// terminal status with its reason. Stale clears in either case.
func ApplyReEvaluationResult(f *Finding, r ReEvaluationResult) error {
	switch r.Status {
	case ReEvalUpdated:
		if r.LineStart != nil {
			v := *r.LineStart
			f.LineStart = &v
		}
		if r.LineEnd != nil {
			v := *r.LineEnd
			f.LineEnd = &v
		}
		if f.LineStart != nil && f.LineEnd != nil && *f.LineStart > *f.LineEnd {
			f.LineStart, f.LineEnd = f.LineEnd, f.LineStart
		}
		if r.Location != "" {
			f.Location = r.Location
		}
		if r.Evidence != "" {
			f.Evidence = r.Evidence
		}
		if r.Severity != "" {
			f.Severity, _ = NormalizeSeverity(r.Severity)
		}
		f.Stale = false
	case ReEvalWithdrawn:
		f.Status = StatusWithdrawn
		f.OutcomeReason = fmt.Sprintf("Withdrawn after re-evaluation: %s", r.Reason)
		f.Stale = false
	default:
		return fmt.Errorf("unknown re-evaluation status '%s'", r.Status)
	}
	return nil
}

// FirstUnresolvedIndex returns the index of the first finding not yet in a
// terminal status, or -1 when every finding is resolved.
func FirstUnresolvedIndex(findings []*Finding) int {
	for i, f := range findings {
		if !f.IsTerminal() {
			return i
		}
	}
	return -1
}

// AllFindingsConsidered reports whether every finding is terminal. An empty
// list is considered complete.
func AllFindingsConsidered(findings []*Finding) bool {
	return FirstUnresolvedIndex(findings) == -1
}

// NextIndexForLens finds the next unresolved finding at or after current for
// a target chunk, skipping lenses from earlier chunks: structure skips
// prose findings; coherence skips prose, structure, and dialogue. Returns -1
// when nothing qualifies.
func NextIndexForLens(findings []*Finding, current int, target string) int {
	var skip map[string]bool
	switch target {
	case ChunkStructure:
		skip = map[string]bool{LensProse: true}
	case ChunkCoherence:
		skip = map[string]bool{LensProse: true, LensStructure: true, LensDialogue: true}
	default:
		return -1
	}
	if current < 0 {
		current = 0
	}
	for i := current; i < len(findings); i++ {
		f := findings[i]
		if f.IsTerminal() || skip[f.Lens] {
			continue
		}
		return i
	}
	return -1
}

// PriorOutcomesSummary renders one bullet per already-decided finding,
// excluding the current one, for cross-finding continuity in discussion
// prompts. Returns the empty string when nothing has been decided yet.
func PriorOutcomesSummary(findings []*Finding, currentNumber int) string {
	var lines []string
	for _, f := range findings {
		if f.Number == currentNumber || f.Status == StatusPending {
			continue
		}
		line := fmt.Sprintf("- Finding #%d [%s, %s]: %s", f.Number, f.Lens, f.Severity, f.Status)
		if f.OutcomeReason != "" {
			line += fmt.Sprintf(" (%s)", utils.Truncate(f.OutcomeReason, summaryReasonLen))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// RecomputeCompletion re-derives counters and session completion from
// finding statuses. It returns true when this call completed the session;
// the caller increments the learning review count on that edge. A completed
// session whose findings are no longer all terminal reopens as active.
func RecomputeCompletion(s *Session) bool {
	s.RecomputeCounters()
	if AllFindingsConsidered(s.Findings) {
		if s.Status == SessionActive {
			s.Status = SessionCompleted
			now := time.Now().UTC()
			s.CompletedAt = &now
			return true
		}
		return false
	}
	if s.Status == SessionCompleted {
		s.Status = SessionActive
		s.CompletedAt = nil
	}
	return false
}
