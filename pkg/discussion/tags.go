// Package discussion runs the author/critic dialogue over a single finding:
// one completion per turn against a system prompt carrying the finding and
// the numbered scene, plus a tag parser that turns the critic's reply into a
// status and optional revision, preference, and ambiguity extras.
package discussion

import (
	"encoding/json"
	"regexp"
	"strings"

	"litcritic/pkg/review"
)

// Ambiguity classifications a reply can carry.
const (
	AmbiguityIntentional = "intentional"
	AmbiguityAccidental  = "accidental"
)

// Result is one critic reply after tag extraction. Display is what the
// author sees; the rest drives the state machine.
type Result struct {
	Display    string
	Status     string // continue, accepted, rejected, conceded, revised, withdrawn, escalated
	Revision   map[string]any
	Preference string
	Ambiguity  string
}

var (
	revisionRe   = regexp.MustCompile(`(?s)\[REVISION\]\s*(.*?)\s*\[/REVISION\]`)
	preferenceRe = regexp.MustCompile(`\[PREFERENCE:\s*([^\]]*)\]`)
)

const (
	tagAmbiguityIntentional = "[AMBIGUITY:INTENTIONAL]"
	tagAmbiguityAccidental  = "[AMBIGUITY:ACCIDENTAL]"
)

var statusTags = []struct {
	tag    string
	status string
}{
	{"[CONTINUE]", review.OutcomeContinue},
	{"[ACCEPTED]", review.StatusAccepted},
	{"[REJECTED]", review.StatusRejected},
	{"[CONCEDED]", review.OutcomeConceded},
	{"[REVISED]", review.StatusRevised},
	{"[WITHDRAWN]", review.StatusWithdrawn},
	{"[ESCALATED]", review.StatusEscalated},
}

// Parse strips the protocol tags from a raw reply in fixed order: the
// REVISION block first, then PREFERENCE, then AMBIGUITY, then the status
// tag. A REVISION block that does not decode as a JSON object is dropped
// silently. A reply with no status tag keeps the dialogue open.
func Parse(raw string) Result {
	res := Result{Status: review.OutcomeContinue}
	text := raw

	if m := revisionRe.FindStringSubmatch(text); m != nil {
		var rev map[string]any
		if err := json.Unmarshal([]byte(m[1]), &rev); err == nil {
			res.Revision = rev
		}
		text = revisionRe.ReplaceAllString(text, "")
	}

	if m := preferenceRe.FindStringSubmatch(text); m != nil {
		res.Preference = strings.TrimSpace(m[1])
		text = preferenceRe.ReplaceAllString(text, "")
	}

	switch {
	case strings.Contains(text, tagAmbiguityIntentional):
		res.Ambiguity = AmbiguityIntentional
		text = strings.ReplaceAll(text, tagAmbiguityIntentional, "")
	case strings.Contains(text, tagAmbiguityAccidental):
		res.Ambiguity = AmbiguityAccidental
		text = strings.ReplaceAll(text, tagAmbiguityAccidental, "")
	}

	// The protocol asks for a single terminating status tag; when a reply
	// carries several, the one closest to the end wins.
	lastIdx := -1
	for _, st := range statusTags {
		if idx := strings.LastIndex(text, st.tag); idx > lastIdx {
			lastIdx = idx
			res.Status = st.status
		}
	}
	for _, st := range statusTags {
		text = strings.ReplaceAll(text, st.tag, "")
	}

	res.Display = strings.TrimSpace(text)
	return res
}
