// Package learning holds the per-project memory that carries over between
// review sessions: what the author keeps accepting, what they push back on,
// and how ambiguities were classified. Long-term entries live in five
// categorised lists. Raw signals gathered during a single review accumulate
// in session-scoped working lists and are drained into long-term entries at
// commit points by the engine.
package learning

import (
	"fmt"
	"strings"
)

// Long-term entry categories.
const (
	CategoryPreference           = "preference"
	CategoryBlindSpot            = "blind_spot"
	CategoryResolution           = "resolution"
	CategoryAmbiguityIntentional = "ambiguity_intentional"
	CategoryAmbiguityAccidental  = "ambiguity_accidental"
)

// Categories returns the long-term categories in canonical export order.
func Categories() []string {
	return []string{
		CategoryPreference,
		CategoryBlindSpot,
		CategoryResolution,
		CategoryAmbiguityIntentional,
		CategoryAmbiguityAccidental,
	}
}

// Entry is one long-term memory item. The description is immutable once
// created; entries are only ever added or deleted, never edited.
type Entry struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

// AcceptanceSignal records that the author accepted a finding: the lens that
// raised it and a short evidence pattern.
type AcceptanceSignal struct {
	Lens    string `json:"lens"`
	Pattern string `json:"pattern"`
}

// RejectionSignal records author push-back on a finding, optionally with an
// explicit preference rule extracted from discussion.
type RejectionSignal struct {
	Lens            string `json:"lens"`
	EvidenceExcerpt string `json:"evidence_excerpt"`
	Reason          string `json:"reason"`
	PreferenceRule  string `json:"preference_rule,omitempty"`
}

// AmbiguityAnswer records the author's classification of an ambiguous
// passage as intentional or accidental.
type AmbiguityAnswer struct {
	Location    string `json:"location"`
	Description string `json:"description"`
	Intentional bool   `json:"intentional"`
}

// SessionSignals are the working lists gathered during one review session.
// They ride along on the session row so a resumed session keeps its signals,
// and are drained into long-term entries by the engine.
type SessionSignals struct {
	Rejections       []RejectionSignal  `json:"rejections"`
	Acceptances      []AcceptanceSignal `json:"acceptances"`
	AmbiguityAnswers []AmbiguityAnswer  `json:"ambiguity_answers"`
}

// Empty reports whether no signals have been gathered.
func (s SessionSignals) Empty() bool {
	return len(s.Rejections) == 0 && len(s.Acceptances) == 0 && len(s.AmbiguityAnswers) == 0
}

// Learning is the per-project persistent memory.
type Learning struct {
	ProjectName          string  `json:"project_name"`
	ReviewCount          int     `json:"review_count"`
	Preferences          []Entry `json:"preferences"`
	BlindSpots           []Entry `json:"blind_spots"`
	Resolutions          []Entry `json:"resolutions"`
	AmbiguityIntentional []Entry `json:"ambiguity_intentional"`
	AmbiguityAccidental  []Entry `json:"ambiguity_accidental"`

	Session SessionSignals `json:"session"`
}

// New returns an empty Learning for the named project.
func New(projectName string) *Learning {
	return &Learning{ProjectName: projectName}
}

// RecordAcceptance appends an acceptance signal to the working lists.
func (l *Learning) RecordAcceptance(lens, pattern string) {
	l.Session.Acceptances = append(l.Session.Acceptances, AcceptanceSignal{
		Lens:    lens,
		Pattern: pattern,
	})
}

// RecordRejection appends a rejection signal to the working lists.
// preferenceRule may be empty.
func (l *Learning) RecordRejection(lens, evidenceExcerpt, reason, preferenceRule string) {
	l.Session.Rejections = append(l.Session.Rejections, RejectionSignal{
		Lens:            lens,
		EvidenceExcerpt: evidenceExcerpt,
		Reason:          reason,
		PreferenceRule:  preferenceRule,
	})
}

// RecordAmbiguityAnswer appends an ambiguity classification to the working
// lists.
func (l *Learning) RecordAmbiguityAnswer(location, description string, intentional bool) {
	l.Session.AmbiguityAnswers = append(l.Session.AmbiguityAnswers, AmbiguityAnswer{
		Location:    location,
		Description: description,
		Intentional: intentional,
	})
}

// ResetSession clears the working lists at the start of a new review.
func (l *Learning) ResetSession() {
	l.Session = SessionSignals{}
}

// Entries returns the long-term list for a category, nil for an unknown one.
func (l *Learning) Entries(category string) []Entry {
	list := l.listFor(category)
	if list == nil {
		return nil
	}
	return *list
}

// AddEntry appends an entry to the long-term list for a category.
func (l *Learning) AddEntry(category string, e Entry) error {
	list := l.listFor(category)
	if list == nil {
		return fmt.Errorf("unknown learning category '%s'", category)
	}
	*list = append(*list, e)
	return nil
}

// ContainsDescription reports whether any existing entry in the category
// already contains the given description as a substring. The drain path uses
// this to keep entry creation idempotent.
func (l *Learning) ContainsDescription(category, description string) bool {
	for _, e := range l.Entries(category) {
		if strings.Contains(e.Description, description) {
			return true
		}
	}
	return false
}

// TotalEntries counts long-term entries across all categories.
func (l *Learning) TotalEntries() int {
	n := 0
	for _, c := range Categories() {
		n += len(l.Entries(c))
	}
	return n
}

func (l *Learning) listFor(category string) *[]Entry {
	switch category {
	case CategoryPreference:
		return &l.Preferences
	case CategoryBlindSpot:
		return &l.BlindSpots
	case CategoryResolution:
		return &l.Resolutions
	case CategoryAmbiguityIntentional:
		return &l.AmbiguityIntentional
	case CategoryAmbiguityAccidental:
		return &l.AmbiguityAccidental
	}
	return nil
}
