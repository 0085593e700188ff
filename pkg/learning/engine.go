package learning

import (
	"context"
	"fmt"
)

// Store is the persistence surface the engine drains into. *store.Store
// satisfies it.
type Store interface {
	SaveSessionSignals(ctx context.Context, sessionID string, signals SessionSignals) error
	InsertLearningEntry(ctx context.Context, category, description string) (int64, error)
	SaveLearningMeta(ctx context.Context, l *Learning) error
}

// PersistSessionLearning is the commit chokepoint, called after every
// learning-producing author action. It writes the raw working lists onto the
// session row, then drains them into long-term entries. Draining is
// idempotent: a signal whose description is already contained in an existing
// entry of the target category is skipped, so calling this after every
// action never duplicates. The working lists themselves are kept; they only
// reset when a new session starts.
//
// Acceptances stay session-scoped and are never drained. The review count is
// not touched here; it moves once, at session completion.
func PersistSessionLearning(ctx context.Context, st Store, sessionID string, l *Learning) error {
	if err := st.SaveSessionSignals(ctx, sessionID, l.Session); err != nil {
		return fmt.Errorf("failed to save session signals: %w", err)
	}

	for _, r := range l.Session.Rejections {
		category := CategoryResolution
		if r.PreferenceRule != "" {
			category = CategoryPreference
		}
		if err := drainEntry(ctx, st, l, category, rejectionDescription(r)); err != nil {
			return err
		}
	}
	for _, a := range l.Session.AmbiguityAnswers {
		category := CategoryAmbiguityAccidental
		if a.Intentional {
			category = CategoryAmbiguityIntentional
		}
		if err := drainEntry(ctx, st, l, category, ambiguityDescription(a)); err != nil {
			return err
		}
	}
	return nil
}

// OnSessionCompleted bumps the review count. Callers gate it on the
// completion edge reported by the store's checkpoint, so a session that
// reopens and completes again does not double-count.
func OnSessionCompleted(ctx context.Context, st Store, l *Learning) error {
	l.ReviewCount++
	if err := st.SaveLearningMeta(ctx, l); err != nil {
		l.ReviewCount--
		return fmt.Errorf("failed to record completed review: %w", err)
	}
	return nil
}

// MergeEntries adopts every entry of imported that the current learning does
// not already contain, inserting through the store. Returns how many entries
// were added. Used once on first run, when a pre-existing LEARNING.md is
// folded into a fresh database.
func MergeEntries(ctx context.Context, st Store, l *Learning, imported *Learning) (int, error) {
	added := 0
	for _, category := range Categories() {
		for _, e := range imported.Entries(category) {
			if l.ContainsDescription(category, e.Description) {
				continue
			}
			if err := drainEntry(ctx, st, l, category, e.Description); err != nil {
				return added, err
			}
			added++
		}
	}
	return added, nil
}

func drainEntry(ctx context.Context, st Store, l *Learning, category, description string) error {
	if l.ContainsDescription(category, description) {
		return nil
	}
	id, err := st.InsertLearningEntry(ctx, category, description)
	if err != nil {
		return fmt.Errorf("failed to record %s entry: %w", category, err)
	}
	return l.AddEntry(category, Entry{ID: id, Description: description})
}

func rejectionDescription(r RejectionSignal) string {
	if r.PreferenceRule != "" {
		return fmt.Sprintf("[%s] %s", r.Lens, r.PreferenceRule)
	}
	return fmt.Sprintf("[%s] %s — Author says: \"%s\"", r.Lens, r.EvidenceExcerpt, r.Reason)
}

func ambiguityDescription(a AmbiguityAnswer) string {
	return fmt.Sprintf("%s: %s", a.Location, a.Description)
}
