package store

import (
	"context"
	"testing"

	"litcritic/pkg/learning"
)

func TestLoadLearningCreatesSingleton(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	l, err := st.LoadLearning(ctx, "riverlands-saga")
	if err != nil {
		t.Fatalf("LoadLearning() error = %v", err)
	}
	if l.ProjectName != "riverlands-saga" || l.ReviewCount != 0 {
		t.Errorf("fresh learning = %q/%d", l.ProjectName, l.ReviewCount)
	}
	if l.TotalEntries() != 0 {
		t.Errorf("fresh learning has %d entries", l.TotalEntries())
	}

	// A second load hits the existing row and keeps its stored name even
	// if the caller passes a different one.
	again, err := st.LoadLearning(ctx, "other-name")
	if err != nil {
		t.Fatalf("LoadLearning() second call error = %v", err)
	}
	if again.ProjectName != "riverlands-saga" {
		t.Errorf("ProjectName = %q, want the stored one", again.ProjectName)
	}
}

func TestLearningEntriesRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.LoadLearning(ctx, "riverlands-saga"); err != nil {
		t.Fatalf("LoadLearning() error = %v", err)
	}

	entries := []struct{ category, description string }{
		{learning.CategoryPreference, "[prose] Allow sentence fragments in action beats"},
		{learning.CategoryResolution, "[logic] the ferry schedule — Author says: \"it runs at dawn\""},
		{learning.CategoryPreference, "[dialogue] Keep regional contractions"},
		{learning.CategoryAmbiguityIntentional, "ch02 ending: the locked door stays unexplained"},
	}
	var ids []int64
	for _, e := range entries {
		id, err := st.InsertLearningEntry(ctx, e.category, e.description)
		if err != nil {
			t.Fatalf("InsertLearningEntry(%s) error = %v", e.category, err)
		}
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("entry ids not increasing: %v", ids)
		}
	}

	l, err := st.LoadLearning(ctx, "riverlands-saga")
	if err != nil {
		t.Fatalf("LoadLearning() reload error = %v", err)
	}
	prefs := l.Entries(learning.CategoryPreference)
	if len(prefs) != 2 {
		t.Fatalf("got %d preferences, want 2", len(prefs))
	}
	if prefs[0].Description != entries[0].description || prefs[1].Description != entries[2].description {
		t.Errorf("preferences out of insertion order: %+v", prefs)
	}
	if prefs[0].ID != ids[0] {
		t.Errorf("entry ID = %d, want %d", prefs[0].ID, ids[0])
	}
	if got := l.Entries(learning.CategoryResolution); len(got) != 1 {
		t.Errorf("resolutions = %+v", got)
	}
	if got := l.Entries(learning.CategoryAmbiguityIntentional); len(got) != 1 {
		t.Errorf("intentional ambiguities = %+v", got)
	}
	if got := l.Entries(learning.CategoryBlindSpot); len(got) != 0 {
		t.Errorf("blind spots = %+v", got)
	}
}

func TestSaveLearningMeta(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	l, err := st.LoadLearning(ctx, "riverlands-saga")
	if err != nil {
		t.Fatalf("LoadLearning() error = %v", err)
	}
	l.ReviewCount = 7
	if err := st.SaveLearningMeta(ctx, l); err != nil {
		t.Fatalf("SaveLearningMeta() error = %v", err)
	}

	got, err := st.LoadLearning(ctx, "riverlands-saga")
	if err != nil {
		t.Fatalf("LoadLearning() error = %v", err)
	}
	if got.ReviewCount != 7 {
		t.Errorf("ReviewCount = %d, want 7", got.ReviewCount)
	}
}

func TestSaveLearningMetaWithoutRow(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	l := learning.New("cold-start")
	l.ReviewCount = 1
	if err := st.SaveLearningMeta(ctx, l); err != nil {
		t.Fatalf("SaveLearningMeta() on empty table error = %v", err)
	}

	got, err := st.LoadLearning(ctx, "ignored")
	if err != nil {
		t.Fatalf("LoadLearning() error = %v", err)
	}
	if got.ProjectName != "cold-start" || got.ReviewCount != 1 {
		t.Errorf("learning = %q/%d", got.ProjectName, got.ReviewCount)
	}
}

func TestResetLearningCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.LoadLearning(ctx, "riverlands-saga"); err != nil {
		t.Fatalf("LoadLearning() error = %v", err)
	}
	if _, err := st.InsertLearningEntry(ctx, learning.CategoryPreference, "[prose] keep it"); err != nil {
		t.Fatalf("InsertLearningEntry() error = %v", err)
	}
	if err := st.ResetLearning(ctx); err != nil {
		t.Fatalf("ResetLearning() error = %v", err)
	}

	var count int
	if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM learning_entry`).Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 0 {
		t.Errorf("%d entries survived the reset", count)
	}

	l, err := st.LoadLearning(ctx, "fresh-name")
	if err != nil {
		t.Fatalf("LoadLearning() after reset error = %v", err)
	}
	if l.ProjectName != "fresh-name" || l.TotalEntries() != 0 {
		t.Errorf("learning after reset = %q with %d entries", l.ProjectName, l.TotalEntries())
	}
}
