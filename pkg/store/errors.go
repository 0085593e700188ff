package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"litcritic/pkg/review"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("session not found")

// SceneValidationError reports that a saved session no longer matches the
// scene files on disk, either because the path set changed or because the
// content hash moved.
type SceneValidationError struct {
	Reason       string
	SavedPaths   []string
	CurrentPaths []string
	SavedHash    string
	CurrentHash  string
}

func (e *SceneValidationError) Error() string {
	if e.Reason == "scene paths changed" {
		return fmt.Sprintf("%s: saved %s, current %s",
			e.Reason, strings.Join(e.SavedPaths, ", "), strings.Join(e.CurrentPaths, ", "))
	}
	return fmt.Sprintf("%s: saved hash %s, current hash %s", e.Reason, e.SavedHash, e.CurrentHash)
}

// ValidateScene checks a loaded session against the scene files as they
// stand now: the path sets must be equal (order-insensitive, cleaned) and
// the stored content hash must match.
func ValidateScene(sess *review.Session, currentPaths []string, currentHash string) error {
	if !samePathSet(sess.ScenePaths, currentPaths) {
		return &SceneValidationError{
			Reason:       "scene paths changed",
			SavedPaths:   append([]string(nil), sess.ScenePaths...),
			CurrentPaths: append([]string(nil), currentPaths...),
			SavedHash:    sess.SceneHash,
			CurrentHash:  currentHash,
		}
	}
	if sess.SceneHash != currentHash {
		return &SceneValidationError{
			Reason:       "scene content changed",
			SavedPaths:   append([]string(nil), sess.ScenePaths...),
			CurrentPaths: append([]string(nil), currentPaths...),
			SavedHash:    sess.SceneHash,
			CurrentHash:  currentHash,
		}
	}
	return nil
}

func samePathSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	ca := cleanedSorted(a)
	cb := cleanedSorted(b)
	for i := range ca {
		if ca[i] != cb[i] {
			return false
		}
	}
	return true
}

func cleanedSorted(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Clean(p)
	}
	sort.Strings(out)
	return out
}
