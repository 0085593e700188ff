package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"litcritic/pkg/prompt"
	"litcritic/pkg/review"
	"litcritic/pkg/utils"
)

// LearningFile is the optional exported learning document. It is imported
// into the database once on first run; after that the database is
// authoritative and the file only changes on export.
const LearningFile = "LEARNING.md"

// IndexFiles returns the canonical project index filenames, LEARNING.md
// last.
func IndexFiles() []string {
	names := make([]string, 0, 7)
	for _, n := range prompt.IndexNames() {
		names = append(names, n+".md")
	}
	return append(names, LearningFile)
}

// IndexContext is the loaded project context for one analysis pass:
// per-index contents keyed by canonical name (CANON, CAST, ...) and the
// manifest fingerprint stored on the session for staleness checks.
type IndexContext struct {
	Contents map[string]string
	Manifest string
	Missing  []string
}

// LoadIndexes reads the project index files. Missing files are recorded, not
// fatal; the prompts note absent indexes themselves. The manifest covers
// every present index file including LEARNING.md.
func LoadIndexes(projectDir string) (*IndexContext, error) {
	ic := &IndexContext{Contents: make(map[string]string)}

	hashes := make(map[string]string)
	for _, name := range IndexFiles() {
		data, err := os.ReadFile(filepath.Join(projectDir, name))
		if os.IsNotExist(err) {
			ic.Missing = append(ic.Missing, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read index %s: %w", name, err)
		}
		hashes[name] = utils.HashText(string(data))
		if name != LearningFile {
			ic.Contents[strings.TrimSuffix(name, ".md")] = string(data)
		}
	}
	ic.Manifest = renderManifest(hashes)
	return ic, nil
}

// renderManifest serialises per-file hashes as "name:hash;..." sorted by
// filename, so manifests compare byte-for-byte and diffs can name the files
// that moved.
func renderManifest(hashes map[string]string) string {
	names := make([]string, 0, len(hashes))
	for name := range hashes {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+":"+hashes[name])
	}
	return strings.Join(parts, ";")
}

func parseManifest(manifest string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(manifest, ";") {
		name, hash, ok := strings.Cut(part, ":")
		if ok && name != "" {
			out[name] = hash
		}
	}
	return out
}

// changedIndexFiles lists files present in either manifest whose hash
// differs, sorted.
func changedIndexFiles(oldManifest, newManifest string) []string {
	oldHashes := parseManifest(oldManifest)
	newHashes := parseManifest(newManifest)

	changed := make(map[string]bool)
	for name, h := range newHashes {
		if oldHashes[name] != h {
			changed[name] = true
		}
	}
	for name := range oldHashes {
		if _, ok := newHashes[name]; !ok {
			changed[name] = true
		}
	}

	out := make([]string, 0, len(changed))
	for name := range changed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// IndexRecheck is the outcome of one staleness re-check.
type IndexRecheck struct {
	Changed []string
	// Prompt is true exactly once per staleness episode: the first re-check
	// that found non-learning drift. The UI asks about re-running analysis
	// on that edge only.
	Prompt bool
}

// ReCheckIndexContext re-hashes the index files and reconciles the session's
// staleness bookkeeping. A change confined to LEARNING.md re-baselines the
// stored manifest silently: learning is session-to-session memory, not a
// stale analysis input. Any other drift marks the context stale, records the
// changed files, and asks the caller to prompt on first detection. The
// session is mutated but not persisted here.
func ReCheckIndexContext(projectDir string, sess *review.Session) (*IndexRecheck, error) {
	ic, err := LoadIndexes(projectDir)
	if err != nil {
		return nil, err
	}
	if ic.Manifest == sess.IndexContextHash {
		return nil, nil
	}

	changed := changedIndexFiles(sess.IndexContextHash, ic.Manifest)
	if len(changed) == 1 && changed[0] == LearningFile {
		sess.IndexContextHash = ic.Manifest
		return nil, nil
	}

	sess.IndexContextStale = true
	sess.IndexChangedFiles = changed
	recheck := &IndexRecheck{Changed: changed}
	if !sess.IndexRerunPrompted {
		sess.IndexRerunPrompted = true
		recheck.Prompt = true
	}
	return recheck, nil
}
