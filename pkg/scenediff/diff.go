// Package scenediff keeps finding line anchors honest while the author edits
// the manuscript under review. It diffs the saved scene text against what is
// on disk now, remaps surviving line ranges, marks findings whose lines were
// touched as stale, and routes newly-stale findings through re-evaluation.
package scenediff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineDiff relates old line numbers to new ones. All numbers are 1-based,
// matching the L-numbers shown to the model and the author.
type LineDiff struct {
	// Mapping sends each surviving old line to its new position.
	Mapping map[int]int
	// Deleted holds old line numbers that no longer exist.
	Deleted map[int]bool
	// Inserted holds new line numbers that did not exist before.
	Inserted map[int]bool
}

// Compute builds the line-level diff between two versions of the scene text.
func Compute(oldText, newText string) *LineDiff {
	d := &LineDiff{
		Mapping:  make(map[int]int),
		Deleted:  make(map[int]bool),
		Inserted: make(map[int]bool),
	}
	if oldText == newText {
		for i := 1; i <= countLines(oldText); i++ {
			d.Mapping[i] = i
		}
		return d
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	// Line-level reduction avoids newline boundary artifacts when reading
	// the diff back as line operations.
	a, b, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	oldLine, newLine := 0, 0
	for _, diff := range diffs {
		n := countLines(diff.Text)
		switch diff.Type {
		case diffmatchpatch.DiffEqual:
			for i := 0; i < n; i++ {
				oldLine++
				newLine++
				d.Mapping[oldLine] = newLine
			}
		case diffmatchpatch.DiffDelete:
			for i := 0; i < n; i++ {
				oldLine++
				d.Deleted[oldLine] = true
			}
		case diffmatchpatch.DiffInsert:
			for i := 0; i < n; i++ {
				newLine++
				d.Inserted[newLine] = true
			}
		}
	}
	return d
}

// countLines counts text lines the way the prompt numbering does: a trailing
// newline does not open a final empty line.
func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
