package analysis

import (
	"sort"

	"litcritic/pkg/review"
)

// MergeFindings flattens per-chunk findings in chunk order, folds duplicates
// together, and renumbers sequentially from 1.
//
// Two findings are duplicates when their line ranges overlap by more than
// half of the shorter range. The merged finding keeps the higher-severity
// side's content; at equal severity the earlier side's content wins and the
// primary lens falls back to the alphabetically first of the two. flagged_by
// becomes the sorted union of both sides.
func MergeFindings(chunks [][]*review.Finding) []*review.Finding {
	var merged []*review.Finding
	for _, chunk := range chunks {
		for _, f := range chunk {
			if target := findDuplicate(merged, f); target != nil {
				mergeInto(target, f)
				continue
			}
			merged = append(merged, f)
		}
	}
	review.Renumber(merged)
	return merged
}

func findDuplicate(kept []*review.Finding, f *review.Finding) *review.Finding {
	for _, k := range kept {
		if overlapsMajority(k, f) {
			return k
		}
	}
	return nil
}

// overlapsMajority reports whether the two ranges overlap by more than half
// of the shorter one. Findings without a full range never match.
func overlapsMajority(a, b *review.Finding) bool {
	if !a.HasLines() || !b.HasLines() {
		return false
	}
	lo := max(*a.LineStart, *b.LineStart)
	hi := min(*a.LineEnd, *b.LineEnd)
	if hi < lo {
		return false
	}
	overlap := hi - lo + 1
	shorter := min(*a.LineEnd-*a.LineStart+1, *b.LineEnd-*b.LineStart+1)
	return 2*overlap > shorter
}

// mergeInto folds dup into target, which keeps its slot in the merged order.
func mergeInto(target, dup *review.Finding) {
	seen := make(map[string]bool)
	var union []string
	for _, lens := range append(append([]string(nil), target.FlaggedBy...), dup.FlaggedBy...) {
		if lens != "" && !seen[lens] {
			seen[lens] = true
			union = append(union, lens)
		}
	}
	sort.Strings(union)

	targetRank := review.SeverityRank(target.Severity)
	dupRank := review.SeverityRank(dup.Severity)
	switch {
	case dupRank > targetRank:
		adoptContent(target, dup)
	case dupRank == targetRank:
		if dup.Lens < target.Lens {
			target.Lens = dup.Lens
		}
	}
	target.FlaggedBy = union
}

// adoptContent copies dup's content fields onto target.
func adoptContent(target, dup *review.Finding) {
	target.Severity = dup.Severity
	target.Lens = dup.Lens
	target.Location = dup.Location
	target.LineStart = dup.LineStart
	target.LineEnd = dup.LineEnd
	target.Evidence = dup.Evidence
	target.Impact = dup.Impact
	target.Options = append([]string(nil), dup.Options...)
	target.AmbiguityType = dup.AmbiguityType
}
