package scenediff

import "litcritic/pkg/review"

// Adjustment outcomes.
const (
	AdjustRemapped = "remapped"
	AdjustStale    = "stale"
	AdjustNoLines  = "no_lines"
)

// AdjustFinding moves a finding's line anchors across a scene edit. A
// finding whose range lost lines, or whose endpoints no longer map, is
// marked stale with its old numbers left in place so the re-evaluation
// prompt can still cite them. Outcomes are exclusive: a finding is either
// remapped or stale, never both.
func AdjustFinding(f *review.Finding, d *LineDiff) string {
	if !f.HasLines() {
		return AdjustNoLines
	}
	start, end := *f.LineStart, *f.LineEnd
	for n := start; n <= end; n++ {
		if d.Deleted[n] {
			f.Stale = true
			return AdjustStale
		}
	}
	newStart, startOK := d.Mapping[start]
	newEnd, endOK := d.Mapping[end]
	if !startOK || !endOK {
		f.Stale = true
		return AdjustStale
	}
	f.LineStart = &newStart
	f.LineEnd = &newEnd
	return AdjustRemapped
}
