package learning

import (
	"fmt"
	"strconv"
	"strings"
)

// ExportMarkdown renders the learning state as a Markdown document with a
// fixed section order, so two exports of the same state are byte-identical.
func ExportMarkdown(l *Learning) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Learning: %s\n\n", l.ProjectName)
	fmt.Fprintf(&b, "Reviews completed: %d\n", l.ReviewCount)

	writeSection(&b, "## Preferences", l.Preferences)
	writeSection(&b, "## Blind Spots", l.BlindSpots)
	writeSection(&b, "## Resolutions", l.Resolutions)
	b.WriteString("\n## Ambiguity Patterns\n")
	writeSection(&b, "### Intentional", l.AmbiguityIntentional)
	writeSection(&b, "### Accidental", l.AmbiguityAccidental)
	return b.String()
}

func writeSection(b *strings.Builder, header string, entries []Entry) {
	fmt.Fprintf(b, "\n%s\n", header)
	if len(entries) == 0 {
		return
	}
	b.WriteString("\n")
	for _, e := range entries {
		fmt.Fprintf(b, "- %s\n", e.Description)
	}
}

// ImportMarkdown parses a document in the export format back into a
// Learning. Unrecognised lines are skipped, so hand-edited files survive.
// Entry IDs are not carried by the format; imported entries get real IDs
// when MergeEntries writes them to the database.
func ImportMarkdown(data string) *Learning {
	l := &Learning{}
	category := ""
	for _, raw := range strings.Split(data, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, "# Learning:"):
			l.ProjectName = strings.TrimSpace(strings.TrimPrefix(line, "# Learning:"))
		case strings.HasPrefix(line, "Reviews completed:"):
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Reviews completed:"))); err == nil {
				l.ReviewCount = n
			}
		case line == "## Preferences":
			category = CategoryPreference
		case line == "## Blind Spots":
			category = CategoryBlindSpot
		case line == "## Resolutions":
			category = CategoryResolution
		case line == "## Ambiguity Patterns":
			// Bullets only appear under the Intentional/Accidental
			// subsections.
			category = ""
		case line == "### Intentional":
			category = CategoryAmbiguityIntentional
		case line == "### Accidental":
			category = CategoryAmbiguityAccidental
		case strings.HasPrefix(line, "- ") && category != "":
			desc := strings.TrimSpace(strings.TrimPrefix(line, "- "))
			if desc != "" {
				_ = l.AddEntry(category, Entry{Description: desc})
			}
		}
	}
	return l
}
