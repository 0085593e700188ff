package platform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"litcritic/pkg/review"
)

func TestExportSessionReport(t *testing.T) {
	prefs, err := review.ResolvePreset(review.PresetProseFirst, 1)
	require.NoError(t, err)
	sess := review.NewSession([]string{"scenes/ch01.md"}, "text\n", "hash", "sonnet", prefs)

	accepted := pendingFinding(1, review.LensProse, 2)
	accepted.Status = review.StatusAccepted
	accepted.OutcomeReason = "Accepted by author"
	unanchored := pendingFinding(2, review.LensStructure, 0)
	unanchored.LineStart, unanchored.LineEnd = nil, nil
	sess.SetFindings([]*review.Finding{accepted, unanchored})

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, ExportSessionReport(sess, path))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Findings")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, findingColumns, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "L2", rows[1][4])
	assert.Equal(t, review.StatusAccepted, rows[1][5])
	assert.Equal(t, "Accepted by author", rows[1][6])

	preset, err := f.GetCellValue("Summary", "B4")
	require.NoError(t, err)
	assert.Equal(t, review.PresetProseFirst, preset)

	total, err := f.GetCellValue("Summary", "B7")
	require.NoError(t, err)
	assert.Equal(t, "2", total)
}

func TestLineRange(t *testing.T) {
	f := pendingFinding(1, review.LensProse, 4)
	assert.Equal(t, "L4", lineRange(f))

	f.LineEnd = intp(6)
	assert.Equal(t, "L4-L6", lineRange(f))

	f.LineStart = nil
	assert.Equal(t, "", lineRange(f))
}
