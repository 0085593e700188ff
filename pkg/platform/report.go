package platform

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"litcritic/pkg/review"
)

var findingColumns = []string{"#", "Severity", "Lens", "Location", "Lines", "Status", "Outcome"}

// ExportSessionReport writes a spreadsheet report for one session: a
// Findings sheet with one row per finding and a Summary sheet with session
// counters.
func ExportSessionReport(sess *review.Session, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const findingsSheet = "Findings"
	f.SetSheetName("Sheet1", findingsSheet)

	for col, header := range findingColumns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(findingsSheet, cell, header); err != nil {
			return err
		}
	}
	for i, finding := range sess.Findings {
		row := []any{
			finding.Number,
			finding.Severity,
			finding.Lens,
			finding.Location,
			lineRange(finding),
			finding.Status,
			finding.OutcomeReason,
		}
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(findingsSheet, cell, value); err != nil {
				return err
			}
		}
	}

	if err := writeSummarySheet(f, sess); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, sess *review.Session) error {
	const sheet = "Summary"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	rows := [][2]any{
		{"Session", sess.ID},
		{"Scenes", len(sess.ScenePaths)},
		{"Model", sess.Model},
		{"Preset", presetName(sess)},
		{"Status", sess.Status},
		{"Started", sess.CreatedAt.Format(time.RFC3339)},
		{"Findings", sess.TotalFindings},
		{"Accepted", sess.AcceptedCount},
		{"Rejected", sess.RejectedCount},
		{"Withdrawn", sess.WithdrawnCount},
	}
	if sess.CompletedAt != nil {
		rows = append(rows, [2]any{"Completed", sess.CompletedAt.Format(time.RFC3339)})
	}

	for i, row := range rows {
		if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", i+1), row[0]); err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, fmt.Sprintf("B%d", i+1), row[1]); err != nil {
			return err
		}
	}
	return nil
}

func lineRange(f *review.Finding) string {
	if !f.HasLines() {
		return ""
	}
	if *f.LineStart == *f.LineEnd {
		return fmt.Sprintf("L%d", *f.LineStart)
	}
	return fmt.Sprintf("L%d-L%d", *f.LineStart, *f.LineEnd)
}

func presetName(sess *review.Session) string {
	if sess.Preferences == nil {
		return ""
	}
	return sess.Preferences.Preset
}
