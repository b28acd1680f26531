package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/product-scout/internal/model"
)

// Sheet names used in the workbook.
const (
	SheetRecords    = "records"
	SheetCandidates = "candidates"
	SheetMetadata   = "metadata"
)

// provenance columns are always placed last.
var provenanceColumns = []string{"source_candidate_id", "extracted_at"}

// XLSX writes each document to <dir>/<run_id>.xlsx with one sheet for the
// accepted records, one for the candidates, and one for run metadata.
type XLSX struct {
	Dir string
}

// Path returns the workbook a document for runID is written to.
func (x XLSX) Path(runID string) string {
	return filepath.Join(x.Dir, runID+".xlsx")
}

func (x XLSX) Write(_ context.Context, doc model.RunDocument) error {
	if err := os.MkdirAll(x.Dir, 0o755); err != nil {
		return eris.Wrapf(err, "sink: create dir %s", x.Dir)
	}

	f := xlsx.NewFile()
	if err := addRecords(f, doc.AcceptedRecords); err != nil {
		return err
	}
	if err := addCandidates(f, doc.Metadata.Candidates); err != nil {
		return err
	}
	if err := addMetadata(f, doc); err != nil {
		return err
	}
	return eris.Wrapf(f.Save(x.Path(doc.RunID)), "sink: save workbook %s", x.Path(doc.RunID))
}

func addRecords(f *xlsx.File, records []map[string]any) error {
	sheet, err := f.AddSheet(SheetRecords)
	if err != nil {
		return eris.Wrap(err, "sink: add records sheet")
	}

	header := recordColumns(records)
	addRow(sheet, header...)
	for _, rec := range records {
		row := sheet.AddRow()
		for _, col := range header {
			setCell(row.AddCell(), rec[col])
		}
	}
	return nil
}

// recordColumns returns the sorted union of field names with the
// provenance columns appended.
func recordColumns(records []map[string]any) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] && !slices.Contains(provenanceColumns, k) {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	slices.Sort(cols)
	return append(cols, provenanceColumns...)
}

func addCandidates(f *xlsx.File, candidates []model.Candidate) error {
	sheet, err := f.AddSheet(SheetCandidates)
	if err != nil {
		return eris.Wrap(err, "sink: add candidates sheet")
	}

	addRow(sheet, "id", "locator", "name", "origin", "attempt_count", "exhausted")
	for _, c := range candidates {
		addRow(sheet, c.ID, c.Locator, c.Name, string(c.Origin),
			strconv.Itoa(c.AttemptCount), strconv.FormatBool(c.Exhausted))
	}
	return nil
}

func addMetadata(f *xlsx.File, doc model.RunDocument) error {
	sheet, err := f.AddSheet(SheetMetadata)
	if err != nil {
		return eris.Wrap(err, "sink: add metadata sheet")
	}

	m := doc.Metadata
	for _, kv := range [][2]string{
		{"run_id", doc.RunID},
		{"query", doc.Query},
		{"status", string(doc.Status())},
		{"success", strconv.FormatBool(m.Success)},
		{"partial", strconv.FormatBool(m.Partial)},
		{"termination_reason", m.TerminationReason},
		{"candidates_tried", strconv.Itoa(m.CandidatesTried)},
		{"total_extraction_attempts", strconv.Itoa(m.TotalExtractionAttempts)},
		{"total_research_attempts", strconv.Itoa(m.TotalResearchAttempts)},
		{"target_candidates", strconv.Itoa(m.TargetCandidates)},
		{"successful_candidates", strconv.Itoa(m.SuccessfulCandidates)},
		{"success_rate", strconv.FormatFloat(m.SuccessRate, 'f', 4, 64)},
		{"transitions", strconv.Itoa(m.Transitions)},
		{"started_at", m.StartedAt.Format(time.RFC3339)},
		{"completed_at", m.CompletedAt.Format(time.RFC3339)},
	} {
		addRow(sheet, kv[0], kv[1])
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func setCell(cell *xlsx.Cell, v any) {
	switch t := v.(type) {
	case nil:
		cell.SetString("")
	case string:
		cell.SetString(t)
	case float64:
		cell.SetFloat(t)
	case int:
		cell.SetInt(t)
	case bool:
		cell.SetBool(t)
	default:
		cell.SetString(fmt.Sprint(t))
	}
}
