// Package report renders purchase-order validation results for people: a
// console summary and an XLSX workbook.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jackzampolin/scanrelay/internal/povalidate"
)

var printer = message.NewPrinter(language.English)

var statusLabel = map[povalidate.Status]string{
	povalidate.StatusPass:             "PASS",
	povalidate.StatusFail:             "FAIL",
	povalidate.StatusNoPricing:        "NO_PRICING",
	povalidate.StatusExtractionFailed: "EXTRACTION_FAILED",
	povalidate.StatusSkipped:          "SKIPPED",
}

// Print writes a human-readable summary of r.
func Print(w io.Writer, r *povalidate.Result) {
	label, ok := statusLabel[r.Status]
	if !ok {
		label = "???"
	}
	po := r.PONumber
	if po == "" {
		po = "(unknown)"
	}
	printer.Fprintf(w, "[%s] %s  PO# %s  (%s, conf=%.0f%%)\n", label, r.DocumentName, po, r.Method, r.Confidence*100)

	for _, m := range r.Mismatches {
		printer.Fprintf(w, "  MISMATCH  S/N %s: PO $%.2f vs Qualer $%.2f (diff %s)\n",
			m.SerialNumber, m.POPrice, m.ExpectedPrice, signedMoney(m.Difference))
	}
	for _, mi := range r.Missing {
		printer.Fprintf(w, "  MISSING   S/N %s: %s (Qualer price $%.2f)\n", mi.SerialNumber, mi.AssetName, mi.ExpectedPrice)
	}
	if r.Status == povalidate.StatusPass {
		extra := ""
		if n := r.LineItemsTotal - r.Matched; n > 0 {
			extra = fmt.Sprintf("  (%d unmatched PO line(s), e.g. travel)", n)
		}
		fmt.Fprintf(w, "  All %d Qualer work item(s) verified on PO%s\n", r.Matched, extra)
	}
	if len(r.Notes) > 0 {
		fmt.Fprintf(w, "  Note: %s\n", strings.Join(r.Notes, "; "))
	}
	fmt.Fprintln(w)
}

// PrintSummary writes one line of totals for results.
func PrintSummary(w io.Writer, results []povalidate.Result) {
	counts := make(map[povalidate.Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "SUMMARY: %d POs checked: %d passed, %d FAILED, %d no pricing, %d extraction errors, %d skipped\n",
		len(results),
		counts[povalidate.StatusPass],
		counts[povalidate.StatusFail],
		counts[povalidate.StatusNoPricing],
		counts[povalidate.StatusExtractionFailed],
		counts[povalidate.StatusSkipped])
	fmt.Fprintln(w, rule)
}

func signedMoney(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("+$%.2f", v)
}

const (
	resultsSheet = "Results"
	issuesSheet  = "Issues"
)

var resultHeaders = []string{
	"Checked At", "Document", "PO Number", "Service Order", "Status", "Outcome",
	"Method", "Confidence", "Work Items", "Lines Checked", "Matched",
	"Mismatches", "Missing", "Notes",
}

var issueHeaders = []string{
	"Document", "PO Number", "Service Order", "Issue", "Serial Number",
	"Asset / Description", "PO Price", "Expected Price", "Difference",
}

// XLSX builds a workbook with a Results sheet (one row per result) and an
// Issues sheet (one row per mismatch or missing item).
func XLSX(results []povalidate.Result) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", resultsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(issuesSheet); err != nil {
		return nil, err
	}
	writeRow(f, resultsSheet, 1, toAny(resultHeaders))
	writeRow(f, issuesSheet, 1, toAny(issueHeaders))

	issueRow := 2
	for i := range results {
		r := &results[i]
		writeRow(f, resultsSheet, i+2, []any{
			r.CheckedAt.Format("2006-01-02 15:04:05"),
			r.DocumentName,
			r.PONumber,
			r.OrderID,
			string(r.Status),
			string(povalidate.OutcomeOf(r)),
			string(r.Method),
			r.Confidence,
			r.WorkItemsTotal,
			r.LineItemsChecked,
			r.Matched,
			len(r.Mismatches),
			len(r.Missing),
			strings.Join(r.Notes, "; "),
		})

		for _, m := range r.Mismatches {
			writeRow(f, issuesSheet, issueRow, []any{
				r.DocumentName, r.PONumber, r.OrderID, "mismatch",
				m.SerialNumber, m.Description, m.POPrice, m.ExpectedPrice, m.Difference,
			})
			issueRow++
		}
		for _, mi := range r.Missing {
			writeRow(f, issuesSheet, issueRow, []any{
				r.DocumentName, r.PONumber, r.OrderID, "missing",
				mi.SerialNumber, mi.AssetName, "", mi.ExpectedPrice, "",
			})
			issueRow++
		}
	}

	_ = f.SetColWidth(resultsSheet, "A", "A", 20)
	_ = f.SetColWidth(resultsSheet, "B", "B", 36)
	_ = f.SetColWidth(resultsSheet, "N", "N", 60)
	_ = f.SetColWidth(issuesSheet, "A", "A", 36)
	_ = f.SetColWidth(issuesSheet, "F", "F", 40)
	if err := f.SetPanes(resultsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

// WriteXLSX writes the XLSX workbook for results to path.
func WriteXLSX(path string, results []povalidate.Result) error {
	data, err := XLSX(results)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
