package povalidate

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
)

const (
	iconSize    = 14.0
	iconMargin  = 4.0
	markSize    = 9
	commentSize = 7

	colorGreen = "#2EB34A"
	colorRed   = "#DB2424"
	colorAmber = "#E6B81A"
)

type mark struct {
	text  string
	color string
}

var marks = map[AnnotationStatus]mark{
	AnnotationOK:       {"OK", colorGreen},
	AnnotationMismatch: {"X", colorRed},
	AnnotationMissing:  {"MISSING", colorRed},
	AnnotationWarn:     {"?", colorAmber},
}

var outcomeColors = map[Outcome]string{
	OutcomeApproved:     colorGreen,
	OutcomeRejected:     colorRed,
	OutcomeInconclusive: colorAmber,
}

// AnnotatedName returns "<stem>_<OUTCOME>.pdf".
func AnnotatedName(documentName string, outcome Outcome) string {
	base := filepath.Base(documentName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "document"
	}
	return fmt.Sprintf("%s_%s.pdf", stem, outcome)
}

// Annotate returns a marked-up copy of data: a mark beside each annotated
// line, the outcome stamp on page 1 and a summary page. data is not
// modified.
func Annotate(data []byte, r *Result) ([]byte, Outcome, error) {
	outcome := OutcomeOf(r)
	layouts, err := pdfdoc.ReadLayoutBytes(data)
	if err != nil {
		return nil, outcome, fmt.Errorf("read layout: %w", err)
	}
	if len(layouts) == 0 {
		return nil, outcome, fmt.Errorf("document has no pages")
	}

	stamps := lineStamps(layouts, r.Annotations)
	stamps = append(stamps, pdfdoc.Stamp{
		Page:   0,
		Text:   string(outcome),
		Anchor: pdfdoc.AnchorTopRight,
		X:      -24,
		Y:      -24,
		Size:   18,
		Color:  outcomeColors[outcome],
	})

	stamped, err := pdfdoc.ApplyStamps(data, stamps)
	if err != nil {
		return nil, outcome, err
	}
	first := layouts[0]
	summary := pdfdoc.BuildTextPDF(summaryPages(r, outcome, first.Width, first.Height))
	out, err := pdfdoc.AppendPages(stamped, summary)
	if err != nil {
		return nil, outcome, err
	}
	return out, outcome, nil
}

// lineStamps places a mark for each annotation. A bbox wins; otherwise the
// search text is looked up on the page, trying shorter prefixes. Rows are
// used at most once so repeated text lands on successive rows.
func lineStamps(layouts []pdfdoc.PageLayout, anns []LineAnnotation) []pdfdoc.Stamp {
	used := make([]map[int]bool, len(layouts))
	for i := range used {
		used[i] = map[int]bool{}
	}
	for _, a := range anns {
		if a.BBox != nil && a.Page >= 0 && a.Page < len(layouts) {
			used[a.Page][rowKey(*a.BBox)] = true
		}
	}

	var stamps []pdfdoc.Stamp
	for _, a := range anns {
		page := a.Page
		if page < 0 || page >= len(layouts) {
			page = 0
		}
		box, ok := locate(layouts, &page, a, used)
		if !ok {
			continue
		}

		m, known := marks[a.Status]
		if !known {
			m = marks[AnnotationWarn]
		}
		x := box.X0 - iconSize - iconMargin
		if x < 2 {
			x = box.X1 + iconMargin
		}
		y := box.CenterY() - markSize/2.0
		stamps = append(stamps, pdfdoc.Stamp{Page: page, Text: m.text, X: x, Y: y, Size: markSize, Color: m.color})

		if a.Comment != "" && (a.Status == AnnotationMismatch || a.Status == AnnotationMissing) {
			cx := x + pdfdoc.TextWidth(m.text, markSize) + iconMargin
			stamps = append(stamps, pdfdoc.Stamp{
				Page: page, Text: a.Comment, X: cx, Y: box.CenterY() - commentSize/2.0, Size: commentSize, Color: colorRed,
			})
		}
	}
	return stamps
}

func locate(layouts []pdfdoc.PageLayout, page *int, a LineAnnotation, used []map[int]bool) (pdfdoc.Box, bool) {
	if a.BBox != nil {
		return *a.BBox, true
	}
	if a.SearchText == "" {
		return pdfdoc.Box{}, false
	}
	// Missing items carry no page; search every page starting at the hint.
	order := []int{*page}
	if a.Status == AnnotationMissing {
		for i := range layouts {
			if i != *page {
				order = append(order, i)
			}
		}
	}
	for _, p := range order {
		for _, n := range []int{len(a.SearchText), 60, 30} {
			if n > len(a.SearchText) {
				continue
			}
			if box, ok := layouts[p].Find(a.SearchText[:n], used[p]); ok {
				*page = p
				return box, true
			}
		}
	}
	return pdfdoc.Box{}, false
}

func rowKey(b pdfdoc.Box) int {
	return int(math.Round(b.CenterY()))
}

// summaryPages lists the verdict, counters, mismatches and missing items,
// continuing onto further pages when one is full.
func summaryPages(r *Result, outcome Outcome, width, height float64) []pdfdoc.PageSpec {
	if width <= 0 || height <= 0 {
		width, height = pdfdoc.LetterWidth, pdfdoc.LetterHeight
	}
	const left, step, bottom = 54.0, 14.0, 40.0
	y := height - 60
	var (
		pages []pdfdoc.PageSpec
		lines []pdfdoc.TextLine
	)
	add := func(size float64, format string, args ...any) {
		if y < bottom {
			pages = append(pages, pdfdoc.PageSpec{Width: width, Height: height, Lines: lines})
			y = height - 60
			lines = []pdfdoc.TextLine{{X: left, Y: y, Size: 12, Text: fmt.Sprintf("PO VALIDATION: %s (continued)", outcome)}}
			y -= step * 1.5
		}
		lines = append(lines, pdfdoc.TextLine{X: left, Y: y, Size: size, Text: fmt.Sprintf(format, args...)})
		y -= step
	}

	add(16, "PO VALIDATION: %s", outcome)
	y -= step / 2
	if r.DocumentName != "" {
		add(10, "Document: %s", r.DocumentName)
	}
	if r.PONumber != "" {
		add(10, "PO number: %s", r.PONumber)
	}
	add(10, "Service order: %d", r.OrderID)
	add(10, "Status: %s (method %s, confidence %.2f)", r.Status, r.Method, r.Confidence)
	add(10, "Line items: %d total, %d checked, %d matched. Work items: %d",
		r.LineItemsTotal, r.LineItemsChecked, r.Matched, r.WorkItemsTotal)
	add(10, "Checked: %s", r.CheckedAt.UTC().Format("2006-01-02 15:04 MST"))

	if len(r.Mismatches) > 0 {
		y -= step / 2
		add(12, "PRICE MISMATCHES")
		for _, m := range r.Mismatches {
			add(9, "S/N %s: PO %s, expected %s (diff %s)", m.SerialNumber, money(m.POPrice), money(m.ExpectedPrice), money(m.Difference))
		}
	}
	if len(r.Missing) > 0 {
		y -= step / 2
		add(12, "MISSING WORK ITEMS (not found on PO)")
		for _, m := range r.Missing {
			add(9, "S/N %s - %s (%s)", m.SerialNumber, m.AssetName, money(m.ExpectedPrice))
		}
	}
	if len(r.Notes) > 0 {
		y -= step / 2
		add(12, "NOTES")
		for _, n := range r.Notes {
			add(9, "%s", n)
		}
	}
	return append(pages, pdfdoc.PageSpec{Width: width, Height: height, Lines: lines})
}
