package povalidate

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var parenthetical = regexp.MustCompile(`\s*\([^)]*\)`)

// Reconciliation is the comparison of extracted lines against work items.
type Reconciliation struct {
	Mismatches  []PriceMismatch
	Missing     []MissingWorkItem
	Annotations []LineAnnotation
	Checked     int
	Matched     int
	// NoPricing is set when line items exist but none carries a price.
	NoPricing bool
	Notes     []string
}

type candidate struct {
	diff     float64
	wi, line int
}

// Reconcile pairs work items with line items, first by serial and then by a
// text search, and flags price differences beyond PriceTolerance. Only work
// items with a serial take part. A pair where either side has no price
// counts as matched without a price comparison.
func Reconcile(ext *Extraction, workItems []WorkItem) *Reconciliation {
	rec := &Reconciliation{}
	if ext == nil || len(ext.LineItems) == 0 {
		return rec
	}
	if !ext.Priced() {
		rec.NoPricing = true
		return rec
	}

	var items []WorkItem
	for _, wi := range workItems {
		if wi.SerialNumber != "" {
			items = append(items, wi)
		}
	}
	lines := ext.LineItems
	usedWI := make([]bool, len(items))
	usedLine := make([]bool, len(lines))

	pair := func(wiIdx, lineIdx int) {
		usedWI[wiIdx], usedLine[lineIdx] = true, true
		wi, li := items[wiIdx], lines[lineIdx]
		search := searchText(li, wi.SerialNumber)
		poPrice, priced := li.Price()
		if !priced || wi.Unpriced {
			rec.Matched++
			comment := "No price on PO line"
			if wi.Unpriced {
				comment = "No price on work item"
			}
			rec.Annotations = append(rec.Annotations, LineAnnotation{
				Status: AnnotationOK, Comment: comment, Page: li.Page, BBox: li.BBox, SearchText: search,
			})
			return
		}
		rec.Checked++
		diff := poPrice - wi.ExpectedPrice
		if math.Abs(diff) <= PriceTolerance+1e-9 {
			rec.Matched++
			rec.Annotations = append(rec.Annotations, LineAnnotation{
				Status: AnnotationOK, Page: li.Page, BBox: li.BBox, SearchText: search,
			})
			return
		}
		serial := li.SerialNumber
		if serial == "" {
			serial = wi.SerialNumber
		}
		rec.Mismatches = append(rec.Mismatches, PriceMismatch{
			SerialNumber:  serial,
			Description:   li.Description,
			WorkItemID:    wi.ID,
			POPrice:       poPrice,
			ExpectedPrice: wi.ExpectedPrice,
			Difference:    math.Round(diff*100) / 100,
		})
		rec.Annotations = append(rec.Annotations, LineAnnotation{
			Status:     AnnotationMismatch,
			Comment:    fmt.Sprintf("Expected %s, PO says %s", money(wi.ExpectedPrice), money(poPrice)),
			Page:       li.Page,
			BBox:       li.BBox,
			SearchText: search,
		})
	}

	// Phase 1: serial matches, closest price first. Pairs without a price
	// on either side sort after every priced pair.
	var cands []candidate
	for wi, item := range items {
		for l, li := range lines {
			if li.SerialNumber == "" || !MatchSerial(li.SerialNumber, item.SerialNumber) {
				continue
			}
			diff := math.Inf(1)
			if p, ok := li.Price(); ok && !item.Unpriced {
				diff = math.Abs(p - item.ExpectedPrice)
			}
			cands = append(cands, candidate{diff: diff, wi: wi, line: l})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].diff != cands[j].diff {
			return cands[i].diff < cands[j].diff
		}
		if cands[i].wi != cands[j].wi {
			return cands[i].wi < cands[j].wi
		}
		return cands[i].line < cands[j].line
	})
	for _, c := range cands {
		if usedWI[c.wi] || usedLine[c.line] {
			continue
		}
		pair(c.wi, c.line)
	}

	// Phase 2: the serial or asset name appears somewhere in the text.
	for wi, item := range items {
		if usedWI[wi] || !mentioned(item, ext) {
			continue
		}
		if item.Unpriced {
			// Nothing to compare; being on the PO is enough.
			usedWI[wi] = true
			rec.Matched++
			continue
		}
		best, bestDiff := -1, math.Inf(1)
		for l, li := range lines {
			p, ok := li.Price()
			if usedLine[l] || !ok {
				continue
			}
			if d := math.Abs(p - item.ExpectedPrice); d < bestDiff {
				best, bestDiff = l, d
			}
		}
		if best >= 0 {
			pair(wi, best)
		}
	}

	for wi, item := range items {
		if usedWI[wi] {
			continue
		}
		rec.Missing = append(rec.Missing, MissingWorkItem{
			WorkItemID:    item.ID,
			SerialNumber:  item.SerialNumber,
			AssetName:     item.AssetName,
			ExpectedPrice: item.ExpectedPrice,
		})
		rec.Annotations = append(rec.Annotations, LineAnnotation{
			Status:     AnnotationMissing,
			Comment:    "Not found on PO",
			SearchText: item.SerialNumber,
		})
	}

	for l, li := range lines {
		if usedLine[l] {
			continue
		}
		if _, ok := li.Price(); !ok {
			continue
		}
		rec.Annotations = append(rec.Annotations, LineAnnotation{
			Status:     AnnotationWarn,
			Comment:    "Not matched to a work item",
			Page:       li.Page,
			BBox:       li.BBox,
			SearchText: searchText(li, ""),
		})
	}

	if len(rec.Missing) > 0 {
		rec.Notes = append(rec.Notes, fmt.Sprintf("%d work item(s) not found on PO", len(rec.Missing)))
	}
	if rec.Matched == 0 && len(rec.Mismatches) == 0 {
		rec.Notes = append(rec.Notes, "No serial matches found between PO and work items")
	}
	return rec
}

// mentioned reports whether the work item's serial (with or without a
// parenthetical) or asset name appears in the raw text or a description.
func mentioned(wi WorkItem, ext *Extraction) bool {
	var serials []string
	if wi.SerialNumber != "" {
		serials = append(serials, wi.SerialNumber)
		if base := strings.TrimSpace(parenthetical.ReplaceAllString(wi.SerialNumber, "")); base != "" && base != wi.SerialNumber {
			serials = append(serials, base)
		}
	}
	asset := strings.ToLower(wi.AssetName)

	hit := func(text string) bool {
		for _, s := range serials {
			if strings.Contains(text, s) {
				return true
			}
		}
		return asset != "" && strings.Contains(strings.ToLower(text), asset)
	}
	if hit(ext.RawText) {
		return true
	}
	for _, li := range ext.LineItems {
		if hit(li.Description) {
			return true
		}
	}
	return false
}

// searchText prefers the line's serial, then the work item's, then the
// description.
func searchText(li LineItem, serial string) string {
	switch {
	case li.SerialNumber != "":
		return li.SerialNumber
	case serial != "":
		return serial
	default:
		return li.Description
	}
}

var printer = message.NewPrinter(language.English)

// money formats v as $1,234.56.
func money(v float64) string {
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("$%.2f", v)
}
