// Package povalidate checks purchase-order documents against the work items
// of a service order: tiered field extraction, serial matching, price
// reconciliation, status resolution and PDF annotation.
package povalidate

import (
	"context"
	"time"

	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
)

// PriceTolerance is the largest price difference treated as equal.
const PriceTolerance = 0.01

// RawTextLimit caps the raw text snapshot kept on an extraction.
const RawTextLimit = 5000

// Method tags how line items were extracted.
type Method string

const (
	MethodTable  Method = "table"
	MethodText   Method = "text"
	MethodVision Method = "vision"
	MethodNone   Method = "none"
)

// Status is the overall validation status.
type Status string

const (
	StatusPass             Status = "pass"
	StatusFail             Status = "fail"
	StatusNoPricing        Status = "no_pricing"
	StatusExtractionFailed Status = "extraction_failed"
	StatusSkipped          Status = "skipped"
)

// AnnotationStatus marks one annotated line.
type AnnotationStatus string

const (
	AnnotationOK       AnnotationStatus = "ok"
	AnnotationMismatch AnnotationStatus = "mismatch"
	AnnotationMissing  AnnotationStatus = "missing"
	AnnotationWarn     AnnotationStatus = "warn"
)

// LineItem is one priced line read from a purchase order.
type LineItem struct {
	SerialNumber  string      `json:"serial_number,omitempty"`
	Description   string      `json:"description,omitempty"`
	UnitPrice     *float64    `json:"unit_price,omitempty"`
	Quantity      *float64    `json:"quantity,omitempty"`
	ExtendedPrice *float64    `json:"extended_price,omitempty"`
	Page          int         `json:"page"` // 0-based
	BBox          *pdfdoc.Box `json:"bbox,omitempty"`
}

// Price returns the unit price, falling back to the extended price.
func (li LineItem) Price() (float64, bool) {
	if li.UnitPrice != nil {
		return *li.UnitPrice, true
	}
	if li.ExtendedPrice != nil {
		return *li.ExtendedPrice, true
	}
	return 0, false
}

// Extraction is the result of reading fields from a purchase order.
type Extraction struct {
	PONumber   string     `json:"po_number,omitempty"`
	LineItems  []LineItem `json:"line_items"`
	Method     Method     `json:"method"`
	Confidence float64    `json:"confidence"`
	RawText    string     `json:"raw_text,omitempty"`
	Failed     bool       `json:"failed"`
}

// Priced reports whether any line item carries a price.
func (e *Extraction) Priced() bool {
	for _, li := range e.LineItems {
		if _, ok := li.Price(); ok {
			return true
		}
	}
	return false
}

// WorkItem is one record-system work item on a service order.
type WorkItem struct {
	ID            int64   `json:"work_item_id"`
	SerialNumber  string  `json:"serial_number,omitempty"`
	AssetName     string  `json:"asset_name,omitempty"`
	ExpectedPrice float64 `json:"expected_price"`
	// Unpriced is set when the record carries neither a charge nor a total.
	Unpriced bool `json:"unpriced,omitempty"`
}

// PriceMismatch is a matched pair whose prices differ beyond tolerance.
type PriceMismatch struct {
	SerialNumber  string  `json:"serial_number"`
	Description   string  `json:"description,omitempty"`
	WorkItemID    int64   `json:"work_item_id"`
	POPrice       float64 `json:"po_price"`
	ExpectedPrice float64 `json:"expected_price"`
	Difference    float64 `json:"difference"` // po - expected, rounded to cents
}

// MissingWorkItem is a work item with no line on the purchase order.
type MissingWorkItem struct {
	WorkItemID    int64   `json:"work_item_id"`
	SerialNumber  string  `json:"serial_number,omitempty"`
	AssetName     string  `json:"asset_name,omitempty"`
	ExpectedPrice float64 `json:"expected_price"`
}

// LineAnnotation is a mark to draw on the annotated copy.
type LineAnnotation struct {
	Status     AnnotationStatus `json:"status"`
	Comment    string           `json:"comment,omitempty"`
	Page       int              `json:"page"`
	BBox       *pdfdoc.Box      `json:"bbox,omitempty"`
	SearchText string           `json:"search_text,omitempty"`
}

// Result is the outcome of validating one purchase order.
type Result struct {
	DocumentName     string            `json:"document_name"`
	PONumber         string            `json:"po_number,omitempty"`
	OrderID          int64             `json:"service_order_id"`
	Status           Status            `json:"status"`
	Mismatches       []PriceMismatch   `json:"mismatches,omitempty"`
	Missing          []MissingWorkItem `json:"missing,omitempty"`
	Annotations      []LineAnnotation  `json:"annotations,omitempty"`
	LineItemsTotal   int               `json:"line_items_total"`
	LineItemsChecked int               `json:"line_items_checked"`
	Matched          int               `json:"matched"`
	WorkItemsTotal   int               `json:"work_items_total"`
	Method           Method            `json:"extraction_method"`
	Confidence       float64           `json:"confidence"`
	CheckedAt        time.Time         `json:"checked_at"`
	Notes            []string          `json:"notes,omitempty"`
}

// HasWarnings reports whether any annotation is a warning.
func (r *Result) HasWarnings() bool {
	for _, a := range r.Annotations {
		if a.Status == AnnotationWarn {
			return true
		}
	}
	return false
}

// VisionExtractor reads purchase-order fields from rendered page images.
type VisionExtractor interface {
	ExtractFields(ctx context.Context, pageImages [][]byte) (*Extraction, error)
}

// PageRenderer rasterizes one page (0-based) of a PDF to PNG.
type PageRenderer interface {
	RenderPage(ctx context.Context, path string, page, dpi int) ([]byte, error)
}
