package povalidate

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jackzampolin/scanrelay/internal/pdfdoc"
)

// Validator checks purchase-order files against work items.
type Validator struct {
	extractor *Extractor
	logger    *slog.Logger
	now       func() time.Time
}

// NewValidator creates a Validator using ext for field extraction.
func NewValidator(ext *Extractor, logger *slog.Logger) *Validator {
	if ext == nil {
		ext = NewExtractor(ExtractorConfig{Logger: logger})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{extractor: ext, logger: logger, now: time.Now}
}

// Validate reads the purchase order at path and reconciles it against
// workItems. Extraction problems are reported through the status, not as
// errors.
func (v *Validator) Validate(ctx context.Context, path, documentName string, orderID int64, workItems []WorkItem) *Result {
	if documentName == "" {
		documentName = filepath.Base(path)
	}
	res := &Result{
		DocumentName:   documentName,
		OrderID:        orderID,
		WorkItemsTotal: len(workItems),
		Method:         MethodNone,
		CheckedAt:      v.now().UTC(),
	}

	if len(workItems) == 0 {
		v.logger.Info("service order has no work items", "document", documentName, "order_id", orderID)
		res.Status = ResolveStatus(StatusInput{ExtractionFailed: true})
		res.Notes = append(res.Notes, "No work items on the service order")
		return res
	}

	if outbound(path) {
		v.logger.Info("skipping outbound price-update request", "document", documentName)
		res.Status = ResolveStatus(StatusInput{Outbound: true})
		res.Notes = append(res.Notes, "Document is an outbound price-update request, not a customer PO")
		return res
	}

	ext := v.extractor.Extract(ctx, path)
	res.PONumber = ext.PONumber
	res.Method = ext.Method
	res.Confidence = ext.Confidence
	res.LineItemsTotal = len(ext.LineItems)

	rec := Reconcile(ext, workItems)
	res.Mismatches = rec.Mismatches
	res.Missing = rec.Missing
	res.Annotations = rec.Annotations
	res.LineItemsChecked = rec.Checked
	res.Matched = rec.Matched
	res.Notes = append(res.Notes, rec.Notes...)

	failed := ext.Failed || len(ext.LineItems) == 0
	switch {
	case failed:
		res.Notes = append(res.Notes, "No line items could be extracted from PO")
	case rec.NoPricing:
		res.LineItemsChecked = len(ext.LineItems)
		res.Notes = append(res.Notes, "PO contains no pricing")
	}
	res.Status = ResolveStatus(StatusInput{
		Mismatches:       len(rec.Mismatches),
		Missing:          len(rec.Missing),
		NoPricing:        rec.NoPricing,
		ExtractionFailed: failed,
	})
	v.logger.Info("purchase order validated",
		"document", documentName,
		"po", res.PONumber,
		"order_id", orderID,
		"status", res.Status,
		"method", res.Method,
		"mismatches", len(res.Mismatches),
		"missing", len(res.Missing))
	return res
}

// outbound checks the first page's text layer. An unreadable file is not
// outbound.
func outbound(path string) bool {
	pages, err := pdfdoc.ReadLayout(path)
	if err != nil || len(pages) == 0 {
		return false
	}
	return IsOutboundRequest(pages[0].Text())
}
