package pipeline

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackzampolin/scanrelay/internal/povalidate"
	"github.com/jackzampolin/scanrelay/internal/qualer"
)

// Checker validates purchase-order bytes and produces the annotated copy.
type Checker struct {
	validator *povalidate.Validator
	tempDir   string
	logger    *slog.Logger
}

// NewChecker creates a Checker. An empty tempDir uses the OS default.
func NewChecker(v *povalidate.Validator, tempDir string, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if v == nil {
		v = povalidate.NewValidator(nil, logger)
	}
	return &Checker{validator: v, tempDir: tempDir, logger: logger}
}

// ValidatePurchaseOrder validates pdfBytes against workItems and returns the
// annotated copy with the result. Annotated is nil for skipped documents or
// when annotation fails; the result is always returned.
func (c *Checker) ValidatePurchaseOrder(ctx context.Context, name string, pdfBytes []byte, orderID int64, workItems []povalidate.WorkItem) ([]byte, *povalidate.Result) {
	path, cleanup, err := c.tempFile(pdfBytes)
	if err != nil {
		c.logger.Error("failed to stage purchase order for validation", "document", name, "error", err)
		res := &povalidate.Result{DocumentName: name, OrderID: orderID, WorkItemsTotal: len(workItems), Method: povalidate.MethodNone}
		res.Status = povalidate.ResolveStatus(povalidate.StatusInput{ExtractionFailed: true})
		res.Notes = append(res.Notes, "Could not stage document for extraction")
		return nil, res
	}
	defer cleanup()

	res := c.validator.Validate(ctx, path, name, orderID, workItems)
	if res.Status == povalidate.StatusSkipped {
		return nil, res
	}

	annotated, outcome, err := povalidate.Annotate(pdfBytes, res)
	if err != nil {
		c.logger.Warn("annotation failed", "document", name, "error", err)
		return nil, res
	}
	c.logger.Debug("purchase order annotated", "document", name, "outcome", outcome)
	return annotated, res
}

func (c *Checker) tempFile(data []byte) (string, func(), error) {
	f, err := os.CreateTemp(c.tempDir, "po-*.pdf")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return f.Name(), cleanup, nil
}

// WorkItems converts record-system work items for validation.
func WorkItems(items []qualer.WorkItem) []povalidate.WorkItem {
	out := make([]povalidate.WorkItem, 0, len(items))
	for _, it := range items {
		price, ok := it.ExpectedPrice()
		out = append(out, povalidate.WorkItem{
			ID:            it.WorkItemID,
			SerialNumber:  it.SerialNumber,
			AssetName:     it.Asset(),
			ExpectedPrice: price,
			Unpriced:      !ok,
		})
	}
	return out
}
