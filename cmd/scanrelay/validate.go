package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanrelay/internal/api"
	"github.com/jackzampolin/scanrelay/internal/journal"
	"github.com/jackzampolin/scanrelay/internal/pipeline"
	"github.com/jackzampolin/scanrelay/internal/pocache"
	"github.com/jackzampolin/scanrelay/internal/povalidate"
	"github.com/jackzampolin/scanrelay/internal/report"
)

var (
	validateOrder  int64
	validatePO     string
	validateOutDir string
	validateXLSX   string
)

var validateCmd = &cobra.Command{
	Use:   "validate <pdf>...",
	Short: "Check purchase orders against their service order's work items",
	Long: `Validate one or more purchase-order PDFs without uploading them.

Each document is compared with the work items of its service order. The
order comes from --order, or from the PO number (--po, the file name or
the document text) looked up in the PO cache. An annotated copy is
written next to the input, or into --out.

Examples:
  scanrelay validate PO_4500123.pdf
  scanrelay validate scan.pdf --order 123456 --out ./checked
  scanrelay validate *.pdf --xlsx results.xlsx -o text`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.validator(ctx)
		if err != nil {
			return err
		}
		checker := pipeline.NewChecker(v, "", a.logger)
		j, err := a.openJournal()
		if err != nil {
			return err
		}

		var results []povalidate.Result
		for _, path := range args {
			rs, err := validateFile(ctx, a, checker, j, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results = append(results, rs...)
		}

		if validateXLSX != "" {
			if err := report.WriteXLSX(validateXLSX, results); err != nil {
				return err
			}
			a.logger.Info("wrote report", "path", validateXLSX, "results", len(results))
		}

		if out.Format == api.FormatText {
			for i := range results {
				report.Print(os.Stdout, &results[i])
			}
			if len(results) > 1 {
				report.PrintSummary(os.Stdout, results)
			}
		} else if err := out.Print(results); err != nil {
			return err
		}

		for _, r := range results {
			if r.Status == povalidate.StatusFail {
				return errors.New("one or more purchase orders failed validation")
			}
		}
		return nil
	},
}

// validateFile validates path against every service order it resolves to.
func validateFile(ctx context.Context, a *app, checker *pipeline.Checker, j *journal.Journal, path string) ([]povalidate.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(path)

	orders, po, err := resolveOrders(ctx, a, path)
	if err != nil {
		return nil, err
	}

	var results []povalidate.Result
	for _, orderID := range orders {
		items, err := a.qualer.FetchWorkItems(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("fetch work items for order %d: %w", orderID, err)
		}
		annotated, res := checker.ValidatePurchaseOrder(ctx, name, data, orderID, pipeline.WorkItems(items))
		if res.PONumber == "" {
			res.PONumber = po
		}

		outcome := povalidate.OutcomeOf(res)
		if annotated != nil {
			dir := validateOutDir
			if dir == "" {
				dir = filepath.Dir(path)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
			dest := filepath.Join(dir, povalidate.AnnotatedName(name, outcome))
			if err := os.WriteFile(dest, annotated, 0o644); err != nil {
				return nil, fmt.Errorf("write annotated copy: %w", err)
			}
			a.logger.Info("wrote annotated copy", "path", dest, "outcome", outcome)
		}

		if err := j.RecordValidation(ctx, &journal.Validation{Outcome: string(outcome), Result: *res}); err != nil {
			a.logger.Warn("failed to journal validation", "document", name, "error", err)
		}
		results = append(results, *res)
	}
	return results, nil
}

// resolveOrders returns the service orders to validate against and the PO
// number used to find them.
func resolveOrders(ctx context.Context, a *app, path string) ([]int64, string, error) {
	if validateOrder > 0 {
		return []int64{validateOrder}, validatePO, nil
	}

	po := validatePO
	if po == "" {
		po, _ = pocache.ParsePONumber(path)
	}
	if po == "" {
		// Fall back to the document's own PO field.
		text, err := documentText(ctx, a, path)
		if err != nil {
			return nil, "", err
		}
		po = povalidate.FindPONumber(text)
	}
	if po == "" {
		return nil, "", errors.New("no PO number found; pass --po or --order")
	}

	e, err := a.cache.Lookup(ctx, po)
	if err != nil {
		return nil, po, err
	}
	return e.ServiceOrderIDs, po, nil
}

func documentText(ctx context.Context, a *app, path string) (string, error) {
	ext, err := a.extractor(ctx)
	if err != nil {
		return "", err
	}
	work, err := os.MkdirTemp("", "scanrelay-validate-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(work)
	doc, err := ext.Extract(ctx, path, work)
	if err != nil {
		return "", err
	}
	return doc.Text(0, doc.PageCount-1), nil
}

func init() {
	validateCmd.Flags().Int64Var(&validateOrder, "order", 0, "service order id to validate against")
	validateCmd.Flags().StringVar(&validatePO, "po", "", "PO number to look up (default: from the file name or document text)")
	validateCmd.Flags().StringVar(&validateOutDir, "out", "", "directory for annotated copies (default: next to the input)")
	validateCmd.Flags().StringVar(&validateXLSX, "xlsx", "", "also write the results to this XLSX file")

	rootCmd.AddCommand(validateCmd)
}
