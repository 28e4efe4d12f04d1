package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanrelay/internal/api"
	"github.com/jackzampolin/scanrelay/internal/journal"
	"github.com/jackzampolin/scanrelay/internal/povalidate"
	"github.com/jackzampolin/scanrelay/internal/report"
	"github.com/jackzampolin/scanrelay/internal/server"
)

var (
	reportSince  string
	reportStatus string
	reportOut    string
	reportLimit  int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export journaled PO validations to XLSX",
	Long: `Write the validations recorded by watch, process and validate to an
XLSX workbook with a Results sheet and an Issues sheet.

--since takes a duration (24h), a date (2026-03-01) or an RFC 3339 time.

Examples:
  scanrelay report --since 168h
  scanrelay report --since 2026-03-01 --status fail --out fails.xlsx`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		now := time.Now()
		f := journal.ValidationFilter{Status: povalidate.Status(reportStatus), Limit: reportLimit}
		if reportSince != "" {
			if f.Since, err = server.ParseSince(reportSince, now); err != nil {
				return err
			}
		}

		j, err := a.openJournal()
		if err != nil {
			return err
		}
		vs, err := j.Validations(cmd.Context(), f)
		if err != nil {
			return err
		}
		results := make([]povalidate.Result, len(vs))
		for i, v := range vs {
			results[i] = v.Result
		}

		path := reportOut
		if path == "" {
			if err := os.MkdirAll(a.home.ReportsDir(), 0o755); err != nil {
				return err
			}
			path = filepath.Join(a.home.ReportsDir(), fmt.Sprintf("po_validation_%s.xlsx", now.Format("20060102_150405")))
		}
		if err := report.WriteXLSX(path, results); err != nil {
			return err
		}

		if out.Format == api.FormatText {
			report.PrintSummary(os.Stdout, results)
			fmt.Printf("Report: %s\n", path)
			return nil
		}
		return out.Print(map[string]any{"path": path, "validations": len(results)})
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportSince, "since", "168h", "earliest validation to include")
	reportCmd.Flags().StringVar(&reportStatus, "status", "", "only include this status (pass, fail, no_pricing, extraction_failed, skipped)")
	reportCmd.Flags().StringVar(&reportOut, "out", "", "output file (default: {home}/reports/po_validation_<time>.xlsx)")
	reportCmd.Flags().IntVar(&reportLimit, "limit", 10000, "maximum validations to include")

	rootCmd.AddCommand(reportCmd)
}
