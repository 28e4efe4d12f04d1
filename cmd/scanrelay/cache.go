package main

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	cacheRebuildFrom string
	cacheShowAll     bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and update the PO cache",
	Long: `The PO cache maps purchase-order numbers to Qualer service orders.
It is a gzip JSON file that several instances may share; every write
re-reads and merges the file.`,
}

var cacheLookupCmd = &cobra.Command{
	Use:   "lookup <po>",
	Short: "Show the service orders for a PO number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.cache.Lookup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return out.Print(map[string]any{
			"po":                args[0],
			"service_order_ids": e.ServiceOrderIDs,
			"work_orders":       e.WorkOrders,
		})
	},
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Merge service orders modified since the last update",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.cache.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		return out.Print(map[string]any{"path": a.cache.Path(), "orders_pulled": n})
	},
}

var cacheRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Pull every service order created since --from",
	Long: `Rebuild walks service orders from --from to now in 91-day windows and
merges them into the cache. Existing entries are kept.

Example:
  scanrelay cache rebuild --from 2023-01-01`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := time.Parse(time.DateOnly, cacheRebuildFrom)
		if err != nil {
			return err
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.cache.Rebuild(cmd.Context(), from)
		if err != nil {
			return err
		}
		return out.Print(map[string]any{"path": a.cache.Path(), "orders_pulled": n})
	},
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Summarize the cache file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.cache.Load()
		if err != nil {
			return err
		}
		orders := 0
		for _, e := range snap.Entries {
			orders += len(e.ServiceOrderIDs)
		}
		summary := map[string]any{
			"path":           a.cache.Path(),
			"version":        snap.Version,
			"updated_at":     snap.UpdatedAt,
			"po_numbers":     len(snap.Entries),
			"service_orders": orders,
		}
		if cacheShowAll {
			summary["entries"] = snap.Entries
		}
		return out.Print(summary)
	},
}

func init() {
	cacheRebuildCmd.Flags().StringVar(&cacheRebuildFrom, "from", time.Now().AddDate(-1, 0, 0).Format(time.DateOnly), "first creation date to pull (YYYY-MM-DD)")
	cacheShowCmd.Flags().BoolVar(&cacheShowAll, "all", false, "include every entry")

	cacheCmd.AddCommand(cacheLookupCmd, cacheRefreshCmd, cacheRebuildCmd, cacheShowCmd)
	rootCmd.AddCommand(cacheCmd)
}
