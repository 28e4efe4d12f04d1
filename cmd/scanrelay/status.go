package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanrelay/internal/api"
	"github.com/jackzampolin/scanrelay/internal/server"
)

var (
	statusServer string
	statusEvents int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running watch through its status server",
	Long: `Ask a running "scanrelay watch --serve" for its health, latest
connectivity probe and recent events.

Examples:
  scanrelay status
  scanrelay status --server http://scanbox:8080 --events 50 -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		base := statusServer
		if base == "" {
			a, err := loadApp()
			if err != nil {
				return err
			}
			cfg := a.cfg()
			base = "http://" + net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
			a.Close()
		}
		client := api.NewClient(base)

		var health server.HealthResponse
		if err := client.Get(ctx, "/health", &health); err != nil {
			return fmt.Errorf("status server at %s: %w", base, err)
		}
		var evs server.EventsResponse
		path := "/api/events?limit=" + strconv.Itoa(max(statusEvents, 1))
		if err := client.Get(ctx, path, &evs); err != nil {
			return err
		}

		if out.Format != api.FormatText {
			return out.Print(map[string]any{"health": health, "events": evs.Events})
		}
		fmt.Printf("Status:       %s (up %s)\n", health.Status, health.Uptime)
		if health.Connectivity != "" {
			fmt.Printf("Connectivity: %s\n", health.Connectivity)
		}
		fmt.Printf("Events:       %d seen\n", health.EventsSeen)
		for _, e := range evs.Events {
			fmt.Printf("  %s  %-22s %-10s %s\n", e.Time.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Folder, e.Message)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "", "status server URL (default: from server.host and server.port)")
	statusCmd.Flags().IntVar(&statusEvents, "events", 20, "recent events to show")

	rootCmd.AddCommand(statusCmd)
}
