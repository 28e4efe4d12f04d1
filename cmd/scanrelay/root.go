package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanrelay/internal/api"
	"github.com/jackzampolin/scanrelay/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string

	out = api.Printer{W: os.Stdout, Format: api.FormatYAML}
)

var rootCmd = &cobra.Command{
	Use:   "scanrelay",
	Short: "Route scanned PDFs from shared folders into Qualer",
	Long: `scanrelay watches shared scan folders, splits each PDF by work order,
uploads the pieces to the matching Qualer service orders and checks
purchase orders against the order's work items.

Files move through a per-instance staging directory, so several
instances can watch the same share without processing a file twice.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		f, err := api.ParseFormat(outputFormat)
		if err != nil {
			return err
		}
		out.Format = f
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.scanrelay/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "scanrelay home directory (default: ~/.scanrelay)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or text",
	)

	rootCmd.AddCommand(versionCmd)
}
