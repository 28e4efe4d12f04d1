package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/scanrelay/internal/api"
	"github.com/jackzampolin/scanrelay/internal/pipeline"
)

var (
	processFolder string
	processDryRun bool
)

var processCmd = &cobra.Command{
	Use:   "process <file>",
	Short: "Claim and process one file",
	Long: `Process a single PDF through the same steps as watch: claim it into
staging, split it by work order, upload every segment and archive or
reject the original.

The file must sit in the input directory of the chosen folder.

Examples:
  scanrelay process /mnt/share/scans/scan_0042.pdf
  scanrelay process --folder po /mnt/share/po/PO_4500123.pdf --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if cmd.Flags().Changed("dry-run") {
			a.cfg().DryRun = processDryRun
		}
		folder, err := a.folder(processFolder)
		if err != nil {
			return err
		}

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		inputDir, err := filepath.Abs(folder.InputDir)
		if err != nil {
			return err
		}
		if filepath.Dir(path) != inputDir {
			return fmt.Errorf("%s is not in folder %s input dir %s", path, folder.Name, folder.InputDir)
		}

		p, err := a.pipeline(ctx, folder, nil)
		if err != nil {
			return err
		}
		o := p.Process(ctx, path, info.ModTime(), nil)

		if out.Format == api.FormatText {
			printOutcome(o)
		} else if err := out.Print(o); err != nil {
			return err
		}
		if o.State == pipeline.StateRejected {
			return fmt.Errorf("%s rejected: %s", o.File, o.Reason)
		}
		return nil
	},
}

func printOutcome(o *pipeline.Outcome) {
	fmt.Printf("%s: %s", o.File, o.State)
	if o.Reason != "" {
		fmt.Printf(" (%s)", o.Reason)
	}
	fmt.Printf(" in %s\n", o.Duration.Round(time.Millisecond))
	for _, s := range o.Segments {
		label := s.WorkOrder
		if label == "" {
			label = "PO " + s.PONumber
		}
		fmt.Printf("  pages %d-%d  %-16s %d upload(s)", s.Start+1, s.End+1, label, len(s.Uploads))
		if s.Error != "" {
			fmt.Printf("  error: %s", s.Error)
		}
		fmt.Println()
	}
	if o.FinalPath != "" {
		fmt.Printf("  -> %s\n", o.FinalPath)
	}
}

func init() {
	processCmd.Flags().StringVar(&processFolder, "folder", "", "folder the file belongs to (default: the only configured folder)")
	processCmd.Flags().BoolVar(&processDryRun, "dry-run", false, "process the file but never upload")

	rootCmd.AddCommand(processCmd)
}
