package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/replay/internal/report"
)

var (
	exportFormat  string
	exportOutput  string
	exportArchive string
)

var exportCmd = &cobra.Command{
	Use:   "export <replay-id>",
	Short: "Write the report of a stored replay to a markdown or JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		format := exportFormat
		if format == "" {
			format = cfg.DefaultFormat
		}
		renderer, err := report.RendererFor(format)
		if err != nil {
			return err
		}

		rep, _, err := loadReport(cmd, args[0], exportArchive)
		if err != nil {
			return err
		}
		data, err := renderer.Render(rep)
		if err != nil {
			return fmt.Errorf("render report: %w", err)
		}

		path := exportOutput
		if path == "" {
			ext := ".md"
			if strings.EqualFold(format, "json") {
				ext = ".json"
			}
			outputDir := cfg.OutputDir
			if outputDir == "" {
				outputDir = "."
			}
			path = filepath.Join(outputDir, "replay-"+rep.Replay.ID+ext)
		}
		if path == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
		cmd.Printf("Report written: %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "output format: markdown or json (overrides config)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", `output path, "-" for stdout`)
	exportCmd.Flags().StringVar(&exportArchive, "archive", "", "archive DSN to read stored replays from")
	rootCmd.AddCommand(exportCmd)
}
