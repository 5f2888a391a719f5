package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/replay/internal/archive"
	"github.com/fakeyudi/replay/internal/report"
	"github.com/fakeyudi/replay/internal/tui"
)

var (
	plainOutput bool
	viewArchive string
)

var viewCmd = &cobra.Command{
	Use:   "view [replay-id | report-file]",
	Short: "View a stored replay or a report file; without arguments, list stored replays",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return listReplays(cmd, cmd.OutOrStdout())
		}

		rep, name, err := loadReport(cmd, args[0], viewArchive)
		if err != nil {
			return err
		}
		if plainOutput || !term.IsTerminal(os.Stdout.Fd()) {
			printReport(cmd.OutOrStdout(), rep)
			return nil
		}
		return tui.Run(rep, name)
	},
}

// loadReport reads arg as a report file when it exists, otherwise builds the
// report of the stored replay with that id.
func loadReport(cmd *cobra.Command, arg, archiveFlag string) (*report.Report, string, error) {
	if data, err := os.ReadFile(arg); err == nil {
		rep, err := report.ParserFor(arg).Parse(data)
		return rep, arg, err
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, "", err
	}

	dsn, err := archiveDSN(cmd, archiveFlag)
	if err != nil {
		return nil, "", err
	}
	arch, err := archive.Open(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("opening archive: %w", err)
	}
	defer arch.Close()

	segs, err := arch.Segments(cmdContext(cmd), arg)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return nil, "", fmt.Errorf("no report file or stored replay named %s", arg)
		}
		return nil, "", err
	}
	rep, err := report.Build(segs)
	return rep, "replay " + arg, err
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func listReplays(cmd *cobra.Command, w io.Writer) error {
	dsn, err := archiveDSN(cmd, viewArchive)
	if err != nil {
		return err
	}
	arch, err := archive.Open(dsn)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer arch.Close()

	replays, err := arch.Replays(cmdContext(cmd))
	if err != nil {
		return err
	}
	if len(replays) == 0 {
		fmt.Fprintln(w, "no stored replays")
		return nil
	}
	for _, r := range replays {
		fmt.Fprintf(w, "%s  %-7s  %3d segments  %6d events  %s  %s\n",
			r.ID, r.ReplayType, r.Segments, r.Events,
			time.UnixMilli(r.StartedAt).Format("2006-01-02 15:04:05"), r.Duration().Round(time.Second))
	}
	return nil
}

// printReport writes a plain-text summary.
func printReport(w io.Writer, rep *report.Report) {
	m := rep.Replay
	fmt.Fprintln(w, "## Summary")
	fmt.Fprintf(w, "  Replay:    %s (%s)\n", m.ID, m.ReplayType)
	fmt.Fprintf(w, "  Started:   %s\n", m.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "  Ended:     %s\n", m.EndedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "  Duration:  %s\n", m.Duration)
	fmt.Fprintf(w, "  Segments:  %d\n", m.Segments)
	fmt.Fprintf(w, "  Events:    %d\n", m.Events)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Segments")
	if len(rep.Segments) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, s := range rep.Segments {
		codec := s.Compression
		if codec == "" {
			codec = "none"
		}
		fmt.Fprintf(w, "  #%d  %s  %d events  %d bytes  %s\n",
			s.ID, s.Timestamp.Format("15:04:05"), s.Events, s.Bytes, codec)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Timeline")
	if len(rep.Timeline) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, e := range rep.Timeline {
		line := fmt.Sprintf("  [%s] #%d %s", e.Timestamp.Format("15:04:05.000"), e.Segment, e.Kind)
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	printList(w, "URLs", rep.URLs)
	printList(w, "Errors", rep.ErrorIDs)
	printList(w, "Traces", rep.TraceIDs)
}

func printList(w io.Writer, title string, items []string) {
	fmt.Fprintf(w, "## %s\n", title)
	if len(items) == 0 {
		fmt.Fprintln(w, "  (none)")
	} else {
		fmt.Fprintln(w, "  "+strings.Join(items, "\n  "))
	}
	fmt.Fprintln(w)
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	viewCmd.Flags().StringVar(&viewArchive, "archive", "", "archive DSN to read stored replays from")
	rootCmd.AddCommand(viewCmd)
}
