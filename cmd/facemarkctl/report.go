package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"facemark/internal/attendance"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export attendance for a date range",
	Long: `Export attendance for a date range as CSV, or print a per-person summary.

Examples:
  facemarkctl report --from 2026-10-01 --to 2026-10-31 --out october.csv
  facemarkctl report --from 2026-10-01 --summary`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().String("from", "", "First day (YYYY-MM-DD), defaults to today")
	reportCmd.Flags().String("to", "", "Last day (YYYY-MM-DD), defaults to --from")
	reportCmd.Flags().String("out", "", "CSV output file, defaults to stdout")
	reportCmd.Flags().Bool("summary", false, "Print present counts per person instead of CSV")
}

func runReport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	from := mustGetString(cmd, "from")
	if from == "" {
		from = attendance.Day(time.Now(), loc)
	}
	to := mustGetString(cmd, "to")
	if to == "" {
		to = from
	}
	reports := attendance.NewReports(a.repo, loc)

	if mustGetBool(cmd, "summary") {
		entries, err := reports.Range(ctx, from, to)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tEXTERNAL ID\tPRESENT\tDATES")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.Name, e.ExternalID, e.PresentCount, strings.Join(e.Dates, " "))
		}
		return tw.Flush()
	}

	var w io.Writer = cmd.OutOrStdout()
	if path := mustGetString(cmd, "out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return reports.ExportCSV(ctx, w, from, to)
}
