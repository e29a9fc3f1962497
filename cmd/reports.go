package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/renovation-report/internal/model"
	"github.com/sells-group/renovation-report/internal/store"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Inspect stored reports",
	Long:  "Commands for listing, viewing, and summarizing renovation reports.",
}

// -- reports list --

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		reports, err := st.ListReports(ctx, store.ReportFilter{
			Status: model.ReportStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "reports list")
		}

		if len(reports) == 0 {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}

		formatReportsList(os.Stdout, reports)
		return nil
	},
}

// -- reports show --

var reportsShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show a full report as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rep, err := st.GetReport(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reports show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	},
}

// -- reports stats --

var reportsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate report statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		reports, err := st.ListReports(ctx, store.ReportFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "reports stats")
		}

		var cutoff time.Time
		if since > 0 {
			cutoff = time.Now().Add(-since)
		}
		formatReportStats(os.Stdout, computeReportStats(reports, cutoff))
		return nil
	},
}

// -- migrate --

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the report store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := requireStore(cmd.Context(), "store")
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Store %s is up to date.\n", cfg.Store.Driver)
		return st.Close()
	},
}

func init() {
	reportsListCmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	reportsListCmd.Flags().Int("limit", 50, "max number of reports to display")
	reportsListCmd.Flags().Int("offset", 0, "number of reports to skip")

	reportsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h; 0 for all)")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsStatsCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(migrateCmd)
}

// reportStats holds aggregate statistics computed from a set of reports.
type reportStats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	BySource   map[string]int
	AvgDurSecs float64
}

// computeReportStats aggregates reports created at or after cutoff. A zero
// cutoff includes everything.
func computeReportStats(reports []model.Report, cutoff time.Time) reportStats {
	s := reportStats{BySource: make(map[string]int)}

	var totalDur time.Duration
	var durCount int

	for _, r := range reports {
		if !cutoff.IsZero() && r.CreatedAt.Before(cutoff) {
			continue
		}
		s.Total++
		switch r.Status {
		case model.StatusPending:
			s.Pending++
		case model.StatusProcessing:
			s.Processing++
		case model.StatusCompleted:
			s.Completed++
			if r.DataSourceTag != "" {
				s.BySource[r.DataSourceTag]++
			}
			if r.CompletedAt != nil {
				totalDur += r.CompletedAt.Sub(r.CreatedAt)
				durCount++
			}
		case model.StatusFailed:
			s.Failed++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatReportsList writes a tabular list of reports to w.
func formatReportsList(out io.Writer, reports []model.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tINPUT\tSTATUS\tSOURCE\tCREATED\tPROGRESS")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t------\t-------\t--------")

	for _, r := range reports {
		input := r.Input().Text()
		if len(input) > 40 {
			input = input[:37] + "..."
		}

		detail := r.Progress
		if r.Status == model.StatusFailed {
			detail = r.FailureReason
		}
		if len(detail) > 40 {
			detail = detail[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			input,
			r.Status,
			r.DataSourceTag,
			r.CreatedAt.Format("2006-01-02 15:04"),
			detail,
		)
	}
	_ = w.Flush()
}

// formatReportStats writes aggregate stats to w.
func formatReportStats(out io.Writer, s reportStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total reports:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", s.Pending)
	_, _ = fmt.Fprintf(w, "Processing:\t%d\n", s.Processing)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)

	sources := make([]string, 0, len(s.BySource))
	for src := range s.BySource {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	for _, src := range sources {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", src, s.BySource[src])
	}

	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
