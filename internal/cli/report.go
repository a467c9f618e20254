package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mezamarco14/resu-sistem/internal/app"
	appErrors "github.com/mezamarco14/resu-sistem/internal/errors"
	"github.com/mezamarco14/resu-sistem/internal/model"
)

var reportJSON bool

var reportCmd = &cobra.Command{
	Use:   "report <campaign-id>",
	Short: "Print a stored campaign report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		backends, err := app.Open(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer backends.Close()

		sources := backends.ReportSources()
		if len(sources) == 0 {
			return fmt.Errorf("configure database.url or redis.addr to read stored reports")
		}

		for _, src := range sources {
			campaign, report, err := src.Report(cmd.Context(), args[0])
			if appErrors.IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			return printReport(cmd.OutOrStdout(), campaign, report, reportJSON)
		}
		return appErrors.NewCampaignNotFound(args[0])
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print JSON instead of a table")
}

func printReport(w io.Writer, c *model.Campaign, report model.Report, asJSON bool) error {
	rows := make([]model.ReportRow, len(report))
	for i, st := range report {
		rows[i] = model.NewReportRow(st, "", "")
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"campaign": c, "counts": report.Counts(), "report": rows})
	}

	counts := report.Counts()
	fmt.Fprintf(w, "campaign %s (%s) from %s\n", c.ID, c.Phase, c.SenderEmail)
	fmt.Fprintf(w, "sent %d, failed %d, skipped %d, pending %d of %d\n\n",
		counts.Sent, counts.Failed, counts.Skipped, counts.Pending+counts.Retrying, c.Total)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tSTATUS\tOUTCOME\tATTEMPTS\tDATE\tTIME\tREASON")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n", r.Email, r.Status, r.Outcome, r.AttemptCount, r.Date, r.Time, r.Reason)
	}
	return tw.Flush()
}
