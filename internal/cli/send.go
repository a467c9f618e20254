package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mezamarco14/resu-sistem/internal/app"
	"github.com/mezamarco14/resu-sistem/internal/model"
	"github.com/mezamarco14/resu-sistem/internal/repository"
	"github.com/mezamarco14/resu-sistem/internal/service"
)

var (
	sendWorkers int
	sendOut     string
	sendDryRun  bool
)

var sendCmd = &cobra.Command{
	Use:   "send <campaign.yaml>",
	Short: "Send a campaign and wait for it to finish",
	Long: `Send reads a campaign file, sends it with the configured transport and
prints a summary. Interrupting the command aborts the campaign: in-flight
messages finish, nothing new is sent.

With --dry-run only the first recipient's message is rendered.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if sendWorkers > 0 {
			cfg.Dispatch.Workers = sendWorkers
		}

		cf, err := LoadCampaignFile(args[0])
		if err != nil {
			return err
		}
		campaign, rows, err := cf.Build()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d recipients (%d rows skipped, %d duplicates)\n",
			len(rows.Recipients), rows.Skipped, rows.Duplicates)

		opts := app.ServiceOptions(cfg)

		if sendDryRun {
			if len(rows.Recipients) == 0 {
				return fmt.Errorf("no recipients to preview")
			}
			svc := service.NewCampaignService(nil, repository.NewRecipientStore(), nil, opts, log)
			subject, html, err := svc.Preview(campaign, rows.Recipients[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "To: %s\nSubject: %s\n\n%s\n", rows.Recipients[0].Email, subject, html)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		backends, err := app.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer backends.Close()

		journal, err := app.NewJournal(cfg, backends, log)
		if err != nil {
			return err
		}
		defer journal.Close()

		svc := service.NewCampaignService(app.NewTransport(cfg, log), repository.NewRecipientStore(), journal.AsQueue(), opts, log)
		id, err := svc.Start(ctx, campaign, rows.Recipients)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "campaign %s started\n", id)

		go func() {
			<-ctx.Done()
			svc.Abort("interrupted")
		}()
		if err := svc.Wait(cmd.Context()); err != nil {
			return err
		}

		status := svc.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sent, %d failed, %d skipped, %d pending\n",
			status.Phase, status.Counts.Sent, status.Counts.Failed, status.Counts.Skipped, status.Counts.Pending)
		if status.AbortReason != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "reason: %s\n", status.AbortReason)
		}

		if sendOut != "" {
			report, _ := svc.ReportRows()
			if err := writeReportFile(sendOut, report); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", sendOut)
		}
		if status.Phase == model.PhaseAborted {
			return fmt.Errorf("campaign aborted")
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().IntVarP(&sendWorkers, "workers", "w", 0, "override dispatch.workers")
	sendCmd.Flags().StringVarP(&sendOut, "out", "o", "", "write the report to a .csv or .json file")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "render the first message without sending")
}

func writeReportFile(path string, rows []model.ReportRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(rows)
	} else {
		err = writeReportCSV(f, rows)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

var reportHeader = []string{"email", "name", "status", "outcome", "reason", "date", "time", "attemptCount", "durationSeconds", "attachment1", "attachment2"}

func writeReportCSV(w io.Writer, rows []model.ReportRow) error {
	cw := csv.NewWriter(w)
	cw.Write(reportHeader)
	for _, r := range rows {
		cw.Write([]string{
			r.Email, r.Name, r.Status, r.Outcome, r.Reason, r.Date, r.Time,
			strconv.Itoa(r.AttemptCount),
			strconv.FormatFloat(r.DurationSeconds, 'f', 2, 64),
			r.Attachment1, r.Attachment2,
		})
	}
	cw.Flush()
	return cw.Error()
}
