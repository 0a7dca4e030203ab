package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/aliscrape/internal/pipeline"
	"github.com/FranksOps/aliscrape/internal/report"
	"github.com/FranksOps/aliscrape/internal/storage"
)

func newReportCommand(a *app) *cobra.Command {
	var (
		format   string
		crawlID  string
		outcome  string
		since    time.Duration
		limit    int
		detected bool
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the fetch attempt audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := pipeline.OpenAudit(cmd.Context(), a.cfg.Audit)
			if err != nil {
				return err
			}
			if backend == nil {
				return errors.New("report: no audit backend configured (set audit.driver and audit.dsn)")
			}
			defer backend.Close()

			filter := storage.Filter{CrawlID: crawlID, Outcome: outcome, Limit: limit}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			if cmd.Flags().Changed("detected") {
				filter.DetectedBot = &detected
			}

			records, err := backend.Query(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("report: query audit log: %w", err)
			}
			return report.Write(cmd.OutOrStdout(), format, report.GenerateSummary(records))
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text, json, html")
	cmd.Flags().StringVar(&crawlID, "crawl", "", "only attempts of this crawl id")
	cmd.Flags().StringVar(&outcome, "outcome", "", "only attempts with this outcome")
	cmd.Flags().DurationVar(&since, "since", 0, "only attempts newer than this, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of attempts to read")
	cmd.Flags().BoolVar(&detected, "detected", false, "only attempts with (or, if false, without) a bot challenge")
	return cmd
}
