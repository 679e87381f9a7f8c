package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/helixml/vecmatch/application/service"
	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/internal/config"
	"github.com/spf13/cobra"
)

func batchSizeOverride(n int) config.AppConfigOption {
	return func(c *config.AppConfig) {
		config.WithMatchConfig(c.Match().WithBatchSize(n))(c)
	}
}

func initCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.Init(s.ctx); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "database initialized")
			return nil
		},
	}
}

func matchCmd(flags *globalFlags) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Link every unmatched target to its nearest source",
		Long: `Link every unmatched target to its nearest source in the same namespace.

Matching only touches unmatched targets, so an interrupted run resumes where it
stopped when started again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), flags, batchSizeOverride(batchSize))
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.Init(s.ctx); err != nil {
				return err
			}
			report, err := s.client.Match(s.ctx)
			printMatchReport(cmd.OutOrStdout(), report)
			if s.interrupted(err) {
				return errors.New("interrupted while matching; run match again to resume")
			}
			return err
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Targets per matching round (default: MATCH_BATCH_SIZE)")

	return cmd
}

func runCmd(flags *globalFlags) *cobra.Command {
	var (
		ingest    ingestFlags
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Initialize, load sources and targets, then match",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openSession(cmd.Context(), flags, ingest.apply(nil), batchSizeOverride(batchSize))
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.cfg.ValidateIngest(); err != nil {
				return err
			}
			report, err := s.client.Run(s.ctx)
			out := cmd.OutOrStdout()
			for _, r := range []service.Report{report.Sources, report.Targets} {
				if len(r.Files) > 0 {
					printIngestReport(out, r)
				}
			}
			if report.Match.Rounds > 0 || report.Match.Total > 0 {
				printMatchReport(out, report.Match)
			}
			if s.interrupted(err) {
				return errors.New("interrupted; run again to resume")
			}
			return err
		},
	}
	ingest.register(cmd, false)
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Targets per matching round (default: MATCH_BATCH_SIZE)")

	return cmd
}

func printMatchReport(w io.Writer, r service.MatchReport) {
	_, _ = fmt.Fprintf(w, "MATCH: %d of %d targets matched in %d rounds (%s, %.0f rows/s)\n",
		r.Processed, r.Total, r.Rounds, r.Elapsed.Round(time.Millisecond), r.RowsPerSecond())
	if r.Remaining > 0 {
		_, _ = fmt.Fprintf(w, "MATCH: %d targets unmatched, %d in namespaces without sources\n", r.Remaining, r.Orphans)
	}
}

func printStats(w io.Writer, s dataset.Stats) {
	_, _ = fmt.Fprintf(w, "sources:   %d\n", s.Sources())
	_, _ = fmt.Fprintf(w, "targets:   %d\n", s.Targets())
	_, _ = fmt.Fprintf(w, "matched:   %d\n", s.Matched())
	_, _ = fmt.Fprintf(w, "unmatched: %d (%d without sources in their namespace)\n", s.Unmatched(), s.Orphans())
}
