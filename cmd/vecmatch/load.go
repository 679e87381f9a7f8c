package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/helixml/vecmatch/application/service"
	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/internal/config"
	"github.com/spf13/cobra"
)

// ingestFlags override the ingestion config for one invocation.
type ingestFlags struct {
	files     []string
	chunkSize int
	skipRows  int
}

func (f *ingestFlags) register(cmd *cobra.Command, withFiles bool) {
	if withFiles {
		cmd.Flags().StringSliceVar(&f.files, "files", nil, "Files or globs to load (default: SOURCES_FILES or TARGETS_FILES)")
	}
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", 0, "Rows per ingestion batch (default: CHUNK_SIZE)")
	cmd.Flags().IntVar(&f.skipRows, "skip-rows", -1, "Records to skip before the header (default: SKIP_ROWS)")
}

func (f *ingestFlags) apply(kinds []dataset.Kind) config.AppConfigOption {
	return func(c *config.AppConfig) {
		ingest := c.Ingest().WithChunkSize(f.chunkSize).WithSkipRows(f.skipRows)
		if len(f.files) > 0 {
			for _, kind := range kinds {
				if kind == dataset.KindTargets {
					ingest = ingest.WithTargetsFiles(f.files...)
				} else {
					ingest = ingest.WithSourcesFiles(f.files...)
				}
			}
		}
		config.WithIngestConfig(ingest)(c)
	}
}

func loadCmd(flags *globalFlags) *cobra.Command {
	var ingest ingestFlags

	cmd := &cobra.Command{
		Use:       "load [sources|targets]",
		Short:     "Load and embed a dataset (both when none is given)",
		ValidArgs: []string{"sources", "targets"},
		Args:      cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := dataset.Kinds()
			if len(args) == 1 {
				kind, err := dataset.ParseKind(args[0])
				if err != nil {
					return err
				}
				kinds = []dataset.Kind{kind}
			}
			if len(ingest.files) > 0 && len(kinds) > 1 {
				return errors.New("--files needs a dataset, e.g. vecmatch load sources --files a.csv")
			}
			return runLoad(cmd, flags, &ingest, kinds)
		},
	}
	ingest.register(cmd, true)

	return cmd
}

func runLoad(cmd *cobra.Command, flags *globalFlags, ingest *ingestFlags, kinds []dataset.Kind) error {
	s, err := openSession(cmd.Context(), flags, ingest.apply(kinds))
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.client.Init(s.ctx); err != nil {
		return err
	}
	for _, kind := range kinds {
		report, err := s.client.Load(s.ctx, kind)
		printIngestReport(cmd.OutOrStdout(), report)
		if s.interrupted(err) {
			return fmt.Errorf("interrupted while loading %s", kind)
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", kind, err)
		}
	}
	return nil
}

func printIngestReport(w io.Writer, r service.Report) {
	for _, f := range r.Files {
		switch {
		case f.Skipped:
			_, _ = fmt.Fprintf(w, "%s %s: not found, skipped\n", r.Kind.Label(), f.File)
		case f.Err != nil:
			_, _ = fmt.Fprintf(w, "%s %s: %d inserted, %d quarantined, failed: %v\n",
				r.Kind.Label(), f.File, f.Inserted, f.Quarantined, f.Err)
		default:
			_, _ = fmt.Fprintf(w, "%s %s: %d rows, %d invalid, %d inserted, %d quarantined (%d of %d batches failed)\n",
				r.Kind.Label(), f.File, f.Rows, f.Invalid, f.Inserted, f.Quarantined, f.FailedBatches, f.Batches)
		}
	}
	_, _ = fmt.Fprintf(w, "%s total: %d inserted, %d quarantined, %d embedded\n",
		r.Kind.Label(), r.Inserted(), r.Quarantined(), r.Embedded())
}
