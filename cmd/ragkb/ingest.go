package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/ragkb/internal/chunker"
	"github.com/dshills/ragkb/pkg/types"
)

func newIngestCommand() *cobra.Command {
	var (
		force     bool
		batchSize int
		basic     bool
		excludes  []string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <path>",
		Short: "Ingest a directory or document into the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			opts := a.ingestOptions()
			opts.ForceReindex = force
			if batchSize > 0 {
				opts.BatchSize = batchSize
			}
			if basic {
				opts.ChunkMode = chunker.ModeBasic
			}
			opts.Excludes = append(opts.Excludes, excludes...)

			report, runErr := a.indexer.IngestDirectory(cmd.Context(), args[0], opts)
			if report != nil {
				if err := printReport(cmd.OutOrStdout(), report, asJSON); err != nil {
					return err
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Re-embed documents that are already indexed")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Chunks per embedding request (default from RAGKB_BATCH_SIZE)")
	cmd.Flags().BoolVar(&basic, "basic", false, "Use sliding-window chunking instead of semantic splitting")
	cmd.Flags().StringSliceVar(&excludes, "exclude", nil, "Glob patterns to skip (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printReport(w io.Writer, r *types.IngestionReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "Run %s\n", r.RunID)
	fmt.Fprintf(w, "  Files:  %d total, %d processed, %d skipped, %d failed\n",
		r.TotalFiles, r.ProcessedFiles, r.SkippedFiles, r.FailedFiles)
	fmt.Fprintf(w, "  Chunks: %d total, %d new, %d duplicate\n",
		r.TotalChunks, r.NewChunks, r.DuplicateChunks)
	fmt.Fprintf(w, "  Duration: %s\n", r.Duration)
	if r.Cancelled {
		fmt.Fprintln(w, "  Cancelled before completion")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  ! %s: %s\n", e.FileName, e.Reason)
	}
	return nil
}
