package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/ragkb/internal/storage"
)

type statsOutput struct {
	Store   *storage.StoreStats `json:"store"`
	LastRun *runOutput          `json:"last_run,omitempty"`
}

type runOutput struct {
	RunID          string `json:"run_id"`
	Directory      string `json:"directory"`
	StartedAt      string `json:"started_at"`
	DurationMs     int64  `json:"duration_ms"`
	ProcessedFiles int    `json:"processed_files"`
	SkippedFiles   int    `json:"skipped_files"`
	FailedFiles    int    `json:"failed_files"`
	NewChunks      int    `json:"new_chunks"`
	Cancelled      bool   `json:"cancelled"`
}

func newStatsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge base contents and the last ingestion run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx := cmd.Context()
			if err := a.vectors.Ping(ctx); err != nil {
				return err
			}
			st, err := a.vectors.Stats(ctx)
			if err != nil {
				return err
			}
			res := statsOutput{Store: st}

			run, err := a.db.LastRun(ctx)
			switch {
			case err == nil:
				res.LastRun = &runOutput{
					RunID:          run.RunID,
					Directory:      run.Directory,
					StartedAt:      run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
					DurationMs:     run.Duration.Milliseconds(),
					ProcessedFiles: run.ProcessedFiles,
					SkippedFiles:   run.SkippedFiles,
					FailedFiles:    run.FailedFiles,
					NewChunks:      run.NewChunks,
					Cancelled:      run.Cancelled,
				}
			case !errors.Is(err, storage.ErrNotFound):
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			fmt.Fprintf(out, "Backend:   %s", st.Backend)
			if st.BuildMode != "" {
				fmt.Fprintf(out, " (%s)", st.BuildMode)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Documents: %d\n", st.Documents)
			fmt.Fprintf(out, "Chunks:    %d\n", st.Chunks)
			fmt.Fprintf(out, "Dimension: %d\n", st.Dimension)
			if r := res.LastRun; r != nil {
				fmt.Fprintf(out, "Last run:  %s on %s at %s\n", r.RunID, r.Directory, r.StartedAt)
				fmt.Fprintf(out, "           %d processed, %d skipped, %d failed, %d new chunks\n",
					r.ProcessedFiles, r.SkippedFiles, r.FailedFiles, r.NewChunks)
			} else {
				fmt.Fprintln(out, "Last run:  never")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}
