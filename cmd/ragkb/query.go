package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/ragkb/internal/retrieval"
	"github.com/dshills/ragkb/pkg/types"
)

func newQueryCommand() *cobra.Command {
	var (
		topK       int
		threshold  float64
		asJSON     bool
		asContext  bool
		unfiltered bool
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve the chunks most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if !cmd.Flags().Changed("top-k") {
				topK = a.cfg.TopK
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = a.cfg.ScoreThreshold
			}

			query := strings.Join(args, " ")
			var docs []types.RetrievedDoc
			if unfiltered {
				docs, err = a.retriever.RetrieveUnfiltered(cmd.Context(), query, topK)
			} else {
				docs, err = a.retriever.Retrieve(cmd.Context(), query, topK, threshold)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(docs)
			case asContext:
				fmt.Fprintln(out, retrieval.FormatContext(docs))
			case len(docs) == 0:
				fmt.Fprintln(out, "No results above the score threshold.")
			default:
				for i, d := range docs {
					fmt.Fprintf(out, "%d. %s (score %.3f)\n   %s\n", i+1, d.SourceFileName, d.Score, preview(d.Content, 160))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", retrieval.DefaultTopK, "Maximum number of results")
	cmd.Flags().Float64Var(&threshold, "threshold", retrieval.DefaultThreshold, "Minimum similarity score (0-1)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&asContext, "context", false, "Print results as a prompt context block")
	cmd.Flags().BoolVar(&unfiltered, "unfiltered", false, "Ignore the score threshold")
	return cmd
}

// preview flattens whitespace and truncates s to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
