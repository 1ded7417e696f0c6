package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/ragkb/internal/mcp"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Serve exposes the ingest_documents, search_knowledge and get_stats tools
over the MCP stdio transport. With --metrics-addr it also serves Prometheus
metrics over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			srv := mcp.NewServer(a.indexer, a.retriever, a.vectors,
				mcp.Config{
					Version:   version,
					Ingest:    a.ingestOptions(),
					TopK:      a.cfg.TopK,
					Threshold: a.cfg.ScoreThreshold,
				},
				mcp.WithRunStore(a.db),
				mcp.WithTracker(a.tracker),
				mcp.WithLogger(a.log),
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				// stdin closing ends the session and everything else with it
				defer cancel()
				return srv.Serve(ctx)
			})

			if metricsAddr != "" {
				httpSrv := &http.Server{
					Addr:              metricsAddr,
					Handler:           metricsHandler(a.tracker),
					ReadHeaderTimeout: 10 * time.Second,
				}
				g.Go(func() error {
					a.log.Info("serving metrics", "addr", metricsAddr)
					if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
					defer done()
					return httpSrv.Shutdown(shutdownCtx)
				})
			}

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				a.log.Info("server stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

// metricsHandler serves the tracker's counters together with the Go
// runtime and process collectors.
func metricsHandler(tracker prometheus.Collector) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		tracker,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
