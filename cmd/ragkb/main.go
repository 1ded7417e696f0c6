package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/ragkb/internal/config"
	"github.com/dshills/ragkb/internal/logger"
	"github.com/dshills/ragkb/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragkb",
		Short: "Knowledge base ingestion and retrieval for RAG",
		Long: `ragkb parses documents (text, Markdown, Word, PDF), splits them into
chunks, embeds them and stores the vectors for similarity search. It can be
used directly from the command line or served to AI assistants over MCP.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("db", "", "Database path (overrides RAGKB_DB_PATH)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides RAGKB_LOG_LEVEL)")
	root.PersistentFlags().String("backend", "", "Vector backend: sqlite or weaviate (overrides RAGKB_VECTOR_BACKEND)")

	root.AddCommand(
		newIngestCommand(),
		newQueryCommand(),
		newStatsCommand(),
		newServeCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ragkb version %s\n", version)
			fmt.Fprintf(out, "Build Time: %s\n", buildTime)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}

// loadConfig reads the environment and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("db"); v != "" {
		cfg.DBPath = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := flags.GetString("backend"); v != "" {
		cfg.VectorBackend = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads configuration and wires the components for a command.
// Logs go to stderr so stdout stays usable for results and MCP.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(&logger.Config{
		Level:      cfg.LogLevel,
		JSON:       cfg.LogJSON,
		Output:     cmd.ErrOrStderr(),
		TimeFormat: "15:04:05",
	})
	return newApp(cmd.Context(), cfg, log)
}
