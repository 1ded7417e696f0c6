package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/ragkb/internal/chunker"
	"github.com/dshills/ragkb/internal/config"
	"github.com/dshills/ragkb/internal/embedder"
	"github.com/dshills/ragkb/internal/indexer"
	"github.com/dshills/ragkb/internal/logger"
	"github.com/dshills/ragkb/internal/memory"
	"github.com/dshills/ragkb/internal/retrieval"
	"github.com/dshills/ragkb/internal/stats"
	"github.com/dshills/ragkb/internal/storage"
	"github.com/dshills/ragkb/internal/storage/weaviate"
)

// app holds the wired components shared by all commands. The SQLite
// database always backs dedup records and run history; vectors go to
// SQLite or Weaviate depending on the configured backend.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	db        *storage.SQLiteStorage
	vectors   storage.VectorStore
	embedder  embedder.Embedder
	tracker   *stats.Tracker
	indexer   *indexer.Indexer
	retriever *retrieval.Engine
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	dbPath, err := expandHome(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	db, err := storage.NewSQLiteStorage(dbPath, storage.WithTimeout(cfg.StoreTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		vectors: db,
		tracker: stats.New(),
	}

	if strings.EqualFold(cfg.VectorBackend, "weaviate") {
		ws, err := weaviate.New(ctx, weaviate.Config{
			Host:    cfg.WeaviateHost,
			Scheme:  cfg.WeaviateScheme,
			Class:   cfg.WeaviateClass,
			Timeout: cfg.StoreTimeout,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to weaviate: %w", err)
		}
		a.vectors = ws
	}

	emb, err := embedder.New(ctx, embedder.Config{
		Provider:          cfg.EmbeddingProvider,
		APIKey:            cfg.EmbeddingAPIKey,
		Model:             cfg.EmbeddingModel,
		BaseURL:           cfg.EmbeddingBaseURL,
		Dimension:         cfg.EmbeddingDimension,
		SendDimensions:    cfg.EmbeddingDimension > 0,
		CacheSize:         cfg.EmbeddingCacheSize,
		Timeout:           cfg.EmbeddingTimeout,
		RequestsPerSecond: cfg.EmbeddingRPS,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.embedder = emb

	gov := memory.New(memory.Config{
		WarningThreshold:  cfg.MemoryWarningThreshold,
		CriticalThreshold: cfg.MemoryCriticalThreshold,
		MaxHeapBytes:      cfg.MaxHeapBytes(),
		BudgetBytes:       cfg.MemoryBudgetBytes(),
		MaxWait:           cfg.MemoryWait,
		PollInterval:      cfg.MemoryPoll,
	}, memory.WithLogger(log))

	a.indexer = indexer.New(a.vectors, db, emb,
		indexer.WithGovernor(gov),
		indexer.WithRunStore(db),
		indexer.WithTracker(a.tracker),
		indexer.WithLogger(log),
		indexer.WithLockFile(lockPath(dbPath)),
		indexer.WithProgress(func(p indexer.Progress) {
			log.Debug("ingesting", "file", p.File, "n", p.Index+1, "of", p.Total)
		}),
	)
	a.retriever = retrieval.New(a.vectors, emb,
		retrieval.WithTracker(a.tracker),
		retrieval.WithLogger(log),
		retrieval.WithMinQueryLength(cfg.MinQueryLength),
	)

	log.Debug("components ready",
		"db", dbPath,
		"backend", cfg.VectorBackend,
		"provider", emb.Provider(),
		"model", emb.Model(),
		"build_mode", storage.BuildMode,
	)
	return a, nil
}

// ingestOptions maps configuration onto indexer options.
func (a *app) ingestOptions() indexer.Options {
	mode := chunker.ModeSemantic
	if !a.cfg.SemanticChunking {
		mode = chunker.ModeBasic
	}
	return indexer.Options{
		BatchSize:        a.cfg.BatchSize,
		FileDelay:        a.cfg.FileDelay(),
		MaxFileSizeBytes: a.cfg.MaxFileSizeBytes(),
		ChunkMode:        mode,
		ChunkSize:        a.cfg.ChunkSize,
		MinChunkSize:     a.cfg.MinChunkSize,
		ChunkOverlap:     a.cfg.ChunkOverlap,
		Excludes:         a.cfg.Excludes,
		OOMBackoff:       a.cfg.OOMBackoff,
	}
}

// Close releases every component, returning the combined errors.
func (a *app) Close() error {
	var errs []error
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.vectors != nil && a.vectors != storage.VectorStore(a.db) {
		errs = append(errs, a.vectors.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

func lockPath(dbPath string) string {
	if dbPath == ":memory:" {
		return ""
	}
	return dbPath + ".lock"
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
