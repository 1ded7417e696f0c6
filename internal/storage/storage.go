package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/ragkb/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// VectorStore persists indexed chunks and answers nearest neighbour queries.
// Search scores are cosine similarity clamped to [0,1], sorted descending.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []types.IndexedChunk) error
	Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]types.ScoredResult, error)
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (*StoreStats, error)
	// DeleteDocument removes the chunks a document at sourcePath stored
	// for one content hash.
	DeleteDocument(ctx context.Context, sourcePath, contentHash string) error
	Close() error
}

// DedupStore remembers which document content hashes are fully indexed.
type DedupStore interface {
	Contains(ctx context.Context, contentHash string) (bool, error)
	Get(ctx context.Context, contentHash string) (*types.DedupRecord, error)
	Add(ctx context.Context, rec types.DedupRecord) error
	// Superseded lists hashes recorded for sourcePath other than current.
	Superseded(ctx context.Context, sourcePath, current string) ([]string, error)
	Remove(ctx context.Context, contentHash string) error
}

// RunStore keeps a history of ingestion runs.
type RunStore interface {
	RecordRun(ctx context.Context, run *RunRecord) error
	LastRun(ctx context.Context) (*RunRecord, error)
}

// StoreStats describes the contents of a vector store.
type StoreStats struct {
	Backend   string `json:"backend"`
	Chunks    int    `json:"chunks"`
	Documents int    `json:"documents"`
	Dimension int    `json:"dimension"`
	BuildMode string `json:"build_mode,omitempty"`
}

// RunRecord is the persisted summary of one ingestion run.
type RunRecord struct {
	RunID          string
	Directory      string
	StartedAt      time.Time
	Duration       time.Duration
	TotalFiles     int
	ProcessedFiles int
	SkippedFiles   int
	FailedFiles    int
	NewChunks      int
	Cancelled      bool
}

// NewRunRecord summarizes a report for RecordRun.
func NewRunRecord(dir string, startedAt time.Time, r *types.IngestionReport) *RunRecord {
	return &RunRecord{
		RunID:          r.RunID,
		Directory:      dir,
		StartedAt:      startedAt,
		Duration:       r.Duration,
		TotalFiles:     r.TotalFiles,
		ProcessedFiles: r.ProcessedFiles,
		SkippedFiles:   r.SkippedFiles,
		FailedFiles:    r.FailedFiles,
		NewChunks:      r.NewChunks,
		Cancelled:      r.Cancelled,
	}
}
