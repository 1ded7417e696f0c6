package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dshills/ragkb/pkg/types"
)

const metaDimensionKey = "embedding_dimension"

// DefaultTimeout bounds every store call that has no earlier deadline.
const DefaultTimeout = 15 * time.Second

// SQLiteStorage implements VectorStore, DedupStore and RunStore on one
// SQLite database.
type SQLiteStorage struct {
	db      *sql.DB
	path    string
	timeout time.Duration
}

// Option configures SQLiteStorage.
type Option func(*SQLiteStorage)

// WithTimeout sets the per call timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *SQLiteStorage) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens (creating if needed) the database at dbPath and
// applies pending migrations. ":memory:" gives a private in-memory store.
func NewSQLiteStorage(dbPath string, opts ...Option) (*SQLiteStorage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", types.ErrStoreUnavailable, err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &SQLiteStorage{db: db, path: dbPath, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string { return s.path }

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ping checks that the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
	}
	return nil
}

// Dimension returns the recorded embedding dimension, 0 before the first upsert.
func (s *SQLiteStorage) Dimension(ctx context.Context) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return dimensionWithQuerier(ctx, s.db)
}

func dimensionWithQuerier(ctx context.Context, q querier) (int, error) {
	var v string
	err := q.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", metaDimensionKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read dimension: %w", types.ErrVectorStore, err)
	}
	dim, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt dimension %q", types.ErrVectorStore, v)
	}
	return dim, nil
}

// Upsert stores chunks by ID, replacing existing rows. The first upsert fixes
// the store's embedding dimension; later vectors of another length are
// rejected with types.ErrDimensionMismatch and nothing is written.
func (s *SQLiteStorage) Upsert(ctx context.Context, chunks []types.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if err := chunks[i].Validate(); err != nil {
			return fmt.Errorf("%w: chunk %d: %w", types.ErrVectorStore, i, err)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", types.ErrVectorStore, err)
	}
	defer func() { _ = tx.Rollback() }()

	dim, err := dimensionWithQuerier(ctx, tx)
	if err != nil {
		return err
	}
	if dim == 0 {
		dim = len(chunks[0].Embedding)
		if _, err := tx.ExecContext(ctx, "INSERT INTO meta (key, value) VALUES (?, ?)",
			metaDimensionKey, strconv.Itoa(dim)); err != nil {
			return fmt.Errorf("%w: failed to record dimension: %w", types.ErrVectorStore, err)
		}
	}
	for _, c := range chunks {
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, store has %d",
				types.ErrDimensionMismatch, c.ID, len(c.Embedding), dim)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, content, chunk_index, total_chunks, doc_type, source_file,
		                    source_path, content_hash, vector, dimension, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			chunk_index = excluded.chunk_index,
			total_chunks = excluded.total_chunks,
			doc_type = excluded.doc_type,
			source_file = excluded.source_file,
			source_path = excluded.source_path,
			content_hash = excluded.content_hash,
			vector = excluded.vector,
			dimension = excluded.dimension
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare upsert: %w", types.ErrVectorStore, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range chunks {
		created := c.Metadata.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Chunk.Content, c.Chunk.Index, c.Chunk.Total, string(c.Chunk.DocType),
			c.Chunk.SourceFile, c.Metadata.SourcePath, c.Metadata.ContentHash,
			serializeVector(c.Embedding), len(c.Embedding), created.UTC(),
		); err != nil {
			return fmt.Errorf("%w: failed to upsert chunk %s: %w", types.ErrVectorStore, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit upsert: %w", types.ErrVectorStore, err)
	}
	return nil
}

// Search returns up to topK chunks whose cosine similarity to vector is at
// least threshold.
func (s *SQLiteStorage) Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]types.ScoredResult, error) {
	if topK <= 0 || len(vector) == 0 {
		return []types.ScoredResult{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	dim, err := dimensionWithQuerier(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []types.ScoredResult{}, nil
	}
	if dim != len(vector) {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d",
			types.ErrDimensionMismatch, len(vector), dim)
	}

	return searchVector(ctx, s.db, vector, topK, threshold)
}

// Stats reports chunk and document counts.
func (s *SQLiteStorage) Stats(ctx context.Context) (*StoreStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	st := &StoreStats{Backend: "sqlite", BuildMode: BuildMode}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&st.Chunks); err != nil {
		return nil, fmt.Errorf("%w: failed to count chunks: %w", types.ErrVectorStore, err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM indexed_documents").Scan(&st.Documents); err != nil {
		return nil, fmt.Errorf("%w: failed to count documents: %w", types.ErrVectorStore, err)
	}
	dim, err := dimensionWithQuerier(ctx, s.db)
	if err != nil {
		return nil, err
	}
	st.Dimension = dim
	return st, nil
}

// Contains reports whether a document hash has been fully indexed.
func (s *SQLiteStorage) Contains(ctx context.Context, contentHash string) (bool, error) {
	_, err := s.Get(ctx, contentHash)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Get returns the dedup record for a hash or ErrNotFound.
func (s *SQLiteStorage) Get(ctx context.Context, contentHash string) (*types.DedupRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rec := &types.DedupRecord{}
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, source_file, source_path, chunk_count, indexed_at
		FROM indexed_documents WHERE content_hash = ?
	`, contentHash).Scan(&rec.ContentHash, &rec.SourceFile, &rec.SourcePath, &rec.ChunkCount, &rec.IndexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read dedup record: %w", types.ErrVectorStore, err)
	}
	return rec, nil
}

// Add records a document hash after all its chunks were stored.
func (s *SQLiteStorage) Add(ctx context.Context, rec types.DedupRecord) error {
	if rec.ContentHash == "" {
		return fmt.Errorf("content hash is required: %w", types.ErrMissingSource)
	}
	if rec.IndexedAt.IsZero() {
		rec.IndexedAt = time.Now()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexed_documents (content_hash, source_file, source_path, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET
			source_file = excluded.source_file,
			source_path = excluded.source_path,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at
	`, rec.ContentHash, rec.SourceFile, rec.SourcePath, rec.ChunkCount, rec.IndexedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: failed to record document: %w", types.ErrVectorStore, err)
	}
	return nil
}

// Superseded returns the hashes recorded for sourcePath other than current.
func (s *SQLiteStorage) Superseded(ctx context.Context, sourcePath, current string) ([]string, error) {
	if sourcePath == "" {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash FROM indexed_documents
		WHERE source_path = ? AND content_hash != ?
		ORDER BY indexed_at
	`, sourcePath, current)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list superseded documents: %w", types.ErrVectorStore, err)
	}
	defer func() { _ = rows.Close() }()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("%w: failed to scan document hash: %w", types.ErrVectorStore, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// Remove forgets a document hash. Removing an unknown hash is not an error.
func (s *SQLiteStorage) Remove(ctx context.Context, contentHash string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM indexed_documents WHERE content_hash = ?", contentHash); err != nil {
		return fmt.Errorf("%w: failed to remove document %s: %w", types.ErrVectorStore, contentHash, err)
	}
	return nil
}

// DeleteDocument removes the chunks stored from sourcePath under contentHash.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, sourcePath, contentHash string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM chunks WHERE source_path = ? AND content_hash = ?", sourcePath, contentHash)
	if err != nil {
		return fmt.Errorf("%w: failed to delete chunks of %s: %w", types.ErrVectorStore, sourcePath, err)
	}
	return nil
}

// RecordRun stores a run summary.
func (s *SQLiteStorage) RecordRun(ctx context.Context, run *RunRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (run_id, directory, started_at, duration_ms, total_files,
		                            processed_files, skipped_files, failed_files, new_chunks, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, run.Directory, run.StartedAt.UTC(), run.Duration.Milliseconds(), run.TotalFiles,
		run.ProcessedFiles, run.SkippedFiles, run.FailedFiles, run.NewChunks, run.Cancelled)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LastRun returns the most recent run or ErrNotFound.
func (s *SQLiteStorage) LastRun(ctx context.Context) (*RunRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	run := &RunRecord{}
	var durationMs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, directory, started_at, duration_ms, total_files, processed_files,
		       skipped_files, failed_files, new_chunks, cancelled
		FROM ingestion_runs ORDER BY started_at DESC LIMIT 1
	`).Scan(&run.RunID, &run.Directory, &run.StartedAt, &durationMs, &run.TotalFiles,
		&run.ProcessedFiles, &run.SkippedFiles, &run.FailedFiles, &run.NewChunks, &run.Cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last run: %w", err)
	}
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return run, nil
}
