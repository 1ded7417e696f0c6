package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dshills/ragkb/internal/chunker"
	"github.com/dshills/ragkb/internal/embedder"
	"github.com/dshills/ragkb/internal/hasher"
	"github.com/dshills/ragkb/internal/logger"
	"github.com/dshills/ragkb/internal/memory"
	"github.com/dshills/ragkb/internal/parser"
	"github.com/dshills/ragkb/internal/scanner"
	"github.com/dshills/ragkb/internal/stats"
	"github.com/dshills/ragkb/internal/storage"
	"github.com/dshills/ragkb/pkg/types"
)

const (
	// DefaultBatchSize is the number of chunks embedded and upserted together.
	DefaultBatchSize = 16
	// DefaultOOMBackoff is the pause after an out-of-memory failure.
	DefaultOOMBackoff = 10 * time.Second
	// DefaultUpsertRetryDelay is the pause before the single upsert retry.
	DefaultUpsertRetryDelay = 250 * time.Millisecond
)

// Indexer coordinates the ingestion pipeline:
// scan -> parse -> hash -> dedup -> chunk -> embed -> upsert.
// Files are processed one at a time; a single run may be active per Indexer
// (and per lock file).
type Indexer struct {
	registry *parser.Registry
	governor *memory.Governor
	embedder embedder.Embedder
	store    storage.VectorStore
	dedup    storage.DedupStore
	runs     storage.RunStore
	tracker  *stats.Tracker
	log      logger.Logger

	lock     IndexLock
	lockPath string

	progress func(Progress)
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Options controls a single ingestion run.
type Options struct {
	ForceReindex     bool          // re-embed documents whose hash is already known
	BatchSize        int           // chunks per embedding request (default: 16)
	FileDelay        time.Duration // pause between files
	MaxFileSizeBytes int64         // 0 = unlimited
	ChunkMode        chunker.Mode
	ChunkSize        int // 0 = document type profile
	MinChunkSize     int
	ChunkOverlap     int
	Excludes         []string      // doublestar patterns
	OOMBackoff       time.Duration // pause after an out-of-memory failure
	UpsertRetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchSize > embedder.MaxBatchSize {
		o.BatchSize = embedder.MaxBatchSize
	}
	if o.OOMBackoff <= 0 {
		o.OOMBackoff = DefaultOOMBackoff
	}
	if o.UpsertRetryDelay <= 0 {
		o.UpsertRetryDelay = DefaultUpsertRetryDelay
	}
	return o
}

func (o Options) newChunker() *chunker.Chunker {
	return chunker.New(
		chunker.WithMode(o.ChunkMode),
		chunker.WithChunkSize(o.ChunkSize),
		chunker.WithMinChunkSize(o.MinChunkSize),
		chunker.WithOverlap(o.ChunkOverlap),
	)
}

// Progress is reported before each file is processed.
type Progress struct {
	RunID string
	File  string
	Index int // 0-based position of File in the run
	Total int
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithRegistry replaces the default parser registry.
func WithRegistry(r *parser.Registry) Option {
	return func(idx *Indexer) { idx.registry = r }
}

// WithGovernor sets the memory governor consulted at every checkpoint.
func WithGovernor(g *memory.Governor) Option {
	return func(idx *Indexer) { idx.governor = g }
}

// WithRunStore records a summary of every run.
func WithRunStore(rs storage.RunStore) Option {
	return func(idx *Indexer) { idx.runs = rs }
}

// WithTracker sets the stats tracker.
func WithTracker(t *stats.Tracker) Option {
	return func(idx *Indexer) { idx.tracker = t }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(idx *Indexer) { idx.log = l }
}

// WithLockFile guards runs with an advisory file lock at path, usually next
// to the dedup database.
func WithLockFile(path string) Option {
	return func(idx *Indexer) { idx.lockPath = path }
}

// WithProgress registers a callback invoked before each file.
func WithProgress(fn func(Progress)) Option {
	return func(idx *Indexer) { idx.progress = fn }
}

// WithSleep replaces the context-aware sleep used for file delays and OOM
// backoff.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(idx *Indexer) { idx.sleep = fn }
}

// New creates a new Indexer instance
func New(store storage.VectorStore, dedup storage.DedupStore, emb embedder.Embedder, opts ...Option) *Indexer {
	idx := &Indexer{
		registry: parser.DefaultRegistry(),
		embedder: emb,
		store:    store,
		dedup:    dedup,
		log:      logger.Discard(),
		sleep:    sleepContext,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.governor == nil {
		idx.governor = memory.New(memory.DefaultConfig(), memory.WithLogger(idx.log))
	}
	if idx.tracker == nil {
		idx.tracker = stats.New()
	}
	return idx
}

// Running reports whether a run is in progress in this process.
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// IngestDirectory ingests every supported file under dir (or dir itself
// when it is a file). Per-file problems are recorded in the report and do
// not stop the run. The run stops early, returning the partial report
// together with the error, when ctx is cancelled (report.Cancelled is set),
// when an embedding does not fit the store's dimension, or when the vector
// store becomes unreachable.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, opts Options) (*types.IngestionReport, error) {
	release, err := idx.acquireRun()
	if err != nil {
		return nil, err
	}
	defer release()

	opts = opts.withDefaults()
	startedAt := idx.now()
	report := &types.IngestionReport{
		RunID:   uuid.NewString(),
		Errors:  []types.FileError{},
		Results: []types.FileResult{},
	}
	log := idx.log.With("run_id", report.RunID)
	ctx = logger.ContextWithLogger(ctx, log)

	sc, err := scanner.New(idx.registry.Extensions(), opts.Excludes)
	if err != nil {
		return nil, fmt.Errorf("failed to create scanner: %w", err)
	}
	files, err := sc.Scan(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	report.TotalFiles = len(files)
	idx.tracker.FilesScanned(len(files))
	log.Info("ingestion started", "dir", dir, "files", len(files), "force", opts.ForceReindex)

	ck := opts.newChunker()
	var runErr error
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if idx.progress != nil {
			idx.progress(Progress{RunID: report.RunID, File: path, Index: i, Total: len(files)})
		}

		res, err := idx.ingestFile(ctx, ck, path, opts)
		if res.Status != "" {
			report.Record(res)
			idx.tracker.RecordFile(res)
			logResult(log, res)
		}
		if err != nil {
			runErr = err
			break
		}

		if opts.FileDelay > 0 && i < len(files)-1 {
			if err := idx.sleep(ctx, opts.FileDelay); err != nil {
				runErr = err
				break
			}
		}
	}

	report.Duration = idx.now().Sub(startedAt)
	report.Cancelled = errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)
	idx.tracker.RecordRun(report.Duration)
	idx.recordRun(context.WithoutCancel(ctx), dir, startedAt, report)

	log.Info("ingestion finished",
		"processed", report.ProcessedFiles,
		"skipped", report.SkippedFiles,
		"failed", report.FailedFiles,
		"new_chunks", report.NewChunks,
		"duplicate_chunks", report.DuplicateChunks,
		"cancelled", report.Cancelled,
		"duration", report.Duration,
	)

	if runErr != nil {
		return report, fmt.Errorf("ingestion of %s stopped: %w", dir, runErr)
	}
	return report, nil
}

// ingestFile runs the pipeline for one file. A zero-status result means
// the file was interrupted by cancellation and is not reported. A non-nil
// error stops the run.
func (idx *Indexer) ingestFile(ctx context.Context, ck *chunker.Chunker, path string, opts Options) (types.FileResult, error) {
	res := types.FileResult{Path: path}

	if err := idx.governor.Checkpoint(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.FileResult{}, ctxErr
		}
		return skipped(res, err), nil
	}

	if opts.MaxFileSizeBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return failed(res, fmt.Errorf("failed to stat file: %w", err)), nil
		}
		if info.Size() > opts.MaxFileSizeBytes {
			return skipped(res, fmt.Errorf("%d bytes exceeds %d: %w",
				info.Size(), opts.MaxFileSizeBytes, types.ErrFileTooLarge)), nil
		}
	}

	doc, err := idx.registry.Parse(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.FileResult{}, ctxErr
		}
		if errors.Is(err, types.ErrUnsupportedFormat) {
			return skipped(res, err), nil
		}
		return failed(res, err), nil
	}
	if doc.Text == "" {
		res.Status = types.StatusProcessed
		return res, nil
	}
	doc.Hash = hasher.Hash(doc.Text)

	if !opts.ForceReindex {
		rec, err := idx.dedup.Get(ctx, doc.Hash)
		switch {
		case err == nil:
			res.Status = types.StatusDuplicate
			res.TotalChunks = rec.ChunkCount
			res.DuplicateChunks = rec.ChunkCount
			return res, nil
		case errors.Is(err, storage.ErrNotFound):
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.FileResult{}, ctxErr
			}
			return failed(res, fmt.Errorf("failed to check dedup store: %w", err)), nil
		}
	}

	chunks := ck.Chunk(doc.Name, doc.Text)
	res.TotalChunks = len(chunks)
	meta := types.ChunkMetadata{
		SourceFile:  doc.Name,
		SourcePath:  path,
		ContentHash: doc.Hash,
		CreatedAt:   idx.now().UTC(),
	}
	doc.Text = ""

	for start := 0; start < len(chunks); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(chunks))
		n, err := idx.ingestBatch(ctx, chunks[start:end], meta, opts)
		res.NewChunks += n
		if err == nil {
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.FileResult{}, ctxErr
		}
		var fatal *fatalError
		if errors.As(err, &fatal) {
			return failed(res, fatal.err), fatal.err
		}
		if errors.Is(err, types.ErrMemoryPressure) {
			// no hash is recorded, so the next run redoes the file and
			// overwrites the batches written so far
			return skipped(res, err), nil
		}
		if errors.Is(err, types.ErrOutOfMemory) {
			logger.FromContext(ctx).Warn("out of memory, backing off", "file", path, "backoff", opts.OOMBackoff)
			idx.governor.TryReclaim()
			if err := idx.sleep(ctx, opts.OOMBackoff); err != nil {
				return failed(res, types.ErrOutOfMemory), err
			}
			if err := idx.governor.Checkpoint(ctx); err != nil && ctx.Err() != nil {
				return failed(res, types.ErrOutOfMemory), ctx.Err()
			}
		}
		return failed(res, err), nil
	}

	if err := idx.dedup.Add(ctx, types.DedupRecord{
		ContentHash: doc.Hash,
		SourceFile:  doc.Name,
		SourcePath:  path,
		ChunkCount:  len(chunks),
		IndexedAt:   idx.now().UTC(),
	}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return types.FileResult{}, ctxErr
		}
		return failed(res, fmt.Errorf("failed to record content hash: %w", err)), nil
	}
	idx.pruneSuperseded(ctx, path, doc.Hash)

	res.Status = types.StatusProcessed
	return res, nil
}

// pruneSuperseded deletes the chunks of earlier versions of the file at
// path once the current version is fully stored. Failures are logged; the
// next successful ingestion of the file retries them.
func (idx *Indexer) pruneSuperseded(ctx context.Context, path, current string) {
	log := logger.FromContext(ctx)
	hashes, err := idx.dedup.Superseded(ctx, path, current)
	if err != nil {
		log.Warn("failed to list previous versions", "file", path, "error", err)
		return
	}
	for _, h := range hashes {
		if err := idx.store.DeleteDocument(ctx, path, h); err != nil {
			log.Warn("failed to delete previous version", "file", path, "hash", h, "error", err)
			continue
		}
		if err := idx.dedup.Remove(ctx, h); err != nil {
			log.Warn("failed to forget previous version", "file", path, "hash", h, "error", err)
			continue
		}
		log.Debug("removed previous version", "file", path, "hash", h)
	}
}

// ingestBatch embeds and upserts one batch of chunks, returning how many
// were written.
func (idx *Indexer) ingestBatch(ctx context.Context, batch []types.Chunk, meta types.ChunkMetadata, opts Options) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := idx.governor.Checkpoint(ctx); err != nil {
		return 0, err
	}

	texts := make([]string, len(batch))
	var size int64
	for i := range batch {
		texts[i] = batch[i].Content
		size += int64(len(batch[i].Content))
	}
	release, err := idx.governor.Reserve(ctx, size)
	if err != nil {
		return 0, err
	}
	defer release()

	started := time.Now()
	resp, err := idx.embedder.GenerateBatch(ctx, &embedder.BatchEmbeddingRequest{Texts: texts})
	idx.tracker.RecordEmbedding(time.Since(started), err)
	if err != nil {
		return 0, fmt.Errorf("failed to embed batch: %w", err)
	}
	vectors := resp.Vectors()
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("provider returned %d vectors for %d chunks: %w",
			len(vectors), len(batch), types.ErrDimensionMismatch)
	}

	indexed := make([]types.IndexedChunk, len(batch))
	for i := range batch {
		indexed[i] = types.NewIndexedChunk(batch[i], meta, vectors[i])
	}
	if err := idx.upsert(ctx, indexed, opts.UpsertRetryDelay); err != nil {
		return 0, err
	}
	return len(indexed), nil
}

// upsert writes chunks, retrying once. A dimension conflict with the store
// or a store that no longer answers Ping after the retry is fatal for the
// run.
func (idx *Indexer) upsert(ctx context.Context, chunks []types.IndexedChunk, delay time.Duration) error {
	log := logger.FromContext(ctx)
	b := retry.WithMaxRetries(1, retry.NewConstant(delay))

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := idx.store.Upsert(ctx, chunks)
		if err == nil {
			return nil
		}
		if errors.Is(err, types.ErrDimensionMismatch) || ctx.Err() != nil {
			return err
		}
		idx.tracker.RecordUpsertError()
		log.Warn("upsert failed", "chunks", len(chunks), "error", err)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, types.ErrDimensionMismatch) {
		return &fatalError{err: err}
	}

	if pingErr := idx.store.Ping(ctx); pingErr != nil {
		if !errors.Is(pingErr, types.ErrStoreUnavailable) {
			pingErr = fmt.Errorf("%w: %w", types.ErrStoreUnavailable, pingErr)
		}
		return &fatalError{err: fmt.Errorf("upsert failed (%v): %w", err, pingErr)}
	}
	return fmt.Errorf("failed to upsert batch: %w", err)
}

func (idx *Indexer) recordRun(ctx context.Context, dir string, startedAt time.Time, report *types.IngestionReport) {
	if idx.runs == nil {
		return
	}
	if err := idx.runs.RecordRun(ctx, storage.NewRunRecord(dir, startedAt, report)); err != nil {
		idx.log.Warn("failed to record ingestion run", "run_id", report.RunID, "error", err)
	}
}

// fatalError marks an error that aborts the whole run.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func skipped(res types.FileResult, err error) types.FileResult {
	res.Status = types.StatusSkipped
	res.Reason = err.Error()
	res.Err = err
	return res
}

func failed(res types.FileResult, err error) types.FileResult {
	res.Status = types.StatusFailed
	res.Reason = err.Error()
	res.Err = err
	return res
}

func logResult(log logger.Logger, res types.FileResult) {
	switch res.Status {
	case types.StatusFailed:
		log.Error("file failed", "file", res.Path, "reason", res.Reason)
	case types.StatusSkipped:
		log.Warn("file skipped", "file", res.Path, "reason", res.Reason)
	default:
		log.Debug("file done", "file", res.Path, "status", res.Status,
			"chunks", res.TotalChunks, "new", res.NewChunks)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
