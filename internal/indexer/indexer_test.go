package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragkb/internal/embedder"
	"github.com/dshills/ragkb/internal/hasher"
	"github.com/dshills/ragkb/internal/memory"
	"github.com/dshills/ragkb/internal/parser"
	"github.com/dshills/ragkb/internal/stats"
	"github.com/dshills/ragkb/internal/storage"
	"github.com/dshills/ragkb/pkg/types"
)

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	dimension   int
	dropMarker  string // texts containing it make the batch one vector short
	generateErr error
	callCount   int
	mu          sync.Mutex
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{
		dimension: 4,
	}
}

func (m *mockEmbedder) vector(text string) []float32 {
	v := make([]float32, m.dimension)
	for i := range v {
		v[i] = 0.5
	}
	v[len(text)%m.dimension] = 1
	return v
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req *embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generateErr != nil {
		return nil, m.generateErr
	}
	m.callCount++
	return &embedder.Embedding{Vector: m.vector(req.Text), Dimension: m.dimension, Provider: "mock", Model: "test-v1"}, nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req *embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generateErr != nil {
		return nil, m.generateErr
	}
	m.callCount++

	embeddings := make([]*embedder.Embedding, 0, len(req.Texts))
	short := false
	for _, text := range req.Texts {
		if m.dropMarker != "" && strings.Contains(text, m.dropMarker) {
			short = true
		}
		embeddings = append(embeddings, &embedder.Embedding{
			Vector:    m.vector(text),
			Dimension: m.dimension,
			Provider:  "mock",
			Model:     "test-v1",
		})
	}
	if short {
		embeddings = embeddings[:len(embeddings)-1]
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings}, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// flakyStore fails a number of upserts (-1 = all) before delegating.
type flakyStore struct {
	storage.VectorStore
	mu          sync.Mutex
	failUpserts int
	pingErr     error
}

func (s *flakyStore) Upsert(ctx context.Context, chunks []types.IndexedChunk) error {
	s.mu.Lock()
	if s.failUpserts != 0 {
		if s.failUpserts > 0 {
			s.failUpserts--
		}
		s.mu.Unlock()
		return fmt.Errorf("%w: connection reset", types.ErrVectorStore)
	}
	s.mu.Unlock()
	return s.VectorStore.Upsert(ctx, chunks)
}

func (s *flakyStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.VectorStore.Ping(ctx)
}

// sleepRecorder replaces real sleeps.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

func setupStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func mustHashOf(t *testing.T, path string) string {
	t.Helper()
	doc, err := parser.DefaultRegistry().Parse(context.Background(), path)
	require.NoError(t, err)
	return hasher.Hash(doc.Text)
}

func normalGovernor() *memory.Governor {
	return memory.New(memory.Config{}, memory.WithProbe(func() (uint64, uint64) { return 10, 100 }))
}

func newTestIndexer(store storage.VectorStore, dedup storage.DedupStore, emb embedder.Embedder, opts ...Option) *Indexer {
	base := []Option{
		WithGovernor(normalGovernor()),
		WithSleep((&sleepRecorder{}).sleep),
	}
	return New(store, dedup, emb, append(base, opts...)...)
}

func chunkCount(t *testing.T, s storage.VectorStore) int {
	t.Helper()
	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	return st.Chunks
}

var sampleDocs = map[string]string{
	"a.txt": "Library opening hours.\n\nThe library opens at eight and closes at ten.",
	"b.md":  "# Borrowing\n\nMembers may borrow up to five books for three weeks.",
	"c.txt": "Study rooms can be booked online one day in advance.",
}

func TestIngestDirectory_ProcessesAllFiles(t *testing.T) {
	store := setupStore(t)
	emb := newMockEmbedder()
	tracker := stats.New()
	idx := newTestIndexer(store, store, emb, WithTracker(tracker))

	dir := writeFiles(t, sampleDocs)
	report, err := idx.IngestDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 3, report.TotalFiles)
	assert.Equal(t, 3, report.ProcessedFiles)
	assert.Equal(t, 0, report.FailedFiles)
	assert.Equal(t, 0, report.SkippedFiles)
	assert.Empty(t, report.Errors)
	assert.Positive(t, report.NewChunks)
	assert.Equal(t, report.TotalChunks, report.NewChunks)
	assert.Equal(t, report.NewChunks, chunkCount(t, store))
	assert.False(t, report.Cancelled)

	for _, res := range report.Results {
		ok, err := store.Contains(context.Background(), mustHashOf(t, res.Path))
		require.NoError(t, err)
		assert.True(t, ok, res.Path)
	}

	snap := tracker.Snapshot()
	assert.Equal(t, int64(3), snap.FilesScanned)
	assert.Equal(t, int64(3), snap.FilesProcessed)
	assert.Equal(t, int64(1), snap.Runs)
}

func TestIngestDirectory_Idempotent(t *testing.T) {
	store := setupStore(t)
	emb := newMockEmbedder()
	idx := newTestIndexer(store, store, emb)
	dir := writeFiles(t, sampleDocs)

	first, err := idx.IngestDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)
	callsAfterFirst := emb.calls()

	second, err := idx.IngestDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 0, second.NewChunks)
	assert.Equal(t, first.TotalChunks, second.DuplicateChunks)
	assert.Equal(t, 0, second.ProcessedFiles)
	assert.Equal(t, 3, second.SkippedFiles)
	assert.Empty(t, second.Errors, "duplicates are not errors")
	assert.Equal(t, callsAfterFirst, emb.calls(), "duplicates must not be re-embedded")
	for _, res := range second.Results {
		assert.Equal(t, types.StatusDuplicate, res.Status)
	}
	assert.Equal(t, first.NewChunks, chunkCount(t, store))
}

func TestIngestDirectory_ForceReindex(t *testing.T) {
	store := setupStore(t)
	emb := newMockEmbedder()
	idx := newTestIndexer(store, store, emb)
	dir := writeFiles(t, sampleDocs)

	first, err := idx.IngestDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)

	second, err := idx.IngestDirectory(context.Background(), dir, Options{ForceReindex: true})
	require.NoError(t, err)

	assert.Equal(t, 3, second.ProcessedFiles)
	assert.Equal(t, first.NewChunks, second.NewChunks)
	assert.Equal(t, 0, second.DuplicateChunks)
	assert.Equal(t, first.NewChunks, chunkCount(t, store), "chunk IDs are stable so re-indexing overwrites")
}

func TestIngestDirectory_EmptyDocument(t *testing.T) {
	store := setupStore(t)
	idx := newTestIndexer(store, store, newMockEmbedder())
	dir := writeFiles(t, map[string]string{"empty.txt": ""})

	report, err := idx.IngestDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.ProcessedFiles)
	assert.Equal(t, 0, report.TotalChunks)
	assert.Equal(t, 0, report.NewChunks)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 0, chunkCount(t, store))
}

func TestIngestDirectory_PersistentMemoryPressureSkipsFile(t *testing.T) {
	store := setupStore(t)
	var critical atomic.Bool
	gov := memory.New(memory.Config{
		WarningThreshold:  0.75,
		CriticalThreshold: 0.9,
		MaxWait:           20 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	},
		memory.WithProbe(func() (uint64, uint64) {
			if critical.Load() {
				return 95, 100
			}
			return 10, 100
		}),
		memory.WithReclaim(func() {}),
	)

	idx := newTestIndexer(store, store, newMockEmbedder(),
		WithGovernor(gov),
		WithProgress(func(p Progress) {
			critical.Store(filepath.Base(p.File) == "b.md")
		}),
	)
	dir := writeFiles(t, sampleDocs)

	report, err := idx.IngestDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.ProcessedFiles)
	assert.Equal(t, 1, report.SkippedFiles)
	assert.Equal(t, 0, report.FailedFiles)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, filepath.Join(dir, "b.md"), report.Errors[0].FileName)

	require.Len(t, report.Results, 3)
	assert.Equal(t, types.StatusSkipped, report.Results[1].Status)
	assert.ErrorIs(t, report.Results[1].Err, types.ErrMemoryPressure)
	assert.Equal(t, types.StatusProcessed, report.Results[2].Status, "ingestion proceeds to the next file")
}

// batchHookEmbedder runs after once the first batch has been embedded.
type batchHookEmbedder struct {
	*mockEmbedder
	once  sync.Once
	after func()
}

func (e *batchHookEmbedder) GenerateBatch(ctx context.Context, req *embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	resp, err := e.mockEmbedder.GenerateBatch(ctx, req)
	e.once.Do(e.after)
	return resp, err
}

func TestIngestDirectory_MemoryPressureBetweenBatchesSkipsFile(t *testing.T) {
	store := setupStore(t)
	var critical atomic.Bool
	gov := memory.New(memory.Config{
		CriticalThreshold: 0.9,
		MaxWait:           20 * time.Millisecond,
		PollInterval:      5 * time.Millisecond,
	},
		memory.WithProbe(func() (uint64, uint64) {
			if critical.Load() {
				return 95, 100
			}
			return 10, 100
		}),
		memory.WithReclaim(func() {}),
	)
	emb := &batchHookEmbedder{mockEmbedder: newMockEmbedder(), after: func() { critical.Store(true) }}
	idx := newTestIndexer(store, store, emb, WithGovernor(gov))

	text := "一、开放时间\n" + strings.Repeat("图书馆每天八点开放。", 12) +
		"\n二、借阅规则\n" + strings.Repeat("每位读者可借五本书。", 12)
	dir := writeFiles(t, map[string]string{"guide.txt": text})
	opts := Options{BatchSize: 1, ChunkSize: 100, MinChunkSize: 20}

	report, err := idx.IngestDirectory(context.Background(), dir, opts)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	res := report.Results[0]
	require.Greater(t, res.TotalChunks, 1)
	assert.Equal(t, types.StatusSkipped, res.Status)
	assert.ErrorIs(t, res.Err, types.ErrMemoryPressure)
	assert.Equal(t, 1, report.SkippedFiles)
	assert.Equal(t, 0, report.FailedFiles)
	assert.Equal(t, 1, res.NewChunks, "first batch was written before the pressure")

	hash := mustHashOf(t, filepath.Join(dir, "guide.txt"))
	ok, err := store.Contains(context.Background(), hash)
	require.NoError(t, err)
	assert.False(t, ok, "a skipped file must not be recorded as indexed")

	// once memory is released the next run completes the file and
	// overwrites the partial batch
	critical.Store(false)
	second, err := idx.IngestDirectory(context.Background(), dir, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, second.ProcessedFiles)
	assert.Equal(t, res.TotalChunks, chunkCount(t, store))
}

func TestIngestDirectory_EditedFileReplacesOldChunks(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t)
	idx := newTestIndexer(store, store, newMockEmbedder())
	dir := writeFiles(t, map[string]string{"a.txt": sampleDocs["a.txt"]})
	path := filepath.Join(dir, "a.txt")
	oldHash := mustHashOf(t, path)

	_, err := idx.IngestDirectory(ctx, dir, Options{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("The library now opens at nine."), 0o644))
	report, err := idx.IngestDirectory(ctx, dir, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.ProcessedFiles)
	assert.Equal(t, report.TotalChunks, chunkCount(t, store), "chunks of the previous version are removed")

	ok, err := store.Contains(ctx, oldHash)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = store.Contains(ctx, mustHashOf(t, path))
	require.NoError(t, err)
	assert.True(t, ok)

	// reverting re-indexes the old content instead of treating it as known
	require.NoError(t, os.WriteFile(path, []byte(sampleDocs["a.txt"]), 0o644))
	reverted, err := idx.IngestDirectory(ctx, dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, reverted.ProcessedFiles)
	assert.Equal(t, reverted.TotalChunks, chunkCount(t, store))
}

func TestIngestDirectory_VectorCountMismatchFailsFile(t *testing.T) {
	store := setupStore(t)
	emb := newMockEmbedder()
	emb.dropMarker = "MISMATCH"
	idx := newTestIndexer(store, store, emb)

	dir := writeFiles(t, map[string]string{
		"a.txt": "First document about opening hours.",
		"b.txt": "MISMATCH document that the provider mangles.",
		"c.txt": "Third document about study rooms.",
	})

	report, err := idx.IngestDirectory(context.Background(), dir, Options{})
	require.NoError(t, err, "a count mismatch must not abort the run")

	assert.Equal(t, 2, report.ProcessedFiles)
	assert.Equal(t, 1, report.FailedFiles)
	require.Len(t, report.Results, 3)
	assert.Equal(t, types.StatusFailed, report.Results[1].Status)
	assert.ErrorIs(t, report.Results[1].Err, types.ErrDimensionMismatch)
	assert.Equal(t, types.StatusProcessed, report.Results[2].Status)

	ok, err := store.Contains(context.Background(), mustHashOf(t, report.Results[1].Path))
	require.NoError(t, err)
	assert.False(t, ok, "a failed document must not be recorded as indexed")
}

func TestIngestDirectory_StoreDimensionConflictAborts(t *testing.T) {
	store := setupStore(t)
	dir := writeFiles(t, map[string]string{"a.txt": "Seed document."})
	_, err := newTestIndexer(store, store, newMockEmbedder()).IngestDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)

	wide := newMockEmbedder()
	wide.dimension = 8
	dir2 := writeFiles(t, map[string]string{
		"b.txt": "Second document.",
		"c.txt": "Third document.",
	})
	report, err := newTestIndexer(store, store, wide).IngestDirectory(context.Background(), dir2, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrDimensionMismatch)
	require.NotNil(t, report, "partial report is returned with the error")
	assert.Equal(t, 1, report.FailedFiles)
	assert.Len(t, report.Results, 1, "no file after the violation is attempted")
	assert.False(t, report.Cancelled)
}

func TestIngestDirectory_UpsertFailures(t *testing.T) {
	tests := []struct {
		name          string
		failUpserts   int
		pingErr       error
		wantErr       error
		wantProcessed int
		wantFailed    int
	}{
		{
			name:          "transient failure is retried once",
			failUpserts:   1,
			wantProcessed: 2,
		},
		{
			name:        "persistent failure with live store fails files",
			failUpserts: -1,
			wantFailed:  2,
		},
		{
			name:        "lost store aborts the run",
			failUpserts: -1,
			pingErr:     errors.New("database is closed"),
			wantErr:     types.ErrStoreUnavailable,
			wantFailed:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := setupStore(t)
			store := &flakyStore{VectorStore: base, failUpserts: tt.failUpserts, pingErr: tt.pingErr}
			tracker := stats.New()
			idx := newTestIndexer(store, base, newMockEmbedder(), WithTracker(tracker))
			dir := writeFiles(t, map[string]string{
				"a.txt": "Alpha document.",
				"b.txt": "Beta document.",
			})

			report, err := idx.IngestDirectory(context.Background(), dir, Options{UpsertRetryDelay: time.Millisecond})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, report)
			assert.Equal(t, tt.wantProcessed, report.ProcessedFiles)
			assert.Equal(t, tt.wantFailed, report.FailedFiles)
			assert.Positive(t, tracker.Snapshot().UpsertErrors)
		})
	}
}

func TestIngestDirectory_EmbeddingErrorFailsFile(t *testing.T) {
	store := setupStore(t)
	emb := newMockEmbedder()
	emb.generateErr = fmt.Errorf("%w: 401 unauthorized", types.ErrEmbeddingProvider)
	tracker := stats.New()
	idx := newTestIndexer(store, store, emb, WithTracker(tracker))

	report, err := idx.IngestDirectory(context.Background(), writeFiles(t, sampleDocs), Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.FailedFiles)
	for _, res := range report.Results {
		assert.ErrorIs(t, res.Err, types.ErrEmbeddingProvider)
	}
	assert.Equal(t, int64(3), tracker.Snapshot().EmbeddingErrors)
}

func TestIngestDirectory_OutOfMemoryBacksOff(t *testing.T) {
	store := setupStore(t)
	var reclaims atomic.Int32
	gov := memory.New(memory.Config{BudgetBytes: 8},
		memory.WithProbe(func() (uint64, uint64) { return 10, 100 }),
		memory.WithReclaim(func() { reclaims.Add(1) }),
	)
	sleeps := &sleepRecorder{}
	idx := New(store, store, newMockEmbedder(), WithGovernor(gov), WithSleep(sleeps.sleep))

	dir := writeFiles(t, map[string]string{
		"a.txt": "This chunk is far larger than the budget.",
		"b.txt": "So is this one, and the run continues anyway.",
	})
	report, err := idx.IngestDirectory(context.Background(), dir, Options{OOMBackoff: time.Minute})
	require.NoError(t, err)

	assert.Equal(t, 2, report.FailedFiles)
	for _, res := range report.Results {
		assert.ErrorIs(t, res.Err, types.ErrOutOfMemory)
	}
	assert.Equal(t, int32(2), reclaims.Load())
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, sleeps.durations())
}

func TestIngestDirectory_OversizeAndParseFailures(t *testing.T) {
	store := setupStore(t)
	idx := newTestIndexer(store, store, newMockEmbedder())
	dir := writeFiles(t, map[string]string{
		"big.txt":     strings.Repeat("long line of text\n", 200),
		"broken.docx": "this is not a zip archive",
		"small.txt":   "Short.",
	})

	report, err := idx.IngestDirectory(context.Background(), dir, Options{MaxFileSizeBytes: 1024})
	require.NoError(t, err)

	byName := make(map[string]types.FileResult)
	for _, res := range report.Results {
		byName[filepath.Base(res.Path)] = res
	}

	assert.Equal(t, types.StatusSkipped, byName["big.txt"].Status)
	assert.ErrorIs(t, byName["big.txt"].Err, types.ErrFileTooLarge)
	assert.Equal(t, types.StatusFailed, byName["broken.docx"].Status)
	assert.ErrorIs(t, byName["broken.docx"].Err, types.ErrParseFailure)
	assert.Equal(t, types.StatusProcessed, byName["small.txt"].Status)
	assert.Len(t, report.Errors, 2)
}

func TestIngestDirectory_Excludes(t *testing.T) {
	store := setupStore(t)
	idx := newTestIndexer(store, store, newMockEmbedder())
	dir := writeFiles(t, map[string]string{
		"keep.txt":        "Kept document.",
		"drafts/skip.txt": "Excluded document.",
	})

	report, err := idx.IngestDirectory(context.Background(), dir, Options{Excludes: []string{"drafts/**"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalFiles)
	assert.Equal(t, 1, report.ProcessedFiles)
}

func TestIngestDirectory_Cancellation(t *testing.T) {
	store := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idx := newTestIndexer(store, store, newMockEmbedder(),
		WithProgress(func(p Progress) {
			if p.Index == 1 {
				cancel()
			}
		}),
	)

	report, err := idx.IngestDirectory(ctx, writeFiles(t, sampleDocs), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.ProcessedFiles)
	assert.Len(t, report.Results, 1)
	assert.False(t, idx.Running(), "lock is released after cancellation")
}

func TestIngestDirectory_FileDelay(t *testing.T) {
	store := setupStore(t)
	sleeps := &sleepRecorder{}
	idx := New(store, store, newMockEmbedder(), WithGovernor(normalGovernor()), WithSleep(sleeps.sleep))

	_, err := idx.IngestDirectory(context.Background(), writeFiles(t, sampleDocs), Options{FileDelay: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, sleeps.durations())
}

func TestIngestDirectory_RecordsRun(t *testing.T) {
	store := setupStore(t)
	idx := newTestIndexer(store, store, newMockEmbedder(), WithRunStore(store))
	dir := writeFiles(t, sampleDocs)

	report, err := idx.IngestDirectory(context.Background(), dir, Options{})
	require.NoError(t, err)

	run, err := store.LastRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.RunID, run.RunID)
	assert.Equal(t, dir, run.Directory)
	assert.Equal(t, 3, run.ProcessedFiles)
	assert.Equal(t, report.NewChunks, run.NewChunks)
}

func TestIngestDirectory_ConcurrentRunRejected(t *testing.T) {
	store := setupStore(t)
	idx := newTestIndexer(store, store, newMockEmbedder())
	dir := writeFiles(t, sampleDocs)

	require.True(t, idx.lock.TryAcquire())
	report, err := idx.IngestDirectory(context.Background(), dir, Options{})
	assert.ErrorIs(t, err, types.ErrIngestionInProgress)
	assert.Nil(t, report)
	idx.lock.Release()

	_, err = idx.IngestDirectory(context.Background(), dir, Options{})
	assert.NoError(t, err)
}

func TestIngestDirectory_FileLockAcrossIndexers(t *testing.T) {
	store := setupStore(t)
	lockPath := filepath.Join(t.TempDir(), "ragkb.lock")

	held := flock.New(lockPath)
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)

	idx := newTestIndexer(store, store, newMockEmbedder(), WithLockFile(lockPath))
	_, err = idx.IngestDirectory(context.Background(), writeFiles(t, sampleDocs), Options{})
	assert.ErrorIs(t, err, types.ErrIngestionInProgress)
	assert.False(t, idx.Running())

	require.NoError(t, held.Unlock())
	_, err = idx.IngestDirectory(context.Background(), writeFiles(t, sampleDocs), Options{})
	assert.NoError(t, err)
}

func TestIndexLock(t *testing.T) {
	var l IndexLock
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())
}

func TestIndexLock_Concurrent(t *testing.T) {
	var l IndexLock
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
