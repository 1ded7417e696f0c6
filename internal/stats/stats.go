package stats

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dshills/ragkb/pkg/types"
)

const namespace = "ragkb"

// Tracker holds the counters.
type Tracker struct {
	filesScanned   atomic.Int64
	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	filesFailed    atomic.Int64

	chunksTotal     atomic.Int64
	chunksNew       atomic.Int64
	chunksDuplicate atomic.Int64

	embeddingBatches atomic.Int64
	embeddingErrors  atomic.Int64
	embeddingNanos   atomic.Int64
	upsertErrors     atomic.Int64

	retrievalQueries atomic.Int64
	retrievalErrors  atomic.Int64
	retrievalNanos   atomic.Int64

	runs            atomic.Int64
	lastRunDuration atomic.Int64

	descs descriptors
}

// Snapshot is a point in time copy of the counters.
type Snapshot struct {
	FilesScanned          int64         `json:"files_scanned"`
	FilesProcessed        int64         `json:"files_processed"`
	FilesSkipped          int64         `json:"files_skipped"`
	FilesFailed           int64         `json:"files_failed"`
	ChunksTotal           int64         `json:"chunks_total"`
	ChunksNew             int64         `json:"chunks_new"`
	ChunksDuplicate       int64         `json:"chunks_duplicate"`
	EmbeddingBatches      int64         `json:"embedding_batches"`
	EmbeddingErrors       int64         `json:"embedding_errors"`
	EmbeddingLatencyTotal time.Duration `json:"embedding_latency_total"`
	UpsertErrors          int64         `json:"upsert_errors"`
	RetrievalQueries      int64         `json:"retrieval_queries"`
	RetrievalErrors       int64         `json:"retrieval_errors"`
	RetrievalLatencyTotal time.Duration `json:"retrieval_latency_total"`
	Runs                  int64         `json:"runs"`
	LastRunDuration       time.Duration `json:"last_run_duration"`
}

// AvgEmbeddingLatency is the mean latency of embedding batches.
func (s Snapshot) AvgEmbeddingLatency() time.Duration {
	if s.EmbeddingBatches == 0 {
		return 0
	}
	return s.EmbeddingLatencyTotal / time.Duration(s.EmbeddingBatches)
}

// AvgRetrievalLatency is the mean latency of retrieval queries.
func (s Snapshot) AvgRetrievalLatency() time.Duration {
	if s.RetrievalQueries == 0 {
		return 0
	}
	return s.RetrievalLatencyTotal / time.Duration(s.RetrievalQueries)
}

// New creates a Tracker.
func New() *Tracker {
	return &Tracker{descs: newDescriptors()}
}

// FilesScanned adds n discovered files.
func (t *Tracker) FilesScanned(n int) { t.filesScanned.Add(int64(n)) }

// RecordFile counts a per-file outcome and its chunks.
func (t *Tracker) RecordFile(res types.FileResult) {
	switch res.Status {
	case types.StatusProcessed:
		t.filesProcessed.Add(1)
	case types.StatusDuplicate, types.StatusSkipped:
		t.filesSkipped.Add(1)
	case types.StatusFailed:
		t.filesFailed.Add(1)
	}
	t.chunksTotal.Add(int64(res.TotalChunks))
	t.chunksNew.Add(int64(res.NewChunks))
	t.chunksDuplicate.Add(int64(res.DuplicateChunks))
}

// RecordEmbedding counts one embedding batch.
func (t *Tracker) RecordEmbedding(d time.Duration, err error) {
	t.embeddingBatches.Add(1)
	t.embeddingNanos.Add(int64(d))
	if err != nil {
		t.embeddingErrors.Add(1)
	}
}

// RecordUpsertError counts a failed store write.
func (t *Tracker) RecordUpsertError() { t.upsertErrors.Add(1) }

// RecordRetrieval counts one retrieval query.
func (t *Tracker) RecordRetrieval(d time.Duration, err error) {
	t.retrievalQueries.Add(1)
	t.retrievalNanos.Add(int64(d))
	if err != nil {
		t.retrievalErrors.Add(1)
	}
}

// RecordRun stores the duration of a finished ingestion run.
func (t *Tracker) RecordRun(d time.Duration) {
	t.runs.Add(1)
	t.lastRunDuration.Store(int64(d))
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		FilesScanned:          t.filesScanned.Load(),
		FilesProcessed:        t.filesProcessed.Load(),
		FilesSkipped:          t.filesSkipped.Load(),
		FilesFailed:           t.filesFailed.Load(),
		ChunksTotal:           t.chunksTotal.Load(),
		ChunksNew:             t.chunksNew.Load(),
		ChunksDuplicate:       t.chunksDuplicate.Load(),
		EmbeddingBatches:      t.embeddingBatches.Load(),
		EmbeddingErrors:       t.embeddingErrors.Load(),
		EmbeddingLatencyTotal: time.Duration(t.embeddingNanos.Load()),
		UpsertErrors:          t.upsertErrors.Load(),
		RetrievalQueries:      t.retrievalQueries.Load(),
		RetrievalErrors:       t.retrievalErrors.Load(),
		RetrievalLatencyTotal: time.Duration(t.retrievalNanos.Load()),
		Runs:                  t.runs.Load(),
		LastRunDuration:       time.Duration(t.lastRunDuration.Load()),
	}
}

type descriptors struct {
	files            *prometheus.Desc
	chunks           *prometheus.Desc
	embeddingBatches *prometheus.Desc
	embeddingErrors  *prometheus.Desc
	embeddingSeconds *prometheus.Desc
	upsertErrors     *prometheus.Desc
	retrievals       *prometheus.Desc
	retrievalErrors  *prometheus.Desc
	retrievalSeconds *prometheus.Desc
	runs             *prometheus.Desc
	lastRunSeconds   *prometheus.Desc
}

func newDescriptors() descriptors {
	name := func(n string) string { return prometheus.BuildFQName(namespace, "", n) }
	return descriptors{
		files:            prometheus.NewDesc(name("files_total"), "Files seen by ingestion, by outcome.", []string{"status"}, nil),
		chunks:           prometheus.NewDesc(name("chunks_total"), "Chunks produced by ingestion, by kind.", []string{"kind"}, nil),
		embeddingBatches: prometheus.NewDesc(name("embedding_batches_total"), "Embedding batches requested.", nil, nil),
		embeddingErrors:  prometheus.NewDesc(name("embedding_errors_total"), "Embedding batches that failed.", nil, nil),
		embeddingSeconds: prometheus.NewDesc(name("embedding_seconds_total"), "Time spent waiting for embeddings.", nil, nil),
		upsertErrors:     prometheus.NewDesc(name("upsert_errors_total"), "Vector store writes that failed.", nil, nil),
		retrievals:       prometheus.NewDesc(name("retrieval_queries_total"), "Retrieval queries served.", nil, nil),
		retrievalErrors:  prometheus.NewDesc(name("retrieval_errors_total"), "Retrieval queries that failed.", nil, nil),
		retrievalSeconds: prometheus.NewDesc(name("retrieval_seconds_total"), "Time spent answering retrieval queries.", nil, nil),
		runs:             prometheus.NewDesc(name("ingestion_runs_total"), "Completed ingestion runs.", nil, nil),
		lastRunSeconds:   prometheus.NewDesc(name("last_run_duration_seconds"), "Duration of the most recent ingestion run.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (t *Tracker) Describe(ch chan<- *prometheus.Desc) {
	d := t.descs
	for _, desc := range []*prometheus.Desc{
		d.files, d.chunks, d.embeddingBatches, d.embeddingErrors, d.embeddingSeconds,
		d.upsertErrors, d.retrievals, d.retrievalErrors, d.retrievalSeconds, d.runs, d.lastRunSeconds,
	} {
		ch <- desc
	}
}

// Collect implements prometheus.Collector.
func (t *Tracker) Collect(ch chan<- prometheus.Metric) {
	s := t.Snapshot()
	d := t.descs
	counter := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, v, labels...)
	}

	counter(d.files, float64(s.FilesScanned), "scanned")
	counter(d.files, float64(s.FilesProcessed), "processed")
	counter(d.files, float64(s.FilesSkipped), "skipped")
	counter(d.files, float64(s.FilesFailed), "failed")
	counter(d.chunks, float64(s.ChunksTotal), "total")
	counter(d.chunks, float64(s.ChunksNew), "new")
	counter(d.chunks, float64(s.ChunksDuplicate), "duplicate")
	counter(d.embeddingBatches, float64(s.EmbeddingBatches))
	counter(d.embeddingErrors, float64(s.EmbeddingErrors))
	counter(d.embeddingSeconds, s.EmbeddingLatencyTotal.Seconds())
	counter(d.upsertErrors, float64(s.UpsertErrors))
	counter(d.retrievals, float64(s.RetrievalQueries))
	counter(d.retrievalErrors, float64(s.RetrievalErrors))
	counter(d.retrievalSeconds, s.RetrievalLatencyTotal.Seconds())
	counter(d.runs, float64(s.Runs))
	ch <- prometheus.MustNewConstMetric(d.lastRunSeconds, prometheus.GaugeValue, s.LastRunDuration.Seconds())
}

var _ prometheus.Collector = (*Tracker)(nil)
