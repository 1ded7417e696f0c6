package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/ragkb/internal/embedder"
	"github.com/dshills/ragkb/internal/logger"
	"github.com/dshills/ragkb/internal/stats"
	"github.com/dshills/ragkb/pkg/types"
)

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.3
	MaxTopK          = 100
	DefaultTimeout   = 30 * time.Second
)

// Searcher is the read side of a vector store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]types.ScoredResult, error)
}

// Engine answers retrieval queries. It is safe for concurrent use.
type Engine struct {
	store       Searcher
	embedder    embedder.Embedder
	tracker     *stats.Tracker
	log         logger.Logger
	timeout     time.Duration
	minQueryLen int
	group       singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithTracker records query counts and latency.
func WithTracker(t *stats.Tracker) Option { return func(e *Engine) { e.tracker = t } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = l } }

// WithTimeout bounds query embedding.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMinQueryLength sets the shortest accepted rewrite.
func WithMinQueryLength(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minQueryLen = n
		}
	}
}

// New creates an Engine over a store and the embedder used at ingestion.
func New(store Searcher, emb embedder.Embedder, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		embedder:    emb,
		log:         logger.Discard(),
		timeout:     DefaultTimeout,
		minQueryLen: DefaultMinQueryLength,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns up to topK documents with score at least threshold,
// sorted by descending score.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int, threshold float64) (docs []types.RetrievedDoc, err error) {
	start := time.Now()
	if e.tracker != nil {
		defer func() { e.tracker.RecordRetrieval(time.Since(start), err) }()
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query cannot be empty", types.ErrInvalidQuery)
	}
	if e.embedder == nil || e.store == nil {
		return nil, fmt.Errorf("retrieval engine not initialized")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	threshold = types.NormalizeScore(types.ScoreSimilarity, threshold)

	rewritten := RewriteQuery(query, e.minQueryLen)
	if rewritten != query {
		e.log.Debug("query rewritten", "query", query, "rewritten", rewritten)
	}

	vector, err := e.embedQuery(ctx, rewritten)
	if err != nil {
		return nil, err
	}

	results, err := e.store.Search(ctx, vector, topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return e.rank(results, topK, threshold), nil
}

// RetrieveUnfiltered runs a query without a score threshold, for diagnostics.
func (e *Engine) RetrieveUnfiltered(ctx context.Context, query string, topK int) ([]types.RetrievedDoc, error) {
	return e.Retrieve(ctx, query, topK, 0)
}

// embedQuery embeds text once for all concurrent callers asking the same thing.
func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	ch := e.group.DoChan(text, func() (any, error) {
		// Detached so one caller's cancellation does not fail the others.
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()
		emb, err := e.embedder.GenerateEmbedding(ectx, &embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		return emb.Vector, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("failed to generate query embedding: %w", res.Err)
		}
		vec := res.Val.([]float32)
		return append([]float32(nil), vec...), nil
	}
}

// rank re-clamps scores, drops anything under threshold or malformed and
// orders the rest.
func (e *Engine) rank(results []types.ScoredResult, topK int, threshold float64) []types.RetrievedDoc {
	kept := make([]types.ScoredResult, 0, len(results))
	for _, r := range results {
		r.Score = types.NormalizeScore(types.ScoreSimilarity, r.Score)
		if err := r.Validate(); err != nil {
			e.log.Warn("dropping invalid search result", "id", r.ID, "error", err)
			continue
		}
		if r.Score < threshold {
			continue
		}
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SourceFile != b.SourceFile {
			return a.SourceFile < b.SourceFile
		}
		return a.ChunkIndex < b.ChunkIndex
	})
	if len(kept) > topK {
		kept = kept[:topK]
	}

	docs := make([]types.RetrievedDoc, len(kept))
	for i, r := range kept {
		docs[i] = types.RetrievedDoc{
			Content:        r.Content,
			SourceFileName: r.SourceFile,
			Score:          r.Score,
		}
	}
	return docs
}
