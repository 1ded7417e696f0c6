// Package weaviate implements storage.VectorStore on a Weaviate class with
// client supplied vectors.
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/dshills/ragkb/internal/storage"
	"github.com/dshills/ragkb/pkg/types"
)

// DefaultClass is the class chunks are stored in.
const DefaultClass = "KnowledgeChunk"

// Config configures the Weaviate connection.
type Config struct {
	Host    string // host:port
	Scheme  string // http or https
	Class   string
	Timeout time.Duration
}

// Store is a Weaviate backed vector store.
type Store struct {
	client  *weaviate.Client
	class   string
	timeout time.Duration
	dim     atomic.Int64
}

var _ storage.VectorStore = (*Store)(nil)

// New connects to Weaviate and ensures the chunk class exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Host == "" {
		return nil, errors.New("weaviate host is required")
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	if cfg.Class == "" {
		cfg.Class = DefaultClass
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = storage.DefaultTimeout
	}

	client, err := weaviate.NewClient(weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create weaviate client: %w", types.ErrStoreUnavailable, err)
	}

	s := &Store{client: client, class: cfg.Class, timeout: cfg.Timeout}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "sourceFile", DataType: []string{"string"}},
		{Name: "sourcePath", DataType: []string{"string"}},
		{Name: "contentHash", DataType: []string{"string"}},
		{Name: "docType", DataType: []string{"string"}},
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "totalChunks", DataType: []string{"int"}},
	}
}

// ensureSchema creates the class with vectorizer none if it is missing.
func (s *Store) ensureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	exists, err := s.client.Schema().ClassExistenceChecker().WithClassName(s.class).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to check class %s: %w", types.ErrStoreUnavailable, s.class, err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:       s.class,
		Description: "A chunk of an ingested document",
		Vectorizer:  "none",
		VectorIndexConfig: map[string]any{
			"distance": "cosine",
		},
		Properties: chunkProperties(),
	}
	if err := s.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("%w: failed to create class %s: %w", types.ErrVectorStore, s.class, err)
	}
	return nil
}

// Upsert writes chunks in one batch. Object IDs are the chunk IDs, so a
// repeated upsert replaces the existing objects.
func (s *Store) Upsert(ctx context.Context, chunks []types.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: chunk %d: %w", types.ErrVectorStore, i, err)
		}
		if err := s.checkDimension(len(c.Embedding)); err != nil {
			return err
		}
		objects = append(objects, &models.Object{
			Class: s.class,
			ID:    strfmt.UUID(c.ID),
			Properties: map[string]any{
				"content":     c.Chunk.Content,
				"sourceFile":  c.Chunk.SourceFile,
				"sourcePath":  c.Metadata.SourcePath,
				"contentHash": c.Metadata.ContentHash,
				"docType":     string(c.Chunk.DocType),
				"chunkIndex":  c.Chunk.Index,
				"totalChunks": c.Chunk.Total,
			},
			Vector: c.Embedding,
		})
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: batch upsert failed: %w", types.ErrVectorStore, err)
	}
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e == nil {
				continue
			}
			if isDimensionError(e.Message) {
				return fmt.Errorf("%w: object %s: %s", types.ErrDimensionMismatch, r.ID, e.Message)
			}
			return fmt.Errorf("%w: object %s: %s", types.ErrVectorStore, r.ID, e.Message)
		}
	}
	return nil
}

func isDimensionError(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "dimension") ||
		(strings.Contains(msg, "vector") && strings.Contains(msg, "length"))
}

// checkDimension pins the vector length seen by this process.
func (s *Store) checkDimension(n int) error {
	if s.dim.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := s.dim.Load(); int64(n) != want {
		return fmt.Errorf("%w: vector has %d dimensions, store has %d", types.ErrDimensionMismatch, n, want)
	}
	return nil
}

// Search runs a nearVector query. Weaviate reports cosine distance, which is
// converted to similarity before thresholding.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, threshold float64) ([]types.ScoredResult, error) {
	if topK <= 0 || len(vector) == 0 {
		return []types.ScoredResult{}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "sourceFile"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}, {Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithNearVector(nearVector).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %w", types.ErrVectorStore, err)
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("%w: graphql error: %s", types.ErrVectorStore, strings.Join(msgs, "; "))
	}

	results := make([]types.ScoredResult, 0, topK)
	data, _ := res.Data["Get"].(map[string]any)
	rows, _ := data[s.class].([]any)
	for _, row := range rows {
		props, ok := row.(map[string]any)
		if !ok {
			continue
		}
		r := types.ScoredResult{}
		r.Content, _ = props["content"].(string)
		r.SourceFile, _ = props["sourceFile"].(string)
		if idx, ok := props["chunkIndex"].(float64); ok {
			r.ChunkIndex = int(idx)
		}
		if add, ok := props["_additional"].(map[string]any); ok {
			r.ID, _ = add["id"].(string)
			if d, ok := add["distance"].(float64); ok {
				r.Score = types.NormalizeScore(types.ScoreDistance, d)
			}
		}
		if r.Score < threshold {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// Ping checks the Weaviate readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
	}
	if !ready {
		return fmt.Errorf("%w: weaviate not ready", types.ErrStoreUnavailable)
	}
	return nil
}

// Stats counts the objects in the class.
func (s *Store) Stats(ctx context.Context) (*storage.StoreStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.client.GraphQL().Aggregate().
		WithClassName(s.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: aggregate failed: %w", types.ErrVectorStore, err)
	}

	st := &storage.StoreStats{Backend: "weaviate", Dimension: int(s.dim.Load())}
	agg, _ := res.Data["Aggregate"].(map[string]any)
	rows, _ := agg[s.class].([]any)
	if len(rows) > 0 {
		if row, ok := rows[0].(map[string]any); ok {
			if meta, ok := row["meta"].(map[string]any); ok {
				if n, ok := meta["count"].(float64); ok {
					st.Chunks = int(n)
				}
			}
		}
	}
	return st, nil
}

// DeleteDocument batch deletes the objects of one document version.
func (s *Store) DeleteDocument(ctx context.Context, sourcePath, contentHash string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(s.class).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"sourcePath"}).
					WithOperator(filters.Equal).
					WithValueString(sourcePath),
				filters.Where().
					WithPath([]string{"contentHash"}).
					WithOperator(filters.Equal).
					WithValueString(contentHash),
			})).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to delete chunks of %s: %w", types.ErrVectorStore, sourcePath, err)
	}
	if res != nil && res.Results != nil && res.Results.Failed > 0 {
		return fmt.Errorf("%w: %d chunks of %s not deleted", types.ErrVectorStore, res.Results.Failed, sourcePath)
	}
	return nil
}

// Close is a no-op; the client holds no long lived resources.
func (s *Store) Close() error { return nil }
