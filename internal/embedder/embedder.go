package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/ragkb/pkg/types"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = fmt.Errorf("%w: request failed", types.ErrEmbeddingProvider)
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// MaxBatchSize caps the number of texts in one GenerateBatch call.
const MaxBatchSize = 128

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse represents a batch response.
// Embeddings[i] belongs to Texts[i] of the request.
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Vectors returns the raw vectors in request order.
func (r *BatchEmbeddingResponse) Vectors() [][]float32 {
	out := make([][]float32, len(r.Embeddings))
	for i, e := range r.Embeddings {
		out[i] = e.Vector
	}
	return out
}

// Embedder interface defines methods for generating embeddings
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req *EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts, one per text, in order
	GenerateBatch(ctx context.Context, req *BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// backend is the provider specific part of a Client. It embeds texts
// without caching or retries and reports transient failures with Transient.
type backend interface {
	embed(ctx context.Context, model string, texts []string) ([][]float32, error)
	close() error
}

// Client implements Embedder on top of a provider backend. It owns the
// cache, validation, retry and result alignment shared by all providers.
type Client struct {
	name    string
	model   string
	dim     atomic.Int64
	cache   *Cache
	retry   RetryConfig
	backend backend
}

func newClient(name, model string, dim int, cacheSize int, rc RetryConfig, b backend) *Client {
	c := &Client{
		name:    name,
		model:   model,
		cache:   NewCache(cacheSize),
		retry:   rc,
		backend: b,
	}
	c.dim.Store(int64(dim))
	return c
}

// GenerateEmbedding generates a single embedding.
func (c *Client) GenerateEmbedding(ctx context.Context, req *EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	resp, err := c.GenerateBatch(ctx, &BatchEmbeddingRequest{Texts: []string{req.Text}, Model: req.Model})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

// GenerateBatch embeds req.Texts, serving cached vectors first and sending
// only the misses to the provider.
func (c *Client) GenerateBatch(ctx context.Context, req *BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d texts (max %d)", ErrBatchTooLarge, len(req.Texts), MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = c.model
	}

	out := make([]*Embedding, len(req.Texts))
	hashes := make([]string, len(req.Texts))
	var missing []int
	for i, text := range req.Texts {
		hashes[i] = ComputeHash(model + "\x00" + text)
		if emb, ok := c.cache.Get(hashes[i]); ok {
			out[i] = emb
			continue
		}
		missing = append(missing, i)
	}

	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for j, i := range missing {
			texts[j] = req.Texts[i]
		}

		vectors, err := retryWithBackoff(ctx, c.retry, func(ctx context.Context) ([][]float32, error) {
			return c.backend.embed(ctx, model, texts)
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
				types.ErrDimensionMismatch, c.name, len(vectors), len(texts))
		}

		for j, i := range missing {
			vec := vectors[j]
			if len(vec) > 0 {
				c.dim.CompareAndSwap(0, int64(len(vec)))
			}
			emb := &Embedding{
				Vector:    vec,
				Dimension: len(vec),
				Provider:  c.name,
				Model:     model,
				Hash:      hashes[i],
			}
			cached := *emb
			cached.Vector = append([]float32(nil), vec...)
			c.cache.Set(hashes[i], &cached)
			out[i] = emb
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: out,
		Provider:   c.name,
		Model:      model,
	}, nil
}

// Dimension returns the configured dimension, or the length of the first
// vector the provider returned when none was configured.
func (c *Client) Dimension() int { return int(c.dim.Load()) }

// Provider returns the provider name.
func (c *Client) Provider() string { return c.name }

// Model returns the default model.
func (c *Client) Model() string { return c.model }

// Close releases provider resources and clears the cache.
func (c *Client) Close() error {
	c.cache.Clear()
	return c.backend.close()
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a deep copy of an embedding from cache
// Returns a copy to prevent caller mutations from affecting cached values
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}

	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)

	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}, true
}

// Set stores an embedding in cache with automatic LRU eviction
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, emb)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateRequest validates an embedding request
func ValidateRequest(req *EmbeddingRequest) error {
	if req == nil || req.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req *BatchEmbeddingRequest) error {
	if req == nil || len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range req.Texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}
