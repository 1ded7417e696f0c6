// Package embedder turns chunk text into vector embeddings.
//
// Every provider is exposed through Client, which implements Embedder and
// owns the behavior they share: request validation, an LRU cache keyed by
// model and content hash, bounded exponential retry of transient failures
// and alignment of results with the request.
//
// # Basic Usage
//
//	emb, err := embedder.New(ctx, embedder.Config{Provider: "openai", APIKey: key})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, &embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunk1.Content, chunk2.Content},
//	})
//	for i, e := range resp.Embeddings {
//	    // e belongs to Texts[i]
//	}
//
// # Providers
//
//   - openai: any OpenAI compatible /embeddings endpoint (BaseURL), 1536 dims by default
//   - jina: Jina AI, 1024 dims
//   - gemini: Google Gemini BatchEmbedContents, 768 dims
//   - local: offline feature hashing of words and character trigrams, 384 dims
//
// # Error Handling
//
// Timeouts, HTTP 429 and 5xx responses and connection errors are retried.
// Other provider failures wrap types.ErrEmbeddingProvider and fail fast. A
// provider that returns a different number of vectors than texts yields
// types.ErrDimensionMismatch.
package embedder
