package embedder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// geminiBackend embeds through the Gemini BatchEmbedContents API.
type geminiBackend struct {
	client *genai.Client
}

func (b *geminiBackend) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	em := b.client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, classifyGRPC(err)
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrProviderFailed, i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (b *geminiBackend) close() error { return b.client.Close() }

// classifyGRPC marks unavailable, exhausted quota and deadline errors as transient.
func classifyGRPC(err error) error {
	wrapped := fmt.Errorf("%w: %v", ErrProviderFailed, err)
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
		return Transient(wrapped)
	default:
		return wrapped
	}
}

// NewGeminiProvider creates a Gemini embeddings client. Extra client options
// are passed to genai.NewClient after the API key.
func NewGeminiProvider(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Dimension == 0 && cfg.Model == DefaultGeminiModel {
		cfg.Dimension = GeminiDimension
	}

	opts = append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return newClient(ProviderGemini, cfg.Model, cfg.Dimension, cfg.CacheSize, cfg.retryConfig(),
		&geminiBackend{client: client}), nil
}
