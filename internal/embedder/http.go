package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Provider names and defaults
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderLocal  = "local"

	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultGeminiModel = "text-embedding-004"

	JinaDimension   = 1024
	OpenAIDimension = 1536
	GeminiDimension = 768
	LocalDimension  = 384

	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"

	DefaultTimeout = 30 * time.Second
)

// embeddingsRequest is the body of an OpenAI compatible /embeddings call.
// Jina accepts the same shape.
type embeddingsRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// httpBackend talks to an OpenAI compatible embeddings endpoint.
type httpBackend struct {
	client     *resty.Client
	limiter    *rate.Limiter
	dimensions int
}

func newHTTPBackend(cfg Config, defaultBaseURL string) *httpBackend {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.APIKey)

	b := &httpBackend{client: client}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	if cfg.SendDimensions {
		b.dimensions = cfg.Dimension
	}
	return b
}

func (b *httpBackend) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var out embeddingsResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(embeddingsRequest{Input: texts, Model: model, Dimensions: b.dimensions}).
		SetResult(&out).
		Post("/embeddings")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Connection errors and client side timeouts.
		return nil, Transient(fmt.Errorf("%w: %v", ErrProviderFailed, err))
	}
	if resp.IsError() {
		return nil, classifyStatus(resp.StatusCode(), resp.String())
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrProviderFailed)
	}

	sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (b *httpBackend) close() error { return nil }

// classifyStatus maps an HTTP error status to a provider error. Rate limits,
// request timeouts and server errors are transient.
func classifyStatus(code int, body string) error {
	if len(body) > 512 {
		body = body[:512]
	}
	err := fmt.Errorf("%w: status %d: %s", ErrProviderFailed, code, body)
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return Transient(err)
	default:
		return err
	}
}

// NewOpenAIProvider creates an OpenAI embeddings client. BaseURL may point at
// any OpenAI compatible server.
func NewOpenAIProvider(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimension == 0 && cfg.Model == DefaultOpenAIModel {
		cfg.Dimension = OpenAIDimension
	}
	return newClient(ProviderOpenAI, cfg.Model, cfg.Dimension, cfg.CacheSize, cfg.retryConfig(),
		newHTTPBackend(cfg, DefaultOpenAIBaseURL)), nil
}

// NewJinaProvider creates a Jina AI embeddings client.
func NewJinaProvider(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("jina API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultJinaModel
	}
	if cfg.Dimension == 0 && cfg.Model == DefaultJinaModel {
		cfg.Dimension = JinaDimension
	}
	return newClient(ProviderJina, cfg.Model, cfg.Dimension, cfg.CacheSize, cfg.retryConfig(),
		newHTTPBackend(cfg, DefaultJinaBaseURL)), nil
}
