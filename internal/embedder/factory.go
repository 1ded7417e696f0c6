package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider          string
	APIKey            string
	Model             string
	BaseURL           string
	Dimension         int
	SendDimensions    bool // send Dimension to OpenAI compatible servers
	CacheSize         int
	Timeout           time.Duration
	RequestsPerSecond float64
	Retry             *RetryConfig
}

func (c Config) retryConfig() RetryConfig {
	if c.Retry != nil {
		return *c.Retry
	}
	return DefaultRetryConfig()
}

// New creates an embedder with explicit configuration
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var (
		c   *Client
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderJina:
		c, err = NewJinaProvider(cfg)
	case ProviderOpenAI:
		c, err = NewOpenAIProvider(cfg)
	case ProviderGemini:
		c, err = NewGeminiProvider(ctx, cfg)
	case ProviderLocal, "":
		c, err = NewLocalProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
