package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const localModel = "local-ngram"

// localBackend produces deterministic offline embeddings by hashing word
// tokens and character trigrams into a fixed number of buckets. Texts that
// share vocabulary land close together, which is enough for tests and for
// running without an API key.
type localBackend struct {
	dim int
}

func (b *localBackend) embed(ctx context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = hashEmbed(t, b.dim)
	}
	return out, nil
}

func (b *localBackend) close() error { return nil }

func hashEmbed(text string, dim int) []float32 {
	vec := make([]float32, dim)
	add := func(feature string, weight float32) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		idx := int(sum % uint64(dim))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}

	for _, tok := range tokenize(text) {
		add("w:"+tok, 1)
		runes := []rune(tok)
		if len(runes) < 3 {
			continue
		}
		for i := 0; i+3 <= len(runes); i++ {
			add("g:"+string(runes[i:i+3]), 0.5)
		}
	}
	return NormalizeVector(vec)
}

// tokenize lowercases text and splits it into words. Han characters become
// single rune tokens plus bigrams since the script has no word separators.
func tokenize(text string) []string {
	var tokens []string
	var word []rune
	var prevHan rune

	flush := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}

	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
			if prevHan != 0 {
				tokens = append(tokens, string([]rune{prevHan, r}))
			}
			prevHan = r
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
		default:
			flush()
		}
		prevHan = 0
	}
	flush()
	return tokens
}

// NormalizeVector scales v to unit length. A zero vector is returned as is.
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

// NewLocalProvider creates the offline embedder.
func NewLocalProvider(cfg Config) (*Client, error) {
	dim := cfg.Dimension
	if dim <= 0 {
		dim = LocalDimension
	}
	return newClient(ProviderLocal, localModel, dim, cfg.CacheSize, cfg.retryConfig(), &localBackend{dim: dim}), nil
}
