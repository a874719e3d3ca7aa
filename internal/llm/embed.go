package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Embedder turns texts into vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbeddingConfig selects and configures an embedder
type EmbeddingConfig struct {
	Provider   string // "gemini" or "openai"
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	CacheTTL   time.Duration // zero disables caching
}

// NewEmbedder creates an embedder by provider name, wrapped in a cache when CacheTTL is set.
func NewEmbedder(ctx context.Context, cfg EmbeddingConfig) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		e, err = NewGeminiEmbedder(ctx, cfg)
	case "openai":
		e, err = NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTL > 0 {
		e = NewCachedEmbedder(e, cfg.CacheTTL)
	}
	return e, nil
}

// GeminiEmbedder embeds texts with the Gen AI embedding models.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int32
}

// NewGeminiEmbedder creates a Gemini embedder.
func NewGeminiEmbedder(ctx context.Context, cfg EmbeddingConfig) (*GeminiEmbedder, error) {
	client, err := newGenaiClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	dims := DefaultEmbeddingDimensions
	if cfg.Dimensions > 0 {
		dims = int32(cfg.Dimensions)
	}
	return &GeminiEmbedder{client: client, model: model, dims: dims}, nil
}

// Embed implements Embedder.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{
			Parts: []*genai.Part{{Text: text}},
			Role:  "user",
		}
	}

	dims := e.dims
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: want %d", len(texts))
	}

	out := make([][]float64, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("empty embedding at index %d", i)
		}
		out[i] = toFloat64(emb.Values)
	}
	return out, nil
}

// OpenAIEmbedder embeds texts with the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	dims   int
}

// NewOpenAIEmbedder creates an OpenAI embedder.
func NewOpenAIEmbedder(cfg EmbeddingConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for embeddings")
	}
	model := openai.EmbeddingModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.SmallEmbedding3
	}
	return &OpenAIEmbedder{
		client: newOpenAIClient(cfg.APIKey, cfg.BaseURL),
		model:  model,
		dims:   cfg.Dimensions,
	}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float64, len(texts))
	for i, d := range data {
		out[i] = toFloat64(d.Embedding)
	}
	return out, nil
}

// CachedEmbedder memoizes vectors by text hash.
type CachedEmbedder struct {
	next  Embedder
	cache *gocache.Cache
}

// NewCachedEmbedder wraps next with an in-memory cache.
func NewCachedEmbedder(next Embedder, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Embed implements Embedder. Only cache misses reach the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, text := range texts {
		if v, ok := c.cache.Get(textKey(text)); ok {
			out[i] = v.([]float64)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vecs), len(missTexts))
	}
	for j, v := range vecs {
		out[missIdx[j]] = v
		c.cache.SetDefault(textKey(missTexts[j]), v)
	}
	return out, nil
}

func textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
