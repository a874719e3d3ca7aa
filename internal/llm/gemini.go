package llm

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"polibrief/internal/core"
)

const (
	// DefaultGeminiModel is the default Gemini model for classification and analysis.
	DefaultGeminiModel = "gemini-2.0-flash"
	// DefaultEmbeddingModel is the default model for generating embeddings
	DefaultEmbeddingModel = "text-embedding-004"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka)
	DefaultEmbeddingDimensions = int32(768)
)

// GeminiProvider implements Provider on the Google Gen AI SDK.
type GeminiProvider struct {
	client  *genai.Client
	config  Config
	limiter *rate.Limiter
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini provider.
func NewGeminiProvider(ctx context.Context, config Config) (*GeminiProvider, error) {
	client, err := newGenaiClient(ctx, config.APIKey, config.BaseURL)
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{
		client:  client,
		config:  config.withDefaults(),
		limiter: newLimiter(config.RequestsPerSecond),
	}, nil
}

func newGenaiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY or providers.gemini.api_key")
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string { return "gemini" }

// Classify implements Provider.
func (p *GeminiProvider) Classify(ctx context.Context, req ClassifyRequest) (CategoryResult, error) {
	return classifyWith(ctx, p.Name(), p, req)
}

// Analyze implements Provider.
func (p *GeminiProvider) Analyze(ctx context.Context, req AnalyzeRequest) (AnalysisResult, error) {
	return analyzeWith(ctx, p.Name(), p, req)
}

func (p *GeminiProvider) complete(ctx context.Context, pr prompt) (string, string, error) {
	if err := waitLimiter(ctx, p.limiter, p.Name()); err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: pr.user}},
		Role:  "user",
	}}

	temp := p.config.Temperature
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: pr.system}}},
		MaxOutputTokens:   int32(p.config.MaxTokens),
		Temperature:       &temp,
		ResponseMIMEType:  "application/json",
	}
	switch pr.kind {
	case kindClassify:
		config.ResponseSchema = classifySchema(pr.categories)
	case kindAnalyze:
		config.ResponseSchema = analysisSchema()
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, config)
	if err != nil {
		return "", "", p.mapError(err)
	}

	text := resp.Text()
	if text == "" {
		return "", "", core.NewMalformedResponse(p.Name(), "empty response from model")
	}
	return text, p.config.Model, nil
}

func (p *GeminiProvider) mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return errorForStatus(p.Name(), apiErr.Code, err)
	}
	return transportError(p.Name(), err)
}
