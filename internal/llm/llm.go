package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider is an external AI provider able to classify and analyze content.
type Provider interface {
	// Name returns the provider name used in logs and audit records
	Name() string

	// Classify assigns one of req.Categories to the content
	Classify(ctx context.Context, req ClassifyRequest) (CategoryResult, error)

	// Analyze produces the structured political analysis of the content
	Analyze(ctx context.Context, req AnalyzeRequest) (AnalysisResult, error)
}

// ClassifyRequest is the input of a classification call. Body is already truncated.
type ClassifyRequest struct {
	Title      string
	Body       string
	Categories []string
}

// CategoryResult is a validated classification answer.
type CategoryResult struct {
	Category   string
	Confidence float64
	Reasoning  string
	Model      string
	Raw        string
}

// AnalyzeRequest is the input of an analysis call.
type AnalyzeRequest struct {
	Title string
	Body  string
}

// AnalysisResult is a validated analysis answer. Score fields are range-checked.
type AnalysisResult struct {
	BiasScore        float64
	BiasConfidence   float64
	BiasLabel        string
	QualityScore     int
	CredibilityScore float64
	LoadedLanguage   []string
	ExecutiveSummary string
	DetailedSummary  string
	KeyPoints        []string
	Model            string
	Raw              string
}

// Config holds provider configuration
type Config struct {
	// Name selects the variant: "gemini", "openai" or "anthropic"
	Name string

	APIKey  string
	Model   string
	BaseURL string

	// Timeout bounds every single provider call
	Timeout time.Duration

	MaxTokens   int
	Temperature float32

	// RequestsPerSecond enables client-side rate limiting when positive
	RequestsPerSecond float64
}

// DefaultConfig returns sensible defaults for a named provider
func DefaultConfig(name string) Config {
	cfg := Config{
		Name:        name,
		Timeout:     30 * time.Second,
		MaxTokens:   2048,
		Temperature: 0.2,
	}
	switch name {
	case "gemini":
		cfg.Model = DefaultGeminiModel
	case "openai":
		cfg.Model = DefaultOpenAIModel
	case "anthropic":
		cfg.Model = DefaultAnthropicModel
	}
	return cfg
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Name)
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	return c
}

// NewProvider creates a provider by name
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Name) {
	case "gemini":
		return NewGeminiProvider(ctx, cfg)
	case "openai":
		return NewOpenAIProvider(cfg)
	case "anthropic":
		return NewAnthropicProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider %q (supported: gemini, openai, anthropic)", cfg.Name)
	}
}

// completer is the transport half of a provider: one prompt in, raw text out.
type completer interface {
	complete(ctx context.Context, p prompt) (text string, model string, err error)
}

type promptKind int

const (
	kindClassify promptKind = iota
	kindAnalyze
)

type prompt struct {
	kind       promptKind
	system     string
	user       string
	categories []string
}

func classifyWith(ctx context.Context, name string, c completer, req ClassifyRequest) (CategoryResult, error) {
	raw, model, err := c.complete(ctx, prompt{
		kind:       kindClassify,
		system:     classifySystemPrompt,
		user:       BuildClassifyPrompt(req),
		categories: req.Categories,
	})
	if err != nil {
		return CategoryResult{}, err
	}
	res, err := ParseCategoryResponse(name, raw, req.Categories)
	if err != nil {
		return CategoryResult{}, err
	}
	res.Model = model
	return res, nil
}

func analyzeWith(ctx context.Context, name string, c completer, req AnalyzeRequest) (AnalysisResult, error) {
	raw, model, err := c.complete(ctx, prompt{
		kind:   kindAnalyze,
		system: analyzeSystemPrompt,
		user:   BuildAnalyzePrompt(req),
	})
	if err != nil {
		return AnalysisResult{}, err
	}
	res, err := ParseAnalysisResponse(name, raw)
	if err != nil {
		return AnalysisResult{}, err
	}
	res.Model = model
	return res, nil
}
