package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"polibrief/internal/core"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIProvider implements Provider on the chat completions API in JSON mode.
type OpenAIProvider struct {
	client  *openai.Client
	config  Config
	limiter *rate.Limiter
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	return &OpenAIProvider{
		client:  newOpenAIClient(config.APIKey, config.BaseURL),
		config:  config.withDefaults(),
		limiter: newLimiter(config.RequestsPerSecond),
	}, nil
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return openai.NewClientWithConfig(clientConfig)
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string { return "openai" }

// Classify implements Provider.
func (p *OpenAIProvider) Classify(ctx context.Context, req ClassifyRequest) (CategoryResult, error) {
	return classifyWith(ctx, p.Name(), p, req)
}

// Analyze implements Provider.
func (p *OpenAIProvider) Analyze(ctx context.Context, req AnalyzeRequest) (AnalysisResult, error) {
	return analyzeWith(ctx, p.Name(), p, req)
}

func (p *OpenAIProvider) complete(ctx context.Context, pr prompt) (string, string, error) {
	if err := waitLimiter(ctx, p.limiter, p.Name()); err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: pr.system},
			{Role: openai.ChatMessageRoleUser, Content: pr.user},
		},
		MaxTokens:   p.config.MaxTokens,
		Temperature: p.config.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", "", p.mapError(err)
	}

	if len(resp.Choices) == 0 {
		return "", "", core.NewMalformedResponse(p.Name(), "no choices in response")
	}
	model := resp.Model
	if model == "" {
		model = p.config.Model
	}
	return resp.Choices[0].Message.Content, model, nil
}

func (p *OpenAIProvider) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return errorForStatus(p.Name(), apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return errorForStatus(p.Name(), reqErr.HTTPStatusCode, err)
	}
	return transportError(p.Name(), err)
}
